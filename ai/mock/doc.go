// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder,
// ai.SentimentClassifier and ai.AIProvider for use in unit tests. The mocks
// allow tests to run without external AI service dependencies.
//
// # Usage in Tests
//
//	mockProvider := mock.NewMockProvider()
//	vec, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	classifier := mock.NewMockClassifier()
//	classifier.ClassifyFunc = func(ctx context.Context, text string) (ai.Classification, error) {
//	    return ai.Classification{}, context.DeadlineExceeded
//	}
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockClassifier: Labels text by a handful of keywords with confidence 0.9
//   - MockProvider: Aggregates mock embedder and classifier
package mock
