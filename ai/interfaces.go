package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// SentimentClassifier labels the polarity of a piece of review text.
// Implementations must be thread-safe for concurrent use.
type SentimentClassifier interface {
	// Classify returns the service's judgement for text. A malformed or
	// out-of-range response is an error wrapping ErrInvalidResponse.
	Classify(ctx context.Context, text string) (Classification, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// A provider creates and manages Embedder and SentimentClassifier instances,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// SentimentClassifier returns the sentiment classification service.
	SentimentClassifier() SentimentClassifier

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
