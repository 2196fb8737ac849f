package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/reviewmill/ai"
)

// MockClassifier is a test double for ai.SentimentClassifier.
// It allows custom behavior injection via function fields.
type MockClassifier struct {
	// ClassifyFunc is called by Classify if set.
	// If nil, uses a simple word match.
	ClassifyFunc func(ctx context.Context, text string) (ai.Classification, error)

	mu        sync.Mutex
	callCount int
}

// NewMockClassifier creates a mock classifier with default behavior.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{}
}

// Classify returns a canned classification.
// Default behavior: "love" or "great" is positive, "terrible" or "broken" is
// negative, anything else is neutral.
func (m *MockClassifier) Classify(ctx context.Context, text string) (ai.Classification, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.ClassifyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "love"), strings.Contains(lower, "great"):
		return ai.Classification{Label: "positive", Confidence: 0.9, Score: 0.8, Reasoning: "mock"}, nil
	case strings.Contains(lower, "terrible"), strings.Contains(lower, "broken"):
		return ai.Classification{Label: "negative", Confidence: 0.9, Score: -0.8, Reasoning: "mock"}, nil
	}
	return ai.Classification{Label: "neutral", Confidence: 0.9, Reasoning: "mock"}, nil
}

// CallCount returns the number of times Classify was called.
func (m *MockClassifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and custom functions.
func (m *MockClassifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.ClassifyFunc = nil
}
