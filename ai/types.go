package ai

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidResponse is returned when a model answer cannot be used.
var ErrInvalidResponse = errors.New("invalid model response")

// SentimentLabels are the labels a classifier may return.
var SentimentLabels = []string{
	"positive",
	"negative",
	"neutral",
}

// Classification is the raw answer of a SentimentClassifier.
type Classification struct {
	Label      string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Score      float64 `json:"score"`
	Reasoning  string  `json:"reasoning"`
}

// Validate checks the label against SentimentLabels and the numeric fields against their ranges.
func (c Classification) Validate() error {
	if !slices.Contains(SentimentLabels, c.Label) {
		return fmt.Errorf("%w: unknown sentiment %q", ErrInvalidResponse, c.Label)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidResponse, c.Confidence)
	}
	if c.Score < -1 || c.Score > 1 {
		return fmt.Errorf("%w: score %v outside [-1,1]", ErrInvalidResponse, c.Score)
	}
	return nil
}
