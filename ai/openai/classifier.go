// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/reviewmill/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// parseAttempts bounds how often a malformed answer is re-requested.
const parseAttempts = 3

// SentimentClassifier implements ai.SentimentClassifier using OpenAI-compatible chat APIs.
type SentimentClassifier struct {
	client llms.Model
	logger *slog.Logger
}

// newSentimentClassifier is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newSentimentClassifier(config *ai.Config) (*SentimentClassifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.ClassifierHost),
		openai.WithToken(config.Token()),
		openai.WithModel(config.ClassifierModel),
	)
	if err != nil {
		return nil, err
	}

	return &SentimentClassifier{
		client: client,
		logger: slog.Default().With("component", "openai-classifier"),
	}, nil
}

// NewSentimentClassifier creates a new sentiment classifier using the provided configuration.
//
// Returns ai.SentimentClassifier interface to enforce abstraction.
func NewSentimentClassifier(config *ai.Config) (ai.SentimentClassifier, error) {
	return newSentimentClassifier(config)
}

// Classify asks the model for a sentiment judgement of text.
// Transport errors are returned as-is; answers that cannot be parsed or fall
// outside the allowed ranges are retried and then reported as ai.ErrInvalidResponse.
func (c *SentimentClassifier) Classify(ctx context.Context, text string) (ai.Classification, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(buildUserPrompt(text))},
		},
	}

	var lastErr error
	for attempt := 0; attempt < parseAttempts; attempt++ {
		response, err := c.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			c.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return ai.Classification{}, err
		}

		if len(response.Choices) < 1 {
			return ai.Classification{}, fmt.Errorf("%w: no choices returned", ai.ErrInvalidResponse)
		}

		result, err := parseClassification(response.Choices[0].Content)
		if err != nil {
			lastErr = err
			c.logger.Warn("error parsing classifier response",
				"attempt", attempt+1,
				"response", response.Choices[0].Content,
				"err", err)
			continue
		}

		c.logger.Debug("classified text", "sentiment", result.Label, "confidence", result.Confidence)
		return result, nil
	}

	c.logger.Error("failed to parse classifier response after retries", "err", lastErr)
	return ai.Classification{}, lastErr
}

// parseClassification strips code fences, repairs common key quoting
// mistakes, decodes and validates a model answer.
func parseClassification(raw string) (ai.Classification, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	text = repairJSON(text)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return ai.Classification{}, fmt.Errorf("%w: %w", ai.ErrInvalidResponse, err)
	}
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return ai.Classification{}, fmt.Errorf("%w: missing field %q", ai.ErrInvalidResponse, name)
		}
	}

	var result ai.Classification
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return ai.Classification{}, fmt.Errorf("%w: %w", ai.ErrInvalidResponse, err)
	}
	result.Label = strings.ToLower(strings.TrimSpace(result.Label))
	if err := result.Validate(); err != nil {
		return ai.Classification{}, err
	}
	return result, nil
}
