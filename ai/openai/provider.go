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
	"log/slog"

	"github.com/poiesic/reviewmill/ai"
)

// Provider bundles the embedder and the sentiment classifier built from one
// ai.Config.
type Provider struct {
	config     *ai.Config
	embedder   *Embedder
	classifier *SentimentClassifier
	logger     *slog.Logger
}

// NewProvider validates config and builds both clients. The two hosts may
// differ, so a classifier on a separate server works without extra setup.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}
	classifier, err := newSentimentClassifier(config)
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", "openai-provider")
	logger.Debug("provider ready",
		"embedding_host", config.EmbeddingHost, "embedding_model", config.EmbeddingModel,
		"classifier_host", config.ClassifierHost, "classifier_model", config.ClassifierModel)

	return &Provider{
		config:     config,
		embedder:   embedder,
		classifier: classifier,
		logger:     logger,
	}, nil
}

func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *Provider) SentimentClassifier() ai.SentimentClassifier {
	return p.classifier
}

// Close is a no-op; langchaingo clients hold no connections of their own.
func (p *Provider) Close() error {
	p.logger.Debug("closing provider")
	return nil
}
