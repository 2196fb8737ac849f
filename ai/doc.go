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

// Package ai provides abstractions for the AI services used by reviewmill.
//
// This package defines interfaces for text embeddings and sentiment
// classification. Ingestion and search depend on these abstractions rather
// than on a concrete model server.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text
//   - SentimentClassifier: Labels review text as positive, negative or neutral
//   - AIProvider: Aggregates AI services for convenient initialization
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, etc.) return
// interface types. Test constructors (mock.NewMockEmbedder,
// mock.NewMockClassifier) return concrete types so tests can inject behavior
// and inspect call counts.
//
// # Usage Example
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "Great coasters")
//	c, err := provider.SentimentClassifier().Classify(ctx, "Great coasters")
//
// A Classification is only the model's raw answer. Retries, timeouts and the
// keyword fallback live in package sentiment.
package ai
