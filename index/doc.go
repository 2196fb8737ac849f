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

// Package index provides the in-process vector index over review text.
//
// Entries are keyed by review ID, one per review, and stored as unit vectors
// so that inner product equals cosine similarity. Search ranks by score,
// breaking ties by ascending review ID, so results are deterministic.
//
// # Concurrency
//
// Writes are serialized by a mutex and publish a new snapshot through an
// atomic pointer. Readers load the current snapshot and never block on
// writers. Rebuild constructs a complete private snapshot before swapping it
// in, so a partial rebuild is never visible.
//
// # Persistence
//
// Persist writes a versioned msgpack snapshot with a blake2b checksum to a
// storage.SnapshotStore. Load treats a missing snapshot as an empty index.
// A corrupt or mismatched snapshot also loads empty but sets
// RebuildNeeded, and CheckConsistency reports drift against the review store
// as a *ConsistencyError.
//
// # Usage
//
//	ix, err := index.New(provider.Embedder(), repos.Snapshots)
//	if err := ix.Load(ctx); err != nil { ... }
//	if ix.RebuildNeeded() {
//	    _, err = ix.Rebuild(ctx, repos.Reviews)
//	}
//	hits, err := ix.Search(ctx, "warped coasters", 5)
package index
