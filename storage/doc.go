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

// Package storage provides the storage abstraction layer for reviewmill.
//
// This package defines repository interfaces that decouple the canonical record
// store from the ingestion pipeline. Products, reviews and review images are the
// canonical data; the vector index is derived from them and can always be rebuilt.
//
// # Backends
//
//   - storage/badger: embedded BadgerDB backend, the default. Also provides the
//     page cache and the index snapshot store.
//   - storage/postgres: relational backend for products, reviews and images.
//   - storage/redis: alternative PageCache backed by Redis key expiry.
//
// # Serialization
//
// Values stored in key-value backends are encoded with MessagePack. IDs used as
// index values are encoded as 8 big-endian bytes so they sort numerically.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
