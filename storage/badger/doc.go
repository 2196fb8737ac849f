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

// Package badger implements the storage interfaces on BadgerDB.
//
// One Backend holds products, reviews, images, the page cache and index
// snapshots, separated by key prefix (see keys.go). Values are encoded with
// the codecs in package storage. Secondary entries map natural keys to IDs,
// so lookups by (source, external ID) and by product need no scans.
//
// Use OpenBackend with inMemory set for tests, or NewMemoryRepositories,
// which returns a ready Repositories bundle.
package badger
