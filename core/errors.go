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

package core

import "errors"

var (
	// ErrValidation indicates malformed caller input. It is never retried.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidURL indicates a source URL that cannot be parsed or has no slug.
	ErrInvalidURL = errors.New("invalid source url")

	// ErrInvalidMode indicates an unknown scrape mode.
	ErrInvalidMode = errors.New("invalid scrape mode")

	// ErrInvalidLimit indicates a non-positive result limit.
	ErrInvalidLimit = errors.New("limit must be positive")

	// ErrEmptyQuery indicates a blank search query.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrNetwork indicates a retryable transport failure, including timeouts.
	ErrNetwork = errors.New("network error")

	// ErrUnrecoverableFetch indicates that no usable page could be fetched or parsed.
	ErrUnrecoverableFetch = errors.New("unrecoverable fetch failure")

	// ErrIndexLoad indicates a persisted index snapshot could not be loaded.
	ErrIndexLoad = errors.New("index load failed")

	// ErrIndexConsistency indicates the vector index diverges from the canonical store.
	ErrIndexConsistency = errors.New("index inconsistent with store")

	// ErrInvalidReview indicates a Review failed validation.
	ErrInvalidReview = errors.New("invalid review")

	// ErrInvalidProduct indicates a Product failed validation.
	ErrInvalidProduct = errors.New("invalid product")
)
