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

// Package search answers semantic queries over ingested reviews.
//
// The Searcher ranks reviews by the inner product between the query
// embedding and the indexed review embeddings, then joins each hit with the
// canonical review record. Hits whose review no longer exists are dropped.
// Optional filters restrict results to one product or one sentiment label.
//
// Results whose text contains every non-stop-word of the query are flagged
// as verbatim matches; the flag never changes the ranking.
package search
