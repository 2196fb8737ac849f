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

import (
	"fmt"
	"net/url"
	"strings"
)

// Rating bounds for a Review.
const (
	MinRating = 1
	MaxRating = 5
)

// ClampRating forces rating into [MinRating, MaxRating].
// The second return value is true when the input was out of range.
func ClampRating(rating int) (int, bool) {
	switch {
	case rating < MinRating:
		return MinRating, true
	case rating > MaxRating:
		return MaxRating, true
	}
	return rating, false
}

// ParseScrapeMode converts a caller supplied mode. An empty string means ModeScrape.
func ParseScrapeMode(s string) (ScrapeMode, error) {
	switch ScrapeMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeScrape:
		return ModeScrape, nil
	case ModeMock:
		return ModeMock, nil
	case ModeRandom:
		return ModeRandom, nil
	}
	return "", fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidMode, s)
}

// ValidateSourceURL checks that raw is an absolute http(s) URL with a usable slug.
func ValidateSourceURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrValidation, ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %w: scheme %q", ErrValidation, ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %w: missing host", ErrValidation, ErrInvalidURL)
	}
	if SlugFromURL(raw) == "" {
		return fmt.Errorf("%w: %w: no slug in %q", ErrValidation, ErrInvalidURL, raw)
	}
	return nil
}

// ValidateScrapeRequest checks caller input for an ingestion.
// ModeScrape requires a URL; the other modes accept an empty URL.
func ValidateScrapeRequest(rawURL string, mode ScrapeMode) error {
	switch mode {
	case ModeScrape:
		if strings.TrimSpace(rawURL) == "" {
			return fmt.Errorf("%w: %w: url is required in %s mode", ErrValidation, ErrInvalidURL, mode)
		}
	case ModeMock:
		if strings.TrimSpace(rawURL) == "" {
			return nil
		}
	case ModeRandom:
		if strings.TrimSpace(rawURL) != "" {
			return fmt.Errorf("%w: %w: url is not accepted in %s mode", ErrValidation, ErrInvalidURL, mode)
		}
		return nil
	default:
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidMode, mode)
	}
	return ValidateSourceURL(rawURL)
}

// ValidateSearch checks caller input for a search.
func ValidateSearch(query string, k int) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyQuery)
	}
	if k <= 0 {
		return fmt.Errorf("%w: %w: %d", ErrValidation, ErrInvalidLimit, k)
	}
	return nil
}

// ValidateProduct checks the fields a Product must carry before it is stored.
func ValidateProduct(p *Product) error {
	if p == nil {
		return fmt.Errorf("%w: product is nil", ErrInvalidProduct)
	}
	if p.Source == "" || p.ExternalID == "" {
		return fmt.Errorf("%w: source and external id are required", ErrInvalidProduct)
	}
	return nil
}

// ValidateReview checks the fields a Review must carry before it is stored.
func ValidateReview(r *Review) error {
	if r == nil {
		return fmt.Errorf("%w: review is nil", ErrInvalidReview)
	}
	if r.ProductID == 0 {
		return fmt.Errorf("%w: product id is required", ErrInvalidReview)
	}
	if r.ExternalID == "" {
		return fmt.Errorf("%w: external id is required", ErrInvalidReview)
	}
	if _, out := ClampRating(r.Rating); out {
		return fmt.Errorf("%w: rating %d out of range", ErrInvalidReview, r.Rating)
	}
	if r.Sentiment != nil && !r.Sentiment.Label.Valid() {
		return fmt.Errorf("%w: sentiment label %q", ErrInvalidReview, r.Sentiment.Label)
	}
	return nil
}
