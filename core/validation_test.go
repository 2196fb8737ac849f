package core

import (
	"errors"
	"testing"
)

func TestClampRating(t *testing.T) {
	tests := []struct {
		in      int
		want    int
		flagged bool
	}{
		{0, 1, true},
		{-3, 1, true},
		{1, 1, false},
		{3, 3, false},
		{5, 5, false},
		{6, 5, true},
	}
	for _, tt := range tests {
		got, flagged := ClampRating(tt.in)
		if got != tt.want || flagged != tt.flagged {
			t.Errorf("ClampRating(%d) = (%d, %v), want (%d, %v)", tt.in, got, flagged, tt.want, tt.flagged)
		}
	}
}

func TestParseScrapeMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ScrapeMode
		wantErr bool
	}{
		{"", ModeScrape, false},
		{"scrape", ModeScrape, false},
		{"MOCK", ModeMock, false},
		{" random ", ModeRandom, false},
		{"invalid_mode", "", true},
	}
	for _, tt := range tests {
		got, err := ParseScrapeMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrValidation) || !errors.Is(err, ErrInvalidMode) {
				t.Errorf("ParseScrapeMode(%q) error = %v, want validation error", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseScrapeMode(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestValidateScrapeRequest(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		mode    ScrapeMode
		wantErr error
	}{
		{"scrape with url", "https://www.vistaprint.com/photo-gifts/paper-coasters", ModeScrape, nil},
		{"scrape without url", "", ModeScrape, ErrInvalidURL},
		{"mock without url", "", ModeMock, nil},
		{"random without url", "", ModeRandom, nil},
		{"random with url", "https://www.vistaprint.com/photo-gifts/paper-coasters", ModeRandom, ErrInvalidURL},
		{"ftp url", "ftp://example.com/x", ModeScrape, ErrInvalidURL},
		{"relative url", "/photo-gifts/x", ModeScrape, ErrInvalidURL},
		{"unknown mode", "https://example.com/x", ScrapeMode("crawl"), ErrInvalidMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScrapeRequest(tt.url, tt.mode)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want %v wrapped in ErrValidation", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSearch(t *testing.T) {
	if err := ValidateSearch("sturdy coasters", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateSearch("  ", 5); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("blank query error = %v", err)
	}
	if err := ValidateSearch("coasters", 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("zero k error = %v", err)
	}
}

func TestValidateReview(t *testing.T) {
	valid := &Review{ProductID: 1, ExternalID: "r1", Rating: 4}
	if err := ValidateReview(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		review *Review
	}{
		{"nil", nil},
		{"no product", &Review{ExternalID: "r1", Rating: 4}},
		{"no external id", &Review{ProductID: 1, Rating: 4}},
		{"rating out of range", &Review{ProductID: 1, ExternalID: "r1", Rating: 9}},
		{"bad sentiment", &Review{ProductID: 1, ExternalID: "r1", Rating: 4, Sentiment: &Sentiment{Label: "meh"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateReview(tt.review); !errors.Is(err, ErrInvalidReview) {
				t.Errorf("error = %v, want ErrInvalidReview", err)
			}
		})
	}
}

func TestValidateProduct(t *testing.T) {
	if err := ValidateProduct(&Product{Source: "vistaprint", ExternalID: "coasters"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateProduct(&Product{Source: "vistaprint"}); !errors.Is(err, ErrInvalidProduct) {
		t.Errorf("error = %v, want ErrInvalidProduct", err)
	}
}
