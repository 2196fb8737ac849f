package core

import (
	"testing"
	"time"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "same content produces same ID", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer review body that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)
			if id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	if IDFromContent("content1") == IDFromContent("content2") {
		t.Errorf("IDFromContent() produced same ID for different content")
	}
}

func TestSlugFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.vistaprint.com/photo-gifts/paper-coasters", "paper-coasters"},
		{"https://www.vistaprint.com/photo-gifts/paper-coasters/", "paper-coasters"},
		{"https://www.vistaprint.com/drinkware/YETI%C2%AE-Rambler_18oz?x=1", "yeti-rambler-18oz"},
		{"https://www.vistaprint.com", "www-vistaprint-com"},
		{"::not a url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := SlugFromURL(tt.url); got != tt.want {
				t.Errorf("SlugFromURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestReview_Text(t *testing.T) {
	tests := []struct {
		name   string
		review Review
		want   string
	}{
		{"title and body", Review{Title: "Great", Body: "Loved it"}, "Great\nLoved it"},
		{"body only", Review{Body: "Loved it"}, "Loved it"},
		{"title only", Review{Title: "Great"}, "Great"},
		{"empty", Review{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.review.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheEntry_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &CacheEntry{CreatedAt: now.Add(-23 * time.Hour)}

	if entry.Expired(now, 24*time.Hour) {
		t.Error("entry younger than ttl reported expired")
	}
	if !entry.Expired(now.Add(time.Hour), 24*time.Hour) {
		t.Error("entry at ttl reported fresh")
	}
}

func TestDateBucket(t *testing.T) {
	ts := time.Date(2026, 1, 2, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	if got := DateBucket(ts); got != "20260103" {
		t.Errorf("DateBucket() = %q, want 20260103", got)
	}
}

func TestSentimentLabel_Valid(t *testing.T) {
	for _, l := range []SentimentLabel{SentimentPositive, SentimentNeutral, SentimentNegative} {
		if !l.Valid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if SentimentLabel("mixed").Valid() {
		t.Error("mixed should not be valid")
	}
}
