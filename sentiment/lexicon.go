package sentiment

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/poiesic/reviewmill/core"
)

// FallbackConfidence is assigned to every lexicon result. It sits below
// anything a healthy primary classifier is expected to report.
const FallbackConfidence = 0.3

var positiveWords = map[string]struct{}{
	"great": {}, "excellent": {}, "amazing": {}, "love": {}, "perfect": {},
	"awesome": {}, "fantastic": {}, "wonderful": {}, "outstanding": {}, "superb": {},
	"brilliant": {}, "fabulous": {}, "terrific": {}, "best": {}, "good": {},
	"nice": {}, "beautiful": {}, "satisfied": {}, "happy": {}, "pleased": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "terrible": {}, "awful": {}, "hate": {}, "worst": {},
	"horrible": {}, "disappointing": {}, "poor": {}, "useless": {}, "waste": {},
	"disgusting": {}, "annoying": {}, "frustrated": {}, "angry": {}, "upset": {},
	"disappointed": {}, "unhappy": {}, "dissatisfied": {},
}

// Fallback scores text against the keyword lexicon. Each keyword counts once
// no matter how often it occurs. Matching is on whole words, so
// "dissatisfied" does not also count as "satisfied".
func Fallback(text string) core.Sentiment {
	pos, neg := countKeywords(text)

	s := core.Sentiment{
		Label:      core.SentimentNeutral,
		Confidence: FallbackConfidence,
		Reasoning:  fmt.Sprintf("Fallback analysis: %d positive, %d negative keywords", pos, neg),
		Source:     core.SourceFallback,
	}
	switch {
	case pos > neg:
		s.Label = core.SentimentPositive
		s.Score = round2(math.Min(0.8, 0.2+0.1*float64(pos)))
	case neg > pos:
		s.Label = core.SentimentNegative
		s.Score = round2(math.Max(-0.8, -0.2-0.1*float64(neg)))
	}
	return s
}

func countKeywords(text string) (pos, neg int) {
	seen := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	return pos, neg
}

// round2 removes float noise such as 0.30000000000000004.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
