package search

import (
	"strings"
	"unicode"
)

// stopWords are ignored when matching query keywords against review text.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "be": {}, "is": {}, "are": {}, "was": {},
	"to": {}, "of": {}, "and": {}, "in": {}, "that": {}, "have": {}, "it": {},
	"for": {}, "not": {}, "on": {}, "with": {}, "as": {}, "you": {}, "do": {},
	"at": {}, "this": {}, "but": {}, "by": {}, "from": {}, "my": {}, "i": {},
}

// keywords returns the distinct lowercased words of text, minus stop words.
// Apostrophes stay inside words so "don't" is one token.
func keywords(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, "'")
		if w == "" {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// containsAllQueryWords reports whether every query keyword appears in document.
// A query made only of stop words matches nothing.
func containsAllQueryWords(document, query string) bool {
	want := keywords(query)
	if len(want) == 0 {
		return false
	}
	have := keywords(document)
	for w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}
