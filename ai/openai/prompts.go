package openai

import (
	"strings"
	"unicode/utf8"
)

// maxPromptRunes bounds the review text embedded in a prompt.
const maxPromptRunes = 4000

var requiredFields = []string{"sentiment", "confidence", "score", "reasoning"}

const systemPrompt = `You are a sentiment analysis expert. Analyze the sentiment of product reviews and answer with a single JSON object.`

const responseShape = `{
  "sentiment": "positive|negative|neutral",
  "confidence": 0.0-1.0,
  "score": -1.0 to 1.0,
  "reasoning": "brief explanation"
}`

const rules = `Rules:
- "positive": clearly favorable, happy, satisfied
- "negative": clearly unfavorable, unhappy, dissatisfied
- "neutral": mixed feelings, factual, no clear sentiment
- confidence: how certain you are about the classification (0.0-1.0)
- score: sentiment score from -1.0 (very negative) to 1.0 (very positive)
- reasoning: one short sentence

Respond only with valid JSON.`

// buildUserPrompt wraps review text with the expected response shape.
func buildUserPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the sentiment of the following product review and answer with this structure:\n")
	sb.WriteString(responseShape)
	sb.WriteString("\n\nReview text: \"")
	sb.WriteString(truncate(strings.TrimSpace(text), maxPromptRunes))
	sb.WriteString("\"\n\n")
	sb.WriteString(rules)
	return sb.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
