// Package sentiment labels review text as positive, negative or neutral.
//
// Classifier calls an ai.SentimentClassifier under a retry policy and falls
// back to a keyword lexicon when the service keeps failing, so Classify
// always returns a result. Fallback results carry core.SourceFallback and a
// fixed low confidence.
package sentiment
