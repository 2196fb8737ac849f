// Package retry provides a declarative retry policy with exponential backoff
// and per-attempt timeouts. The fetcher, the sentiment classifier and the
// media store all run their outbound calls through a Policy.
package retry
