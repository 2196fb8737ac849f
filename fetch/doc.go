// Package fetch retrieves raw product and review pages from a review source.
//
// A Fetcher wraps a Source with a time-bounded page cache, single-flight
// deduplication of concurrent fetches, a minimum delay between requests and
// a retry policy. Review pages are followed strictly in order; a page that
// exhausts its retries ends pagination and the pages fetched so far are
// returned with Status.PartialFailure set.
//
// A Resolver turns a scrape request (URL plus mode) into a SourceRef.
package fetch
