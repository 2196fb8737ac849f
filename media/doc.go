// Package media downloads review images into the blob store.
//
// Images are deduplicated by product and external image ID, first against
// the image repository and then against the blob store, and concurrent
// requests for one image share a single download. Failures are reported as
// image anomalies rather than errors.
package media
