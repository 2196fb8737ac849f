package ingestion

import "errors"

var (
	// ErrProductRepositoryRequired is returned when a product repository is not provided.
	ErrProductRepositoryRequired = errors.New("product repository required")

	// ErrReviewRepositoryRequired is returned when a review repository is not provided.
	ErrReviewRepositoryRequired = errors.New("review repository required")

	// ErrResolverRequired is returned when a source resolver is not provided.
	ErrResolverRequired = errors.New("resolver required")

	// ErrFetcherRequired is returned when a fetcher is not provided.
	ErrFetcherRequired = errors.New("fetcher required")

	// ErrExtractorRequired is returned when an extractor is not provided.
	ErrExtractorRequired = errors.New("extractor required")

	// ErrClassifierRequired is returned when a sentiment classifier is not provided.
	ErrClassifierRequired = errors.New("sentiment classifier required")

	// ErrMediaStoreRequired is returned when a media store is not provided.
	ErrMediaStoreRequired = errors.New("media store required")

	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrInvalidTransition is returned when the request state machine is driven
	// along an edge it does not have.
	ErrInvalidTransition = errors.New("invalid state transition")
)
