package media

import "errors"

var (
	// ErrRepositoryRequired is returned when an image repository is not provided.
	ErrRepositoryRequired = errors.New("image repository required")

	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrInvalidImage is returned for image references that cannot be stored.
	ErrInvalidImage = errors.New("invalid image reference")

	// ErrNotImage is returned when downloaded content is not an image.
	ErrNotImage = errors.New("content is not an image")

	// ErrTooLarge is returned when a download exceeds the size limit.
	ErrTooLarge = errors.New("image exceeds size limit")
)
