package index

import (
	"errors"
	"fmt"

	"github.com/poiesic/reviewmill/core"
)

var (
	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrSnapshotStoreRequired is returned when a snapshot store is not provided.
	ErrSnapshotStoreRequired = errors.New("snapshot store required")

	// ErrDimensionMismatch is returned for vectors of the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidDimension is returned when the configured dimension is not positive.
	ErrInvalidDimension = errors.New("dimension must be greater than 0")

	// ErrInvalidBatchSize is returned when the rebuild batch size is not positive.
	ErrInvalidBatchSize = errors.New("batch size must be greater than 0")
)

// ConsistencyError lists where the index and the canonical store disagree.
type ConsistencyError struct {
	// Missing reviews are marked indexed in the store but absent from the index.
	Missing []core.ID
	// Orphaned ids are in the index but the store has no indexed review for them.
	Orphaned []core.ID
	// Stale reviews changed text since they were embedded.
	Stale []core.ID
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%v: %d missing, %d orphaned, %d stale",
		core.ErrIndexConsistency, len(e.Missing), len(e.Orphaned), len(e.Stale))
}

// Unwrap makes the error match core.ErrIndexConsistency.
func (e *ConsistencyError) Unwrap() error {
	return core.ErrIndexConsistency
}
