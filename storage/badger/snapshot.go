package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/reviewmill/storage"
)

// SnapshotStore implements storage.SnapshotStore for BadgerDB.
type SnapshotStore struct {
	backend *Backend
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(backend *Backend) *SnapshotStore {
	return &SnapshotStore{backend: backend}
}

// SaveSnapshot overwrites the snapshot stored under name.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, name string, data []byte) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeSnapshotKey(name), data); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LoadSnapshot returns a copy of the snapshot stored under name.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeSnapshotKey(name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	}, false)
	return data, err
}
