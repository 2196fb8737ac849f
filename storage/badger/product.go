package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
)

// ProductRepository implements storage.ProductRepository for BadgerDB.
type ProductRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository creates a new ProductRepository.
func NewProductRepository(backend *Backend) (*ProductRepository, error) {
	idSeq, err := backend.GetSequence(productIDSeq)
	if err != nil {
		return nil, err
	}

	return &ProductRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *ProductRepository) Close() error {
	return r.idSeq.Release()
}

// UpsertProduct inserts a product or updates the one matching (Source, ExternalID).
func (r *ProductRepository) UpsertProduct(ctx context.Context, product *core.Product) (*core.Product, bool, error) {
	if err := core.ValidateProduct(product); err != nil {
		return nil, false, err
	}

	created := false
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		extKey := makeProductExternalKey(product.Source, product.ExternalID)

		existingID, err := readValue(tx, extKey, unmarshalIDPtr)
		if err != nil {
			return err
		}

		if existingID == nil {
			id, err := nextID(r.idSeq)
			if err != nil {
				return err
			}
			product.Id = core.ID(id)
			product.CreatedAt = now
			created = true
			if err := tx.Set(extKey, storage.MarshalID(product.Id)); err != nil {
				return err
			}
		} else {
			old, err := readValue(tx, makeProductKey(*existingID), storage.UnmarshalProduct)
			if err != nil {
				return err
			}
			if old == nil {
				return storage.ErrNotFound
			}
			product.Id = old.Id
			product.CreatedAt = old.CreatedAt
		}
		product.UpdatedAt = now

		value, err := storage.MarshalProduct(product)
		if err != nil {
			return err
		}
		if err := tx.Set(makeProductKey(product.Id), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, false, err
	}

	return product, created, nil
}

// GetProduct retrieves a product by ID.
func (r *ProductRepository) GetProduct(ctx context.Context, id core.ID) (*core.Product, error) {
	var result *core.Product
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeProductKey(id), storage.UnmarshalProduct)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// FindProduct retrieves a product by its natural key.
func (r *ProductRepository) FindProduct(ctx context.Context, source, externalID string) (*core.Product, error) {
	var result *core.Product
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		id, err := readValue(tx, makeProductExternalKey(source, externalID), unmarshalIDPtr)
		if err != nil {
			return err
		}
		if id == nil {
			return storage.ErrNotFound
		}
		result, err = readValue(tx, makeProductKey(*id), storage.UnmarshalProduct)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListProducts returns all products ordered by ID.
func (r *ProductRepository) ListProducts(ctx context.Context) ([]*core.Product, error) {
	var products []*core.Product
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(productPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				product, err := storage.UnmarshalProduct(val)
				if err != nil {
					return err
				}
				products = append(products, product)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return products, err
}

func unmarshalIDPtr(data []byte) (*core.ID, error) {
	id, err := storage.UnmarshalID(data)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
