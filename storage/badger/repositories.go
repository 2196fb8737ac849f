package badger

// Repositories bundles every BadgerDB-backed store sharing one Backend.
type Repositories struct {
	Backend   *Backend
	Products  *ProductRepository
	Reviews   *ReviewRepository
	Images    *ImageRepository
	PageCache *PageCache
	Snapshots *SnapshotStore
}

// NewRepositories creates all repositories over an open backend.
// The caller still owns the backend; Close releases only the repositories.
func NewRepositories(backend *Backend) (*Repositories, error) {
	products, err := NewProductRepository(backend)
	if err != nil {
		return nil, err
	}

	reviews, err := NewReviewRepository(backend)
	if err != nil {
		products.Close()
		return nil, err
	}

	return &Repositories{
		Backend:   backend,
		Products:  products,
		Reviews:   reviews,
		Images:    NewImageRepository(backend),
		PageCache: NewPageCache(backend),
		Snapshots: NewSnapshotStore(backend),
	}, nil
}

// Close releases the repositories' ID sequences.
func (r *Repositories) Close() error {
	rerr := r.Reviews.Close()
	if err := r.Products.Close(); err != nil {
		return err
	}
	return rerr
}
