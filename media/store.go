// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/poiesic/reviewmill/blob"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/fetch"
	"github.com/poiesic/reviewmill/metrics"
	"github.com/poiesic/reviewmill/retry"
	"github.com/poiesic/reviewmill/storage"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxBytes caps a single image download.
const DefaultMaxBytes = 20 << 20

// Outcomes recorded per image.
const (
	OutcomeExisting = "existing"
	OutcomeRelinked = "relinked"
	OutcomeStored   = "stored"
	OutcomeFailed   = "failed"
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

const defaultExtension = ".jpg"

// Store copies review images into blob storage exactly once per
// (product, external image id).
type Store struct {
	repo     storage.ImageRepository
	blobs    blob.Store
	client   *http.Client
	policy   retry.Policy
	maxBytes int64
	now      func() time.Time
	metrics  *metrics.Metrics
	group    singleflight.Group
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store) error

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) error {
		s.client = client
		return nil
	}
}

// WithRetryPolicy sets the download retry policy. A nil Retryable retries
// transport failures and temporary HTTP statuses.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Store) error {
		if p.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		if p.Retryable == nil {
			p.Retryable = retryable
		}
		s.policy = p
		return nil
	}
}

// WithMaxBytes caps the size of one download.
func WithMaxBytes(n int64) Option {
	return func(s *Store) error {
		if n <= 0 {
			return fmt.Errorf("%w: max bytes must be positive", core.ErrValidation)
		}
		s.maxBytes = n
		return nil
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.now = now
		return nil
	}
}

// WithMetrics records per-image outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) error {
		s.metrics = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// New creates a media Store.
func New(repo storage.ImageRepository, blobs blob.Store, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}

	policy := retry.DefaultPolicy()
	policy.Retryable = retryable
	s := &Store{
		repo:     repo,
		blobs:    blobs,
		client:   &http.Client{Timeout: 60 * time.Second},
		policy:   policy,
		maxBytes: DefaultMaxBytes,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "media")
	return s, nil
}

// Store saves every image attached to one review. A failing image becomes an
// image anomaly and never affects the others.
func (s *Store) Store(ctx context.Context, product *core.Product, reviewID core.ID, refs []core.ImageRef) ([]*core.ReviewImage, []core.Anomaly) {
	var (
		stored    []*core.ReviewImage
		anomalies []core.Anomaly
	)
	for _, ref := range refs {
		img, err := s.StoreOne(ctx, product, reviewID, ref)
		if err != nil {
			s.logger.Warn("image not stored", "product", product.Id, "image", ref.ExternalID, "err", err)
			anomalies = append(anomalies, core.Anomaly{
				Kind:       core.AnomalyImage,
				Page:       -1,
				ExternalID: ref.ExternalID,
				Detail:     err.Error(),
			})
			continue
		}
		stored = append(stored, img)
	}
	return stored, anomalies
}

// StoreOne saves a single image. Concurrent calls for the same
// (product, external id) share one lookup and download.
func (s *Store) StoreOne(ctx context.Context, product *core.Product, reviewID core.ID, ref core.ImageRef) (*core.ReviewImage, error) {
	if product == nil || product.Id == 0 || product.Slug == "" {
		return nil, fmt.Errorf("%w: product has no id or slug", ErrInvalidImage)
	}
	if ref.ExternalID == "" || strings.ContainsAny(ref.ExternalID, "/.") || ref.URL == "" {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidImage, ref)
	}

	key := fmt.Sprintf("%d/%s", product.Id, ref.ExternalID)
	v, err, _ := s.group.Do(key, func() (any, error) {
		img, outcome, err := s.store(ctx, product, reviewID, ref)
		if err != nil {
			outcome = OutcomeFailed
		}
		s.metrics.RecordImage(outcome)
		return img, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.ReviewImage), nil
}

func (s *Store) store(ctx context.Context, product *core.Product, reviewID core.ID, ref core.ImageRef) (*core.ReviewImage, string, error) {
	existing, err := s.repo.GetImage(ctx, product.Id, ref.ExternalID)
	switch {
	case err == nil:
		return existing, OutcomeExisting, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, OutcomeFailed, err
	}

	img := &core.ReviewImage{
		ProductID:   product.Id,
		ReviewID:    reviewID,
		ExternalID:  ref.ExternalID,
		OriginalURL: ref.URL,
		CreatedAt:   s.now().UTC(),
	}

	outcome := OutcomeRelinked
	data, key, err := s.findBlob(ctx, product.Slug, ref.ExternalID)
	if err != nil {
		return nil, OutcomeFailed, err
	}
	if data == nil {
		outcome = OutcomeStored
		if data, err = s.download(ctx, ref.URL); err != nil {
			return nil, OutcomeFailed, err
		}
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, OutcomeFailed, fmt.Errorf("%w: %s is %s", ErrNotImage, ref.URL, mime.String())
	}
	img.ContentType = mime.String()
	img.Size = int64(len(data))

	if key == "" {
		key = blob.ImageKey(product.Slug, ref.ExternalID, Extension(mime))
		if img.StorageURL, err = s.blobs.Put(ctx, key, data, img.ContentType); err != nil {
			return nil, OutcomeFailed, err
		}
	} else {
		img.StorageURL = s.blobs.URL(key)
	}
	img.StorageKey = key

	saved, _, err := s.repo.AddImage(ctx, img)
	if err != nil {
		return nil, OutcomeFailed, err
	}
	s.logger.Debug("image stored", "product", product.Id, "image", ref.ExternalID, "key", key, "outcome", outcome)
	return saved, outcome, nil
}

// findBlob returns the content and key of an image already present in blob
// storage under any extension, or nil data when there is none.
func (s *Store) findBlob(ctx context.Context, slug, externalID string) ([]byte, string, error) {
	prefix := blob.ImagePrefix(slug) + externalID + "."
	keys, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, "", err
	}
	for _, key := range keys {
		if strings.Contains(strings.TrimPrefix(key, prefix), ".") {
			continue
		}
		data, err := s.blobs.Get(ctx, key)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return data, key, nil
	}
	return nil, "", nil
}

func (s *Store) download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidImage, err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrNetwork, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
			return &fetch.HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
		if err != nil {
			return fmt.Errorf("%w: reading body: %w", core.ErrNetwork, err)
		}
		if int64(len(body)) > s.maxBytes {
			return fmt.Errorf("%w: %s", ErrTooLarge, path.Base(url))
		}
		data = body
		return nil
	})
	return data, err
}

func retryable(err error) bool {
	if errors.Is(err, ErrInvalidImage) || errors.Is(err, ErrTooLarge) {
		return false
	}
	return fetch.IsRetryable(err)
}

// Extension maps a detected MIME type to a file extension, ".jpg" for
// image types without a known mapping.
func Extension(mime *mimetype.MIME) string {
	for m := mime; m != nil; m = m.Parent() {
		if ext, ok := extensions[m.String()]; ok {
			return ext
		}
	}
	return defaultExtension
}
