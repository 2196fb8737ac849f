package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/poiesic/reviewmill/blob"
)

// DefaultMaxBuffer bounds the bytes held between flushes.
const DefaultMaxBuffer = 8 << 20

var (
	ErrBlobStoreRequired = errors.New("blob store is required")
	ErrShipperClosed     = errors.New("log shipper is closed")
)

// Shipper buffers log output and uploads it to the blob store under
// blob.LogKey. Use it as the writer of a handler, usually next to stderr via
// io.MultiWriter.
type Shipper struct {
	store     blob.Store
	now       func() time.Time
	maxBuffer int

	mu      sync.Mutex
	buf     bytes.Buffer
	dropped int
	closed  bool
}

// ShipperOption configures a Shipper.
type ShipperOption func(*Shipper) error

// WithClock sets the time source used for log keys.
func WithClock(now func() time.Time) ShipperOption {
	return func(s *Shipper) error {
		s.now = now
		return nil
	}
}

// WithMaxBuffer caps buffered bytes. Writes beyond the cap are dropped and
// counted until the next Flush.
func WithMaxBuffer(n int) ShipperOption {
	return func(s *Shipper) error {
		if n < 1 {
			return fmt.Errorf("max buffer must be positive, got %d", n)
		}
		s.maxBuffer = n
		return nil
	}
}

// NewShipper creates a shipper uploading to store.
func NewShipper(store blob.Store, opts ...ShipperOption) (*Shipper, error) {
	if store == nil {
		return nil, ErrBlobStoreRequired
	}
	s := &Shipper{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		maxBuffer: DefaultMaxBuffer,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Write never fails so that logging never blocks on the blob store.
func (s *Shipper) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return len(p), nil
	}
	if s.buf.Len()+len(p) > s.maxBuffer {
		s.dropped++
		return len(p), nil
	}
	s.buf.Write(p)
	return len(p), nil
}

// Flush uploads buffered output and resets the buffer. It returns the key
// written, or "" when there was nothing to ship. On upload failure the
// buffer is kept for the next attempt.
func (s *Shipper) Flush(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrShipperClosed
	}
	return s.flush(ctx)
}

func (s *Shipper) flush(ctx context.Context) (string, error) {
	if s.buf.Len() == 0 && s.dropped == 0 {
		return "", nil
	}
	data := bytes.Clone(s.buf.Bytes())
	if s.dropped > 0 {
		data = fmt.Appendf(data, "log shipper dropped %d writes over the %d byte buffer\n", s.dropped, s.maxBuffer)
	}

	key := blob.LogKey(s.now())
	if _, err := s.store.Put(ctx, key, data, "text/plain; charset=utf-8"); err != nil {
		return "", fmt.Errorf("ship logs to %s: %w", key, err)
	}
	s.buf.Reset()
	s.dropped = 0
	return key, nil
}

// Close ships what remains and stops buffering.
func (s *Shipper) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	_, err := s.flush(ctx)
	s.closed = true
	return err
}
