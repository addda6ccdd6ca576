package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotExist is returned when a storage key has no object behind
// it. Backends translate their SDK-specific errors into this one.
var ErrObjectNotExist = errors.New("object does not exist")

// defaultContentType is used for uploads that do not declare one. ECU
// binaries and processed files are opaque blobs.
const defaultContentType = "application/octet-stream"

// ObjectStorage is the backend contract for storing ECU binaries and
// comment images.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage fronts an ObjectStorage backend with the defaults the file
// workflow relies on.
type Storage struct {
	backend ObjectStorage
}

func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put stores an object under key. An empty contentType falls back to the
// opaque binary default.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = defaultContentType
	}
	return s.backend.Put(ctx, key, r, size, contentType)
}

// Get opens a reader for the object under key. Returns ErrObjectNotExist
// when the key is unknown.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Delete removes the object under key. Deleting a missing key is not an
// error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.backend.Delete(ctx, key)
	if errors.Is(err, ErrObjectNotExist) {
		return nil
	}
	return err
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
