package storage

import (
	"context"
	"io"
	"time"
)

// ObjectStorage defines the interface for blob storage operations.
type ObjectStorage interface {
	// EnsureBucket creates the bucket if it doesn't exist
	EnsureBucket(ctx context.Context) error

	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download downloads an object from storage
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the public URL for accessing an object
	GetURL(key string) string

	// SignedURL issues a bounded-expiry read URL for an object. The extraction
	// models fetch archived flyers through these; the bucket stays private.
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}
