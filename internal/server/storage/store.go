package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidURL   = errors.New("invalid or expired signed url")
)

// BlobStore is an object store addressed by opaque keys.
//
// SignedURL issues a time-limited capability URL for a blob and Open reads
// a blob back through such a URL, rejecting URLs issued for any key other
// than key with ErrInvalidURL. Delete is idempotent.
type BlobStore interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string, metadata map[string]string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Open(ctx context.Context, key, signedURL string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
