package database

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("share not found")
	ErrCodeTaken = errors.New("share code already in use")
)

// ShareRecord is the persisted metadata of one shared file.
type ShareRecord struct {
	ShareCode           string
	BlobKey             string
	FileName            string
	FileSize            int64
	MimeType            string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	IsPasswordProtected bool
	PasswordHash        *string // nil unless protected
	EncryptionKey       *string // hex AES key, nil unless protected
	DownloadsCount      int
}

// Expired reports whether the record is past its retention window at now.
func (r *ShareRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ShareUpdate lists the mutable fields of a record. Nil fields are left untouched.
type ShareUpdate struct {
	DownloadsCount *int
}

// MetadataStore persists share records.
//
// Delete removes the record only while it still points at blobKey, so a
// stale copy of a purged record cannot remove a share that reused its code.
// It is idempotent: removing a missing record is not an error.
// FindByCode returns ErrNotFound when no record holds the code, and
// Insert returns ErrCodeTaken when one does.
type MetadataStore interface {
	Insert(ctx context.Context, rec *ShareRecord) error
	FindByCode(ctx context.Context, code string) (*ShareRecord, error)
	Update(ctx context.Context, code string, upd ShareUpdate) error
	Delete(ctx context.Context, code, blobKey string) error
	FindExpiredBefore(ctx context.Context, t time.Time) ([]*ShareRecord, error)
	ListCreatedSince(ctx context.Context, t time.Time) ([]*ShareRecord, error)
}
