package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const shareColumns = `share_code, blob_key, file_name, file_size, mime_type,
	created_at, expires_at, is_password_protected, password_hash,
	encryption_key, downloads_count`

const (
	insertShare = `INSERT INTO shares (` + shareColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	selectShareByCode    = `SELECT ` + shareColumns + ` FROM shares WHERE share_code = $1`
	updateDownloadsCount = `UPDATE shares SET downloads_count = $2 WHERE share_code = $1`
	deleteShare          = `DELETE FROM shares WHERE share_code = $1 AND blob_key = $2`
	selectExpiredBefore  = `SELECT ` + shareColumns + ` FROM shares WHERE expires_at < $1 ORDER BY expires_at`
	selectCreatedSince   = `SELECT ` + shareColumns + ` FROM shares WHERE created_at >= $1 ORDER BY created_at DESC`
)

// Querier is the subset of pgxpool.Pool used by Repository.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the Postgres-backed MetadataStore.
type Repository struct {
	db Querier
}

var _ MetadataStore = (*Repository)(nil)

// NewRepository creates a new Repository.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// Insert stores a new share record.
func (r *Repository) Insert(ctx context.Context, rec *ShareRecord) error {
	_, err := r.db.Exec(ctx, insertShare,
		rec.ShareCode,
		rec.BlobKey,
		rec.FileName,
		rec.FileSize,
		rec.MimeType,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.IsPasswordProtected,
		rec.PasswordHash,
		rec.EncryptionKey,
		rec.DownloadsCount,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to insert share: %w", err)
	}
	return nil
}

// FindByCode retrieves the record holding code.
func (r *Repository) FindByCode(ctx context.Context, code string) (*ShareRecord, error) {
	rec, err := scanShare(r.db.QueryRow(ctx, selectShareByCode, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	return rec, nil
}

// Update writes the non-nil fields of upd.
func (r *Repository) Update(ctx context.Context, code string, upd ShareUpdate) error {
	if upd.DownloadsCount == nil {
		return nil
	}
	tag, err := r.db.Exec(ctx, updateDownloadsCount, code, *upd.DownloadsCount)
	if err != nil {
		return fmt.Errorf("failed to update share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record holding code and blobKey. Missing records are
// ignored.
func (r *Repository) Delete(ctx context.Context, code, blobKey string) error {
	if _, err := r.db.Exec(ctx, deleteShare, code, blobKey); err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	return nil
}

// FindExpiredBefore returns all records whose expiry is earlier than t.
func (r *Repository) FindExpiredBefore(ctx context.Context, t time.Time) ([]*ShareRecord, error) {
	return r.list(ctx, selectExpiredBefore, t)
}

// ListCreatedSince returns records created at or after t, newest first.
func (r *Repository) ListCreatedSince(ctx context.Context, t time.Time) ([]*ShareRecord, error) {
	return r.list(ctx, selectCreatedSince, t)
}

func (r *Repository) list(ctx context.Context, query string, arg any) ([]*ShareRecord, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	var recs []*ShareRecord
	for rows.Next() {
		rec, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanShare(row pgx.Row) (*ShareRecord, error) {
	rec := &ShareRecord{}
	err := row.Scan(
		&rec.ShareCode,
		&rec.BlobKey,
		&rec.FileName,
		&rec.FileSize,
		&rec.MimeType,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.IsPasswordProtected,
		&rec.PasswordHash,
		&rec.EncryptionKey,
		&rec.DownloadsCount,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
