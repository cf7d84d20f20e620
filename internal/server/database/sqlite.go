package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// shareRow is the SQLite layout of a ShareRecord. Timestamps are kept as
// unix nanoseconds so range filters compare numerically.
type shareRow struct {
	ShareCode           string `gorm:"primaryKey;size:5"`
	BlobKey             string `gorm:"not null"`
	FileName            string `gorm:"not null;size:255"`
	FileSize            int64  `gorm:"not null"`
	MimeType            string `gorm:"not null;size:255"`
	CreatedAt           int64  `gorm:"not null;index;autoCreateTime:false"`
	ExpiresAt           int64  `gorm:"not null;index"`
	IsPasswordProtected bool   `gorm:"not null;default:false"`
	PasswordHash        *string
	EncryptionKey       *string
	DownloadsCount      int `gorm:"not null;default:0"`
}

func (shareRow) TableName() string { return "shares" }

func toRow(rec *ShareRecord) *shareRow {
	return &shareRow{
		ShareCode:           rec.ShareCode,
		BlobKey:             rec.BlobKey,
		FileName:            rec.FileName,
		FileSize:            rec.FileSize,
		MimeType:            rec.MimeType,
		CreatedAt:           rec.CreatedAt.UnixNano(),
		ExpiresAt:           rec.ExpiresAt.UnixNano(),
		IsPasswordProtected: rec.IsPasswordProtected,
		PasswordHash:        rec.PasswordHash,
		EncryptionKey:       rec.EncryptionKey,
		DownloadsCount:      rec.DownloadsCount,
	}
}

func fromRow(row *shareRow) *ShareRecord {
	return &ShareRecord{
		ShareCode:           row.ShareCode,
		BlobKey:             row.BlobKey,
		FileName:            row.FileName,
		FileSize:            row.FileSize,
		MimeType:            row.MimeType,
		CreatedAt:           time.Unix(0, row.CreatedAt).UTC(),
		ExpiresAt:           time.Unix(0, row.ExpiresAt).UTC(),
		IsPasswordProtected: row.IsPasswordProtected,
		PasswordHash:        row.PasswordHash,
		EncryptionKey:       row.EncryptionKey,
		DownloadsCount:      row.DownloadsCount,
	}
}

// OpenSQLite opens (creating if needed) a SQLite database at path using the
// pure-Go modernc driver and migrates the shares table.
func OpenSQLite(path string) (*gorm.DB, error) {
	dial := gormsqlite.Dialector{DriverName: "sqlite", DSN: path + "?_pragma=busy_timeout(5000)"}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&shareRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	slog.Info("opened sqlite metadata store", "path", path)
	return db, nil
}

// SQLiteStore is the gorm-backed MetadataStore for single-node deployments.
type SQLiteStore struct {
	db *gorm.DB
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an opened gorm connection.
func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert stores a new share record, failing with ErrCodeTaken if the code is held.
func (s *SQLiteStore) Insert(ctx context.Context, rec *ShareRecord) error {
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "share_code"}},
		DoNothing: true,
	}).Create(toRow(rec))
	if tx.Error != nil {
		return fmt.Errorf("failed to insert share: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrCodeTaken
	}
	return nil
}

func (s *SQLiteStore) FindByCode(ctx context.Context, code string) (*ShareRecord, error) {
	var row shareRow
	err := s.db.WithContext(ctx).Where("share_code = ?", code).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	return fromRow(&row), nil
}

func (s *SQLiteStore) Update(ctx context.Context, code string, upd ShareUpdate) error {
	if upd.DownloadsCount == nil {
		return nil
	}
	tx := s.db.WithContext(ctx).Model(&shareRow{}).
		Where("share_code = ?", code).
		Update("downloads_count", *upd.DownloadsCount)
	if tx.Error != nil {
		return fmt.Errorf("failed to update share: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, code, blobKey string) error {
	err := s.db.WithContext(ctx).
		Where("share_code = ? AND blob_key = ?", code, blobKey).
		Delete(&shareRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindExpiredBefore(ctx context.Context, t time.Time) ([]*ShareRecord, error) {
	return s.list(ctx, "expires_at < ?", t.UnixNano(), "expires_at")
}

func (s *SQLiteStore) ListCreatedSince(ctx context.Context, t time.Time) ([]*ShareRecord, error) {
	return s.list(ctx, "created_at >= ?", t.UnixNano(), "created_at DESC")
}

func (s *SQLiteStore) list(ctx context.Context, where string, arg int64, order string) ([]*ShareRecord, error) {
	var rows []shareRow
	if err := s.db.WithContext(ctx).Where(where, arg).Order(order).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	recs := make([]*ShareRecord, len(rows))
	for i := range rows {
		recs[i] = fromRow(&rows[i])
	}
	return recs, nil
}

// HealthCheck pings the underlying connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
