// Package app wires configured backends into the share services for the
// server and the admin CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"codedrop/internal/server/config"
	"codedrop/internal/server/crypto"
	"codedrop/internal/server/database"
	"codedrop/internal/server/events"
	"codedrop/internal/server/metrics"
	"codedrop/internal/server/service"
	"codedrop/internal/server/storage"
)

// Metadata is a metadata store that can report its health.
type Metadata interface {
	database.MetadataStore
	HealthCheck(ctx context.Context) error
}

// postgresMetadata pairs the repository with its pool.
type postgresMetadata struct {
	*database.Repository
	*database.DB
}

// Stores holds the opened backends.
type Stores struct {
	Meta  Metadata
	Blobs storage.BlobStore
	FS    *storage.FileSystemStore // set only for the filesystem backend

	pg     *database.DB
	sqlite *database.SQLiteStore
}

// OpenStores connects the metadata and blob backends selected by cfg.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}

	switch cfg.MetadataBackend {
	case config.BackendPostgres:
		db, err := database.New(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.pg = db
		s.Meta = postgresMetadata{Repository: database.NewRepository(db.Pool), DB: db}
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.sqlite = database.NewSQLiteStore(db)
		s.Meta = s.sqlite
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.MetadataBackend)
	}
	slog.Info("metadata store opened", "backend", cfg.MetadataBackend)

	switch cfg.BlobBackend {
	case config.BackendFilesystem:
		fs := storage.NewFileSystemStore(cfg.StoragePath, cfg.BaseURL, []byte(cfg.URLSigningSecret))
		if err := fs.EnsureDir(); err != nil {
			s.Close()
			return nil, err
		}
		s.FS = fs
		s.Blobs = fs
	case config.BackendS3:
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		}, nil)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Blobs = store
	default:
		s.Close()
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
	slog.Info("blob store opened", "backend", cfg.BlobBackend)

	return s, nil
}

// Migrate applies the metadata schema. SQLite migrates on open.
func (s *Stores) Migrate(ctx context.Context) error {
	if s.pg == nil {
		return nil
	}
	return s.pg.RunMigrations(ctx)
}

func (s *Stores) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			slog.Error("failed to close sqlite", "error", err)
		}
	}
}

// Services are the share services built on a set of stores.
type Services struct {
	Shares  *service.ShareService
	Stats   *service.StatsService
	Sweeper *storage.Sweeper
}

// NewServices builds the services. Purges publish share.purged events and
// count towards m.
func NewServices(cfg *config.Config, stores *Stores, pub events.Publisher, m *metrics.Metrics) (*Services, error) {
	hasher, err := crypto.NewPasswordHasher(cfg.PasswordHashScheme)
	if err != nil {
		return nil, err
	}

	sweeper := storage.NewSweeper(stores.Meta, stores.Blobs, cfg.CleanupInterval)
	sweeper.OnPurge(func(rec *database.ShareRecord) {
		m.Purged()
		pub.Publish(context.Background(), events.New(events.TypePurged, rec.ShareCode, rec.FileName, rec.FileSize))
	})

	shares := service.NewShareService(stores.Meta, stores.Blobs, sweeper, hasher, service.Config{
		MaxFileSize:     cfg.MaxFileSize,
		Retention:       cfg.Retention,
		SignedURLTTL:    cfg.SignedURLTTL,
		MaxCodeAttempts: cfg.MaxCodeAttempts,
	}, service.WithEvents(pub), service.WithMetrics(m))

	return &Services{
		Shares:  shares,
		Stats:   service.NewStatsService(stores.Meta, sweeper, cfg.StorageLimit),
		Sweeper: sweeper,
	}, nil
}

// SetupLogger installs a JSON slog handler at the configured level.
func SetupLogger(cfg *config.Config) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
}
