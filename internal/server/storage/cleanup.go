package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codedrop/internal/server/database"
)

// Sweeper purges expired shares from both the metadata store and blob
// storage, periodically and on demand.
type Sweeper struct {
	meta     database.MetadataStore
	blobs    BlobStore
	interval time.Duration
	now      func() time.Time
	onPurge  func(rec *database.ShareRecord)
	done     chan struct{}
}

// NewSweeper creates a new sweeper.
func NewSweeper(meta database.MetadataStore, blobs BlobStore, interval time.Duration) *Sweeper {
	return &Sweeper{
		meta:     meta,
		blobs:    blobs,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// OnPurge registers fn to be called after each successful purge.
func (s *Sweeper) OnPurge(fn func(rec *database.ShareRecord)) {
	s.onPurge = fn
}

// Purge deletes the blob, then the metadata row, of rec. Both deletions are
// idempotent and keyed by rec.BlobKey, so racing or stale purges never touch
// a newer share holding the same code.
func (s *Sweeper) Purge(ctx context.Context, rec *database.ShareRecord) error {
	if err := s.blobs.Delete(ctx, rec.BlobKey); err != nil {
		return fmt.Errorf("delete blob %s: %w", rec.BlobKey, err)
	}
	if err := s.meta.Delete(ctx, rec.ShareCode, rec.BlobKey); err != nil {
		return fmt.Errorf("delete record %s: %w", rec.ShareCode, err)
	}
	if s.onPurge != nil {
		s.onPurge(rec)
	}
	return nil
}

// Sweep purges every record that expired before now and returns how many
// were removed. Per-record failures are logged and skipped; the error is
// non-nil only when the expired set cannot be listed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.meta.FindExpiredBefore(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired shares: %w", err)
	}

	var purged, failed int
	for _, rec := range expired {
		if err := s.Purge(ctx, rec); err != nil {
			slog.Error("failed to purge expired share",
				"share_code", rec.ShareCode,
				"blob_key", rec.BlobKey,
				"error", err,
			)
			failed++
			continue
		}
		purged++
		slog.Info("purged expired share",
			"share_code", rec.ShareCode,
			"file_name", rec.FileName,
			"expired_at", rec.ExpiresAt,
		)
	}

	if len(expired) > 0 {
		slog.Info("sweep complete",
			"purged", purged,
			"failed", failed,
			"total_expired", len(expired),
		)
	}
	return purged, nil
}

// Start begins the sweep loop in a background goroutine. It runs once
// immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("retention sweeper started", "interval", s.interval)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)
		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-ctx.Done():
				slog.Info("retention sweeper stopping")
				return
			}
		}
	}()
}

// Wait blocks until the sweep loop has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		slog.Error("sweep failed", "error", err)
	}
}
