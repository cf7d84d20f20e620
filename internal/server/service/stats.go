package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codedrop/internal/server/database"
	"codedrop/internal/server/storage"
)

// TimeRange limits a report to shares created within it.
type TimeRange string

const (
	RangeAll   TimeRange = "all"
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
)

// nearLimitRatio is the share of StorageLimit at which usage is flagged.
const nearLimitRatio = 0.9

const topN = 10

// ParseTimeRange parses a range name; empty means RangeAll.
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(strings.ToLower(s)) {
	case "", RangeAll:
		return RangeAll, nil
	case RangeWeek:
		return RangeWeek, nil
	case RangeMonth:
		return RangeMonth, nil
	default:
		return "", fmt.Errorf("%w: unknown time range %q", ErrValidation, s)
	}
}

// FileSummary is the public view of one share in a report.
type FileSummary struct {
	ShareCode           string    `json:"share_code"`
	FileName            string    `json:"file_name"`
	FileSize            int64     `json:"file_size"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	DownloadsCount      int       `json:"downloads_count"`
	IsPasswordProtected bool      `json:"is_password_protected"`
}

// Report aggregates live shares created within Range. The storage fields
// cover every stored share regardless of range, expired ones included,
// since their blobs occupy space until swept.
type Report struct {
	Range              TimeRange      `json:"range"`
	TotalFiles         int            `json:"total_files"`
	TotalBytes         int64          `json:"total_bytes"`
	TotalDownloads     int            `json:"total_downloads"`
	ProtectedFiles     int            `json:"protected_files"`
	RecentFiles        []FileSummary  `json:"recent_files"`
	PopularFiles       []FileSummary  `json:"popular_files"`
	FileTypes          map[string]int `json:"file_types"`
	StoredBytes        int64          `json:"stored_bytes"`
	ExpiredFiles       int            `json:"expired_files"`
	ExpiredBytes       int64          `json:"expired_bytes"`
	StorageLimit       int64          `json:"storage_limit"`
	StorageUsedPercent float64        `json:"storage_used_percent"`
	NearLimit          bool           `json:"near_limit"`
}

// StatsService reports usage and sweeps early when storage runs low.
type StatsService struct {
	meta         database.MetadataStore
	sweeper      *storage.Sweeper
	storageLimit int64
	now          func() time.Time
}

func NewStatsService(meta database.MetadataStore, sweeper *storage.Sweeper, storageLimit int64) *StatsService {
	return &StatsService{
		meta:         meta,
		sweeper:      sweeper,
		storageLimit: storageLimit,
		now:          time.Now,
	}
}

// Report summarizes live shares created within r and storage held by all
// stored shares.
func (s *StatsService) Report(ctx context.Context, r TimeRange) (*Report, error) {
	now := s.now().UTC()

	var since time.Time
	switch r {
	case RangeWeek:
		since = now.AddDate(0, 0, -7)
	case RangeMonth:
		since = now.AddDate(0, -1, 0)
	case RangeAll, "":
		r = RangeAll
	default:
		return nil, fmt.Errorf("%w: unknown time range %q", ErrValidation, r)
	}

	recs, err := s.meta.ListCreatedSince(ctx, time.Unix(0, 0).UTC())
	if err != nil {
		return nil, backendErr("failed to list shares", err)
	}

	rep := &Report{
		Range:        r,
		RecentFiles:  []FileSummary{},
		PopularFiles: []FileSummary{},
		FileTypes:    map[string]int{},
		StorageLimit: s.storageLimit,
	}

	live := make([]*database.ShareRecord, 0, len(recs))
	for _, rec := range recs {
		rep.StoredBytes += rec.FileSize
		if rec.Expired(now) {
			rep.ExpiredFiles++
			rep.ExpiredBytes += rec.FileSize
			continue
		}
		if rec.CreatedAt.Before(since) {
			continue
		}
		live = append(live, rec)
		rep.TotalFiles++
		rep.TotalBytes += rec.FileSize
		rep.TotalDownloads += rec.DownloadsCount
		if rec.IsPasswordProtected {
			rep.ProtectedFiles++
		}
		rep.FileTypes[fileType(rec.FileName)]++
	}

	// ListCreatedSince returns newest first.
	for i := 0; i < len(live) && i < topN; i++ {
		rep.RecentFiles = append(rep.RecentFiles, summarize(live[i]))
	}

	popular := make([]*database.ShareRecord, len(live))
	copy(popular, live)
	sort.SliceStable(popular, func(i, j int) bool {
		return popular[i].DownloadsCount > popular[j].DownloadsCount
	})
	for i := 0; i < len(popular) && i < topN; i++ {
		rep.PopularFiles = append(rep.PopularFiles, summarize(popular[i]))
	}

	if s.storageLimit > 0 {
		rep.StorageUsedPercent = float64(rep.StoredBytes) / float64(s.storageLimit) * 100
		rep.NearLimit = float64(rep.StoredBytes) >= float64(s.storageLimit)*nearLimitRatio
	}
	return rep, nil
}

// Monitor checks stored bytes and, when near the limit, sweeps expired
// shares. The returned report reflects usage after the sweep.
func (s *StatsService) Monitor(ctx context.Context) (*Report, error) {
	rep, err := s.Report(ctx, RangeAll)
	if err != nil {
		return nil, err
	}
	if !rep.NearLimit {
		return rep, nil
	}

	slog.Warn("storage usage near limit",
		"stored_bytes", rep.StoredBytes,
		"expired_bytes", rep.ExpiredBytes,
		"limit_bytes", rep.StorageLimit,
		"used_percent", rep.StorageUsedPercent,
	)
	if rep.ExpiredFiles == 0 {
		slog.Warn("nothing to sweep, storage is held by live shares")
		return rep, nil
	}

	purged, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to sweep near storage limit: %w", err)
	}
	after, err := s.Report(ctx, RangeAll)
	if err != nil {
		return rep, err
	}
	slog.Info("swept near storage limit",
		"purged", purged,
		"freed_bytes", rep.StoredBytes-after.StoredBytes,
		"used_percent", after.StorageUsedPercent,
	)
	return after, nil
}

// Watch runs Monitor every interval until ctx is cancelled.
func (s *StatsService) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Monitor(ctx); err != nil {
				slog.Error("usage monitor failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func summarize(rec *database.ShareRecord) FileSummary {
	return FileSummary{
		ShareCode:           rec.ShareCode,
		FileName:            rec.FileName,
		FileSize:            rec.FileSize,
		CreatedAt:           rec.CreatedAt,
		ExpiresAt:           rec.ExpiresAt,
		DownloadsCount:      rec.DownloadsCount,
		IsPasswordProtected: rec.IsPasswordProtected,
	}
}

// fileType is the lowercased extension of name without the dot, or "none".
func fileType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "none"
	}
	return ext
}
