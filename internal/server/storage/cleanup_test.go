package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codedrop/internal/server/database"
)

// flakyBlobs fails Delete for the listed keys.
type flakyBlobs struct {
	BlobStore
	failKeys map[string]bool
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) error {
	if f.failKeys[key] {
		return errors.New("backend unavailable")
	}
	return f.BlobStore.Delete(ctx, key)
}

type sweepFixture struct {
	meta  *database.SQLiteStore
	blobs *FileSystemStore
	now   time.Time
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	meta := database.NewSQLiteStore(db)
	t.Cleanup(func() { _ = meta.Close() })

	blobs, _ := newTestFSStore(t)
	return &sweepFixture{
		meta:  meta,
		blobs: blobs,
		now:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *sweepFixture) add(t *testing.T, code string, expiresIn time.Duration) *database.ShareRecord {
	t.Helper()
	ctx := context.Background()
	rec := &database.ShareRecord{
		ShareCode: code,
		BlobKey:   "files/" + code + "/1_f.txt",
		FileName:  "f.txt",
		FileSize:  4,
		MimeType:  "text/plain",
		CreatedAt: f.now.Add(-time.Hour),
		ExpiresAt: f.now.Add(expiresIn),
	}
	require.NoError(t, f.blobs.Put(ctx, rec.BlobKey, strings.NewReader("data"), 4, rec.MimeType, nil))
	require.NoError(t, f.meta.Insert(ctx, rec))
	return rec
}

func (f *sweepFixture) sweeper(blobs BlobStore) *Sweeper {
	s := NewSweeper(f.meta, blobs, time.Hour)
	s.now = func() time.Time { return f.now }
	return s
}

func (f *sweepFixture) blobExists(t *testing.T, key string) bool {
	t.Helper()
	signed, err := f.blobs.SignedURL(context.Background(), key, time.Minute)
	require.NoError(t, err)
	rc, err := f.blobs.Open(context.Background(), key, signed)
	if err != nil {
		return false
	}
	rc.Close()
	return true
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("purges only expired records", func(t *testing.T) {
		f := newSweepFixture(t)
		expired := f.add(t, "10001", -time.Second)
		live := f.add(t, "10002", time.Hour)

		var hooked []string
		s := f.sweeper(f.blobs)
		s.OnPurge(func(rec *database.ShareRecord) { hooked = append(hooked, rec.ShareCode) })

		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"10001"}, hooked)

		_, err = f.meta.FindByCode(ctx, expired.ShareCode)
		assert.ErrorIs(t, err, database.ErrNotFound)
		assert.False(t, f.blobExists(t, expired.BlobKey))

		_, err = f.meta.FindByCode(ctx, live.ShareCode)
		assert.NoError(t, err)
		assert.True(t, f.blobExists(t, live.BlobKey))
	})

	t.Run("continues past per-record failures", func(t *testing.T) {
		f := newSweepFixture(t)
		bad := f.add(t, "20001", -time.Minute)
		f.add(t, "20002", -time.Minute)
		f.add(t, "20003", -time.Minute)

		s := f.sweeper(&flakyBlobs{BlobStore: f.blobs, failKeys: map[string]bool{bad.BlobKey: true}})

		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = f.meta.FindByCode(ctx, bad.ShareCode)
		assert.NoError(t, err, "record whose blob delete failed must stay for the next sweep")
	})

	t.Run("second sweep is a no-op", func(t *testing.T) {
		f := newSweepFixture(t)
		f.add(t, "30001", -time.Minute)
		s := f.sweeper(f.blobs)

		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSweeper_PurgeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t)
	rec := f.add(t, "40001", -time.Minute)
	s := f.sweeper(f.blobs)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Purge(ctx, rec)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.NoError(t, s.Purge(ctx, rec))
}

func TestSweeper_StartStops(t *testing.T) {
	f := newSweepFixture(t)
	f.add(t, "50001", -time.Minute)
	s := f.sweeper(f.blobs)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.Eventually(t, func() bool {
		_, err := f.meta.FindByCode(context.Background(), "50001")
		return errors.Is(err, database.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	s.Wait()
}

func TestSweeper_StalePurgeKeepsReissuedShare(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t)
	stale := f.add(t, "60001", -time.Minute)
	s := f.sweeper(f.blobs)
	require.NoError(t, s.Purge(ctx, stale))

	fresh := *stale
	fresh.BlobKey = "files/60001/2_f.txt"
	fresh.ExpiresAt = f.now.Add(time.Hour)
	require.NoError(t, f.blobs.Put(ctx, fresh.BlobKey, strings.NewReader("new!"), 4, fresh.MimeType, nil))
	require.NoError(t, f.meta.Insert(ctx, &fresh))

	require.NoError(t, s.Purge(ctx, stale))

	got, err := f.meta.FindByCode(ctx, "60001")
	require.NoError(t, err)
	assert.Equal(t, fresh.BlobKey, got.BlobKey)
	assert.True(t, f.blobExists(t, fresh.BlobKey))
}
