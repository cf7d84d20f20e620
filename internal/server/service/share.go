package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"codedrop/internal/server/crypto"
	"codedrop/internal/server/database"
	"codedrop/internal/server/events"
	"codedrop/internal/server/metrics"
	"codedrop/internal/server/storage"
)

const defaultMimeType = "application/octet-stream"

// compensateTimeout bounds the blob delete issued after a failed insert.
const compensateTimeout = 10 * time.Second

// Config holds the share policy values.
type Config struct {
	MaxFileSize     int64
	Retention       time.Duration
	SignedURLTTL    time.Duration
	MaxCodeAttempts int
}

// DefaultConfig returns the stock policy: 100 MiB files kept for 7 days,
// 1 hour download URLs and 10 attempts to find a free code.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:     100 << 20,
		Retention:       7 * 24 * time.Hour,
		SignedURLTTL:    time.Hour,
		MaxCodeAttempts: 10,
	}
}

// UploadInput is one upload request. Code and Password are optional; an
// empty Code asks for a generated one.
type UploadInput struct {
	Data     []byte
	FileName string
	MimeType string
	Code     string
	Password string
	Progress ProgressObserver
}

// UploadResult is returned after a successful upload. DownloadURL is empty
// when the URL could not be signed after the share was committed.
type UploadResult struct {
	ShareCode   string
	Record      *database.ShareRecord
	DownloadURL string
}

// FetchInput identifies a share to retrieve.
type FetchInput struct {
	Code     string
	Password string
}

// FetchResult carries the record and a fresh signed URL for its blob.
type FetchResult struct {
	Record      *database.ShareRecord
	DownloadURL string
}

// MaterializeInput turns a fetched share into plaintext bytes.
type MaterializeInput struct {
	Record      *database.ShareRecord
	DownloadURL string
	Password    string
	Progress    ProgressObserver
}

// Download is the plaintext of a shared file.
type Download struct {
	Data     []byte
	FileName string
	MimeType string
}

// ShareService implements upload, retrieval and download of shares.
type ShareService struct {
	meta    database.MetadataStore
	blobs   storage.BlobStore
	sweeper *storage.Sweeper
	hasher  *crypto.PasswordHasher
	cfg     Config
	events  events.Publisher
	metrics *metrics.Metrics

	now     func() time.Time
	genCode func() (string, error)

	// keyClock keeps blob key timestamps strictly increasing.
	keyClock atomic.Int64
}

// Option customizes a ShareService.
type Option func(*ShareService)

// WithEvents publishes lifecycle events to p.
func WithEvents(p events.Publisher) Option {
	return func(s *ShareService) { s.events = p }
}

// WithMetrics records operation counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ShareService) { s.metrics = m }
}

// NewShareService creates a new share service. Expired shares found on
// access are purged through sweeper.
func NewShareService(meta database.MetadataStore, blobs storage.BlobStore, sweeper *storage.Sweeper, hasher *crypto.PasswordHasher, cfg Config, opts ...Option) *ShareService {
	if hasher == nil {
		hasher, _ = crypto.NewPasswordHasher(crypto.SchemeSHA256)
	}
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = 1
	}
	s := &ShareService{
		meta:    meta,
		blobs:   blobs,
		sweeper: sweeper,
		hasher:  hasher,
		cfg:     cfg,
		events:  events.Nop{},
		now:     time.Now,
		genCode: GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload encrypts (when a password is given), stores and commits a file
// under a share code.
func (s *ShareService) Upload(ctx context.Context, in UploadInput) (res *UploadResult, err error) {
	defer func() { s.metrics.Operation("upload", Kind(err)) }()

	size := int64(len(in.Data))
	if size == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrValidation)
	}
	if size > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w (%d > %d bytes)", ErrFileTooLarge, size, s.cfg.MaxFileSize)
	}

	code, err := s.chooseCode(ctx, in.Code)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	name := sanitizeFilename(in.FileName)
	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	rec := &database.ShareRecord{
		ShareCode: code,
		BlobKey:   s.blobKey(code, name, now),
		FileName:  name,
		FileSize:  size,
		MimeType:  mimeType,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Retention),
	}

	payload, contentType := in.Data, mimeType
	if in.Password != "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		digest, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		payload, err = crypto.Encrypt(in.Data, key)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt file: %w", err)
		}
		encoded := crypto.EncodeKey(key)
		rec.IsPasswordProtected = true
		rec.PasswordHash = &digest
		rec.EncryptionKey = &encoded
		contentType = crypto.EncryptedContentType
	}

	body := withProgress(bytes.NewReader(payload), int64(len(payload)), DirectionUpload, in.Progress)
	blobMeta := map[string]string{
		"share-code":    code,
		"original-type": mimeType,
	}
	if err := s.blobs.Put(ctx, rec.BlobKey, body, int64(len(payload)), contentType, blobMeta); err != nil {
		return nil, backendErr("failed to store file", err)
	}

	if err := s.meta.Insert(ctx, rec); err != nil {
		s.discardBlob(ctx, rec.BlobKey)
		if errors.Is(err, database.ErrCodeTaken) {
			return nil, fmt.Errorf("%w: share code %s is already in use", ErrValidation, code)
		}
		return nil, backendErr("failed to create share record", err)
	}

	downloadURL, err := s.blobs.SignedURL(ctx, rec.BlobKey, s.cfg.SignedURLTTL)
	if err != nil {
		slog.Error("failed to sign download url after upload",
			"share_code", code,
			"error", err,
		)
		downloadURL = ""
	}

	slog.Info("share uploaded",
		"share_code", code,
		"file_name", name,
		"file_size", size,
		"protected", rec.IsPasswordProtected,
		"expires_at", rec.ExpiresAt,
	)
	s.metrics.Uploaded(size)
	s.events.Publish(ctx, events.New(events.TypeUploaded, code, name, size))

	return &UploadResult{ShareCode: code, Record: rec, DownloadURL: downloadURL}, nil
}

// Fetch looks up a live share, checks its password and issues a fresh
// signed URL. Expired shares are purged and reported as ErrExpired.
func (s *ShareService) Fetch(ctx context.Context, in FetchInput) (res *FetchResult, err error) {
	defer func() { s.metrics.Operation("fetch", Kind(err)) }()

	if !ValidCode(in.Code) {
		return nil, fmt.Errorf("%w: malformed share code %q", ErrValidation, in.Code)
	}

	rec, err := s.meta.FindByCode(ctx, in.Code)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, in.Code)
	}
	if err != nil {
		return nil, backendErr("failed to look up share", err)
	}

	if err := s.checkAccess(ctx, rec, in.Password); err != nil {
		return nil, err
	}

	downloadURL, err := s.blobs.SignedURL(ctx, rec.BlobKey, s.cfg.SignedURLTTL)
	if err != nil {
		return nil, backendErr("failed to sign download url", err)
	}
	return &FetchResult{Record: rec, DownloadURL: downloadURL}, nil
}

// Materialize reads the blob behind a fetched share, decrypts it when
// protected and counts the download.
func (s *ShareService) Materialize(ctx context.Context, in MaterializeInput) (dl *Download, err error) {
	defer func() { s.metrics.Operation("materialize", Kind(err)) }()

	rec := in.Record
	if rec == nil {
		return nil, fmt.Errorf("%w: record is required", ErrValidation)
	}
	if err := s.checkAccess(ctx, rec, in.Password); err != nil {
		return nil, err
	}

	rc, err := s.blobs.Open(ctx, rec.BlobKey, in.DownloadURL)
	if errors.Is(err, storage.ErrInvalidURL) {
		return nil, fmt.Errorf("%w: download url is invalid or expired", ErrValidation)
	}
	if err != nil {
		return nil, backendErr("failed to open file", err)
	}
	defer rc.Close()

	total := rec.FileSize
	if rec.IsPasswordProtected {
		total += crypto.Overhead
	}
	data, err := io.ReadAll(withProgress(rc, total, DirectionDownload, in.Progress))
	if err != nil {
		return nil, backendErr("failed to read file", err)
	}

	if rec.IsPasswordProtected {
		if data, err = decrypt(rec, data); err != nil {
			return nil, err
		}
	}

	s.countDownload(ctx, rec.ShareCode)
	s.events.Publish(ctx, events.New(events.TypeDownloaded, rec.ShareCode, rec.FileName, rec.FileSize))

	return &Download{Data: data, FileName: rec.FileName, MimeType: rec.MimeType}, nil
}

// SweepExpired purges every expired share and returns how many were removed.
func (s *ShareService) SweepExpired(ctx context.Context) (int, error) {
	return s.sweeper.Sweep(ctx)
}

// checkAccess enforces expiry and the password of rec.
func (s *ShareService) checkAccess(ctx context.Context, rec *database.ShareRecord, password string) error {
	if rec.Expired(s.now()) {
		if err := s.sweeper.Purge(ctx, rec); err != nil {
			slog.Error("failed to purge expired share",
				"share_code", rec.ShareCode,
				"error", err,
			)
		}
		return fmt.Errorf("%w: %s", ErrExpired, rec.ShareCode)
	}

	if !rec.IsPasswordProtected {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if rec.PasswordHash == nil || !s.hasher.Verify(password, *rec.PasswordHash) {
		return ErrInvalidPassword
	}
	return nil
}

// chooseCode returns requested when it is free, or a generated free code.
func (s *ShareService) chooseCode(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		if !ValidCode(requested) {
			return "", fmt.Errorf("%w: malformed share code %q", ErrValidation, requested)
		}
		free, err := s.codeFree(ctx, requested)
		if err != nil {
			return "", err
		}
		if !free {
			return "", fmt.Errorf("%w: share code %s is already in use", ErrValidation, requested)
		}
		return requested, nil
	}

	for i := 0; i < s.cfg.MaxCodeAttempts; i++ {
		code, err := s.genCode()
		if err != nil {
			return "", fmt.Errorf("failed to generate share code: %w", err)
		}
		free, err := s.codeFree(ctx, code)
		if err != nil {
			return "", err
		}
		if free {
			return code, nil
		}
		slog.Debug("share code collision", "share_code", code, "attempt", i+1)
	}
	return "", fmt.Errorf("%w: no free share code after %d attempts", ErrValidation, s.cfg.MaxCodeAttempts)
}

// codeFree reports whether no live record holds code. An expired holder is
// purged so the code can be reissued.
func (s *ShareService) codeFree(ctx context.Context, code string) (bool, error) {
	rec, err := s.meta.FindByCode(ctx, code)
	if errors.Is(err, database.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, backendErr("failed to check share code", err)
	}
	if !rec.Expired(s.now()) {
		return false, nil
	}
	if err := s.sweeper.Purge(ctx, rec); err != nil {
		return false, backendErr("failed to purge expired share", err)
	}
	return true, nil
}

// blobKey builds files/{code}/{nanos}_{name} with nanos strictly
// increasing across calls.
func (s *ShareService) blobKey(code, name string, now time.Time) string {
	ts := now.UnixNano()
	for {
		last := s.keyClock.Load()
		next := ts
		if next <= last {
			next = last + 1
		}
		if s.keyClock.CompareAndSwap(last, next) {
			ts = next
			break
		}
	}
	return fmt.Sprintf("files/%s/%d_%s", code, ts, name)
}

// discardBlob undoes a blob write whose record could not be committed.
// It runs even when ctx is already cancelled.
func (s *ShareService) discardBlob(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	if err := s.blobs.Delete(ctx, key); err != nil {
		slog.Error("failed to delete orphaned blob",
			"blob_key", key,
			"error", err,
		)
	}
}

// countDownload increments the download counter by read-modify-write.
// Concurrent downloads may under-count. Failures are logged only.
func (s *ShareService) countDownload(ctx context.Context, code string) {
	var err error
	defer func() { s.metrics.Operation("count_download", Kind(err)) }()

	var cur *database.ShareRecord
	if cur, err = s.meta.FindByCode(ctx, code); err != nil {
		slog.Warn("failed to read download count", "share_code", code, "error", err)
		return
	}
	n := cur.DownloadsCount + 1
	if err = s.meta.Update(ctx, code, database.ShareUpdate{DownloadsCount: &n}); err != nil {
		slog.Warn("failed to increment download count", "share_code", code, "error", err)
	}
}

func decrypt(rec *database.ShareRecord, data []byte) ([]byte, error) {
	if rec.EncryptionKey == nil {
		return nil, fmt.Errorf("%w: share %s has no key", ErrDecryption, rec.ShareCode)
	}
	key, err := crypto.DecodeKey(*rec.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	plain, err := crypto.Decrypt(data, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return plain, nil
}

const maxFilenameBytes = 255

// sanitizeFilename strips directory components and limits length to
// maxFilenameBytes without splitting a UTF-8 sequence.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > maxFilenameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 32 || !utf8.ValidString(ext) {
			ext = ""
		}
		cut := maxFilenameBytes - len(ext)
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}

	if name == "" || name == "." || name == ".." || name == "/" {
		name = "file"
	}
	return name
}
