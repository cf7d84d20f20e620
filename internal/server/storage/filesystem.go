package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BlobRoute is the API path serving filesystem blobs by signed token.
const BlobRoute = "/api/blob"

const sidecarSuffix = ".meta.json"

// objectMeta is persisted next to each blob.
type objectMeta struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Object is an opened blob with its stored content type.
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
}

// FileSystemStore stores blobs on the local filesystem and issues
// HMAC-signed JWT URLs pointing at BlobRoute.
type FileSystemStore struct {
	basePath string
	baseURL  string
	secret   []byte
	now      func() time.Time
}

var _ BlobStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath, baseURL string, secret []byte) *FileSystemStore {
	return &FileSystemStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   secret,
		now:      time.Now,
	}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Put writes data under key along with a content-type sidecar.
func (fs *FileSystemStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := fs.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer file.Close()

	n, err := io.Copy(file, data)
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("short write: %d of %d bytes", n, size)
	}
	if err != nil {
		os.Remove(filePath)
		return fmt.Errorf("failed to write file: %w", err)
	}

	meta, err := json.Marshal(objectMeta{ContentType: contentType, Metadata: metadata})
	if err != nil {
		os.Remove(filePath)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filePath+sidecarSuffix, meta, 0644); err != nil {
		os.Remove(filePath)
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// SignedURL returns BaseURL + BlobRoute with a token granting read access
// to key until ttl elapses.
func (fs *FileSystemStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := fs.objectPath(key); err != nil {
		return "", err
	}
	now := fs.now()
	claims := jwt.RegisteredClaims{
		Subject:   key,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(fs.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign url: %w", err)
	}
	return fs.baseURL + BlobRoute + "?token=" + url.QueryEscape(token), nil
}

// Open reads key through a signed URL issued for it.
func (fs *FileSystemStore) Open(ctx context.Context, key, signedURL string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(signedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	subject, err := fs.verify(u.Query().Get("token"))
	if err != nil {
		return nil, err
	}
	if subject != key {
		return nil, fmt.Errorf("%w: url was issued for another blob", ErrInvalidURL)
	}
	obj, err := fs.open(subject)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// OpenToken validates a signed-URL token and opens the blob it grants.
func (fs *FileSystemStore) OpenToken(token string) (*Object, error) {
	subject, err := fs.verify(token)
	if err != nil {
		return nil, err
	}
	return fs.open(subject)
}

// verify checks a token's signature and expiry and returns its blob key.
func (fs *FileSystemStore) verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return fs.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(fs.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return claims.Subject, nil
}

func (fs *FileSystemStore) open(key string) (*Object, error) {
	filePath, err := fs.objectPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	obj := &Object{ReadCloser: file, Size: info.Size(), ContentType: "application/octet-stream"}
	if raw, err := os.ReadFile(filePath + sidecarSuffix); err == nil {
		var meta objectMeta
		if json.Unmarshal(raw, &meta) == nil && meta.ContentType != "" {
			obj.ContentType = meta.ContentType
		}
	}
	return obj, nil
}

// Delete removes a blob and its sidecar. Missing blobs are ignored.
func (fs *FileSystemStore) Delete(ctx context.Context, key string) error {
	filePath, err := fs.objectPath(key)
	if err != nil {
		return err
	}
	for _, p := range []string{filePath, filePath + sidecarSuffix} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file %s: %w", p, err)
		}
	}
	// Drop the per-code directory once empty; a non-empty one stays.
	if dir := filepath.Dir(filePath); dir != filepath.Clean(fs.basePath) {
		_ = os.Remove(dir)
	}
	return nil
}

// objectPath maps a slash-separated key into basePath, rejecting keys that
// would escape it.
func (fs *FileSystemStore) objectPath(key string) (string, error) {
	if key == "" || strings.HasSuffix(key, sidecarSuffix) || path.Clean("/" + key)[1:] != key {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(fs.basePath, filepath.FromSlash(key)), nil
}
