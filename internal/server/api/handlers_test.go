package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codedrop/internal/server/config"
	"codedrop/internal/server/database"
	"codedrop/internal/server/metrics"
	"codedrop/internal/server/service"
	"codedrop/internal/server/storage"
)

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(context.Context) error { return s.err }

func newTestServer(t *testing.T, maxFileSize int64) *echo.Echo {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	meta := database.NewSQLiteStore(db)
	t.Cleanup(func() { _ = meta.Close() })

	blobs := storage.NewFileSystemStore(t.TempDir(), "http://localhost:8080", []byte("secret"))
	sweeper := storage.NewSweeper(meta, blobs, time.Hour)

	reg := prometheus.NewRegistry()
	cfg := service.DefaultConfig()
	cfg.MaxFileSize = maxFileSize
	shares := service.NewShareService(meta, blobs, sweeper, nil, cfg, service.WithMetrics(metrics.New(reg)))
	stats := service.NewStatsService(meta, sweeper, 1<<30)

	handler := NewHandler(shares, stats, stubHealth{}, blobs, maxFileSize)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return SetupRouter(ctx, handler, &config.Config{RateLimitRPS: 1000, RateLimitBurst: 1000}, reg)
}

func uploadRequest(t *testing.T, name string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	return serve(e, httptest.NewRequest(http.MethodGet, target, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestUploadAndDownload(t *testing.T) {
	e := newTestServer(t, 1<<20)
	content := []byte("0123456789")

	rec := serve(e, uploadRequest(t, "ten.txt", content, map[string]string{"code": "54321", "password": "abc123"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "54321", body["share_code"])
	assert.Equal(t, "ten.txt", body["file_name"])
	assert.Equal(t, true, body["is_password_protected"])
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, body, "encryption_key")

	t.Run("info requires password", func(t *testing.T) {
		rec := get(e, "/api/files/54321")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "password_required", decode(t, rec)["error"])
	})

	t.Run("info rejects wrong password", func(t *testing.T) {
		rec := get(e, "/api/files/54321?password=wrong")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "invalid_password", decode(t, rec)["error"])
	})

	t.Run("info with password", func(t *testing.T) {
		rec := get(e, "/api/files/54321?password=abc123")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, decode(t, rec)["download_url"])
	})

	t.Run("download returns plaintext attachment", func(t *testing.T) {
		rec := get(e, "/api/download/54321?password=abc123")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, content, rec.Body.Bytes())
		assert.Equal(t, `attachment; filename=ten.txt`, rec.Header().Get(echo.HeaderContentDisposition))

		info := decode(t, get(e, "/api/files/54321?password=abc123"))
		assert.Equal(t, 1.0, info["downloads_count"])
	})

	t.Run("signed url serves ciphertext", func(t *testing.T) {
		info := decode(t, get(e, "/api/files/54321?password=abc123"))
		u, err := url.Parse(info["download_url"].(string))
		require.NoError(t, err)

		rec := get(e, u.RequestURI())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/encrypted", rec.Header().Get(echo.HeaderContentType))
		assert.NotEqual(t, content, rec.Body.Bytes())
	})

	t.Run("duplicate code", func(t *testing.T) {
		rec := serve(e, uploadRequest(t, "b.txt", []byte("b"), map[string]string{"code": "54321"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestErrorResponses(t *testing.T) {
	e := newTestServer(t, 16)

	tests := []struct {
		name   string
		req    *http.Request
		status int
		kind   string
	}{
		{"unknown code", httptest.NewRequest(http.MethodGet, "/api/files/99999", nil), http.StatusNotFound, "not_found"},
		{"malformed code", httptest.NewRequest(http.MethodGet, "/api/download/12x", nil), http.StatusBadRequest, "validation"},
		{"oversize upload", uploadRequest(t, "big", bytes.Repeat([]byte("x"), 17), nil), http.StatusRequestEntityTooLarge, "validation"},
		{"missing file", httptest.NewRequest(http.MethodPost, "/api/upload", nil), http.StatusBadRequest, "validation"},
		{"bad token", httptest.NewRequest(http.MethodGet, "/api/blob?token=nope", nil), http.StatusForbidden, "invalid_url"},
		{"bad stats range", httptest.NewRequest(http.MethodGet, "/api/stats?range=year", nil), http.StatusBadRequest, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, tt.kind, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{service.ErrExpired, http.StatusGone},
		{service.ErrDecryption, http.StatusUnprocessableEntity},
		{service.ErrTransient, http.StatusServiceUnavailable},
		{service.ErrStorage, http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(service.Kind(tt.err), func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			require.NoError(t, mapServiceError(c, tt.err))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestStatsHealthAndMetrics(t *testing.T) {
	e := newTestServer(t, 1<<20)
	require.Equal(t, http.StatusCreated, serve(e, uploadRequest(t, "a.pdf", []byte("pdf"), nil)).Code)

	rec := get(e, "/api/stats?range=week")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, 1.0, stats["total_files"])
	assert.Equal(t, map[string]any{"pdf": 1.0}, stats["file_types"])

	rec = get(e, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = get(e, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `codedrop_operations_total{operation="upload",result="ok"} 1`)
}
