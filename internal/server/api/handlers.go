package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"codedrop/internal/server/database"
	"codedrop/internal/server/service"
	"codedrop/internal/server/storage"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the codedrop API.
type Handler struct {
	shares      *service.ShareService
	stats       *service.StatsService
	db          HealthChecker
	blobs       *storage.FileSystemStore // nil unless blobs live on local disk
	maxFileSize int64
}

// NewHandler creates a new handler. blobs may be nil when signed URLs are
// served by an external object store.
func NewHandler(shares *service.ShareService, stats *service.StatsService, db HealthChecker, blobs *storage.FileSystemStore, maxFileSize int64) *Handler {
	return &Handler{
		shares:      shares,
		stats:       stats,
		db:          db,
		blobs:       blobs,
		maxFileSize: maxFileSize,
	}
}

// shareResponse is the public view of a share. Secrets never leave the server.
type shareResponse struct {
	ShareCode           string    `json:"share_code"`
	FileName            string    `json:"file_name"`
	FileSize            int64     `json:"file_size"`
	MimeType            string    `json:"mime_type"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	IsPasswordProtected bool      `json:"is_password_protected"`
	DownloadsCount      int       `json:"downloads_count"`
	DownloadURL         string    `json:"download_url,omitempty"`
}

func newShareResponse(rec *database.ShareRecord, downloadURL string) shareResponse {
	return shareResponse{
		ShareCode:           rec.ShareCode,
		FileName:            rec.FileName,
		FileSize:            rec.FileSize,
		MimeType:            rec.MimeType,
		CreatedAt:           rec.CreatedAt,
		ExpiresAt:           rec.ExpiresAt,
		IsPasswordProtected: rec.IsPasswordProtected,
		DownloadsCount:      rec.DownloadsCount,
		DownloadURL:         downloadURL,
	}
}

// HandleUpload handles POST /api/upload.
// Accepts a multipart form with a "file" field and optional "password" and
// "code" fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "validation", "file is required (use form field 'file')")
	}
	if fileHeader.Size > h.maxFileSize {
		return mapServiceError(c, service.ErrFileTooLarge)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "internal", "failed to read uploaded file")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxFileSize+1))
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "internal", "failed to read uploaded file")
	}

	result, err := h.shares.Upload(c.Request().Context(), service.UploadInput{
		Data:     data,
		FileName: fileHeader.Filename,
		MimeType: fileHeader.Header.Get(echo.HeaderContentType),
		Code:     c.FormValue("code"),
		Password: c.FormValue("password"),
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, newShareResponse(result.Record, result.DownloadURL))
}

// HandleInfo handles GET /api/files/:code.
// Returns share metadata and a fresh signed URL for the stored blob.
func (h *Handler) HandleInfo(c echo.Context) error {
	res, err := h.shares.Fetch(c.Request().Context(), service.FetchInput{
		Code:     c.Param("code"),
		Password: c.QueryParam("password"),
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newShareResponse(res.Record, res.DownloadURL))
}

// HandleDownload handles GET /api/download/:code.
// Serves the decrypted file as an attachment.
func (h *Handler) HandleDownload(c echo.Context) error {
	ctx := c.Request().Context()
	password := c.QueryParam("password")

	res, err := h.shares.Fetch(ctx, service.FetchInput{Code: c.Param("code"), Password: password})
	if err != nil {
		return mapServiceError(c, err)
	}

	dl, err := h.shares.Materialize(ctx, service.MaterializeInput{
		Record:      res.Record,
		DownloadURL: res.DownloadURL,
		Password:    password,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": dl.FileName}))
	return c.Blob(http.StatusOK, dl.MimeType, dl.Data)
}

// HandleBlob handles GET /api/blob?token=.
// Serves raw blobs for signed URLs issued by the filesystem store.
func (h *Handler) HandleBlob(c echo.Context) error {
	if h.blobs == nil {
		return errorJSON(c, http.StatusNotFound, "not_found", "blob route is disabled")
	}

	obj, err := h.blobs.OpenToken(c.QueryParam("token"))
	switch {
	case errors.Is(err, storage.ErrInvalidURL):
		return errorJSON(c, http.StatusForbidden, "invalid_url", "signed url is invalid or expired")
	case errors.Is(err, storage.ErrBlobNotFound):
		return errorJSON(c, http.StatusNotFound, "not_found", "blob not found")
	case err != nil:
		slog.Error("failed to open blob", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "storage", "failed to open blob")
	}
	defer obj.Close()

	c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprint(obj.Size))
	return c.Stream(http.StatusOK, obj.ContentType, obj)
}

// HandleStats handles GET /api/stats?range=all|week|month.
func (h *Handler) HandleStats(c echo.Context) error {
	r, err := service.ParseTimeRange(c.QueryParam("range"))
	if err != nil {
		return mapServiceError(c, err)
	}

	rep, err := h.stats.Report(c.Request().Context(), r)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// mapServiceError translates service-layer errors into HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	kind := service.Kind(err)

	var status int
	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, service.ErrPasswordRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidPassword):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrDecryption):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrTransient):
		slog.Warn("transient failure", "path", c.Path(), "error", err)
		return errorJSON(c, http.StatusServiceUnavailable, kind, service.ErrTransient.Error())
	default:
		slog.Error("request failed", "path", c.Path(), "kind", kind, "error", err)
		return errorJSON(c, http.StatusInternalServerError, kind, "internal server error")
	}

	return errorJSON(c, status, kind, err.Error())
}

func errorJSON(c echo.Context, status int, kind, message string) error {
	return c.JSON(status, echo.Map{
		"error":   kind,
		"message": message,
	})
}
