package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codedrop/internal/server/config"
	"codedrop/internal/server/storage"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. The rate limiter's janitor stops when ctx is cancelled.
func SetupRouter(ctx context.Context, handler *Handler, cfg *config.Config, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{echo.HeaderContentType},
		ExposeHeaders: []string{echo.HeaderContentDisposition, echo.HeaderXRequestID},
	}))
	e.Use(RequestLogger())

	// Upload and code lookups share one per-IP bucket.
	limiter := NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware()

	// Health, metrics & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET("/api/stats", handler.HandleStats)

	// Shares
	e.POST("/api/upload", handler.HandleUpload, limiter)
	e.GET("/api/files/:code", handler.HandleInfo, limiter)
	e.GET("/api/download/:code", handler.HandleDownload, limiter)

	// Signed blob URLs for the filesystem backend
	e.GET(storage.BlobRoute, handler.HandleBlob)

	return e
}
