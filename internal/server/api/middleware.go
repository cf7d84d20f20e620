package api

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	bucketIdleTTL   = 10 * time.Minute
	janitorInterval = 5 * time.Minute
)

// bucket is the token state for one client address.
type bucket struct {
	tokens float64
	seen   time.Time
}

// RateLimiter throttles share lookups and uploads per client address so
// 5-digit codes cannot be enumerated quickly.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	now     func() time.Time
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst. Idle buckets are dropped until ctx is cancelled.
func NewRateLimiter(ctx context.Context, rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rps,
		burst:   float64(burst),
		now:     time.Now,
	}
	go rl.janitor(ctx)
	return rl
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			ok, wait := rl.take(ip)
			if ok {
				return next(c)
			}

			slog.Warn("rate limit exceeded", "ip", ip, "path", c.Path(), "code", c.Param("code"))
			if wait > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
			return errorJSON(c, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
		}
	}
}

// take spends one token for key. When none is left it reports how long
// until the next one; zero means the limiter never refills.
func (rl *RateLimiter) take(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, seen: now}
		rl.buckets[key] = b
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.seen).Seconds()*rl.rate)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if rl.rate <= 0 {
		return false, 0
	}
	return false, time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
}

func (rl *RateLimiter) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-bucketIdleTTL)
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// RequestLogger logs one line per request. Server errors log at error
// level, client errors at warn.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			level := slog.LevelInfo
			switch {
			case res.Status >= http.StatusInternalServerError:
				level = slog.LevelError
			case res.Status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			attrs := []any{
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"route", c.Path(),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"bytes_in", req.ContentLength,
				"bytes_out", res.Size,
			}
			if code := c.Param("code"); code != "" {
				attrs = append(attrs, "code", code)
			}
			slog.Log(req.Context(), level, "request", attrs...)
			return nil
		}
	}
}
