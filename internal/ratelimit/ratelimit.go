// Package ratelimit bounds how many conversions one client may start within
// a sliding time window.
package ratelimit

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httprate"

	"github.com/docconv/service/internal/config"
	"github.com/docconv/service/internal/metrics"
	"github.com/docconv/service/internal/response"
)

// Limiter is a per client IP sliding-window counter. A single Limiter shares
// its counters across every route it guards.
type Limiter struct {
	handler func(http.Handler) http.Handler
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Limiter allowing cfg.Max requests per cfg.Window. Clients are
// keyed by r.RemoteAddr; behind a proxy, middleware.RealIP must run first.
func New(cfg config.RateLimitConfig, logger *slog.Logger, m *metrics.Metrics) *Limiter {
	l := &Limiter{
		log:     logger.With("component", "ratelimit"),
		metrics: m,
	}
	l.handler = httprate.Limit(cfg.Max, cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(l.reject),
	)
	return l
}

// Handler is the middleware to mount on guarded routes.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return l.handler(next)
}

func (l *Limiter) reject(w http.ResponseWriter, r *http.Request) {
	l.log.Warn("rate limiter triggered", "route", r.URL.Path, "ip", r.RemoteAddr)
	l.metrics.RecordRateLimited(r.URL.Path)
	response.TooManyRequests(w, "too many requests")
}
