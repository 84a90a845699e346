package main

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/docconv/service/internal/auth"
	"github.com/docconv/service/internal/convert"
	"github.com/docconv/service/internal/converter"
	"github.com/docconv/service/internal/metrics"
	appMiddleware "github.com/docconv/service/internal/middleware"
	"github.com/docconv/service/internal/ratelimit"
	"github.com/docconv/service/internal/response"

	_ "github.com/docconv/service/docs/swagger"
)

type routerDeps struct {
	logger   *slog.Logger
	key      *auth.Key
	limiter  *ratelimit.Limiter
	convert  *convert.Handler
	invoker  *converter.Invoker
	gatherer prometheus.Gatherer

	trustedProxies []netip.Prefix
}

type healthData struct {
	Converter string `json:"converter" example:"soffice"`
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(appMiddleware.RealIP(d.trustedProxies))
	r.Use(appMiddleware.Logger(d.logger))
	r.Use(appMiddleware.Recoverer(d.logger))
	r.Use(appMiddleware.CORS())

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, healthData{Converter: d.invoker.Name()})
	})

	r.Handle("/metrics", metrics.Handler(d.gatherer))

	// Swagger UI, available at http://localhost:9001/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	d.convert.Register(r, d.key, d.limiter.Handler)

	return r
}
