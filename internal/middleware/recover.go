package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/docconv/service/internal/response"
)

// Recoverer turns a panic in a handler into a 500 envelope and an error log.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", chiMiddleware.GetReqID(r.Context()),
					"stack", string(debug.Stack()),
				)
				response.InternalError(w, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
