package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/docconv/service/internal/auth"
	"github.com/docconv/service/internal/response"
)

// APIKeyParam is the query parameter carrying the shared secret.
const APIKeyParam = "apikey"

// RequireAPIKey returns middleware that accepts a request when its apikey
// query parameter matches key, or when it carries a Bearer token signed with
// key. Anything else is answered with 401 before the body is read.
func RequireAPIKey(key *auth.Key, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key.Match(r.URL.Query().Get(APIKeyParam)) || key.ValidToken(bearerToken(r)) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("authentication failed",
				"path", r.URL.Path,
				"ip", r.RemoteAddr,
				"request_id", chiMiddleware.GetReqID(r.Context()),
			)
			response.Unauthorized(w, "apikey not match")
		})
	}
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
