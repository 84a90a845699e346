package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docconv/service/internal/auth"
	"github.com/docconv/service/internal/config"
	"github.com/docconv/service/internal/convert"
	"github.com/docconv/service/internal/metrics"
	"github.com/docconv/service/internal/ratelimit"
	"github.com/docconv/service/internal/response"
	"github.com/docconv/service/internal/tempfile"
	"github.com/docconv/service/internal/upload"
)

func testRouter(t *testing.T, trusted ...netip.Prefix) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		MaxUploadSize: 1 << 20,
		TempDir:       t.TempDir(),
		RateLimit:     config.RateLimitConfig{Window: time.Minute, Max: 10},
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	files, err := tempfile.NewManager(cfg.TempDir, 0, logger)
	require.NoError(t, err)
	m.TrackPendingCleanups(files.Pending)

	handler := convert.NewHandler(cfg, files, upload.NewIngester(upload.Options{MaxFileSize: cfg.MaxUploadSize}), nil, m, logger)

	return newRouter(routerDeps{
		logger:   logger,
		key:      auth.NewKey("k"),
		limiter:  ratelimit.New(cfg.RateLimit, logger, m),
		convert:  handler,
		gatherer: reg,

		trustedProxies: trusted,
	})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, response.CodeOK, env.Code)
	assert.Equal(t, map[string]interface{}{"converter": ""}, env.Data)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docconv_tempfiles_pending_cleanup")
}

func TestConversionRoutesMounted(t *testing.T) {
	router := testRouter(t)

	for _, path := range []string{"/convertToHTML", "/convertFromHTML"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path+"?apikey=k", strings.NewReader("{}")))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "enable abiword/soffice")

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "docconv dev\n", out.String())
}

func TestWriteTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(0), writeTimeout(0))
	assert.Equal(t, 3*time.Minute, writeTimeout(2*time.Minute))
}

func rateLimitStatuses(router http.Handler, remoteAddr string, forwarded func(i int) string) map[int]int {
	statuses := make(map[int]int)
	for i := 0; i < 12; i++ {
		req := httptest.NewRequest(http.MethodPost, "/convertToHTML?apikey=k", nil)
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Forwarded-For", forwarded(i))
		req.Header.Set("X-Real-IP", forwarded(i))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		statuses[rec.Code]++
	}
	return statuses
}

func TestRateLimitIgnoresSpoofedForwardingHeaders(t *testing.T) {
	router := testRouter(t)

	statuses := rateLimitStatuses(router, "203.0.113.9:5555", func(i int) string {
		return "198.51.100." + strconv.Itoa(i+1)
	})

	// Max is 10, so the 11th and 12th requests are rejected.
	assert.Equal(t, map[int]int{http.StatusNotFound: 10, http.StatusTooManyRequests: 2}, statuses)
}

func TestRateLimitHonoursTrustedProxy(t *testing.T) {
	router := testRouter(t, netip.MustParsePrefix("10.0.0.0/8"))

	statuses := rateLimitStatuses(router, "10.0.0.2:5555", func(i int) string {
		return "198.51.100." + strconv.Itoa(i+1)
	})
	assert.Equal(t, map[int]int{http.StatusNotFound: 12}, statuses, "distinct clients behind the proxy")

	statuses = rateLimitStatuses(router, "10.0.0.2:5555", func(int) string { return "198.51.100.200" })
	assert.Equal(t, map[int]int{http.StatusNotFound: 10, http.StatusTooManyRequests: 2}, statuses, "one client behind the proxy")
}
