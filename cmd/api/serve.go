package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/docconv/service/internal/auth"
	"github.com/docconv/service/internal/convert"
	"github.com/docconv/service/internal/converter"
	"github.com/docconv/service/internal/metrics"
	"github.com/docconv/service/internal/ratelimit"
	"github.com/docconv/service/internal/tempfile"
	"github.com/docconv/service/internal/upload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conversion server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	key, err := auth.Load(cfg.APIKeyFile)
	if err != nil {
		return err
	}
	if key.Empty() {
		logger.Warn("api key is empty, every conversion request will be rejected", "file", cfg.APIKeyFile)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	files, err := tempfile.NewManager(cfg.TempDir, cfg.CleanupGrace, logger)
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	defer files.Close()
	m.TrackPendingCleanups(files.Pending)

	invoker := converter.NewInvoker(converter.New(cfg.Converter), cfg.Converter, m, logger)
	if invoker == nil {
		logger.Warn("no converter configured, set ABIWORD_PATH or SOFFICE_PATH")
	}

	handler := convert.NewHandler(cfg, files, upload.NewIngester(upload.Options{
		MaxFileSize:  cfg.MaxUploadSize,
		AllowUnknown: cfg.AllowUnknownFileEnds,
	}), invoker, m, logger)

	r := newRouter(routerDeps{
		logger:   logger,
		key:      key,
		limiter:  ratelimit.New(cfg.RateLimit, logger, m),
		convert:  handler,
		invoker:  invoker,
		gatherer: reg,

		trustedProxies: cfg.TrustedProxies,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		// Large uploads and slow engines need more than the usual budget.
		WriteTimeout: writeTimeout(cfg.Converter.Timeout),
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", srv.Addr,
			"env", cfg.AppEnv,
			"converter", invoker.Name(),
			"max_upload", humanize.IBytes(uint64(cfg.MaxUploadSize)),
			"temp_dir", files.Dir(),
		)
		logger.Info("swagger UI", "url", fmt.Sprintf("http://localhost:%s/swagger/", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}
	logger.Info("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped", "pending_cleanups", files.Pending())
	return nil
}

// writeTimeout leaves room for the upload and the response on top of the
// conversion itself. Zero keeps writes unbounded like the conversion.
func writeTimeout(conversion time.Duration) time.Duration {
	if conversion <= 0 {
		return 0
	}
	return conversion + time.Minute
}
