package converter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/docconv/service/internal/config"
	"github.com/docconv/service/internal/metrics"
)

var errPanic = errors.New("converter panicked")

// Job is one conversion of SourcePath into DestPath.
type Job struct {
	SourcePath string
	DestPath   string
	Format     string
}

// Invoker runs conversion jobs on a Converter. Each job runs on its own
// goroutine under a deadline; at most one run per DestPath is in flight.
type Invoker struct {
	conv    Converter
	timeout time.Duration
	sem     *semaphore.Weighted
	group   singleflight.Group
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewInvoker creates an Invoker for conv. It returns nil when conv is nil so
// callers can treat a missing engine as unavailable.
func NewInvoker(conv Converter, cfg config.ConverterConfig, m *metrics.Metrics, logger *slog.Logger) *Invoker {
	if conv == nil {
		return nil
	}
	inv := &Invoker{
		conv:    conv,
		timeout: cfg.Timeout,
		metrics: m,
		log:     logger.With("component", "converter", "engine", conv.Name()),
	}
	if cfg.MaxConcurrent > 0 {
		inv.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return inv
}

// Name returns the engine name, or "" for a nil Invoker.
func (i *Invoker) Name() string {
	if i == nil {
		return ""
	}
	return i.conv.Name()
}

// HTMLExtension returns the extension the engine writes HTML with.
func (i *Invoker) HTMLExtension() string {
	return i.conv.HTMLExtension()
}

// Convert runs job and waits for it. The returned error is ErrUnavailable for
// a nil Invoker, otherwise nil or a *ConversionError. Convert only returns once
// the engine has stopped touching DestPath.
func (i *Invoker) Convert(ctx context.Context, job Job) error {
	if i == nil {
		return ErrUnavailable
	}

	if i.sem != nil {
		if err := i.sem.Acquire(ctx, 1); err != nil {
			return &ConversionError{Engine: i.conv.Name(), Diagnostic: "waiting for a conversion slot", Err: err}
		}
		defer i.sem.Release(1)
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	res := <-i.group.DoChan(job.DestPath, func() (interface{}, error) {
		return nil, i.run(ctx, job)
	})
	if res.Shared {
		i.log.Warn("conversion shared with an in-flight job", "dest", job.DestPath)
	}
	return res.Err
}

func (i *Invoker) run(ctx context.Context, job Job) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = &ConversionError{Engine: i.conv.Name(), Diagnostic: fmt.Sprint(rec), Err: errPanic}
		}
		i.metrics.ObserveConversion(i.conv.Name(), time.Since(start), err)
	}()

	err = i.conv.ConvertFile(ctx, job.SourcePath, job.DestPath, job.Format)
	if err == nil {
		i.log.Debug("conversion finished", "src", job.SourcePath, "dest", job.DestPath, "duration", time.Since(start))
		return nil
	}

	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		convErr = &ConversionError{Engine: i.conv.Name(), Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(convErr, ctxErr) {
		convErr.Err = errors.Join(convErr.Err, ctxErr)
	}
	return convErr
}
