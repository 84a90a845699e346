// Package converter wraps the external document conversion engines
// (AbiWord, LibreOffice) behind a single Converter interface and runs
// conversions as bounded, isolated jobs.
package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/docconv/service/internal/config"
)

var (
	// ErrUnavailable is returned when no conversion engine is configured.
	ErrUnavailable = errors.New("enable abiword/soffice")

	// ErrConversionFailed matches every *ConversionError.
	ErrConversionFailed = errors.New("conversion failed")
)

// Converter transforms the document at src into dest using format as the
// target type (a file extension such as "html" or "pdf").
type Converter interface {
	// Name identifies the engine in logs and metrics.
	Name() string
	// HTMLExtension is the extension the engine produces for HTML output.
	HTMLExtension() string
	// ConvertFile runs one conversion. A failed run leaves dest unusable.
	ConvertFile(ctx context.Context, src, dest, format string) error
}

// ConversionError carries the engine's diagnostic output for a failed run.
type ConversionError struct {
	Engine     string
	Diagnostic string
	Err        error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s: conversion failed", e.Engine)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Is makes every ConversionError match ErrConversionFailed.
func (e *ConversionError) Is(target error) bool { return target == ErrConversionFailed }

// New returns the converter selected by cfg, or nil when none is configured.
// LibreOffice wins when both binaries are set.
func New(cfg config.ConverterConfig) Converter {
	switch {
	case cfg.SofficePath != "":
		return NewLibreOffice(cfg.SofficePath)
	case cfg.AbiwordPath != "":
		return NewAbiword(cfg.AbiwordPath)
	default:
		return nil
	}
}

// executor abstracts command execution for testing.
type executor interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (osExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// Engines may fork helpers that keep the output pipes open after a kill.
	cmd.WaitDelay = 5 * time.Second
	return cmd.CombinedOutput()
}

var defaultExec executor = osExecutor{}

// outputExists reports whether a run really produced a non-empty dest.
func outputExists(dest string) bool {
	info, err := os.Stat(dest)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// copyFile is used when a rename crosses devices.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
