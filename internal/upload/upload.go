// Package upload streams multipart uploads into request-scoped temp files.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/docconv/service/internal/tempfile"
)

// FileField is the multipart field carrying the document.
const FileField = "file"

// multipartOverhead is the body allowance on top of the file itself for
// boundaries, part headers and small text fields.
const multipartOverhead = 1 << 20

var (
	// ErrPayloadTooLarge is returned when the file exceeds the configured size.
	ErrPayloadTooLarge = errors.New("exceed maxFileSize")

	// ErrUploadFailed is returned for malformed bodies, a missing file field
	// or write errors.
	ErrUploadFailed = errors.New("upload failed")

	// ErrUnsupportedFormat is returned for an extension outside the allow-list.
	ErrUnsupportedFormat = errors.New("unknown file type")

	// ErrAborted is returned when the client goes away mid-upload.
	ErrAborted = errors.New("upload aborted")
)

// AllowedExtensions lists the document types eligible for conversion.
var AllowedExtensions = map[string]bool{
	".doc":  true,
	".docx": true,
	".pdf":  true,
	".odt":  true,
	".rtf":  true,
}

// IsAllowed reports whether ext (with leading dot, any case) may be converted.
func IsAllowed(ext string) bool {
	return AllowedExtensions[strings.ToLower(ext)]
}

// Options configures an Ingester.
type Options struct {
	MaxFileSize  int64
	AllowUnknown bool
}

// Result describes an ingested file.
type Result struct {
	File      *tempfile.TempFile
	Filename  string
	Extension string
	Size      int64

	// PassThrough marks an unknown extension accepted only to be echoed back.
	PassThrough bool
}

// Ingester writes the uploaded document of a request to disk.
type Ingester struct {
	opts Options
}

// NewIngester creates a new Ingester.
func NewIngester(opts Options) *Ingester {
	return &Ingester{opts: opts}
}

// Ingest reads the multipart body of r and stores its file part in scope.
// The stored file belongs to scope even when an error is returned.
func (in *Ingester) Ingest(ctx context.Context, w http.ResponseWriter, r *http.Request, scope *tempfile.Scope) (*Result, error) {
	r.Body = http.MaxBytesReader(w, r.Body, in.opts.MaxFileSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no %q field in form", ErrUploadFailed, FileField)
		}
		if err != nil {
			return nil, in.classify(ctx, err)
		}
		if part.FormName() != FileField || part.FileName() == "" {
			part.Close()
			continue
		}

		res, err := in.store(ctx, part, part.FileName(), scope)
		part.Close()
		return res, err
	}
}

func (in *Ingester) store(ctx context.Context, src io.Reader, name string, scope *tempfile.Scope) (*Result, error) {
	filename := SanitizeFilename(name)
	ext := strings.ToLower(filepath.Ext(filename))
	tf := scope.Allocate(ext)

	f, err := os.OpenFile(tf.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(src, in.opts.MaxFileSize+1))
	closeErr := f.Close()

	if copyErr != nil {
		return nil, in.classify(ctx, copyErr)
	}
	if n > in.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, in.opts.MaxFileSize)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, closeErr)
	}

	res := &Result{File: tf, Filename: filename, Extension: ext, Size: n}
	if !IsAllowed(ext) {
		if !in.opts.AllowUnknown {
			return res, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
		}
		res.PassThrough = true
	}
	return res, nil
}

func (in *Ingester) classify(ctx context.Context, err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w: %w", ErrPayloadTooLarge, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	default:
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
}

// WriteText stores content in a new file of scope.
func WriteText(scope *tempfile.Scope, suffix, content string) (*tempfile.TempFile, error) {
	tf := scope.Allocate(suffix)
	if err := os.WriteFile(tf.Path, []byte(content), 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", tf.Path, err)
	}
	return tf, nil
}

// SanitizeFilename strips path components and characters that are unsafe in
// a Content-Disposition header.
func SanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	filename = strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', '*', '?', '<', '>', '|', '"':
			return -1
		}
		if r < 32 {
			return -1
		}
		return r
	}, filename)
	filename = strings.TrimSpace(filename)

	if filename == "" || filename == "." || filename == ".." {
		filename = "upload"
	}
	return filename
}
