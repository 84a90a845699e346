package middleware

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// compressResponseWriter picks the encoding once the handler has set its
// headers, so already compressed payloads (pdf, docx, odt) go out as is.
type compressResponseWriter struct {
	http.ResponseWriter
	encoding string
	writer   io.WriteCloser
	decided  bool
}

func (w *compressResponseWriter) WriteHeader(code int) {
	if !w.decided {
		w.decide(code)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *compressResponseWriter) Write(b []byte) (int, error) {
	if !w.decided {
		w.WriteHeader(http.StatusOK)
	}
	if w.writer == nil {
		return w.ResponseWriter.Write(b)
	}
	return w.writer.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *compressResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *compressResponseWriter) decide(code int) {
	w.decided = true
	header := w.Header()
	if code < http.StatusOK || code == http.StatusNoContent || code == http.StatusNotModified ||
		header.Get("Content-Encoding") != "" || !compressible(header.Get("Content-Type")) {
		return
	}

	switch w.encoding {
	case "zstd":
		encoder, err := zstd.NewWriter(w.ResponseWriter,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithWindowSize(1<<23))
		if err != nil {
			return
		}
		w.writer = encoder
	case "gzip":
		w.writer = gzip.NewWriter(w.ResponseWriter)
	default:
		return
	}
	header.Set("Content-Encoding", w.encoding)
	// Can't know compressed size
	header.Del("Content-Length")
}

func (w *compressResponseWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	return w.writer.Close()
}

// compressible reports whether a payload of contentType shrinks meaningfully.
func compressible(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/json", mediaType == "application/xml",
		mediaType == "application/xhtml+xml", mediaType == "application/rtf",
		mediaType == "image/svg+xml":
		return true
	}
	return false
}

// Compress encodes textual response bodies with zstd or gzip when the client
// accepts either. zstd is preferred.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acceptEncoding := r.Header.Get("Accept-Encoding")

		var encoding string
		switch {
		case strings.Contains(acceptEncoding, "zstd"):
			encoding = "zstd"
		case strings.Contains(acceptEncoding, "gzip"):
			encoding = "gzip"
		default:
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Add("Vary", "Accept-Encoding")

		cw := &compressResponseWriter{ResponseWriter: w, encoding: encoding}
		defer cw.Close()
		next.ServeHTTP(cw, r)
	})
}
