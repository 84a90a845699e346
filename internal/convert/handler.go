// Package convert serves the document conversion endpoints.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/docconv/service/internal/auth"
	"github.com/docconv/service/internal/config"
	"github.com/docconv/service/internal/converter"
	"github.com/docconv/service/internal/metrics"
	appMiddleware "github.com/docconv/service/internal/middleware"
	"github.com/docconv/service/internal/response"
	"github.com/docconv/service/internal/tempfile"
	"github.com/docconv/service/internal/tidy"
	"github.com/docconv/service/internal/upload"
)

const (
	routeToHTML   = "convertToHTML"
	routeFromHTML = "convertFromHTML"
)

// errBadRequest marks a from-HTML body that could not be decoded.
var errBadRequest = errors.New("bad request")

// Handler holds HTTP handlers for the conversion endpoints.
type Handler struct {
	cfg      *config.Config
	files    *tempfile.Manager
	ingester *upload.Ingester
	invoker  *converter.Invoker
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewHandler creates a new convert Handler. invoker may be nil, in which
// case every conversion answers 404.
func NewHandler(cfg *config.Config, files *tempfile.Manager, ingester *upload.Ingester, invoker *converter.Invoker, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		files:    files,
		ingester: ingester,
		invoker:  invoker,
		metrics:  m,
		log:      logger.With("handler", "convert"),
	}
}

// Register mounts both conversion routes on r behind the api key check and
// limiter. The key is checked first so unauthenticated traffic never
// spends a client's budget.
func (h *Handler) Register(r chi.Router, key *auth.Key, limiter func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.AllowAnyOrigin)
		r.Use(appMiddleware.RequireAPIKey(key, h.log))
		r.Use(limiter)
		r.Use(appMiddleware.Compress)

		r.Post("/"+routeToHTML, h.ConvertToHTML)
		r.Post("/"+routeFromHTML, h.ConvertFromHTML)
	})
}

// ConvertToHTML godoc
//
//	@Summary		Convert a document to HTML
//	@Description	Upload a .doc, .docx, .pdf, .odt or .rtf file and receive the HTML produced by the configured engine. With ALLOW_UNKNOWN_FILE_ENDS other files are returned unchanged.
//	@Tags			convert
//	@Accept			multipart/form-data
//	@Produce		html
//	@Param			apikey	query		string	false	"Shared API key"
//	@Param			file	formData	file	true	"Document to convert"
//	@Success		200		{file}		file
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		406		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Failure		429		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Security		BearerAuth
//	@Router			/convertToHTML [post]
func (h *Handler) ConvertToHTML(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r, routeToHTML)
	if h.invoker == nil {
		h.fail(w, log, routeToHTML, converter.ErrUnavailable)
		return
	}

	scope := h.files.NewScope()
	defer scope.Release()

	res, err := h.ingester.Ingest(r.Context(), w, r, scope)
	if err != nil {
		h.fail(w, log, routeToHTML, err)
		return
	}
	if res.PassThrough {
		log.Info("unknown file type passed through", "ext", res.Extension)
		h.serveFile(w, log, routeToHTML, res.File.Path, res.Filename)
		return
	}

	format := h.invoker.HTMLExtension()
	dest := scope.Allocate(format)
	log.Info("converting", "src", res.File.Path, "dest", dest.Path, "size", res.Size)

	job := converter.Job{SourcePath: res.File.Path, DestPath: dest.Path, Format: format}
	if err := h.invoker.Convert(r.Context(), job); err != nil {
		h.fail(w, log, routeToHTML, err)
		return
	}

	h.serveFile(w, log, routeToHTML, dest.Path, downloadName(res.Filename, format))
}

// fromHTMLRequest is the body of /convertFromHTML, sent as JSON or as form
// fields.
type fromHTMLRequest struct {
	HTML            string `json:"html"            example:"<p>Hello</p>"`
	ExportExtension string `json:"exportExtension" example:"pdf"`
}

// ConvertFromHTML godoc
//
//	@Summary		Convert HTML to a document
//	@Description	Render the posted HTML into the requested format (doc, docx, pdf, odt or rtf). exportExtension defaults to EXPORT_FORMAT. A raw text/html body takes exportExtension from the query string.
//	@Tags			convert
//	@Accept			json
//	@Accept			x-www-form-urlencoded
//	@Accept			html
//	@Produce		octet-stream
//	@Param			apikey			query		string			false	"Shared API key"
//	@Param			exportExtension	query		string			false	"Target format for a text/html body"
//	@Param			request			body		fromHTMLRequest	true	"HTML and target format"
//	@Success		200		{file}		file
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		406		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Failure		429		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Security		BearerAuth
//	@Router			/convertFromHTML [post]
func (h *Handler) ConvertFromHTML(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r, routeFromHTML)
	if h.invoker == nil {
		h.fail(w, log, routeFromHTML, converter.ErrUnavailable)
		return
	}

	req, err := h.decodeFromHTML(w, r)
	if err != nil {
		h.fail(w, log, routeFromHTML, err)
		return
	}

	scope := h.files.NewScope()
	defer scope.Release()

	src, err := upload.WriteText(scope, ".html", req.HTML)
	if err != nil {
		h.fail(w, log, routeFromHTML, fmt.Errorf("%w: %w", upload.ErrUploadFailed, err))
		return
	}
	if h.cfg.TidyHTML {
		if err := tidy.File(src.Path); err != nil {
			log.Warn("tidy failed, converting original html", "error", err)
		}
	}

	format := h.targetFormat(req)
	if !upload.IsAllowed("." + format) {
		if !h.cfg.AllowUnknownFileEnds {
			h.fail(w, log, routeFromHTML, fmt.Errorf("%w: %q", upload.ErrUnsupportedFormat, format))
			return
		}
		log.Info("unknown export format, returning html", "format", format)
		h.serveFile(w, log, routeFromHTML, src.Path, downloadName("", "html"))
		return
	}

	dest := scope.Allocate(format)
	log.Info("converting", "src", src.Path, "dest", dest.Path, "format", format)

	job := converter.Job{SourcePath: src.Path, DestPath: dest.Path, Format: format}
	if err := h.invoker.Convert(r.Context(), job); err != nil {
		h.fail(w, log, routeFromHTML, err)
		return
	}

	h.serveFile(w, log, routeFromHTML, dest.Path, downloadName("", format))
}

func (h *Handler) decodeFromHTML(w http.ResponseWriter, r *http.Request) (*fromHTMLRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var req fromHTMLRequest
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, bodyError(err)
		}
	case "text/html":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyError(err)
		}
		req.HTML = string(body)
		req.ExportExtension = r.URL.Query().Get("exportExtension")
	case "multipart/form-data":
		if err := r.ParseMultipartForm(h.cfg.MaxUploadSize); err != nil {
			return nil, bodyError(err)
		}
		req.HTML = r.PostFormValue("html")
		req.ExportExtension = r.PostFormValue("exportExtension")
	default:
		if err := r.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
		req.HTML = r.PostFormValue("html")
		req.ExportExtension = r.PostFormValue("exportExtension")
	}

	if strings.TrimSpace(req.HTML) == "" {
		return nil, fmt.Errorf("%w: html is required", errBadRequest)
	}
	return &req, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: %w", upload.ErrPayloadTooLarge, err)
	}
	return fmt.Errorf("%w: %w", errBadRequest, err)
}

// targetFormat picks the request's format, then the configured default, then
// the engine's HTML extension.
func (h *Handler) targetFormat(req *fromHTMLRequest) string {
	if format := config.NormalizeFormat(req.ExportExtension); format != "" {
		return format
	}
	if h.cfg.ExportFormat != "" {
		return h.cfg.ExportFormat
	}
	return h.invoker.HTMLExtension()
}

// fail maps err onto the response envelope and logs the cause.
func (h *Handler) fail(w http.ResponseWriter, log *slog.Logger, route string, err error) {
	var (
		write   func(http.ResponseWriter, string)
		message string
		outcome string
	)
	switch {
	case errors.Is(err, converter.ErrUnavailable):
		write, message, outcome = response.NotFound, converter.ErrUnavailable.Error(), "unavailable"
	case errors.Is(err, upload.ErrPayloadTooLarge):
		// The rest of the body is left unread; don't reuse the connection.
		w.Header().Set("Connection", "close")
		write, message, outcome = response.TooLarge, upload.ErrPayloadTooLarge.Error(), "too_large"
	case errors.Is(err, upload.ErrUnsupportedFormat):
		write, message, outcome = response.NotAcceptable, upload.ErrUnsupportedFormat.Error(), "unsupported"
	case errors.Is(err, upload.ErrAborted):
		write, message, outcome = response.ClientClosedRequest, upload.ErrAborted.Error(), "aborted"
	case errors.Is(err, upload.ErrUploadFailed):
		write, message, outcome = response.InternalError, upload.ErrUploadFailed.Error(), "upload_failed"
	case errors.Is(err, converter.ErrConversionFailed):
		write, message, outcome = response.InternalError, route+" failed", "conversion_failed"
	case errors.Is(err, errBadRequest):
		write, message, outcome = response.BadRequest, "invalid request body", "bad_request"
	default:
		write, message, outcome = response.InternalError, "internal server error", "error"
	}

	switch outcome {
	case "upload_failed", "conversion_failed", "error":
		log.Error(message, "error", err)
	default:
		log.Warn(message, "error", err)
	}
	h.metrics.RecordRequest(route, outcome)
	write(w, message)
}

// serveFile streams path as an attachment named name.
func (h *Handler) serveFile(w http.ResponseWriter, log *slog.Logger, route, path, name string) {
	f, err := os.Open(path)
	if err != nil {
		h.fail(w, log, route, fmt.Errorf("open result: %w", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.fail(w, log, route, fmt.Errorf("stat result: %w", err))
		return
	}

	header := w.Header()
	header.Set("Content-Type", contentType(filepath.Ext(name)))
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		log.Warn("streaming result interrupted", "error", err)
		h.metrics.RecordRequest(route, "aborted")
		return
	}
	h.metrics.RecordRequest(route, "ok")
	log.Info("conversion served", "bytes", info.Size(), "filename", name)
}

func (h *Handler) requestLogger(r *http.Request, route string) *slog.Logger {
	return h.log.With(
		"route", route,
		"ip", r.RemoteAddr,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
}

// downloadName keeps the uploaded file's stem with the target extension.
func downloadName(original, format string) string {
	stem := strings.TrimSuffix(original, filepath.Ext(original))
	if stem == "" {
		stem = "document"
	}
	return stem + "." + format
}

var contentTypes = map[string]string{
	".htm":  "text/html; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
	".rtf":  "application/rtf",
}

func contentType(ext string) string {
	ext = strings.ToLower(ext)
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
