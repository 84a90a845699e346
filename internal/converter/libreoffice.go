package converter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// sofficeFilters maps a target extension to the LibreOffice export filter.
var sofficeFilters = map[string]string{
	"html": "html:XHTML Writer File:UTF8",
	"doc":  "doc:MS Word 97",
	"docx": "docx:MS Word 2007 XML",
	"pdf":  "pdf:writer_pdf_Export",
	"odt":  "odt",
	"rtf":  "rtf",
}

// LibreOffice converts documents with a headless soffice process. Each run
// gets a private work dir and user profile, so runs never share state.
type LibreOffice struct {
	bin  string
	exec executor
}

// NewLibreOffice creates a LibreOffice converter for the binary at bin.
func NewLibreOffice(bin string) *LibreOffice {
	return &LibreOffice{bin: bin, exec: defaultExec}
}

func (l *LibreOffice) Name() string { return "soffice" }

func (l *LibreOffice) HTMLExtension() string { return "html" }

// ConvertFile converts src into a private work dir and moves the result to dest.
func (l *LibreOffice) ConvertFile(ctx context.Context, src, dest, format string) error {
	work, err := os.MkdirTemp(filepath.Dir(dest), "docconv_soffice_")
	if err != nil {
		return &ConversionError{Engine: l.Name(), Err: fmt.Errorf("create work dir: %w", err)}
	}
	defer os.RemoveAll(work)

	absWork, err := filepath.Abs(work)
	if err != nil {
		return &ConversionError{Engine: l.Name(), Err: fmt.Errorf("resolve work dir: %w", err)}
	}
	profile := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(absWork, "profile"))}

	args := []string{
		"-env:UserInstallation=" + profile.String(),
		"--headless",
		"--invisible",
		"--nologo",
		"--nolockcheck",
		"--norestore",
		"--writer",
		"--convert-to", filterFor(format),
		"--outdir", absWork,
		src,
	}

	out, err := l.exec.Run(ctx, l.bin, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return &ConversionError{Engine: l.Name(), Diagnostic: strings.TrimSpace(string(out)), Err: err}
	}

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	produced := filepath.Join(absWork, stem+"."+format)
	if !outputExists(produced) {
		return &ConversionError{Engine: l.Name(), Diagnostic: "no output produced: " + strings.TrimSpace(string(out))}
	}
	if err := os.Rename(produced, dest); err != nil {
		if err := copyFile(produced, dest); err != nil {
			return &ConversionError{Engine: l.Name(), Err: fmt.Errorf("move output: %w", err)}
		}
	}
	return nil
}

func filterFor(format string) string {
	if filter, ok := sofficeFilters[format]; ok {
		return filter
	}
	return format
}
