// Package tidy normalises user supplied HTML before it is handed to a
// converter. Engines choke on fragments and unbalanced tags far more often
// than on a complete, well-formed document.
package tidy

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/net/html"
)

// Normalize parses r as HTML5 and writes the repaired document tree to w.
// Missing html, head and body elements are synthesised and open tags closed.
func Normalize(r io.Reader, w io.Writer) error {
	doc, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	if err := html.Render(w, doc); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

// File rewrites the HTML file at path in place.
func File(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := Normalize(bytes.NewReader(src), &buf); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
