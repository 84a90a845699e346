package converter

import (
	"context"
	"errors"
	"strings"
)

// Abiword converts documents with the abiword command line.
type Abiword struct {
	bin  string
	exec executor
}

// NewAbiword creates an Abiword converter for the binary at bin.
func NewAbiword(bin string) *Abiword {
	return &Abiword{bin: bin, exec: defaultExec}
}

func (a *Abiword) Name() string { return "abiword" }

func (a *Abiword) HTMLExtension() string { return "htm" }

// ConvertFile runs `abiword --to=<format> --to-name=<dest> <src>`.
func (a *Abiword) ConvertFile(ctx context.Context, src, dest, format string) error {
	out, err := a.exec.Run(ctx, a.bin, "--to="+format, "--to-name="+dest, src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return &ConversionError{Engine: a.Name(), Diagnostic: strings.TrimSpace(string(out)), Err: err}
	}
	if !outputExists(dest) {
		return &ConversionError{Engine: a.Name(), Diagnostic: "no output produced: " + strings.TrimSpace(string(out))}
	}
	return nil
}
