// Package colorlog returns slog loggers whose records are prefixed with a
// colored label, so output from different kit packages is easy to tell apart.
package colorlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

var colors = []string{"\033[36m", "\033[35m", "\033[33m", "\033[32m", "\033[34m"}

const reset = "\033[0m"

var nextColor atomic.Uint32

// New returns a logger writing text records to stderr.
func New(label string) *slog.Logger {
	return NewWithWriter(label, os.Stderr)
}

// NewWithWriter returns a logger writing text records to w. Labels are only
// colored when w is a terminal.
func NewWithWriter(label string, w io.Writer) *slog.Logger {
	prefix := label
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c := colors[int(nextColor.Add(1)-1)%len(colors)]
		prefix = c + label + reset
	}
	h := slog.NewTextHandler(&prefixWriter{prefix: fmt.Sprintf("[%s] ", prefix), w: w}, nil)
	return slog.New(h)
}

type prefixWriter struct {
	prefix string
	w      io.Writer
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	if _, err := io.WriteString(p.w, p.prefix); err != nil {
		return 0, err
	}
	return p.w.Write(b)
}
