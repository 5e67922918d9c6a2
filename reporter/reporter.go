// Package reporter provides the shared output sink used by all services for
// human-facing progress reporting. The sink is injected explicitly rather
// than living in a module-wide singleton so that command output capture can
// be asserted in isolation. Reporting is observational only and never
// affects control flow.
package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Reporter receives progress output from services. Implementations must be
// safe for concurrent use; a single reporter is shared by every branch
// running in one process.
type Reporter interface {
	// Logf writes a single formatted log line.
	Logf(format string, args ...interface{})
	// Rule writes a horizontal separator, optionally titled.
	Rule(title string)
}

const ruleWidth = 80

type writerReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a Reporter writing to w.
func New(w io.Writer) Reporter {
	return &writerReporter{w: w}
}

// Default returns a Reporter writing to stdout.
func Default() Reporter {
	return New(os.Stdout)
}

func (r *writerReporter) Logf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.w, format+"\n", args...)
}

func (r *writerReporter) Rule(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if title == "" {
		_, _ = fmt.Fprintln(r.w, strings.Repeat("─", ruleWidth))
		return
	}
	pad := ruleWidth - len(title) - 2
	if pad < 2 {
		pad = 2
	}
	left := pad / 2
	right := pad - left
	_, _ = fmt.Fprintf(r.w, "%s %s %s\n", strings.Repeat("─", left), title, strings.Repeat("─", right))
}

type nopReporter struct{}

func (nopReporter) Logf(string, ...interface{}) {}
func (nopReporter) Rule(string)                 {}

// Nop returns a Reporter that discards all output.
func Nop() Reporter {
	return nopReporter{}
}
