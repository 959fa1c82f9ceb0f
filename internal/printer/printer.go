// Package printer renders daemon API types as human-readable text.
package printer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mozilla-ai/fleetd/internal/cmd/output"
)

const separator = "────────────────────────────────────────────"

// frame holds the optional header and footer functions shared by every printer.
type frame[T any] struct {
	headerFunc output.WriteFunc[T]
	footerFunc output.WriteFunc[T]
}

// Header writes the configured header, if any.
func (f *frame[T]) Header(w io.Writer, count int) {
	if f.headerFunc != nil {
		f.headerFunc(w, count)
	}
}

// SetHeader configures the header function.
func (f *frame[T]) SetHeader(fn output.WriteFunc[T]) {
	f.headerFunc = fn
}

// Footer writes the configured footer, if any.
func (f *frame[T]) Footer(w io.Writer, count int) {
	if f.footerFunc != nil {
		f.footerFunc(w, count)
	}
}

// SetFooter configures the footer function.
func (f *frame[T]) SetFooter(fn output.WriteFunc[T]) {
	f.footerFunc = fn
}

// countHeader returns a header that reports how many items of the given noun follow.
func countHeader[T any](noun string) output.WriteFunc[T] {
	return func(w io.Writer, count int) {
		plural := noun
		if count != 1 {
			plural += "s"
		}
		_, _ = fmt.Fprintf(w, "%d %s\n\n", count, plural)
	}
}

// separatorFooter returns a footer that draws a horizontal rule.
func separatorFooter[T any]() output.WriteFunc[T] {
	return func(w io.Writer, _ int) {
		_, _ = fmt.Fprintln(w, separator)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
