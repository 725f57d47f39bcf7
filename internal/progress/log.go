// Package progress implements the progress log of a goal invocation: an
// append-only text sink with flush, close and availability operations, and
// the decorators that combine sinks.
package progress

import (
	"context"
	"fmt"
	"io"
)

// Log is an append-only sink for the textual output of one goal invocation.
// Write never fails the caller because of transport problems; sinks that
// ship remotely log and retry instead.
type Log interface {
	io.Writer

	// Name identifies the sink
	Name() string
	// URL is the persisted location of the log, or "" if it has none
	URL() string
	// Contents returns the buffered log content, or "" if the sink keeps none
	Contents() string

	Flush(ctx context.Context) error
	Close(ctx context.Context) error

	// IsAvailable reports whether the sink can currently accept output
	IsAvailable(ctx context.Context) bool
}

// Printf formats according to a format specifier and writes to l
func Printf(l Log, format string, args ...any) {
	_, _ = fmt.Fprintf(l, format, args...)
}

// Println writes the operands followed by a newline to l
func Println(l Log, args ...any) {
	_, _ = fmt.Fprintln(l, args...)
}

// Discard is a Log that drops everything
var Discard Log = discardLog{}

type discardLog struct{}

func (discardLog) Write(p []byte) (int, error)      { return len(p), nil }
func (discardLog) Name() string                     { return "discard" }
func (discardLog) URL() string                      { return "" }
func (discardLog) Contents() string                 { return "" }
func (discardLog) Flush(context.Context) error      { return nil }
func (discardLog) Close(context.Context) error      { return nil }
func (discardLog) IsAvailable(context.Context) bool { return true }
