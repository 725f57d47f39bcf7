package progress

import (
	"context"
	"strings"
	"sync"
)

// DelimitedLog buffers partial writes and forwards to its delegate only
// whole fragments ending in the delimiter, one fragment per delimiter.
// Flush and Close forward whatever partial fragment remains.
type DelimitedLog struct {
	delegate  Log
	delimiter string

	mu      sync.Mutex
	pending strings.Builder
}

// NewDelimitedLog wraps delegate. An empty delimiter means newline.
func NewDelimitedLog(delegate Log, delimiter string) *DelimitedLog {
	if delimiter == "" {
		delimiter = "\n"
	}
	return &DelimitedLog{delegate: delegate, delimiter: delimiter}
}

func (d *DelimitedLog) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending.Write(p)
	buffered := d.pending.String()
	last := strings.LastIndex(buffered, d.delimiter)
	if last < 0 {
		return len(p), nil
	}

	complete := buffered[:last+len(d.delimiter)]
	rest := buffered[last+len(d.delimiter):]
	d.pending.Reset()
	d.pending.WriteString(rest)

	for _, fragment := range splitAfter(complete, d.delimiter) {
		_, _ = d.delegate.Write([]byte(fragment))
	}
	return len(p), nil
}

func splitAfter(s, delimiter string) []string {
	parts := strings.SplitAfter(s, delimiter)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// SplitLines returns the lines of a fragment forwarded by a newline
// DelimitedLog, without their terminators. A trailing newline does not
// start another line.
func SplitLines(p []byte) []string {
	if len(p) == 0 {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(string(p), "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// forwardRemainder sends the partial fragment to the delegate
func (d *DelimitedLog) forwardRemainder() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending.Len() == 0 {
		return
	}
	_, _ = d.delegate.Write([]byte(d.pending.String()))
	d.pending.Reset()
}

func (d *DelimitedLog) Name() string { return d.delegate.Name() }

func (d *DelimitedLog) URL() string { return d.delegate.URL() }

func (d *DelimitedLog) Contents() string { return d.delegate.Contents() }

func (d *DelimitedLog) Flush(ctx context.Context) error {
	d.forwardRemainder()
	return d.delegate.Flush(ctx)
}

func (d *DelimitedLog) Close(ctx context.Context) error {
	d.forwardRemainder()
	return d.delegate.Close(ctx)
}

func (d *DelimitedLog) IsAvailable(ctx context.Context) bool {
	return d.delegate.IsAvailable(ctx)
}
