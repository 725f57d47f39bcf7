package progress

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// MultiLog broadcasts to two or more delegates and owns them
type MultiLog struct {
	delegates []Log
}

// NewMultiLog requires at least two delegates; use Combine when the count
// is not known up front
func NewMultiLog(delegates ...Log) (*MultiLog, error) {
	if len(delegates) < 2 {
		return nil, fmt.Errorf("multi log needs at least 2 delegates, got %d", len(delegates))
	}
	return &MultiLog{delegates: delegates}, nil
}

// Combine returns Discard for no logs, the log itself for one, and a
// MultiLog otherwise. Nil entries are ignored.
func Combine(logs ...Log) Log {
	var delegates []Log
	for _, l := range logs {
		if l != nil {
			delegates = append(delegates, l)
		}
	}
	switch len(delegates) {
	case 0:
		return Discard
	case 1:
		return delegates[0]
	default:
		return &MultiLog{delegates: delegates}
	}
}

// Delegates returns the wrapped logs in registration order
func (m *MultiLog) Delegates() []Log {
	return append([]Log(nil), m.delegates...)
}

// Write hands p to every delegate. Delegate errors are not surfaced; each
// sink owns its own transport failures.
func (m *MultiLog) Write(p []byte) (int, error) {
	for _, d := range m.delegates {
		_, _ = d.Write(p)
	}
	return len(p), nil
}

func (m *MultiLog) Name() string {
	names := make([]string, 0, len(m.delegates))
	for _, d := range m.delegates {
		names = append(names, d.Name())
	}
	return fmt.Sprintf("multi%v", names)
}

// URL returns the first non-empty delegate URL in registration order
func (m *MultiLog) URL() string {
	for _, d := range m.delegates {
		if url := d.URL(); url != "" {
			return url
		}
	}
	return ""
}

// Contents returns the first non-empty delegate content in registration order
func (m *MultiLog) Contents() string {
	for _, d := range m.delegates {
		if contents := d.Contents(); contents != "" {
			return contents
		}
	}
	return ""
}

// Flush flushes all delegates in parallel and returns the first error
func (m *MultiLog) Flush(ctx context.Context) error {
	return m.each(func(d Log) error { return d.Flush(ctx) })
}

// Close closes all delegates in parallel. Every delegate is closed even
// when another fails.
func (m *MultiLog) Close(ctx context.Context) error {
	return m.each(func(d Log) error { return d.Close(ctx) })
}

func (m *MultiLog) each(fn func(Log) error) error {
	var g errgroup.Group
	for _, d := range m.delegates {
		d := d
		g.Go(func() error {
			if err := fn(d); err != nil {
				return fmt.Errorf("%s: %w", d.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// IsAvailable reports whether any delegate is available
func (m *MultiLog) IsAvailable(ctx context.Context) bool {
	for _, d := range m.delegates {
		if d.IsAvailable(ctx) {
			return true
		}
	}
	return false
}
