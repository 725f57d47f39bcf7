package progress

import (
	"context"
	"strings"
	"sync"
)

// MemoryLog keeps every write in memory
type MemoryLog struct {
	name   string
	mu     sync.Mutex
	buf    strings.Builder
	writes []string
	closed bool
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog(name string) *MemoryLog {
	if name == "" {
		name = "memory"
	}
	return &MemoryLog{name: name}
}

func (m *MemoryLog) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.Write(p)
	m.writes = append(m.writes, string(p))
	return len(p), nil
}

// Writes returns each write call's payload in order
func (m *MemoryLog) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

// Closed reports whether Close has been called
func (m *MemoryLog) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryLog) Name() string { return m.name }

func (m *MemoryLog) URL() string { return "" }

func (m *MemoryLog) Contents() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.String()
}

func (m *MemoryLog) Flush(context.Context) error { return nil }

func (m *MemoryLog) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryLog) IsAvailable(context.Context) bool { return true }
