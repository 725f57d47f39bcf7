package container

import (
	"bytes"
	"io"
	"sync"
)

// prefixWriter labels each complete line with a container name. Writers of
// one job share mu so that lines from concurrent containers never
// interleave.
type prefixWriter struct {
	mu     *sync.Mutex
	out    io.Writer
	prefix []byte
	buf    []byte
}

func newPrefixWriter(mu *sync.Mutex, out io.Writer, prefix string) *prefixWriter {
	return &prefixWriter{mu: mu, out: out, prefix: []byte(prefix)}
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	last := bytes.LastIndexByte(w.buf, '\n')
	if last < 0 {
		return len(p), nil
	}
	var chunk bytes.Buffer
	for _, line := range bytes.SplitAfter(w.buf[:last+1], []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		chunk.Write(w.prefix)
		chunk.Write(line)
	}
	w.buf = append(w.buf[:0], w.buf[last+1:]...)
	_, _ = w.out.Write(chunk.Bytes())
	return len(p), nil
}

// Flush forwards a trailing partial line
func (w *prefixWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return
	}
	line := append(append([]byte(nil), w.prefix...), w.buf...)
	w.buf = w.buf[:0]
	_, _ = w.out.Write(append(line, '\n'))
}
