package container

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixWriter(t *testing.T) {
	var mu sync.Mutex
	var out bytes.Buffer
	w := newPrefixWriter(&mu, &out, "[db] ")

	_, _ = w.Write([]byte("starting"))
	assert.Empty(t, out.String())

	_, _ = w.Write([]byte(" up\nlistening on 5432\npart"))
	assert.Equal(t, "[db] starting up\n[db] listening on 5432\n", out.String())

	w.Flush()
	assert.Equal(t, "[db] starting up\n[db] listening on 5432\n[db] part\n", out.String())

	w.Flush()
	assert.Equal(t, "[db] starting up\n[db] listening on 5432\n[db] part\n", out.String())
}

func TestPrefixWriterWithoutPrefix(t *testing.T) {
	var mu sync.Mutex
	var out bytes.Buffer
	w := newPrefixWriter(&mu, &out, "")

	_, _ = w.Write([]byte("a\n\nb\n"))
	assert.Equal(t, "a\n\nb\n", out.String())
}

func TestPrefixWritersDoNotInterleaveLines(t *testing.T) {
	var mu sync.Mutex
	var out bytes.Buffer
	a := newPrefixWriter(&mu, &out, "[a] ")
	b := newPrefixWriter(&mu, &out, "[b] ")

	var wg sync.WaitGroup
	for _, w := range []*prefixWriter{a, b} {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = w.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()

	for _, line := range bytes.Split(bytes.TrimSuffix(out.Bytes(), []byte("\n")), []byte("\n")) {
		assert.Contains(t, []string{"[a] line", "[b] line"}, string(line))
	}
}
