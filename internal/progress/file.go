package progress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileLog appends output to a local file at <dir>/<goalSetID>/<uniqueName>.log
type FileLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewFileLog creates the log directory and opens the file for appending
func NewFileLog(dir, goalSetID, uniqueName string) (*FileLog, error) {
	logDir := filepath.Join(dir, sanitizeSegment(goalSetID))
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(logDir, sanitizeSegment(uniqueName)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &FileLog{path: path, file: file}, nil
}

// sanitizeSegment maps a goal identifier to a single safe path element
func sanitizeSegment(s string) string {
	switch s {
	case "", ".", "..":
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '#', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

// Path returns the file location
func (f *FileLog) Path() string { return f.path }

func (f *FileLog) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return len(p), nil
	}
	return f.file.Write(p)
}

func (f *FileLog) Name() string { return "file" }

func (f *FileLog) URL() string { return "file://" + filepath.ToSlash(f.path) }

// Contents reads the file back from disk
func (f *FileLog) Contents() string {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return ""
	}
	return string(data)
}

func (f *FileLog) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

// Close syncs and closes the file. Later writes are dropped.
func (f *FileLog) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *FileLog) IsAvailable(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file != nil
}
