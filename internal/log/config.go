package log

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format represents the output format for logs
type Format int

const (
	// FormatJSON outputs logs in JSON format
	FormatJSON Format = iota
	// FormatText outputs logs in human-readable text format
	FormatText
)

// String returns the string representation of the format
func (f Format) String() string {
	if f == FormatText {
		return "text"
	}
	return "json"
}

// MarshalText implements encoding.TextMarshaler
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *Format) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "json", "":
		*f = FormatJSON
	case "text", "console":
		*f = FormatText
	default:
		return fmt.Errorf("unknown log format %q", string(text))
	}
	return nil
}

// Output represents where logs should be written
type Output struct {
	writer io.Writer
}

// Writer returns the underlying io.Writer, defaulting to stderr
func (o Output) Writer() io.Writer {
	if o.writer == nil {
		return os.Stderr
	}
	return o.writer
}

// NewOutput creates an Output from an io.Writer
func NewOutput(w io.Writer) Output {
	return Output{writer: w}
}

// OutputStderr creates an Output that writes to stderr
func OutputStderr() Output {
	return Output{writer: os.Stderr}
}

// OutputDiscard creates an Output that drops everything
func OutputDiscard() Output {
	return Output{writer: io.Discard}
}

// Config holds configuration for the logger
type Config struct {
	Level     Level
	Format    Format
	Output    Output
	AddSource bool

	// ServiceName and ServiceVersion are attached to every record when set
	ServiceName    string
	ServiceVersion string
}

// DefaultConfig logs at INFO level in JSON format to stderr
func DefaultConfig() Config {
	return Config{
		Level:          LevelInfo,
		Format:         FormatJSON,
		Output:         OutputStderr(),
		ServiceName:    "goalrun",
		ServiceVersion: "dev",
	}
}
