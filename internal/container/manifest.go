package container

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// RunManifest is the audit record of one container run
type RunManifest struct {
	Timestamp    time.Time         `json:"timestamp"`
	GoalSetID    string            `json:"goal_set_id"`
	Goal         string            `json:"goal"`
	Container    string            `json:"container"`
	Role         string            `json:"role"`
	Image        string            `json:"image"`
	Command      []string          `json:"command,omitempty"`
	ExitCode     int               `json:"exit_code"`
	Signal       string            `json:"signal,omitempty"`
	Duration     string            `json:"duration"`
	InputHashes  map[string]string `json:"input_hashes"`
	OutputHashes map[string]string `json:"output_hashes"`
}

// SaveManifest writes a run manifest to dir as
// <timestamp>_<goalSetId>_<container>.json
func SaveManifest(manifest *RunManifest, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s_%s.json",
		manifest.Timestamp.Format("20060102_150405"),
		manifest.GoalSetID,
		manifest.Container)
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// HashFile computes the BLAKE3 hash of a file
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// AddInputHash adds an input file hash to the manifest
func (m *RunManifest) AddInputHash(name, path string) error {
	hash, err := HashFile(path)
	if err != nil {
		return err
	}
	if m.InputHashes == nil {
		m.InputHashes = make(map[string]string)
	}
	m.InputHashes[name] = hash
	return nil
}

// AddOutputHash adds an output file hash to the manifest
func (m *RunManifest) AddOutputHash(name, path string) error {
	hash, err := HashFile(path)
	if err != nil {
		return err
	}
	if m.OutputHashes == nil {
		m.OutputHashes = make(map[string]string)
	}
	m.OutputHashes[name] = hash
	return nil
}
