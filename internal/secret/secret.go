// Package secret resolves the secrets a container declares and
// materializes them as environment variables and files.
package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

// Provider looks up a secret value by name
type Provider interface {
	Resolve(ctx context.Context, name string) (string, error)
}

func notFound(name, where string) error {
	return errors.New(errors.ErrCodeSecretNotFound, fmt.Sprintf("secret %q not found in %s", name, where))
}

// EnvProvider reads secrets from the environment, prefixed with Prefix
type EnvProvider struct {
	Prefix string
}

func (p EnvProvider) Resolve(ctx context.Context, name string) (string, error) {
	if v, ok := os.LookupEnv(p.Prefix + name); ok {
		return v, nil
	}
	return "", notFound(name, "environment")
}

// MapProvider serves secrets from a fixed map
type MapProvider map[string]string

func (p MapProvider) Resolve(ctx context.Context, name string) (string, error) {
	if v, ok := p[name]; ok {
		return v, nil
	}
	return "", notFound(name, "credentials")
}

// Chain returns the value of the first provider that has the secret
func Chain(providers ...Provider) Provider {
	return chain(providers)
}

type chain []Provider

func (c chain) Resolve(ctx context.Context, name string) (string, error) {
	var last error = notFound(name, "any provider")
	for _, p := range c {
		v, err := p.Resolve(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.HasCode(err, errors.ErrCodeSecretNotFound) {
			return "", err
		}
		last = err
	}
	return "", last
}

// EnvSecret exposes a secret as an environment variable
type EnvSecret struct {
	Name   string `yaml:"name" json:"name"`
	Secret string `yaml:"secret" json:"secret"`
}

// FileSecret writes a secret to a file. Env optionally names a variable
// that receives the file's path as the container sees it.
type FileSecret struct {
	Name   string `yaml:"name" json:"name"`
	Secret string `yaml:"secret" json:"secret"`
	Env    string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Secrets are the secrets one container declares
type Secrets struct {
	Env   []EnvSecret  `yaml:"env,omitempty" json:"env,omitempty"`
	Files []FileSecret `yaml:"files,omitempty" json:"files,omitempty"`
}

// File is a materialized secret file
type File struct {
	Name string
	// Path on the host
	Path string
	Env  string
}

// Materialized holds resolved secrets for one container
type Materialized struct {
	Env   map[string]string
	Files []File
}

// Cleanup removes every materialized file
func (m *Materialized) Cleanup() error {
	var firstErr error
	for _, f := range m.Files {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SecretsDir is the directory below the input directory holding secret files
const SecretsDir = "secrets"

// Resolver materializes declared secrets through a provider
type Resolver struct {
	Provider Provider
}

// WithCredentials returns a resolver that looks names up in credentials
// before falling back to r
func (r Resolver) WithCredentials(credentials map[string]string) Resolver {
	if len(credentials) == 0 {
		return r
	}
	providers := []Provider{MapProvider(credentials)}
	if r.Provider != nil {
		providers = append(providers, r.Provider)
	}
	return Resolver{Provider: Chain(providers...)}
}

// Materialize resolves every declared secret. Files are written with mode
// 0600 to <inputDir>/secrets/<name>. On error, files already written are
// removed.
func (r Resolver) Materialize(ctx context.Context, secrets *Secrets, inputDir string) (*Materialized, error) {
	m := &Materialized{Env: map[string]string{}}
	if secrets == nil {
		return m, nil
	}

	for _, s := range secrets.Env {
		v, err := r.resolve(ctx, s.Secret)
		if err != nil {
			return nil, err
		}
		m.Env[s.Name] = v
	}

	if len(secrets.Files) == 0 {
		return m, nil
	}
	dir := filepath.Join(inputDir, SecretsDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}
	for _, s := range secrets.Files {
		if err := validFileName(s.Name); err != nil {
			_ = m.Cleanup()
			return nil, err
		}
		v, err := r.resolve(ctx, s.Secret)
		if err != nil {
			_ = m.Cleanup()
			return nil, err
		}
		path := filepath.Join(dir, s.Name)
		if err := os.WriteFile(path, []byte(v), 0600); err != nil {
			_ = m.Cleanup()
			return nil, fmt.Errorf("failed to write secret file %s: %w", s.Name, err)
		}
		m.Files = append(m.Files, File{Name: s.Name, Path: path, Env: s.Env})
	}
	return m, nil
}

func (r Resolver) resolve(ctx context.Context, name string) (string, error) {
	if r.Provider == nil {
		return "", notFound(name, "an unconfigured resolver")
	}
	return r.Provider.Resolve(ctx, name)
}

func validFileName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid secret file name %q", name)
	}
	return nil
}
