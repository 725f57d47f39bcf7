// Package config loads the goalrun configuration file. The resulting Config
// is passed explicitly into every component.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/goalrun/internal/cache"
	"github.com/felixgeelhaar/goalrun/internal/container"
	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/hooks"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/secret"
	"github.com/felixgeelhaar/goalrun/internal/store"
	"github.com/felixgeelhaar/goalrun/internal/telemetry"
)

// EnvPath names the environment variable overriding the config file location
const EnvPath = "GOALRUN_CONFIG"

// Config is the complete goalrun configuration
type Config struct {
	WorkspaceID string                 `yaml:"workspaceID" json:"workspaceID"`
	Hooks       hooks.Config           `yaml:"hooks" json:"hooks"`
	Container   ContainerConfig        `yaml:"container" json:"container"`
	Process     ProcessConfig          `yaml:"process" json:"process"`
	Log         LogConfig              `yaml:"log" json:"log"`
	Project     ProjectConfig          `yaml:"project" json:"project"`
	Cache       cache.Config           `yaml:"cache" json:"cache"`
	Store       store.Config           `yaml:"store" json:"store"`
	Secrets     SecretsConfig          `yaml:"secrets" json:"secrets"`
	Telemetry   TelemetryConfig        `yaml:"telemetry" json:"telemetry"`
	Metrics     MetricsConfig          `yaml:"metrics" json:"metrics"`
	Notify      NotifyConfig           `yaml:"notify" json:"notify"`
	Listeners   []hooks.ListenerConfig `yaml:"listeners,omitempty" json:"listeners,omitempty"`
}

type ContainerConfig struct {
	Builder         string        `yaml:"builder" json:"builder"`
	TempDir         string        `yaml:"tempDir,omitempty" json:"tempDir,omitempty"`
	Pull            bool          `yaml:"pull" json:"pull"`
	ImageAllowlist  []string      `yaml:"imageAllowlist,omitempty" json:"imageAllowlist,omitempty"`
	ImageCacheDir   string        `yaml:"imageCacheDir,omitempty" json:"imageCacheDir,omitempty"`
	ImageMaxAge     time.Duration `yaml:"imageMaxAge" json:"imageMaxAge"`
	PullConcurrency int           `yaml:"pullConcurrency" json:"pullConcurrency"`
	ManifestDir     string        `yaml:"manifestDir,omitempty" json:"manifestDir,omitempty"`
}

type ProcessConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LogConfig covers both the goal progress logs and goalrun's own logging
type LogConfig struct {
	FlushInterval time.Duration `yaml:"flushInterval" json:"flushInterval"`
	BufferBytes   int           `yaml:"bufferBytes" json:"bufferBytes"`
	MaxFlushRate  float64       `yaml:"maxFlushRate,omitempty" json:"maxFlushRate,omitempty"`
	RemoteURL     string        `yaml:"remoteURL,omitempty" json:"remoteURL,omitempty"`
	RemoteToken   string        `yaml:"remoteToken,omitempty" json:"remoteToken,omitempty"`
	Dir           string        `yaml:"dir,omitempty" json:"dir,omitempty"`
	Level         log.Level     `yaml:"level" json:"level"`
	Format        log.Format    `yaml:"format" json:"format"`
}

type ProjectConfig struct {
	Lazy  bool `yaml:"lazy" json:"lazy"`
	Depth int  `yaml:"depth" json:"depth"`

	// CloneURLTemplate builds clone URLs; {owner} and {repo} are substituted
	CloneURLTemplate string `yaml:"cloneURLTemplate,omitempty" json:"cloneURLTemplate,omitempty"`
}

// SecretsConfig selects the secret providers. Vault is consulted first,
// then the age file, then GOALRUN_SECRET_* variables.
type SecretsConfig struct {
	AgeIdentityFile string             `yaml:"ageIdentityFile,omitempty" json:"ageIdentityFile,omitempty"`
	AgeFile         string             `yaml:"ageFile,omitempty" json:"ageFile,omitempty"`
	Vault           secret.VaultConfig `yaml:"vault,omitempty" json:"vault,omitempty"`
}

type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sampleRate" json:"sampleRate"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slackWebhookURL,omitempty" json:"slackWebhookURL,omitempty"`
	Channel         string `yaml:"channel,omitempty" json:"channel,omitempty"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Hooks: hooks.Config{
			Enabled: true,
			Dir:     hooks.DefaultDir,
			Timeout: 10 * time.Minute,
		},
		Container: ContainerConfig{
			Builder:         "docker",
			ImageMaxAge:     24 * time.Hour,
			PullConcurrency: 4,
		},
		Process: ProcessConfig{Timeout: 10 * time.Minute},
		Log: LogConfig{
			FlushInterval: time.Second,
			BufferBytes:   10240,
			Level:         log.LevelInfo,
			Format:        log.FormatJSON,
		},
		Project:   ProjectConfig{Depth: 1},
		Cache:     cache.Config{Backend: "none"},
		Store:     store.Config{Driver: "memory"},
		Telemetry: TelemetryConfig{SampleRate: 1.0},
	}
}

// DefaultPath returns the config file location: $GOALRUN_CONFIG, or
// goalrun/config.yaml under the user config directory
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeConfigRead, "failed to locate the user config directory", err)
	}
	return filepath.Join(dir, "goalrun", "config.yaml"), nil
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path loads DefaultPath,
// which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Decode(data, FormatFromPath(path), cfg); err != nil {
			return nil, errors.NewFileUnmarshalError(path, FormatFromPath(path), err)
		}
	case os.IsNotExist(err) && !explicit && os.Getenv(EnvPath) == "":
	default:
		return nil, errors.Wrap(errors.ErrCodeConfigRead, fmt.Sprintf("failed to read config: %s", path), err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FormatFromPath returns jsonc for .json and .jsonc files, yaml otherwise
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return "jsonc"
	default:
		return "yaml"
	}
}

// Decode decodes data over cfg. JSON with comments is normalized to plain
// JSON and read through the YAML decoder so durations parse the same way in
// both formats.
func Decode(data []byte, format string, cfg *Config) error {
	if format == "jsonc" || format == "json" {
		data = jsonc.ToJSON(data)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, cfg)
}

// Marshal renders cfg as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyEnv overrides fields from GOALRUN_* variables read through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"GOALRUN_WORKSPACE_ID":             &c.WorkspaceID,
		"GOALRUN_HOOKS_DIR":                &c.Hooks.Dir,
		"GOALRUN_CONTAINER_BUILDER":        &c.Container.Builder,
		"GOALRUN_CONTAINER_TEMP_DIR":       &c.Container.TempDir,
		"GOALRUN_CONTAINER_MANIFEST_DIR":   &c.Container.ManifestDir,
		"GOALRUN_LOG_REMOTE_URL":           &c.Log.RemoteURL,
		"GOALRUN_LOG_REMOTE_TOKEN":         &c.Log.RemoteToken,
		"GOALRUN_LOG_DIR":                  &c.Log.Dir,
		"GOALRUN_PROJECT_CLONE_URL":        &c.Project.CloneURLTemplate,
		"GOALRUN_CACHE_BACKEND":            &c.Cache.Backend,
		"GOALRUN_CACHE_DIR":                &c.Cache.Dir,
		"GOALRUN_CACHE_BUCKET":             &c.Cache.Bucket,
		"GOALRUN_CACHE_REDIS_ADDR":         &c.Cache.RedisAddr,
		"GOALRUN_STORE_DRIVER":             &c.Store.Driver,
		"GOALRUN_STORE_DSN":                &c.Store.DSN,
		"GOALRUN_SECRETS_AGE_IDENTITY":     &c.Secrets.AgeIdentityFile,
		"GOALRUN_SECRETS_AGE_FILE":         &c.Secrets.AgeFile,
		"GOALRUN_VAULT_ADDR":               &c.Secrets.Vault.Address,
		"GOALRUN_VAULT_NAMESPACE":          &c.Secrets.Vault.Namespace,
		"GOALRUN_TELEMETRY_ENDPOINT":       &c.Telemetry.Endpoint,
		"GOALRUN_METRICS_ADDR":             &c.Metrics.Addr,
		"GOALRUN_NOTIFY_SLACK_WEBHOOK_URL": &c.Notify.SlackWebhookURL,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok {
			*field = v
		}
	}

	bools := map[string]*bool{
		"GOALRUN_HOOKS_ENABLED":     &c.Hooks.Enabled,
		"GOALRUN_CONTAINER_PULL":    &c.Container.Pull,
		"GOALRUN_PROJECT_LAZY":      &c.Project.Lazy,
		"GOALRUN_TELEMETRY_ENABLED": &c.Telemetry.Enabled,
	}
	for key, field := range bools {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.NewConfigInvalidError(fmt.Sprintf("%s: %q is not a boolean", key, v))
		}
		*field = b
	}

	durations := map[string]*time.Duration{
		"GOALRUN_HOOKS_TIMEOUT":      &c.Hooks.Timeout,
		"GOALRUN_PROCESS_TIMEOUT":    &c.Process.Timeout,
		"GOALRUN_LOG_FLUSH_INTERVAL": &c.Log.FlushInterval,
	}
	for key, field := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.NewConfigInvalidError(fmt.Sprintf("%s: %q is not a duration", key, v))
		}
		*field = d
	}

	if v, ok := lookup("GOALRUN_LOG_LEVEL"); ok {
		if err := c.Log.Level.UnmarshalText([]byte(v)); err != nil {
			return errors.NewConfigInvalidError(fmt.Sprintf("GOALRUN_LOG_LEVEL: %v", err))
		}
	}
	if v, ok := lookup("GOALRUN_LOG_FORMAT"); ok {
		if err := c.Log.Format.UnmarshalText([]byte(v)); err != nil {
			return errors.NewConfigInvalidError(fmt.Sprintf("GOALRUN_LOG_FORMAT: %v", err))
		}
	}
	return nil
}

var (
	builders      = []string{"docker"}
	storeDrivers  = []string{"memory", "sqlite", "postgres"}
	cacheBackends = []string{"none", "file", "s3", "gcs", "redis"}
	listenerTypes = []string{"webhook", "slack", "script"}
)

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if !oneOf(c.Container.Builder, builders) {
		return errors.NewConfigInvalidError(fmt.Sprintf("container.builder %q is not one of %s", c.Container.Builder, strings.Join(builders, ", ")))
	}
	if !oneOf(c.Store.Driver, storeDrivers) {
		return errors.NewConfigInvalidError(fmt.Sprintf("store.driver %q is not one of %s", c.Store.Driver, strings.Join(storeDrivers, ", ")))
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return errors.NewConfigInvalidError(fmt.Sprintf("store.dsn is required for the %s driver", c.Store.Driver))
	}
	if c.Cache.Backend != "" && !oneOf(c.Cache.Backend, cacheBackends) {
		return errors.NewConfigInvalidError(fmt.Sprintf("cache.backend %q is not one of %s", c.Cache.Backend, strings.Join(cacheBackends, ", ")))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"hooks.timeout", c.Hooks.Timeout},
		{"process.timeout", c.Process.Timeout},
		{"log.flushInterval", c.Log.FlushInterval},
		{"container.imageMaxAge", c.Container.ImageMaxAge},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return errors.NewConfigInvalidError(fmt.Sprintf("%s must be positive, got %s", d.name, d.value))
		}
	}
	if c.Cache.TTL < 0 {
		return errors.NewConfigInvalidError("cache.ttl must not be negative")
	}

	sizes := []struct {
		name  string
		value int
	}{
		{"log.bufferBytes", c.Log.BufferBytes},
		{"container.pullConcurrency", c.Container.PullConcurrency},
		{"project.depth", c.Project.Depth},
	}
	for _, s := range sizes {
		if s.value <= 0 {
			return errors.NewConfigInvalidError(fmt.Sprintf("%s must be positive, got %d", s.name, s.value))
		}
	}
	if c.Log.MaxFlushRate < 0 {
		return errors.NewConfigInvalidError("log.maxFlushRate must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return errors.NewConfigInvalidError(fmt.Sprintf("telemetry.sampleRate %g is outside [0, 1]", c.Telemetry.SampleRate))
	}
	if c.Secrets.AgeFile != "" && c.Secrets.AgeIdentityFile == "" {
		return errors.NewConfigInvalidError("secrets.ageIdentityFile is required with secrets.ageFile")
	}
	if v := c.Secrets.Vault; v.Address == "" && (v.Token != "" || v.Namespace != "" || v.MountPath != "") {
		return errors.NewConfigInvalidError("secrets.vault.address is required when vault is configured")
	}

	seen := make(map[string]bool)
	for i, l := range c.Listeners {
		if l.Name == "" {
			return errors.NewConfigInvalidError(fmt.Sprintf("listeners[%d] has no name", i))
		}
		if seen[l.Name] {
			return errors.NewConfigInvalidError(fmt.Sprintf("listener %q is declared twice", l.Name))
		}
		seen[l.Name] = true
		if !oneOf(l.Type, listenerTypes) {
			return errors.NewConfigInvalidError(fmt.Sprintf("listener %q has unknown type %q", l.Name, l.Type))
		}
		if l.FailureMode != "" && !hooks.IsValidFailureMode(l.FailureMode) {
			return errors.NewConfigInvalidError(fmt.Sprintf("listener %q has unknown failure mode %q", l.Name, l.FailureMode))
		}
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ExecutorConfig returns the container executor settings
func (c *Config) ExecutorConfig() container.Config {
	return container.Config{
		TempDir:         c.Container.TempDir,
		Pull:            c.Container.Pull,
		PullConcurrency: c.Container.PullConcurrency,
		ImageCacheDir:   c.Container.ImageCacheDir,
		ImageMaxAge:     c.Container.ImageMaxAge,
		ImageAllowlist:  c.Container.ImageAllowlist,
		ManifestDir:     c.Container.ManifestDir,
	}
}

// LoggerConfig returns the settings for goalrun's own logger
func (c *Config) LoggerConfig(version string) log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	cfg.ServiceVersion = version
	return cfg
}

// TracingConfig returns the tracer provider settings
func (c *Config) TracingConfig(version string) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Enabled = c.Telemetry.Enabled
	cfg.Endpoint = c.Telemetry.Endpoint
	cfg.SampleRate = c.Telemetry.SampleRate
	return cfg
}
