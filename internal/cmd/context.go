package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/goalrun/internal/config"
	"github.com/felixgeelhaar/goalrun/internal/errors"
)

// CommandContext holds the persistent flags of a command invocation
type CommandContext struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	Format      string
}

// NewCommandContext extracts the persistent flags from cmd
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}

	logFormat, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return nil, err
	}

	metricsAddr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return nil, err
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return nil, err
	}
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("invalid argument %q for --format: must be text or json", format)
	}

	return &CommandContext{
		ConfigPath:  configPath,
		LogLevel:    logLevel,
		LogFormat:   logFormat,
		MetricsAddr: metricsAddr,
		Format:      format,
	}, nil
}

// JSON reports whether structured output was requested
func (c *CommandContext) JSON() bool {
	return c.Format == "json"
}

// LoadConfig loads the config file and applies the flag overrides on top
func (c *CommandContext) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return nil, err
	}

	if c.LogLevel != "" {
		if err := cfg.Log.Level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, errors.NewConfigInvalidError(fmt.Sprintf("--log-level: %v", err))
		}
	}
	if c.LogFormat != "" {
		if err := cfg.Log.Format.UnmarshalText([]byte(c.LogFormat)); err != nil {
			return nil, errors.NewConfigInvalidError(fmt.Sprintf("--log-format: %v", err))
		}
	}
	if c.MetricsAddr != "" {
		cfg.Metrics.Addr = c.MetricsAddr
	}
	return cfg, nil
}
