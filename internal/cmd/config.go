package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/goalrun/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the goalrun configuration",
		Long: `Inspect the effective configuration: the config file over the defaults with
GOALRUN_* environment overrides applied.`,
	}
	cmd.AddCommand(newConfigViewCmd(), newConfigPathCmd(), newConfigGetCmd())
	return cmd
}

func newConfigViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			cfg, err := cc.LoadConfig()
			if err != nil {
				return err
			}

			if cc.JSON() {
				tree, err := configTree(cfg)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tree)
			}

			data, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			path := cc.ConfigPath
			if path == "" {
				if path, err = config.DefaultPath(); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get KEY",
		Short:   "Print one configuration value",
		Example: `  goalrun config get hooks.timeout`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			cfg, err := cc.LoadConfig()
			if err != nil {
				return err
			}

			value, err := getNestedValue(cfg, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	}
}

// configTree renders cfg as nested maps keyed like the config file
func configTree(cfg *config.Config) (map[string]any, error) {
	data, err := cfg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to read back config: %w", err)
	}
	return tree, nil
}

// getNestedValue looks up a dot-separated key such as "log.level". Values
// that are sections are rendered as YAML.
func getNestedValue(cfg *config.Config, key string) (string, error) {
	tree, err := configTree(cfg)
	if err != nil {
		return "", err
	}

	var current any = tree
	for _, part := range strings.Split(key, ".") {
		section, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("unknown config key: %s", key)
		}
		if current, ok = section[part]; !ok {
			return "", fmt.Errorf("unknown config key: %s", key)
		}
	}

	switch v := current.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}
