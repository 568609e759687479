package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/barista"
	"github.com/jpalmerr/barista/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a barista configuration file without starting the server.

This command parses the YAML or TOML, expands environment variables, and
validates all fields. Run it before "barista reload" to catch mistakes; a
running server rejects an invalid file anyway and keeps its old settings.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  barista validate
  barista validate -c ~/.config/barista.toml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (default <dir>/config.yaml)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		dir, err := stateDir()
		if err != nil {
			return err
		}
		configFile = filepath.Join(dir, barista.ConfigFileName)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sink := cfg.Sink.Type
	if cfg.Sink.Path != "" {
		sink += " (" + cfg.Sink.Path + ")"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Commands:        %d\n", len(cfg.Commands))
	fmt.Fprintf(out, "  Render interval: %s\n", cfg.RenderInterval)
	fmt.Fprintf(out, "  Sink:            %s\n", sink)
	for i, c := range cfg.Commands {
		ttl := "never expires"
		if c.TTL > 0 {
			ttl = "ttl " + c.TTL.String()
		}
		fmt.Fprintf(out, "  [%d] %-12s %s\n", i, c.Name, ttl)
	}

	return nil
}
