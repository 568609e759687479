// Package main is the entry point for the barista CLI.
//
// One process runs the server; the other subcommands are clients that talk
// to it over the control socket in the state directory.
//
// Usage:
//
//	barista server                  # Run the bar
//	barista status                  # Show every slot
//	barista reload                  # Re-read the configuration
//	barista off / barista on        # Stop or start all commands
//	barista validate -c config.yaml # Validate configuration
//	barista version                 # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jpalmerr/barista"
	"github.com/jpalmerr/barista/internal/server"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Setting keys. Each can also be given as BARISTA_<KEY> in the environment.
const (
	keyDir      = "dir"
	keyLogLevel = "log-level"
	keyTimeout  = "timeout"
)

// settings resolves global flags, falling back to BARISTA_* environment
// variables and then to the flag defaults.
var settings = newSettings()

func newSettings() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("barista")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "barista",
	Short: "A status bar fed by long-running shell commands",
	Long: `barista builds a one-line status bar from the output of shell commands.

Each command runs continuously; every line it prints becomes the current
value of its slot. The bar is written to stdout, stderr, a file or the X11
root window name at a fixed interval. Values older than their TTL vanish.

Quick start:
  1. Run: barista server        (writes ~/.barista/config.yaml on first run)
  2. Edit ~/.barista/config.yaml
  3. Run: barista reload

Example config:
  separator: "   "
  sink:
    type: xsetroot
  commands:
    - name: time
      command: "while :; do date +%H:%M; sleep 10; done"
      ttl: 30s`,
	SilenceUsage: true,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this barista binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "barista %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(keyDir, "", "state directory (default ~/.barista, env BARISTA_DIR)")
	flags.String(keyLogLevel, "info", "log level: debug, info, warn or error (env BARISTA_LOG_LEVEL)")
	flags.Duration(keyTimeout, server.DefaultClientTimeout, "control request timeout (env BARISTA_TIMEOUT)")
	for _, key := range []string{keyDir, keyLogLevel, keyTimeout} {
		_ = settings.BindPFlag(key, flags.Lookup(key))
	}

	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}

// stateDir returns the configured state directory.
func stateDir() (string, error) {
	if dir := settings.GetString(keyDir); dir != "" {
		return dir, nil
	}
	return barista.DefaultDir()
}

// newLogger creates a JSON logger for CLI use at the configured level.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(settings.GetString(keyLogLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})), nil
}
