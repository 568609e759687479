package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/barista"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serverCmd runs the bar.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the status bar server",
	Long: `Run the barista server in the foreground.

The server will:
  - Load the configuration, writing a default one if the file is missing
  - Kill commands left running by a server that did not shut down cleanly
  - Start every configured command and render the bar
  - Accept on, off, reload and status requests on <dir>/socket

The server runs until interrupted (Ctrl+C) or receives SIGTERM. It fails
immediately if another server is using the same state directory.

Example:
  barista server
  barista server -c ~/.config/barista.toml --watch
  BARISTA_DIR=/run/user/1000/barista barista server`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringP("config", "c", "", "path to config file (default <dir>/config.yaml)")
	serverCmd.Flags().Bool("watch", false, "reload automatically when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	dir, err := stateDir()
	if err != nil {
		return err
	}

	opts := []barista.Option{
		barista.WithDir(dir),
		barista.WithLogger(logger),
	}
	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		opts = append(opts, barista.WithConfigPath(configFile))
	}
	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		opts = append(opts, barista.WithWatch(true))
	}

	b, err := barista.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create barista: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- b.Start(ctx)
	}()

	// wait for server to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}

// commandContext returns cmd's context, which is nil when a command is run
// without ExecuteContext.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
