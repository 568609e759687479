package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jpalmerr/barista"
	"github.com/jpalmerr/barista/config"
)

// lineSink redraws the bar in place on a terminal.
type lineSink struct{}

func (lineSink) Write(_ context.Context, bar string) error {
	// \033[K clears whatever a longer previous bar left behind
	_, err := fmt.Fprintf(os.Stdout, "\r%s\033[K", bar)
	return err
}

func main() {
	cfg := config.Default()
	cfg.Separator = " │ "
	cfg.ExpiryPlaceholder = "·"
	cfg.Commands = []config.CommandConfig{
		{
			Name:    "clock",
			Command: "while :; do date +%H:%M:%S; sleep 1; done",
			TTL:     config.Duration(2 * time.Second),
		},
		{
			Name:    "load",
			Command: "while :; do cut -d' ' -f1-3 /proc/loadavg; sleep 5; done",
			TTL:     config.Duration(10 * time.Second),
		},
		{
			// prints once then goes quiet, so it fades to the placeholder
			Name:    "greeting",
			Command: "echo hello from barista; exec sleep 3600",
			TTL:     config.Duration(5 * time.Second),
		},
	}

	dir, err := os.MkdirTemp("", "barista-demo")
	if err != nil {
		slog.Error("failed to create state directory", "error", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	b, err := barista.New(
		barista.WithDir(dir),
		barista.WithConfig(cfg),
		barista.WithSink(lineSink{}),
		barista.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))),
	)
	if err != nil {
		slog.Error("failed to create barista", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  barista demo: three commands rendered below, Ctrl+C to stop")
	fmt.Printf("  try: BARISTA_DIR=%s barista status\n", filepath.Clean(dir))
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		slog.Error("barista error", "error", err)
		os.Exit(1)
	}
	fmt.Println()
}
