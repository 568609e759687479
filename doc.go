// Package barista runs a status bar built from long-running shell commands.
//
// Each configured command is a collector: it runs under a shell in its own
// process group and every line it prints becomes the current value of its
// slot. A renderer joins the fresh slot values into one line at a fixed
// interval and writes it to a sink (stdout, stderr, a file or the X11 root
// window name). Values older than their command's TTL disappear from the bar.
//
// # Quick Start
//
//	b, _ := barista.New(barista.WithDir(os.ExpandEnv("$HOME/.barista")))
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	b.Start(ctx) // blocks until context is cancelled
//
// On first start the default configuration is written to config.yaml in the
// state directory. See package config for the file format.
//
// # Control
//
// A running server listens on a unix socket in its state directory. The
// barista command's on, off, reload and status subcommands talk to it:
//
//   - on starts one collector per command
//   - off stops every collector and empties the bar
//   - reload re-reads the configuration, restarting only the commands that changed
//   - status reports each slot's phase, value, age and log
//
// Requests are applied one at a time, in arrival order.
//
// # Architecture
//
// Barista consists of several internal packages (under internal/):
//
//   - internal/store: Slot values with per-slot atomic updates
//   - internal/collector: Command processes, output readers and log files
//   - internal/supervisor: The on/off/reload state machine
//   - internal/render: Bar composition, the render loop and sinks
//   - internal/server: Control socket server and client
//   - internal/ui: Status formatting for the command line
//
// The internal packages are not part of the public API and may change
// without notice.
package barista
