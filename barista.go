package barista

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jpalmerr/barista/config"
	"github.com/jpalmerr/barista/internal/collector"
	"github.com/jpalmerr/barista/internal/render"
	"github.com/jpalmerr/barista/internal/server"
	"github.com/jpalmerr/barista/internal/store"
	"github.com/jpalmerr/barista/internal/supervisor"
)

// Files inside the state directory.
const (
	SocketName     = "socket"
	PIDFileName    = "pid"
	ConfigFileName = "config.yaml"
)

// ErrAlreadyRunning is returned by [Barista.Start] when another server is
// answering on the state directory's control socket.
var ErrAlreadyRunning = errors.New("a barista server is already running")

// Sink receives every rendered bar. Implementations need not be safe for
// concurrent use; the renderer calls Write from a single goroutine.
type Sink interface {
	Write(ctx context.Context, bar string) error
}

// Barista runs the status bar server: one collector per configured command,
// a renderer writing the bar to its sink, and a control socket for the
// on, off, reload and status commands.
//
// The typical lifecycle is:
//
//	b, err := barista.New(barista.WithDir(dir))
//	if err != nil {
//	    slog.Error("failed to create barista", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	b.Start(ctx) // blocks until context cancelled
type Barista struct {
	dir        string
	configPath string
	static     *config.Config
	sink       Sink
	logger     *slog.Logger
	watch      bool
	ready      chan struct{}
}

// New creates a [Barista] with the given options.
//
// Without [WithConfig], the configuration is read from [WithConfigPath],
// defaulting to config.yaml inside the state directory. A missing file is
// created with the default configuration when the server starts.
func New(opts ...Option) (*Barista, error) {
	cfg := &bConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.dir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		cfg.dir = dir
	}
	if cfg.static != nil && cfg.configPath != "" {
		return nil, errors.New("WithConfig and WithConfigPath are mutually exclusive")
	}
	if cfg.static != nil {
		if err := cfg.static.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if cfg.static == nil && cfg.configPath == "" {
		cfg.configPath = filepath.Join(cfg.dir, ConfigFileName)
	}
	if cfg.static != nil && cfg.watch {
		return nil, errors.New("WithWatch requires a configuration file")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Barista{
		dir:        cfg.dir,
		configPath: cfg.configPath,
		static:     cfg.static,
		sink:       cfg.sink,
		logger:     logger,
		watch:      cfg.watch,
		ready:      make(chan struct{}),
	}, nil
}

// DefaultDir returns ~/.barista.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".barista"), nil
}

// Dir returns the state directory.
func (b *Barista) Dir() string {
	return b.dir
}

// SocketPath returns the control socket path inside the state directory.
func (b *Barista) SocketPath() string {
	return filepath.Join(b.dir, SocketName)
}

// ConfigPath returns the configuration file path, or "" for a configuration
// given with [WithConfig].
func (b *Barista) ConfigPath() string {
	return b.configPath
}

// Ready is closed once the control socket accepts requests and the
// collectors have been turned on.
func (b *Barista) Ready() <-chan struct{} {
	return b.ready
}

// Start runs the server until ctx is cancelled.
//
// Start prepares the state directory, kills collectors orphaned by a
// previous server, starts the renderer and the control socket and turns the
// collectors on. On cancellation it closes the control socket, stops every
// collector, blanks the bar and removes its pid file, in that order.
//
// Returns nil on graceful shutdown. Returns an error if the configuration
// cannot be loaded, another server owns the directory or the control socket
// cannot be bound.
func (b *Barista) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// must precede reaping, which would kill a live server's collectors
	if serverAlive(b.SocketPath()) {
		return fmt.Errorf("%w (socket %s)", ErrAlreadyRunning, b.SocketPath())
	}

	cfg, err := b.initialConfig()
	if err != nil {
		return err
	}

	if n, err := collector.ReapOrphans(b.dir, b.logger); err != nil {
		b.logger.Warn("failed to reap orphaned collectors", "error", err)
	} else if n > 0 {
		b.logger.Info("reaped orphaned collectors", "count", n)
	}

	pidPath := filepath.Join(b.dir, PIDFileName)
	if err := renameio.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer func() {
		if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("failed to remove pid file", "error", err)
		}
	}()

	var sink render.Sink = b.sink
	if sink == nil {
		sink, err = config.BuildSink(cfg)
		if err != nil {
			return fmt.Errorf("failed to create sink: %w", err)
		}
	}

	slots := store.NewMemoryStore(nil)
	renderer := render.New(slots, sink, render.Options{
		Interval: cfg.RenderInterval.Duration(),
		Format:   config.BuildFormat(cfg),
		Logger:   b.logger,
	})
	sup := supervisor.New(slots, config.BuildSpecs(cfg), b.loader(cfg, renderer), supervisor.Options{
		Collector: config.CollectorOptions(cfg, b.dir),
		Logger:    b.logger,
	})

	// the supervisor and renderer outlive ctx so shutdown can be ordered
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	go func() {
		if err := sup.Run(runCtx); err != nil {
			b.logger.Error("supervisor stopped", "error", err)
		}
	}()
	renderer.Start(runCtx)

	stopCore := func() {
		cancelRun()
		<-sup.Done()
		renderer.Stop()
	}

	ctrl := server.NewServer(sup, b.SocketPath(), b.logger)
	if err := ctrl.Start(ctx); err != nil {
		stopCore()
		return fmt.Errorf("failed to start control server: %w", err)
	}

	if _, err := sup.TurnOn(ctx); err != nil && ctx.Err() == nil {
		_ = ctrl.Close()
		stopCore()
		return fmt.Errorf("failed to turn collectors on: %w", err)
	}

	stopWatch := b.startWatch(ctx, cfg, sup)

	b.logger.Info("barista started",
		"dir", b.dir,
		"config", b.configPath,
		"commands", len(cfg.Commands),
		"interval", cfg.RenderInterval.String(),
	)
	close(b.ready)

	<-ctx.Done()

	if err := ctrl.Close(); err != nil {
		b.logger.Warn("control server shutdown error", "error", err)
	}
	stopWatch()
	stopCore()

	b.logger.Info("barista stopped")
	return nil
}

// initialConfig returns the configuration the server starts with, creating
// the default file on first run.
func (b *Barista) initialConfig() (*config.Config, error) {
	if b.static != nil {
		return b.static, nil
	}
	cfg, created, err := config.LoadOrInit(b.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if created {
		b.logger.Info("wrote default configuration", "path", b.configPath)
	}
	return cfg, nil
}

// loader re-reads the configuration for a reload. Bar layout changes take
// effect immediately; the render interval, sink and collector settings are
// fixed for the server's lifetime.
func (b *Barista) loader(initial *config.Config, renderer *render.Renderer) supervisor.Loader {
	return func(_ context.Context) ([]collector.Spec, error) {
		cfg := b.static
		if cfg == nil {
			var err error
			cfg, err = config.Load(b.configPath)
			if err != nil {
				return nil, err
			}
		}

		if restartOnly := fixedSettingsChanged(initial, cfg); len(restartOnly) > 0 {
			b.logger.Warn("configuration changes need a server restart",
				"settings", strings.Join(restartOnly, ","))
		}
		renderer.SetFormat(config.BuildFormat(cfg))
		return config.BuildSpecs(cfg), nil
	}
}

// fixedSettingsChanged names the settings that differ between a and b but
// are only read at startup.
func fixedSettingsChanged(a, b *config.Config) []string {
	var changed []string
	if a.RenderInterval != b.RenderInterval {
		changed = append(changed, "render_interval")
	}
	if a.Sink != b.Sink {
		changed = append(changed, "sink")
	}
	if a.StopGrace != b.StopGrace {
		changed = append(changed, "stop_grace")
	}
	if a.MaxLineBytes != b.MaxLineBytes {
		changed = append(changed, "max_line_bytes")
	}
	if a.Watch != b.Watch {
		changed = append(changed, "watch")
	}
	return changed
}

// startWatch reloads sup whenever the configuration file changes. The
// returned function stops watching.
func (b *Barista) startWatch(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor) func() {
	if b.configPath == "" || !(b.watch || cfg.Watch) {
		return func() {}
	}

	changes, cleanup, err := config.Watch(ctx, b.configPath, config.DefaultWatchDebounce, b.logger)
	if err != nil {
		b.logger.Warn("config watch unavailable", "path", b.configPath, "error", err)
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range changes {
			report, err := sup.Reload(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("automatic reload rejected", "error", err)
				}
				continue
			}
			b.logger.Info("configuration reloaded", "generation", report.Generation, "commands", len(report.Slots))
		}
	}()
	b.logger.Info("watching configuration", "path", b.configPath)

	return func() {
		if err := cleanup(); err != nil {
			b.logger.Warn("config watch stopped with error", "error", err)
		}
		<-done
	}
}

// serverAlive reports whether something answers on the control socket.
func serverAlive(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
