package barista

import (
	"errors"
	"log/slog"

	"github.com/jpalmerr/barista/config"
)

// bConfig holds mutable state during Barista construction.
type bConfig struct {
	dir        string
	configPath string
	static     *config.Config
	sink       Sink
	logger     *slog.Logger
	watch      bool
}

// Option is a function that configures a [Barista] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithDir], [WithConfigPath], [WithConfig], [WithSink],
// [WithLogger], [WithWatch].
type Option func(*bConfig) error

// WithDir sets the state directory holding the control socket, the pid file,
// per-command logs and, by default, the configuration file.
//
// Defaults to [DefaultDir].
func WithDir(dir string) Option {
	return func(cfg *bConfig) error {
		if dir == "" {
			return errors.New("state directory cannot be empty")
		}
		cfg.dir = dir
		return nil
	}
}

// WithConfigPath sets the configuration file. Files ending in .toml are read
// as TOML, anything else as YAML. The file is re-read on every reload.
//
// Defaults to config.yaml in the state directory.
func WithConfigPath(path string) Option {
	return func(cfg *bConfig) error {
		if path == "" {
			return errors.New("config path cannot be empty")
		}
		cfg.configPath = path
		return nil
	}
}

// WithConfig uses c instead of a configuration file. Reloads re-apply the
// same configuration, restarting only commands marked restart.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Commands = append(cfg.Commands, config.CommandConfig{
//	    Name:    "load",
//	    Command: "while :; do cut -d' ' -f1 /proc/loadavg; sleep 5; done",
//	    TTL:     config.Duration(10 * time.Second),
//	})
//	b, err := barista.New(barista.WithConfig(cfg))
func WithConfig(c *config.Config) Option {
	return func(cfg *bConfig) error {
		if c == nil {
			return errors.New("config cannot be nil")
		}
		cfg.static = c
		return nil
	}
}

// WithSink overrides the sink selected by the configuration.
func WithSink(s Sink) Option {
	return func(cfg *bConfig) error {
		if s == nil {
			return errors.New("sink cannot be nil")
		}
		cfg.sink = s
		return nil
	}
}

// WithLogger sets a custom logger.
//
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *bConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithWatch reloads the server whenever the configuration file changes,
// regardless of the file's own watch setting.
func WithWatch(enabled bool) Option {
	return func(cfg *bConfig) error {
		cfg.watch = enabled
		return nil
	}
}
