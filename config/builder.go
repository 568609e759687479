package config

import (
	"github.com/jpalmerr/barista/internal/collector"
	"github.com/jpalmerr/barista/internal/render"
)

// BuildSpecs converts the parsed command list into collector specs, in bar
// order. Commands without their own shell inherit the global one.
func BuildSpecs(cfg *Config) []collector.Spec {
	specs := make([]collector.Spec, len(cfg.Commands))
	for i, cc := range cfg.Commands {
		shell := cc.Shell
		if shell == "" {
			shell = cfg.Shell
		}
		specs[i] = collector.Spec{
			Name:    cc.Name,
			Command: cc.Command,
			Shell:   shell,
			TTL:     cc.TTL.Duration(),
			Restart: cc.Restart,
		}
	}
	return specs
}

// BuildFormat returns the bar layout described by cfg.
func BuildFormat(cfg *Config) render.Format {
	return render.Format{
		PadLeft:           cfg.PadLeft,
		Separator:         cfg.Separator,
		PadRight:          cfg.PadRight,
		ExpiryPlaceholder: cfg.ExpiryPlaceholder,
	}
}

// BuildSink creates the display sink selected by cfg.
func BuildSink(cfg *Config) (render.Sink, error) {
	return render.NewSink(cfg.Sink.Type, cfg.Sink.Path)
}

// CollectorOptions returns the collector settings shared by every command.
// dir is the server's state directory.
func CollectorOptions(cfg *Config, dir string) collector.Options {
	return collector.Options{
		Dir:          dir,
		StopGrace:    cfg.StopGrace.Duration(),
		MaxLineBytes: cfg.MaxLineBytes,
	}
}
