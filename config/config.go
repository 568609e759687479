// Package config provides YAML and TOML configuration parsing for barista.
//
// The file is chosen by extension: ".toml" is parsed as TOML, anything else
// as YAML. Keys left out of the file keep their defaults.
//
// Example configuration:
//
//	render_interval: 1s
//	separator: "   "
//	sink:
//	  type: xsetroot
//
//	commands:
//	  - name: time
//	    command: "while :; do date +%H:%M:%S; sleep 1; done"
//	    ttl: 2s
//	  - name: load
//	    command: "while :; do cut -d' ' -f1 /proc/loadavg; sleep 5; done"
//	    ttl: 10s
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	// minRenderInterval prevents a tick so fast it keeps the sink busy.
	minRenderInterval = 50 * time.Millisecond

	// minLineBytes is the smallest line buffer a reader accepts.
	minLineBytes = 16

	defaultRenderInterval = time.Second
	defaultStopGrace      = 2 * time.Second
	defaultMaxLineBytes   = 4096
	defaultShell          = "/bin/sh"
)

// Sink types.
const (
	SinkStdout   = "stdout"
	SinkStderr   = "stderr"
	SinkFile     = "file"
	SinkXSetRoot = "xsetroot"
)

// Config is the root configuration structure for barista.
//
// Use [Load], [Parse] or [ParseTOML] to create a Config.
type Config struct {
	// RenderInterval is the time between bar renders. Defaults to 1s.
	RenderInterval Duration `yaml:"render_interval" toml:"render_interval"`

	// Separator is written between slots. Defaults to three spaces.
	Separator string `yaml:"separator" toml:"separator"`

	// PadLeft and PadRight surround the whole bar. Default to one space.
	PadLeft  string `yaml:"pad_left" toml:"pad_left"`
	PadRight string `yaml:"pad_right" toml:"pad_right"`

	// ExpiryPlaceholder is a single character repeated over the width of an
	// expired value. Empty (the default) renders expired slots as nothing.
	ExpiryPlaceholder string `yaml:"expiry_placeholder" toml:"expiry_placeholder"`

	// Shell runs commands that do not set their own. Defaults to /bin/sh.
	// Supports ${VAR} and ${VAR:-default}.
	Shell string `yaml:"shell" toml:"shell"`

	// StopGrace is how long a collector may take to exit after SIGTERM.
	StopGrace Duration `yaml:"stop_grace" toml:"stop_grace"`

	// MaxLineBytes caps one line of collector output; longer lines are truncated.
	MaxLineBytes int `yaml:"max_line_bytes" toml:"max_line_bytes"`

	// Watch reloads the server automatically when this file changes.
	Watch bool `yaml:"watch" toml:"watch"`

	// Sink selects where the bar is written.
	Sink SinkConfig `yaml:"sink" toml:"sink"`

	// Commands defines one slot per entry, in bar order.
	Commands []CommandConfig `yaml:"commands" toml:"commands"`
}

// SinkConfig selects the display sink.
type SinkConfig struct {
	// Type is stdout, stderr, file or xsetroot. Defaults to stdout.
	Type string `yaml:"type" toml:"type"`

	// Path is the target file for type file. Supports environment variables.
	Path string `yaml:"path,omitempty" toml:"path,omitempty"`
}

// CommandConfig defines one collector.
type CommandConfig struct {
	// Name is the slot name, also used for the collector's log directory.
	Name string `yaml:"name" toml:"name"`

	// Command is run with "<shell> -c". Each line it prints becomes the
	// slot's value.
	Command string `yaml:"command" toml:"command"`

	// TTL is how long a value stays visible after its last update. Zero
	// means the value never expires: a command that prints once, such as a
	// hostname, keeps its slot filled until it is stopped.
	TTL Duration `yaml:"ttl,omitempty" toml:"ttl,omitempty"`

	// Shell overrides the global shell for this command.
	Shell string `yaml:"shell,omitempty" toml:"shell,omitempty"`

	// Restart restarts this command on every reload, even if unchanged.
	Restart bool `yaml:"restart,omitempty" toml:"restart,omitempty"`
}

// Duration wraps time.Duration for YAML and TOML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, used by TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// defaults returns a Config with every setting at its default and no commands.
func defaults() Config {
	return Config{
		RenderInterval: Duration(defaultRenderInterval),
		Separator:      "   ",
		PadLeft:        " ",
		PadRight:       " ",
		Shell:          defaultShell,
		StopGrace:      Duration(defaultStopGrace),
		MaxLineBytes:   defaultMaxLineBytes,
		Sink:           SinkConfig{Type: SinkStdout},
	}
}

// Default returns the configuration written by [LoadOrInit] for a new
// installation.
func Default() *Config {
	cfg := defaults()
	cfg.Commands = []CommandConfig{
		{
			Name:    "uptime",
			Command: "while :; do uptime; sleep 1; done",
			TTL:     Duration(2 * time.Second),
		},
		{
			Name:    "time",
			Command: "while :; do date; sleep 1; done",
			TTL:     Duration(2 * time.Second),
		},
	}
	return &cfg
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a configuration file, choosing TOML for a ".toml"
// extension and YAML otherwise.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if isTOML(path) {
		return ParseTOML(data)
	}
	return Parse(data)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Parse parses YAML configuration data, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseTOML parses TOML configuration data, applies defaults and validates it.
func ParseTOML(data []byte) (*Config, error) {
	cfg := defaults()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks a configuration built in code. Configurations returned by
// [Load] and the parse functions are already valid.
func (c *Config) Validate() error {
	return c.expandAndValidate()
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.RenderInterval.Duration() < minRenderInterval {
		return fmt.Errorf("render_interval must be at least %s, got %s", minRenderInterval, c.RenderInterval)
	}
	if c.StopGrace.Duration() <= 0 {
		return fmt.Errorf("stop_grace must be positive, got %s", c.StopGrace)
	}
	if c.MaxLineBytes < minLineBytes {
		return fmt.Errorf("max_line_bytes must be at least %d, got %d", minLineBytes, c.MaxLineBytes)
	}
	if utf8.RuneCountInString(c.ExpiryPlaceholder) > 1 {
		return fmt.Errorf("expiry_placeholder must be a single character, got %q", c.ExpiryPlaceholder)
	}

	shell, err := expandEnvVars(c.Shell)
	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}
	c.Shell = shell
	if c.Shell == "" {
		c.Shell = defaultShell
	}

	switch c.Sink.Type {
	case "":
		c.Sink.Type = SinkStdout
	case SinkStdout, SinkStderr, SinkXSetRoot:
	case SinkFile:
		if c.Sink.Path == "" {
			return errors.New("sink: type file requires a path")
		}
	default:
		return fmt.Errorf("sink: unknown type %q (expected stdout, stderr, file or xsetroot)", c.Sink.Type)
	}
	if c.Sink.Path != "" {
		expanded, err := expandEnvVars(c.Sink.Path)
		if err != nil {
			return fmt.Errorf("sink: path: %w", err)
		}
		c.Sink.Path = expanded
	}

	if len(c.Commands) == 0 {
		return errors.New("at least one command must be defined")
	}

	seen := make(map[string]int, len(c.Commands))
	for i := range c.Commands {
		cmd := &c.Commands[i]

		if strings.TrimSpace(cmd.Name) == "" {
			return fmt.Errorf("commands[%d]: name is required", i)
		}
		if strings.ContainsRune(cmd.Name, '/') {
			return fmt.Errorf("commands[%d] (%s): name must not contain '/'", i, cmd.Name)
		}
		if prev, dup := seen[cmd.Name]; dup {
			return fmt.Errorf("commands[%d] (%s): duplicate name, already used by commands[%d]", i, cmd.Name, prev)
		}
		seen[cmd.Name] = i

		if strings.TrimSpace(cmd.Command) == "" {
			return fmt.Errorf("commands[%d] (%s): command is required", i, cmd.Name)
		}
		if cmd.TTL.Duration() < 0 {
			return fmt.Errorf("commands[%d] (%s): ttl cannot be negative, got %s", i, cmd.Name, cmd.TTL)
		}
		if cmd.Shell != "" {
			expanded, err := expandEnvVars(cmd.Shell)
			if err != nil {
				return fmt.Errorf("commands[%d] (%s): shell: %w", i, cmd.Name, err)
			}
			cmd.Shell = expanded
		}
	}

	return nil
}
