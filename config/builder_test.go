package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jpalmerr/barista/internal/render"
)

func TestBuildSpecs(t *testing.T) {
	cfg := &Config{
		Shell: "/bin/sh",
		Commands: []CommandConfig{
			{Name: "a", Command: "date", TTL: Duration(2 * time.Second)},
			{Name: "b", Command: "uptime", Shell: "/bin/bash", Restart: true},
		},
	}

	specs := BuildSpecs(cfg)
	if len(specs) != 2 {
		t.Fatalf("len(specs) = %d, want 2", len(specs))
	}
	if specs[0].Shell != "/bin/sh" || specs[0].TTL != 2*time.Second || specs[0].Restart {
		t.Errorf("specs[0] = %+v", specs[0])
	}
	if specs[1].Shell != "/bin/bash" || !specs[1].Restart || specs[1].Name != "b" || specs[1].Command != "uptime" {
		t.Errorf("specs[1] = %+v", specs[1])
	}
}

func TestBuildFormat(t *testing.T) {
	cfg := &Config{PadLeft: "<", Separator: "|", PadRight: ">", ExpiryPlaceholder: "_"}
	want := render.Format{PadLeft: "<", Separator: "|", PadRight: ">", ExpiryPlaceholder: "_"}

	if got := BuildFormat(cfg); got != want {
		t.Errorf("BuildFormat() = %+v, want %+v", got, want)
	}
}

func TestBuildSink(t *testing.T) {
	cfg := Default()
	cfg.Sink = SinkConfig{Type: SinkFile, Path: filepath.Join(t.TempDir(), "bar")}

	sink, err := BuildSink(cfg)
	if err != nil {
		t.Fatalf("BuildSink() error = %v", err)
	}
	if err := sink.Write(context.Background(), "hello"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, _ := os.ReadFile(cfg.Sink.Path)
	if string(data) != "hello\n" {
		t.Errorf("file = %q", data)
	}
}

func TestCollectorOptions(t *testing.T) {
	cfg := Default()
	opts := CollectorOptions(cfg, "/state")

	if opts.Dir != "/state" || opts.StopGrace != 2*time.Second || opts.MaxLineBytes != 4096 {
		t.Errorf("CollectorOptions() = %+v", opts)
	}
}

func TestLoadOrInit_CreatesDefault(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			cfg, created, err := LoadOrInit(path)
			if err != nil {
				t.Fatalf("LoadOrInit() error = %v", err)
			}
			if !created {
				t.Error("created = false, want true")
			}
			if len(cfg.Commands) != len(Default().Commands) {
				t.Errorf("Commands = %+v", cfg.Commands)
			}

			// the written file must load back to the same settings
			again, created, err := LoadOrInit(path)
			if err != nil {
				t.Fatalf("second LoadOrInit() error = %v", err)
			}
			if created {
				t.Error("second call created the file again")
			}
			if len(again.Commands) != len(cfg.Commands) || again.Commands[0].TTL != cfg.Commands[0].TTL {
				t.Errorf("reloaded Commands = %+v, want %+v", again.Commands, cfg.Commands)
			}
			if again.Separator != cfg.Separator || again.RenderInterval != cfg.RenderInterval {
				t.Errorf("reloaded format differs: %+v", again)
			}
		})
	}
}

func TestLoadOrInit_InvalidFileNotOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("commands: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := LoadOrInit(path); err == nil {
		t.Fatal("LoadOrInit() error = nil, want validation error")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "commands: []\n" {
		t.Errorf("invalid config was overwritten: %q", data)
	}
}

func TestWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("uses filesystem notifications")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, cleanup, err := Watch(ctx, path, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// a sibling file is ignored
	_ = os.WriteFile(filepath.Join(filepath.Dir(path), "other"), []byte("x"), 0o644)
	select {
	case <-changes:
		t.Fatal("change reported for an unrelated file")
	case <-time.After(100 * time.Millisecond):
	}

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("b"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}

	if err := cleanup(); err != nil {
		t.Errorf("cleanup() error = %v", err)
	}
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("channel not closed after cleanup")
		}
	}
}

func TestWatchErrorMayHideChange(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReload bool
	}{
		{"overflow", fsnotify.ErrEventOverflow, true},
		{"wrapped overflow", fmt.Errorf("inotify: %w", fsnotify.ErrEventOverflow), true},
		{"other", errors.New("read failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			if got := watchErrorMayHideChange(logger, "/etc/barista.yaml", tt.err); got != tt.wantReload {
				t.Errorf("watchErrorMayHideChange() = %v, want %v", got, tt.wantReload)
			}

			line := buf.String()
			for _, want := range []string{"level=WARN", "config watch error", "/etc/barista.yaml", tt.err.Error()} {
				if !strings.Contains(line, want) {
					t.Errorf("log line missing %q\nGot: %s", want, line)
				}
			}
		})
	}
}
