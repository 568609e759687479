package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Sink kinds accepted by [NewSink].
const (
	SinkStdout   = "stdout"
	SinkStderr   = "stderr"
	SinkFile     = "file"
	SinkXSetRoot = "xsetroot"
)

// Sink receives one composed bar line per tick.
type Sink interface {
	Write(ctx context.Context, bar string) error
}

// NewSink builds the sink named by kind. path is required for [SinkFile].
func NewSink(kind, path string) (Sink, error) {
	switch kind {
	case "", SinkStdout:
		return NewWriterSink(os.Stdout), nil
	case SinkStderr:
		return NewWriterSink(os.Stderr), nil
	case SinkFile:
		if path == "" {
			return nil, fmt.Errorf("sink %q requires a path", kind)
		}
		return &FileSink{Path: path}, nil
	case SinkXSetRoot:
		return &XSetRootSink{}, nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", kind)
	}
}

// WriterSink writes each bar as a line to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a [WriterSink] writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Write(_ context.Context, bar string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, bar+"\n")
	return err
}

// FileSink atomically replaces a file with the latest bar on every write,
// so readers never observe a partial line.
type FileSink struct {
	Path string
}

func (s *FileSink) Write(_ context.Context, bar string) error {
	return renameio.WriteFile(s.Path, []byte(bar+"\n"), 0o644)
}

// XSetRootSink sets the X11 root window name, which window managers such as
// dwm display as their status bar.
type XSetRootSink struct {
	// Bin is the xsetroot executable. Empty means "xsetroot" from PATH.
	Bin string

	// Timeout bounds one invocation. Zero means one second.
	Timeout time.Duration
}

func (s *XSetRootSink) Write(ctx context.Context, bar string) error {
	bin := s.Bin
	if bin == "" {
		bin = "xsetroot"
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "-name", bar).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", bin, err, msg)
		}
		return fmt.Errorf("%s: %w", bin, err)
	}
	return nil
}
