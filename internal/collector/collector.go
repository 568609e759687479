package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sys/unix"
	"vawter.tech/stopper"
)

const (
	// DefaultShell runs commands that do not name their own shell.
	DefaultShell = "/bin/sh"

	// DefaultStopGrace is how long a stopped collector may take to exit
	// after SIGTERM before its process group is killed.
	DefaultStopGrace = 2 * time.Second

	// DefaultMaxLineBytes caps the length of a single output line.
	DefaultMaxLineBytes = 4096

	// reapTimeout bounds the wait for the kernel to reap a SIGKILLed group
	// and for the collector goroutines to drain.
	reapTimeout = 2 * time.Second
)

// Spec describes the command feeding one slot.
//
// Spec is immutable once loaded; a reload replaces it wholesale.
type Spec struct {
	// Name is the display name, also used to derive the log directory.
	Name string

	// Command is the shell command line.
	Command string

	// Shell runs Command with "-c". Empty means [DefaultShell].
	Shell string

	// TTL is the freshness window for the slot's value.
	TTL time.Duration

	// Restart requests that the collector be restarted on every reload,
	// even when its spec did not change.
	Restart bool
}

// SameProcess reports whether two specs would run the same process, i.e.
// whether switching from s to o needs a restart.
func (s Spec) SameProcess(o Spec) bool {
	return s.Name == o.Name && s.Command == o.Command && s.shell() == o.shell()
}

func (s Spec) shell() string {
	if s.Shell == "" {
		return DefaultShell
	}
	return s.Shell
}

// Writer is the capability to update exactly one slot.
type Writer interface {
	Set(value string, now time.Time)
}

// Exit describes a collector process that ended without being asked to.
type Exit struct {
	Slot int
	Name string
	PID  int

	// Err is nil for a clean exit, an *exec.ExitError for a non-zero
	// status or signal, or a *ReadError if the output channel broke.
	Err error
}

// Reason returns a short human-readable description of the exit.
func (e Exit) Reason() string {
	var readErr *ReadError
	var exitErr *exec.ExitError
	switch {
	case e.Err == nil:
		return "exited with code 0"
	case errors.As(e.Err, &readErr):
		return readErr.Error()
	case errors.As(e.Err, &exitErr):
		if exitErr.ExitCode() >= 0 {
			return fmt.Sprintf("exited with code %d", exitErr.ExitCode())
		}
		return "terminated: " + exitErr.String()
	default:
		return e.Err.Error()
	}
}

// Options configures how collectors are started and stopped.
type Options struct {
	// Dir is the state directory under which per-collector files live.
	Dir string

	// StopGrace is the graceful termination window. Zero uses [DefaultStopGrace].
	StopGrace time.Duration

	// MaxLineBytes caps a single output line. Zero uses [DefaultMaxLineBytes].
	MaxLineBytes int

	// Logger receives lifecycle events. nil uses slog.Default().
	Logger *slog.Logger

	// OnExit is called once, from the collector's own goroutine, when the
	// process exits without Stop having been called. It must not block.
	OnExit func(*Collector, Exit)

	// Now is the clock used to timestamp lines. nil uses time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Collector runs one command and forwards each line of its stdout to a slot.
//
// A Collector is created by [Start] and released by [Collector.Stop]. Between
// the two it owns one process group, one pipe and one log file handle.
type Collector struct {
	spec      Spec
	slot      int
	opts      Options
	paths     Paths
	logger    *slog.Logger
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	stdout    *os.File
	closeOut  sync.Once
	logFile   *os.File
	sctx      *stopper.Context
	exited    chan struct{}
	readErr   atomic.Pointer[ReadError]
	stopping  atomic.Bool
	stopOnce  sync.Once
	stopErr   error
	lineCount atomic.Int64
}

// Start launches spec's command for slot and begins forwarding its output to w.
//
// The command runs as "<shell> -c <command>" in its own process group with
// its working directory set to the collector directory. Its stderr is
// appended to the collector log. Start returns a *SpawnError if any of this
// fails; nothing is left running in that case.
func Start(spec Spec, slot int, w Writer, opts Options) (*Collector, error) {
	opts = opts.withDefaults()
	paths := PathsFor(opts.Dir, slot, spec.Name)
	logger := opts.Logger.With("slot", slot, "name", spec.Name)

	spawnErr := func(err error) error {
		return &SpawnError{Slot: slot, Name: spec.Name, Err: err}
	}

	if err := os.MkdirAll(paths.Dir, 0o755); err != nil {
		return nil, spawnErr(fmt.Errorf("create collector dir: %w", err))
	}

	logFile, err := os.OpenFile(paths.Log, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, spawnErr(fmt.Errorf("open log: %w", err))
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		_ = logFile.Close()
		return nil, spawnErr(fmt.Errorf("create stdout pipe: %w", err))
	}

	cmd := exec.Command(spec.shell(), "-c", spec.Command)
	cmd.Dir = paths.Dir
	cmd.Stdin = nil
	cmd.Stdout = outW
	cmd.Stderr = logFile
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		_ = outR.Close()
		_ = outW.Close()
		_ = logFile.Close()
		return nil, spawnErr(err)
	}
	// the child holds its own copy of the write end
	_ = outW.Close()

	c := &Collector{
		spec:      spec,
		slot:      slot,
		opts:      opts,
		paths:     paths,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: opts.Now(),
		stdout:    outR,
		logFile:   logFile,
		exited:    make(chan struct{}),
	}
	c.logger = logger.With("pid", c.pid)

	if err := renameio.WriteFile(paths.PID, []byte(strconv.Itoa(c.pid)), 0o644); err != nil {
		c.logger.Warn("failed to write collector pid file", "path", paths.PID, "error", err)
	}

	c.sctx = stopper.WithContext(context.Background())
	c.sctx.Go(func(*stopper.Context) error {
		c.readLoop(w)
		return nil
	})
	c.sctx.Go(func(*stopper.Context) error {
		c.waitLoop()
		return nil
	})

	c.logger.Info("collector started", "command", spec.Command)
	return c, nil
}

// readLoop forwards stdout lines until end-of-stream.
func (c *Collector) readLoop(w Writer) {
	lr := newLineReader(c.stdout, c.opts.MaxLineBytes)
	for {
		line, truncated, err := lr.next()
		if err == nil {
			if truncated {
				c.logger.Debug("line truncated", "max_bytes", c.opts.MaxLineBytes)
			}
			w.Set(line, c.opts.Now())
			c.lineCount.Add(1)
			continue
		}

		if c.stopping.Load() || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
			c.logger.Debug("output closed")
			return
		}

		// a broken pipe with a live process is handled like an exit
		rerr := &ReadError{Slot: c.slot, Err: err}
		c.readErr.Store(rerr)
		c.logger.Warn("collector output failed", "error", err)
		c.signalGroup(unix.SIGKILL)
		return
	}
}

// waitLoop reaps the process and reports unsolicited exits.
func (c *Collector) waitLoop() {
	err := c.cmd.Wait()
	close(c.exited)

	if c.stopping.Load() {
		return
	}

	if rerr := c.readErr.Load(); rerr != nil {
		err = rerr
	}
	ev := Exit{Slot: c.slot, Name: c.spec.Name, PID: c.pid, Err: err}
	c.logger.Warn("collector exited unexpectedly", "reason", ev.Reason())
	if c.opts.OnExit != nil {
		c.opts.OnExit(c, ev)
	}
}

// Stop terminates the collector and releases everything it holds.
//
// The process group receives SIGTERM; if it has not exited after the grace
// period it receives SIGKILL. Stop then closes the output pipe, waits for
// the reader to finish, closes the log file and removes the pid file.
// Stop never blocks much longer than the grace period and is safe to call
// more than once; later calls return the first result.
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() {
		c.stopErr = c.stop()
	})
	return c.stopErr
}

func (c *Collector) stop() error {
	c.stopping.Store(true)
	var errs []error

	select {
	case <-c.exited:
	default:
		c.signalGroup(unix.SIGTERM)
		select {
		case <-c.exited:
		case <-time.After(c.opts.StopGrace):
			c.logger.Warn("collector ignored SIGTERM, killing process group",
				"grace", c.opts.StopGrace.String(),
				"error", ErrTerminationTimeout,
			)
			c.signalGroup(unix.SIGKILL)
			select {
			case <-c.exited:
			case <-time.After(reapTimeout):
				errs = append(errs, fmt.Errorf("%w: pid %d not reaped after SIGKILL", ErrTerminationTimeout, c.pid))
			}
		}
	}

	// the shell may be gone while the rest of its group lives on
	c.signalGroup(unix.SIGKILL)
	c.closeStdout()

	c.sctx.Stop(c.opts.StopGrace)
	waited := make(chan error, 1)
	go func() { waited <- c.sctx.Wait() }()
	select {
	case err := <-waited:
		if err != nil {
			errs = append(errs, err)
		}
	case <-time.After(reapTimeout):
		errs = append(errs, fmt.Errorf("collector %d: goroutines did not finish", c.slot))
	}

	if err := c.logFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log: %w", err))
	}
	if err := os.Remove(c.paths.PID); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove pid file: %w", err))
	}

	c.logger.Info("collector stopped", "lines", c.lineCount.Load())
	return errors.Join(errs...)
}

func (c *Collector) closeStdout() {
	c.closeOut.Do(func() {
		_ = c.stdout.Close()
	})
}

// signalGroup signals the collector's whole process group.
func (c *Collector) signalGroup(sig unix.Signal) {
	if err := unix.Kill(-c.pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		c.logger.Warn("failed to signal process group", "signal", sig.String(), "error", err)
	}
}

// Done is closed once the collector process has been reaped.
func (c *Collector) Done() <-chan struct{} {
	return c.exited
}

// Spec returns the spec the collector was started with.
func (c *Collector) Spec() Spec {
	return c.spec
}

// Slot returns the slot index the collector feeds.
func (c *Collector) Slot() int {
	return c.slot
}

// Info describes a running or finished collector.
type Info struct {
	PID       int
	StartedAt time.Time
	Lines     int64
	LogPath   string
	LogBytes  int64
	LogMTime  time.Time
}

// Info returns the collector's process and log metadata.
func (c *Collector) Info() Info {
	info := Info{
		PID:       c.pid,
		StartedAt: c.startedAt,
		Lines:     c.lineCount.Load(),
		LogPath:   c.paths.Log,
	}
	if st, err := os.Stat(c.paths.Log); err == nil {
		info.LogBytes = st.Size()
		info.LogMTime = st.ModTime()
	}
	return info
}
