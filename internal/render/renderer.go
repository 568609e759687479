package render

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/barista/internal/store"
)

const (
	// DefaultInterval is the tick used when none is configured.
	DefaultInterval = time.Second

	// MinInterval is the fastest tick accepted.
	MinInterval = 50 * time.Millisecond
)

// Source supplies slot snapshots to the renderer.
type Source interface {
	GetAll() []store.Slot
}

// Options configures a [Renderer].
type Options struct {
	// Interval is the time between renders. Values below [MinInterval] are raised.
	Interval time.Duration

	// Format is the initial bar format. The zero value renders with no
	// padding or separators; use [DefaultFormat] for the usual layout.
	Format Format

	// Logger receives sink failures. nil uses slog.Default().
	Logger *slog.Logger

	// Now is the clock used for freshness. nil uses time.Now.
	Now func() time.Time
}

// Renderer periodically composes the slot store into a bar line and hands it
// to a [Sink].
//
// The renderer renders immediately on start and then once per interval. It
// only reads the store, so it is never held up by supervisor transitions or
// collector I/O, and it keeps ticking while the supervisor is off.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Renderer struct {
	src      Source
	sink     Sink
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	format   atomic.Pointer[Format]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	// owned by the render goroutine
	failing bool
	renders atomic.Int64
}

// New creates a [Renderer]. It must be started with [Renderer.Start] and
// stopped with [Renderer.Stop].
func New(src Source, sink Sink, opts Options) *Renderer {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	r := &Renderer{
		src:      src,
		sink:     sink,
		interval: interval,
		logger:   logger,
		now:      now,
	}
	f := opts.Format
	r.format.Store(&f)
	return r
}

// SetFormat replaces the format used from the next tick on.
func (r *Renderer) SetFormat(f Format) {
	r.format.Store(&f)
}

// Format returns the current format.
func (r *Renderer) Format() Format {
	return *r.format.Load()
}

// Renders returns how many bars have been handed to the sink.
func (r *Renderer) Renders() int64 {
	return r.renders.Load()
}

// Render composes the current store contents as of now.
func (r *Renderer) Render(now time.Time) string {
	return Compose(TakeSnapshot(r.src.GetAll(), now), r.Format())
}

// Start begins the render loop in a background goroutine.
//
// Start is idempotent; subsequent calls after the first are no-ops. If Stop
// was called before Start, Start is a no-op. If ctx is nil,
// context.Background() is used as the parent context.
func (r *Renderer) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	loopCtx := r.ctx // capture under lock to avoid race
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		r.tick(loopCtx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.tick(loopCtx)
			}
		}
	}()
}

// Stop halts the render loop, waits for it to exit and then writes a blank
// bar so the display does not keep showing stale values.
//
// Stop is idempotent. Calling Stop before Start is a safe no-op.
func (r *Renderer) Stop() {
	r.mu.Lock()
	wasRunning := r.started && !r.stopped
	if !r.stopped {
		r.stopped = true
		if r.cancel != nil {
			r.cancel()
		}
	}
	r.mu.Unlock()

	r.wg.Wait()

	if wasRunning {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.safeWrite(ctx, ""); err != nil {
			r.logger.Warn("failed to clear bar", "error", err)
		}
	}
}

func (r *Renderer) tick(ctx context.Context) {
	bar := r.Render(r.now())
	err := r.safeWrite(ctx, bar)
	switch {
	case err != nil && ctx.Err() != nil:
		// shutting down
	case err != nil:
		if !r.failing {
			r.logger.Warn("sink write failed", "error", err)
		} else {
			r.logger.Debug("sink write failed", "error", err)
		}
		r.failing = true
	default:
		if r.failing {
			r.logger.Info("sink write recovered")
		}
		r.failing = false
		r.renders.Add(1)
	}
}

// safeWrite calls the sink with panic recovery.
// If the sink panics, it logs the full stack trace with a correlation ID
// and returns an error containing the ID.
func (r *Renderer) safeWrite(ctx context.Context, bar string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			r.logger.Error("sink panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(stack),
			)

			err = fmt.Errorf("sink panic (correlation_id: %s)", correlationID)
		}
	}()
	return r.sink.Write(ctx, bar)
}
