package supervisor

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jpalmerr/barista/internal/collector"
	"github.com/jpalmerr/barista/internal/store"
)

// Loader produces the command list for a reload.
//
// A Loader error rejects the reload; it is returned to the caller wrapped in
// a [ConfigError] and the running configuration is kept.
type Loader func(ctx context.Context) ([]collector.Spec, error)

// Options configures a [Supervisor].
type Options struct {
	// Collector is passed to every collector started. Its OnExit field is
	// overwritten by the supervisor.
	Collector collector.Options

	// Logger receives transition events. nil uses slog.Default().
	Logger *slog.Logger

	// Now is the clock used for freshness in reports. nil uses time.Now.
	Now func() time.Time
}

// process is the part of a running collector the supervisor depends on.
type process interface {
	Stop() error
	Info() collector.Info
}

type startFunc func(spec collector.Spec, slot int, w collector.Writer, opts collector.Options) (process, error)

func startCollector(spec collector.Spec, slot int, w collector.Writer, opts collector.Options) (process, error) {
	c, err := collector.Start(spec, slot, w, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// handle identifies one activation of one slot. Exit events carry the handle
// they were raised for, so events from a collector that has since been
// replaced are recognized and dropped.
type handle struct {
	slot int
	proc process
}

type slotState struct {
	spec   collector.Spec
	phase  Phase
	reason string
	h      *handle
}

type opKind int

const (
	opStatus opKind = iota
	opOn
	opOff
	opReload
)

func (k opKind) String() string {
	switch k {
	case opOn:
		return "on"
	case opOff:
		return "off"
	case opReload:
		return "reload"
	default:
		return "status"
	}
}

type request struct {
	ctx   context.Context
	kind  opKind
	reply chan response
}

type response struct {
	report Report
	err    error
}

type exitEvent struct {
	h  *handle
	ev collector.Exit
}

// Supervisor owns the set of running collectors.
//
// Every transition (on, off, reload) and every status read is executed by a
// single goroutine, [Supervisor.Run], in arrival order. Callers talk to it
// only through [Supervisor.TurnOn], [Supervisor.TurnOff], [Supervisor.Reload]
// and [Supervisor.Status]. The slot store is the only state shared with the
// rest of the program.
type Supervisor struct {
	store  store.Store
	load   Loader
	opts   collector.Options
	logger *slog.Logger
	now    func() time.Time
	start  startFunc

	requests chan request
	exits    chan exitEvent
	done     chan struct{}
	runOnce  sync.Once

	// owned by the Run goroutine
	state      State
	slots      []*slotState
	generation uint64
}

// New creates a supervisor in the off state for the initial command list
// and installs the matching layout in st.
func New(st store.Store, initial []collector.Spec, load Loader, opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	copts := opts.Collector
	if copts.Logger == nil {
		copts.Logger = logger
	}
	if copts.Now == nil {
		copts.Now = now
	}

	s := &Supervisor{
		store:    st,
		load:     load,
		opts:     copts,
		logger:   logger,
		now:      now,
		start:    startCollector,
		requests: make(chan request),
		exits:    make(chan exitEvent),
		done:     make(chan struct{}),
		state:    StateOff,
	}

	s.slots = newSlots(initial)
	st.Configure(slotDefs(initial, nil))
	return s
}

func newSlots(specs []collector.Spec) []*slotState {
	out := make([]*slotState, len(specs))
	for i, spec := range specs {
		out[i] = &slotState{spec: spec, phase: PhaseStopped}
	}
	return out
}

// slotDefs builds a store layout for specs. keep marks the indices whose
// current value must survive.
func slotDefs(specs []collector.Spec, keep []bool) []store.SlotDef {
	defs := make([]store.SlotDef, len(specs))
	for i, spec := range specs {
		defs[i] = store.SlotDef{
			Name: spec.Name,
			TTL:  spec.TTL,
			Keep: i < len(keep) && keep[i],
		}
	}
	return defs
}

// Run processes requests until ctx is cancelled. On return every collector
// has been stopped and all later requests fail with [ErrStopped].
//
// Run must be called exactly once; later calls return immediately.
func (s *Supervisor) Run(ctx context.Context) error {
	first := false
	s.runOnce.Do(func() { first = true })
	if !first {
		return nil
	}
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case req := <-s.requests:
			report, err := s.handle(req)
			req.reply <- response{report: report, err: err}
		case ev := <-s.exits:
			s.handleExit(ev)
		}
	}
}

// Done is closed once Run has returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// TurnOn starts a collector for every configured command. Turning on a
// supervisor that is already on does nothing.
func (s *Supervisor) TurnOn(ctx context.Context) (Report, error) {
	return s.do(ctx, opOn)
}

// TurnOff stops every collector and then clears all slots. Turning off a
// supervisor that is already off does nothing.
func (s *Supervisor) TurnOff(ctx context.Context) (Report, error) {
	return s.do(ctx, opOff)
}

// Reload loads a new command list and applies it. While on, only slots whose
// command changed (or that failed, or that request a restart) are restarted.
// A load failure returns a *ConfigError and changes nothing.
func (s *Supervisor) Reload(ctx context.Context) (Report, error) {
	return s.do(ctx, opReload)
}

// Status returns a snapshot of the supervisor and every slot.
func (s *Supervisor) Status(ctx context.Context) (Report, error) {
	return s.do(ctx, opStatus)
}

func (s *Supervisor) do(ctx context.Context, kind opKind) (Report, error) {
	// the actor always replies once it has accepted a request
	reply := make(chan response, 1)
	select {
	case s.requests <- request{ctx: ctx, kind: kind, reply: reply}:
	case <-s.done:
		return Report{}, ErrStopped
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.report, r.err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func (s *Supervisor) handle(req request) (Report, error) {
	switch req.kind {
	case opOn:
		s.turnOn()
	case opOff:
		s.turnOff()
	case opReload:
		if err := s.reload(req.ctx); err != nil {
			return s.report(), err
		}
	}
	return s.report(), nil
}

func (s *Supervisor) turnOn() {
	if s.state == StateOn {
		return
	}
	s.state = StateOn
	s.generation++

	for i := range s.slots {
		s.startSlot(i)
	}
	s.logger.Info("supervisor on", "generation", s.generation, "slots", len(s.slots))
}

func (s *Supervisor) turnOff() {
	if s.state == StateOff {
		return
	}

	var handles []*handle
	for _, st := range s.slots {
		if st.h != nil {
			handles = append(handles, st.h)
		}
		st.h = nil
		st.phase = PhaseStopped
		st.reason = ""
	}
	s.stopAll(handles)
	s.store.ClearAll()

	s.state = StateOff
	s.generation++
	s.logger.Info("supervisor off", "generation", s.generation, "stopped", len(handles))
}

func (s *Supervisor) reload(ctx context.Context) error {
	specs, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("reload rejected", "error", err)
		return &ConfigError{Err: err}
	}

	if s.state == StateOff {
		keep := make([]bool, len(specs))
		for i := range specs {
			keep[i] = i < len(s.slots)
		}
		s.slots = newSlots(specs)
		s.store.Configure(slotDefs(specs, keep))
		s.generation++
		s.logger.Info("reload applied", "state", s.state, "generation", s.generation, "slots", len(specs))
		return nil
	}

	var stopping []*handle
	keep := make([]bool, len(specs))
	restart := make([]bool, len(specs))

	for i, old := range s.slots {
		if i >= len(specs) {
			if old.h != nil {
				stopping = append(stopping, old.h)
			}
			continue
		}
		next := specs[i]
		if old.spec.SameProcess(next) && !next.Restart && old.phase != PhaseFailed {
			keep[i] = true
			continue
		}
		if old.h != nil {
			stopping = append(stopping, old.h)
		}
		restart[i] = true
	}
	for i := len(s.slots); i < len(specs); i++ {
		restart[i] = true
	}

	// collectors being replaced exit before their successors start
	s.stopAll(stopping)

	next := make([]*slotState, len(specs))
	for i, spec := range specs {
		if keep[i] {
			st := s.slots[i]
			st.spec = spec
			next[i] = st
			continue
		}
		next[i] = &slotState{spec: spec, phase: PhaseStopped}
	}
	s.slots = next
	s.store.Configure(slotDefs(specs, keep))

	started := 0
	for i := range specs {
		if restart[i] {
			s.startSlot(i)
			started++
		}
	}

	s.generation++
	s.logger.Info("reload applied",
		"state", s.state,
		"generation", s.generation,
		"slots", len(specs),
		"stopped", len(stopping),
		"started", started,
	)
	return nil
}

// startSlot launches the collector for slot i, recording a failed phase if
// it cannot be spawned.
func (s *Supervisor) startSlot(i int) {
	st := s.slots[i]
	cell := s.store.Cell(i)
	if cell == nil {
		st.phase = PhaseFailed
		st.reason = "slot not present in store"
		return
	}

	h := &handle{slot: i}
	opts := s.opts
	opts.OnExit = func(_ *collector.Collector, ev collector.Exit) {
		s.notifyExit(h, ev)
	}

	proc, err := s.start(st.spec, i, cell, opts)
	if err != nil {
		s.logger.Warn("collector failed to start", "slot", i, "name", st.spec.Name, "error", err)
		st.phase = PhaseFailed
		st.reason = err.Error()
		st.h = nil
		return
	}

	h.proc = proc
	st.h = h
	st.phase = PhaseRunning
	st.reason = ""
}

// notifyExit hands an exit event to the Run goroutine without blocking the
// collector that raised it.
func (s *Supervisor) notifyExit(h *handle, ev collector.Exit) {
	go func() {
		select {
		case s.exits <- exitEvent{h: h, ev: ev}:
		case <-s.done:
		}
	}()
}

func (s *Supervisor) handleExit(e exitEvent) {
	if e.h.slot >= len(s.slots) {
		return
	}
	st := s.slots[e.h.slot]
	if st.h != e.h {
		// raised by a collector that was already replaced or stopped
		return
	}

	st.h = nil
	st.phase = PhaseFailed
	st.reason = e.ev.Reason()
	s.logger.Warn("slot failed", "slot", e.h.slot, "name", st.spec.Name, "reason", st.reason)

	if err := e.h.proc.Stop(); err != nil {
		s.logger.Warn("failed to release collector", "slot", e.h.slot, "error", err)
	}
}

// stopAll stops handles concurrently and waits for all of them.
func (s *Supervisor) stopAll(handles []*handle) {
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			if err := h.proc.Stop(); err != nil {
				s.logger.Warn("collector stop reported an error", "slot", h.slot, "error", err)
			}
		}(h)
	}
	wg.Wait()
}

func (s *Supervisor) shutdown() {
	s.turnOff()
	s.logger.Info("supervisor stopped")
}

func (s *Supervisor) report() Report {
	now := s.now()
	values := s.store.GetAll()

	r := Report{
		State:      s.state,
		Generation: s.generation,
		Slots:      make([]SlotReport, len(s.slots)),
	}
	groups := s.processGroups()
	for i, st := range s.slots {
		sr := SlotReport{
			Index:     i,
			Name:      st.spec.Name,
			Command:   st.spec.Command,
			Phase:     st.phase,
			Reason:    st.reason,
			TTLMillis: st.spec.TTL.Milliseconds(),
		}
		if i < len(values) && values[i].HasValue {
			sr.Value = values[i].Value
			sr.HasValue = true
			sr.Fresh = values[i].Fresh(now)
			sr.AgeMillis = values[i].Age(now).Milliseconds()
		}
		if st.h != nil {
			sr.PID = st.h.proc.Info().PID
			sr.GroupPIDs = groups[sr.PID]
		}

		sr.LogPath = collector.PathsFor(s.opts.Dir, i, st.spec.Name).Log
		if fi, err := os.Stat(sr.LogPath); err == nil {
			sr.LogBytes = fi.Size()
			if age := now.Sub(fi.ModTime()); age > 0 {
				sr.LogAgeMillis = age.Milliseconds()
			}
			if n, err := collector.CountLines(sr.LogPath); err == nil {
				sr.LogLines = n
			} else {
				s.logger.Debug("failed to count log lines", "path", sr.LogPath, "error", err)
			}
		}
		r.Slots[i] = sr
	}
	return r
}

// processGroups scans the process table once per report, and only when a
// collector is running.
func (s *Supervisor) processGroups() map[int][]int {
	running := false
	for _, st := range s.slots {
		if st.h != nil {
			running = true
			break
		}
	}
	if !running {
		return nil
	}

	groups, err := collector.ProcessGroups()
	if err != nil {
		s.logger.Warn("failed to list process groups", "error", err)
		return nil
	}
	return groups
}
