package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/barista/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// recordingSink keeps every bar written to it.
type recordingSink struct {
	mu    sync.Mutex
	bars  []string
	err   error
	panic bool
}

func (s *recordingSink) Write(_ context.Context, bar string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic {
		panic("boom")
	}
	if s.err != nil {
		return s.err
	}
	s.bars = append(s.bars, bar)
	return nil
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bars...)
}

func slot(i int, value string, at time.Time, ttl time.Duration) store.Slot {
	return store.Slot{Index: i, Name: "s", TTL: ttl, Value: value, HasValue: true, UpdatedAt: at}
}

func TestTakeSnapshot(t *testing.T) {
	slots := []store.Slot{
		slot(0, "fresh", t0, 2*time.Second),
		slot(1, "stale", t0.Add(-3*time.Second), 2*time.Second),
		{Index: 2, Name: "none", TTL: time.Second},
		slot(3, "forever", t0.Add(-time.Hour), 0),
	}

	snap := TakeSnapshot(slots, t0)

	want := []struct {
		state FragmentState
		text  string
		width int
	}{
		{FragmentFresh, "fresh", 5},
		{FragmentExpired, "", 5},
		{FragmentEmpty, "", 0},
		{FragmentFresh, "forever", 7},
	}
	if len(snap.Fragments) != len(want) {
		t.Fatalf("len(Fragments) = %d, want %d", len(snap.Fragments), len(want))
	}
	for i, w := range want {
		f := snap.Fragments[i]
		if f.Index != i {
			t.Errorf("Fragments[%d].Index = %d", i, f.Index)
		}
		if f.State != w.state || f.Text != w.text || f.Width != w.width {
			t.Errorf("Fragments[%d] = %+v, want state=%s text=%q width=%d", i, f, w.state, w.text, w.width)
		}
	}
	if !snap.At.Equal(t0) {
		t.Errorf("At = %v, want %v", snap.At, t0)
	}
}

func TestTakeSnapshot_TTLBoundary(t *testing.T) {
	ttl := 2 * time.Second
	s := []store.Slot{slot(0, "A", t0, ttl)}

	if got := TakeSnapshot(s, t0.Add(ttl)).Fragments[0].State; got != FragmentFresh {
		t.Errorf("at exactly ttl: state = %s, want fresh", got)
	}
	if got := TakeSnapshot(s, t0.Add(ttl+time.Nanosecond)).Fragments[0].State; got != FragmentExpired {
		t.Errorf("past ttl: state = %s, want expired", got)
	}
}

func TestCompose(t *testing.T) {
	slots := []store.Slot{
		slot(0, "a", t0, time.Minute),
		slot(1, "old", t0.Add(-time.Hour), time.Second),
		{Index: 2},
		slot(3, "héllo", t0, 0),
	}
	snap := TakeSnapshot(slots, t0)

	tests := []struct {
		name   string
		format Format
		want   string
	}{
		{"default", DefaultFormat(), " a" + strings.Repeat(" ", 9) + "héllo "},
		{"bare", Format{Separator: "|"}, "a|||héllo"},
		{"placeholder", Format{Separator: "|", ExpiryPlaceholder: "-"}, "a|---||héllo"},
		{"padding", Format{PadLeft: "[", Separator: "|", PadRight: "]"}, "[a|||héllo]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compose(snap, tt.format); got != tt.want {
				t.Errorf("Compose() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompose_Empty(t *testing.T) {
	got := Compose(TakeSnapshot(nil, t0), DefaultFormat())
	if got != "  " {
		t.Errorf("Compose() = %q, want padding only", got)
	}
}

// TestRender_ExpiredValueDisappears walks a TTL of 2s: a value set at t=0 is
// shown at t=1 and gone at t=3.
func TestRender_ExpiredValueDisappears(t *testing.T) {
	st := store.NewMemoryStore([]store.SlotDef{{Name: "a", TTL: 2 * time.Second}})
	st.Set(0, "A", t0)

	r := New(st, &recordingSink{}, Options{Format: Format{Separator: "|"}, Logger: testLogger()})

	if got := r.Render(t0.Add(time.Second)); got != "A" {
		t.Errorf("Render(t=1) = %q, want %q", got, "A")
	}
	if got := r.Render(t0.Add(3 * time.Second)); got != "" {
		t.Errorf("Render(t=3) = %q, want empty", got)
	}
}

func TestRenderer_StopBeforeStart(t *testing.T) {
	sink := &recordingSink{}
	r := New(store.NewMemoryStore(nil), sink, Options{Logger: testLogger()})

	// this must not panic or write
	r.Stop()

	if got := sink.all(); len(got) != 0 {
		t.Errorf("sink received %q, want nothing", got)
	}
}

func TestRenderer_StopTwice(t *testing.T) {
	r := New(store.NewMemoryStore(nil), &recordingSink{}, Options{Logger: testLogger()})
	r.Start(context.Background())

	r.Stop()
	r.Stop()
}

func TestRenderer_RendersImmediatelyAndBlanksOnStop(t *testing.T) {
	st := store.NewMemoryStore([]store.SlotDef{{Name: "a"}, {Name: "b"}})
	st.Set(0, "x", time.Now())
	st.Set(1, "y", time.Now())

	sink := &recordingSink{}
	r := New(st, sink, Options{
		Interval: time.Hour,
		Format:   Format{Separator: "|"},
		Logger:   testLogger(),
	})
	r.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("sink received %q, want first render then blank", got)
	}
	if got[0] != "x|y" {
		t.Errorf("first bar = %q, want %q", got[0], "x|y")
	}
	if got[1] != "" {
		t.Errorf("last bar = %q, want blank", got[1])
	}
}

func TestRenderer_TicksWithEmptyStore(t *testing.T) {
	sink := &recordingSink{}
	r := New(store.NewMemoryStore([]store.SlotDef{{Name: "a"}}), sink, Options{
		Interval: MinInterval,
		Logger:   testLogger(),
	})
	r.Start(context.Background())
	time.Sleep(5 * MinInterval)
	r.Stop()

	if n := len(sink.all()); n < 3 {
		t.Errorf("sink received %d bars, want at least 3", n)
	}
	if r.Renders() < 2 {
		t.Errorf("Renders() = %d, want at least 2", r.Renders())
	}
}

func TestRenderer_SetFormat(t *testing.T) {
	st := store.NewMemoryStore([]store.SlotDef{{Name: "a"}, {Name: "b"}})
	st.Set(0, "1", time.Now())
	st.Set(1, "2", time.Now())
	r := New(st, &recordingSink{}, Options{Format: Format{Separator: "|"}, Logger: testLogger()})

	r.SetFormat(Format{Separator: " / "})

	if got := r.Render(time.Now()); got != "1 / 2" {
		t.Errorf("Render() = %q, want %q", got, "1 / 2")
	}
}

func TestRenderer_IntervalFloor(t *testing.T) {
	r := New(store.NewMemoryStore(nil), &recordingSink{}, Options{Interval: time.Millisecond})
	if r.interval != MinInterval {
		t.Errorf("interval = %v, want %v", r.interval, MinInterval)
	}
}

func TestRenderer_SinkErrorDoesNotStopLoop(t *testing.T) {
	sink := &recordingSink{err: errors.New("display gone")}
	r := New(store.NewMemoryStore(nil), sink, Options{Interval: MinInterval, Logger: testLogger()})
	r.Start(context.Background())
	time.Sleep(2 * MinInterval)

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	time.Sleep(3 * MinInterval)
	r.Stop()

	if len(sink.all()) == 0 {
		t.Error("renderer stopped writing after a sink error")
	}
}

func TestRenderer_SinkPanicRecovered(t *testing.T) {
	sink := &recordingSink{panic: true}
	r := New(store.NewMemoryStore(nil), sink, Options{Logger: testLogger()})

	err := r.safeWrite(context.Background(), "bar")
	if err == nil {
		t.Fatal("safeWrite() error = nil, want panic error")
	}
	if !strings.Contains(err.Error(), "correlation_id") {
		t.Errorf("error = %v, want correlation ID", err)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bar")
	sink := &FileSink{Path: path}

	for _, bar := range []string{"first", "second"} {
		if err := sink.Write(context.Background(), bar); err != nil {
			t.Fatalf("Write(%q) error = %v", bar, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second\n" {
		t.Errorf("file = %q, want %q", data, "second\n")
	}
}

func TestWriterSink(t *testing.T) {
	var b strings.Builder
	sink := NewWriterSink(&b)
	_ = sink.Write(context.Background(), "a")
	_ = sink.Write(context.Background(), "b")

	if b.String() != "a\nb\n" {
		t.Errorf("output = %q, want %q", b.String(), "a\nb\n")
	}
}

func TestXSetRootSink(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}

	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	bin := filepath.Join(dir, "xsetroot")
	script := "#!/bin/sh\nprintf '%s|%s' \"$1\" \"$2\" > " + out + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	sink := &XSetRootSink{Bin: bin}
	if err := sink.Write(context.Background(), " 12:00   cpu 3% "); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "-name| 12:00   cpu 3% " {
		t.Errorf("xsetroot args = %q", data)
	}
}

func TestXSetRootSink_Failure(t *testing.T) {
	sink := &XSetRootSink{Bin: filepath.Join(t.TempDir(), "missing")}
	if err := sink.Write(context.Background(), "x"); err == nil {
		t.Error("Write() error = nil, want error for missing binary")
	}
}

func TestNewSink(t *testing.T) {
	tests := []struct {
		kind    string
		path    string
		wantErr bool
	}{
		{"", "", false},
		{SinkStdout, "", false},
		{SinkStderr, "", false},
		{SinkFile, "/tmp/bar", false},
		{SinkFile, "", true},
		{SinkXSetRoot, "", false},
		{"lemonbar", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			_, err := NewSink(tt.kind, tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSink(%q, %q) error = %v, wantErr %v", tt.kind, tt.path, err, tt.wantErr)
			}
		})
	}
}
