package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/barista/internal/supervisor"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockController implements Controller for testing.
type mockController struct {
	mu    sync.Mutex
	calls []string
	state supervisor.State
	err   error
}

func newMockController() *mockController {
	return &mockController{state: supervisor.StateOff}
}

func (m *mockController) op(name string, next supervisor.State) (supervisor.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	if m.err != nil {
		return supervisor.Report{}, m.err
	}
	if next != "" {
		m.state = next
	}
	return supervisor.Report{
		State: m.state,
		Slots: []supervisor.SlotReport{{Index: 0, Name: "clock", Phase: supervisor.PhaseRunning, Value: "12:00"}},
	}, nil
}

func (m *mockController) TurnOn(context.Context) (supervisor.Report, error) {
	return m.op("on", supervisor.StateOn)
}

func (m *mockController) TurnOff(context.Context) (supervisor.Report, error) {
	return m.op("off", supervisor.StateOff)
}

func (m *mockController) Reload(context.Context) (supervisor.Report, error) {
	return m.op("reload", "")
}

func (m *mockController) Status(context.Context) (supervisor.Report, error) {
	return m.op("status", "")
}

func (m *mockController) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockController) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return env
}

func TestHandler_Routes(t *testing.T) {
	tests := []struct {
		method    string
		path      string
		wantCode  int
		wantState supervisor.State
	}{
		{http.MethodPost, PathOn, http.StatusOK, supervisor.StateOn},
		{http.MethodGet, PathStatus, http.StatusOK, supervisor.StateOn},
		{http.MethodPost, PathReload, http.StatusOK, supervisor.StateOn},
		{http.MethodPost, PathOff, http.StatusOK, supervisor.StateOff},
	}

	srv := NewServer(newMockController(), "", testLogger())
	h := srv.Handler()

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			env := decode(t, rec)
			if !env.OK || env.Status == nil {
				t.Fatalf("envelope = %+v, want ok with status", env)
			}
			if env.Status.State != tt.wantState {
				t.Errorf("state = %s, want %s", env.Status.State, tt.wantState)
			}
			if env.RequestID == "" || rec.Header().Get(HeaderRequestID) != env.RequestID {
				t.Errorf("request id header %q does not match body %q", rec.Header().Get(HeaderRequestID), env.RequestID)
			}
		})
	}
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		ctrlErr  error
		wantHTTP int
		wantCode string
	}{
		{"unknown route", http.MethodGet, "/v1/explode", nil, http.StatusNotFound, CodeBadRequest},
		{"wrong method on", http.MethodGet, PathOn, nil, http.StatusMethodNotAllowed, CodeMethodNotAllowed},
		{"wrong method status", http.MethodPost, PathStatus, nil, http.StatusMethodNotAllowed, CodeMethodNotAllowed},
		{"config error", http.MethodPost, PathReload, &supervisor.ConfigError{Err: errors.New("bad ttl")}, http.StatusUnprocessableEntity, CodeConfig},
		{"supervisor stopped", http.MethodPost, PathOn, supervisor.ErrStopped, http.StatusServiceUnavailable, CodeUnavailable},
		{"unexpected", http.MethodGet, PathStatus, errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newMockController()
			ctrl.setErr(tt.ctrlErr)
			h := NewServer(ctrl, "", testLogger()).Handler()

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantHTTP {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantHTTP)
			}
			env := decode(t, rec)
			if env.OK || env.Error == nil {
				t.Fatalf("envelope = %+v, want error", env)
			}
			if env.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", env.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestHandler_RejectsForeignPeer(t *testing.T) {
	ctrl := newMockController()
	srv := NewServer(ctrl, "", testLogger())
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, PathOn, nil)
	req = req.WithContext(context.WithValue(req.Context(), peerKey{}, peerInfo{uid: srv.uid + 1, known: true}))
	if srv.uid+1 == 0 {
		t.Skip("uid wraps to root")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if env := decode(t, rec); env.Error == nil || env.Error.Code != CodeForbidden {
		t.Errorf("envelope = %+v, want forbidden", env)
	}
	if calls := ctrl.callList(); len(calls) != 0 {
		t.Errorf("controller called %v for a rejected peer", calls)
	}
}

// shortSocketPath returns a socket path short enough for sun_path limits.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "barista")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "socket")
}

func startServer(t *testing.T, ctrl Controller) (*Server, *Client) {
	t.Helper()
	path := shortSocketPath(t)

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(ctrl, path, testLogger())
	if err := srv.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	client := NewClient(path, 2*time.Second)
	t.Cleanup(func() {
		client.Close()
		cancel()
		_ = srv.Close()
	})
	return srv, client
}

func TestServer_ClientRoundTrip(t *testing.T) {
	ctrl := newMockController()
	_, client := startServer(t, ctrl)
	ctx := context.Background()

	r, err := client.On(ctx)
	if err != nil {
		t.Fatalf("On() error = %v", err)
	}
	if r.State != supervisor.StateOn {
		t.Errorf("On().State = %s, want on", r.State)
	}

	r, err = client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(r.Slots) != 1 || r.Slots[0].Value != "12:00" {
		t.Errorf("Status().Slots = %+v", r.Slots)
	}

	if _, err := client.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if r, err = client.Off(ctx); err != nil || r.State != supervisor.StateOff {
		t.Fatalf("Off() = %s, %v", r.State, err)
	}

	want := []string{"on", "status", "reload", "off"}
	calls := ctrl.callList()
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestServer_ClientReceivesControlError(t *testing.T) {
	ctrl := newMockController()
	ctrl.setErr(&supervisor.ConfigError{Err: errors.New("commands: at least one command is required")})
	_, client := startServer(t, ctrl)

	_, err := client.Reload(context.Background())

	var reqErr *ControlRequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Reload() error = %v, want *ControlRequestError", err)
	}
	if reqErr.Code != CodeConfig {
		t.Errorf("Code = %q, want %q", reqErr.Code, CodeConfig)
	}
	if reqErr.RequestID == "" {
		t.Error("RequestID is empty")
	}
}

func TestServer_SocketMode(t *testing.T) {
	srv, _ := startServer(t, newMockController())

	fi, err := os.Stat(srv.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	ctrl := newMockController()
	srv, _ := startServer(t, ctrl)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(srv.SocketPath(), 2*time.Second)
			defer c.Close()
			if _, err := c.Status(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Status() error = %v", err)
	}
	if n := len(ctrl.callList()); n != 20 {
		t.Errorf("controller saw %d calls, want 20", n)
	}
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	path := shortSocketPath(t)

	// a socket file with nobody listening
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewServer(newMockController(), path, testLogger())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() over stale socket error = %v", err)
	}
	_ = srv.Close()
}

func TestServer_RefusesLiveSocket(t *testing.T) {
	first, _ := startServer(t, newMockController())

	second := NewServer(newMockController(), first.SocketPath(), testLogger())
	if err := second.Start(context.Background()); err == nil {
		_ = second.Close()
		t.Fatal("Start() on a live socket succeeded, want error")
	}
}

func TestServer_CloseRemovesSocket(t *testing.T) {
	srv, _ := startServer(t, newMockController())

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(srv.SocketPath()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket still present after Close: %v", err)
	}
	// idempotent
	_ = srv.Close()
}

func TestClient_ServerDown(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing"), time.Second)
	_, err := client.Status(context.Background())

	var reqErr *ControlRequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Status() error = %v, want *ControlRequestError", err)
	}
	if reqErr.Code != "" || reqErr.Err == nil {
		t.Errorf("error = %+v, want transport failure", reqErr)
	}
}
