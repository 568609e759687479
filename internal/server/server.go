package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/barista/internal/supervisor"
)

const (
	// shutdownTimeout bounds the wait for in-flight requests on close.
	shutdownTimeout = 5 * time.Second

	// staleDialTimeout bounds the check for a live server on an existing socket.
	staleDialTimeout = 500 * time.Millisecond
)

// Controller is the set of operations exposed on the control socket.
// [supervisor.Supervisor] implements it.
type Controller interface {
	TurnOn(ctx context.Context) (supervisor.Report, error)
	TurnOff(ctx context.Context) (supervisor.Report, error)
	Reload(ctx context.Context) (supervisor.Report, error)
	Status(ctx context.Context) (supervisor.Report, error)
}

type peerKey struct{}

type peerInfo struct {
	uid   uint32
	known bool
}

// Server accepts control requests on a unix socket and forwards them, one
// call each, to a [Controller].
//
// Server provides four endpoints:
//   - POST /v1/on: Start all collectors
//   - POST /v1/off: Stop all collectors and clear the bar
//   - POST /v1/reload: Reload configuration
//   - GET /v1/status: Return a status report
//
// Every response is a JSON [Envelope]. The server holds no state of its own
// beyond the listener.
type Server struct {
	ctrl       Controller
	socketPath string
	logger     *slog.Logger
	uid        uint32

	httpServer *http.Server
	closeOnce  sync.Once
	closeErr   error
	done       chan struct{}
}

// NewServer creates a new control [Server] listening at socketPath.
//
// Only peers running as the same user as this process (or root) are served.
// The server is not started until [Server.Start] is called.
func NewServer(ctrl Controller, socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctrl:       ctrl,
		socketPath: socketPath,
		logger:     logger,
		uid:        uint32(os.Getuid()),
		done:       make(chan struct{}),
	}
}

// SocketPath returns the path of the control socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start binds the control socket and begins serving in a background goroutine.
//
// A socket file left behind by a dead server is removed first. If another
// server is still answering on the path, Start fails. The server closes when
// ctx is cancelled or [Server.Close] is called.
//
// Returns an error if the socket cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	if err := removeStaleSocket(s.socketPath); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to bind control socket %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to restrict control socket: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if uc, ok := c.(*net.UnixConn); ok {
				uid, known := peerUID(uc)
				return context.WithValue(ctx, peerKey{}, peerInfo{uid: uid, known: known})
			}
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", "error", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			if err := s.Close(); err != nil {
				s.logger.Error("control server shutdown error", "error", err)
			}
		case <-s.done:
		}
	}()

	s.logger.Info("control server listening", "socket", s.socketPath)
	return nil
}

// Close stops accepting requests, waits for in-flight ones and removes the
// socket file. Safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		defer close(s.done)
		if s.httpServer == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.closeErr = s.httpServer.Shutdown(ctx)
		if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.closeErr = errors.Join(s.closeErr, err)
		}
	})
	return s.closeErr
}

// removeStaleSocket deletes path if it exists and nothing is listening on it.
func removeStaleSocket(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, staleDialTimeout)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("control socket %s is in use by another server", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale control socket: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler serving the control routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathOn, s.handleOp(http.MethodPost, "on", s.ctrl.TurnOn))
	mux.HandleFunc(PathOff, s.handleOp(http.MethodPost, "off", s.ctrl.TurnOff))
	mux.HandleFunc(PathReload, s.handleOp(http.MethodPost, "reload", s.ctrl.Reload))
	mux.HandleFunc(PathStatus, s.handleOp(http.MethodGet, "status", s.ctrl.Status))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, CodeBadRequest, fmt.Sprintf("unknown request %s %s", r.Method, r.URL.Path))
	})
	return s.withRequestID(s.withPeerCheck(mux))
}

// withRequestID assigns each request a correlation ID.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(HeaderRequestID, id)
		r.Header.Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// withPeerCheck rejects peers running as a different user.
func (s *Server) withPeerCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if peer, ok := r.Context().Value(peerKey{}).(peerInfo); ok && peer.known {
			if peer.uid != s.uid && peer.uid != 0 {
				s.logger.Warn("control request from foreign user rejected",
					"peer_uid", peer.uid,
					"request_id", r.Header.Get(HeaderRequestID),
				)
				s.writeError(w, r, http.StatusForbidden, CodeForbidden, "peer is not allowed to control this server")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type opFunc func(ctx context.Context) (supervisor.Report, error)

func (s *Server) handleOp(method, name string, op opFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			s.writeError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
				fmt.Sprintf("%s requires %s", r.URL.Path, method))
			return
		}

		start := time.Now()
		report, err := op(r.Context())
		logger := s.logger.With("op", name, "request_id", r.Header.Get(HeaderRequestID))
		if err != nil {
			status, code := classify(err)
			logger.Warn("control request failed", "code", code, "error", err)
			s.writeError(w, r, status, code, err.Error())
			return
		}

		logger.Debug("control request served", "duration", time.Since(start))
		s.writeJSON(w, r, http.StatusOK, Envelope{OK: true, Status: &report})
	}
}

// classify maps a controller error onto an HTTP status and error code.
func classify(err error) (int, string) {
	var cfgErr *supervisor.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity, CodeConfig
	case errors.Is(err, supervisor.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	s.writeJSON(w, r, status, Envelope{Error: &ErrorBody{Code: code, Message: msg}})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, env Envelope) {
	env.RequestID = r.Header.Get(HeaderRequestID)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Error("failed to encode control response", "error", err)
	}
}
