package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jpalmerr/barista/internal/supervisor"
)

const maxResponseBodySize = 1 << 20 // 1MB

// DefaultClientTimeout bounds a single control request. Reloads that restart
// collectors may take up to the configured stop grace.
const DefaultClientTimeout = 10 * time.Second

// ControlRequestError reports a control request that did not succeed, either
// because the server could not be reached or because it answered with an
// error envelope.
type ControlRequestError struct {
	// Op is the operation name (on, off, reload, status).
	Op string
	// Code is the server's error code, empty for transport failures.
	Code string
	// Message is the server's error message.
	Message string
	// RequestID is the server-assigned correlation ID, if any.
	RequestID string
	// Err is the underlying transport or decoding error, if any.
	Err error
}

// Error returns a formatted error message
func (e *ControlRequestError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": request failed"
	}
}

// Unwrap returns the underlying error for error chain inspection
func (e *ControlRequestError) Unwrap() error {
	return e.Err
}

// Client sends control requests to a running server over its unix socket.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a [Client] for the server listening at socketPath.
//
// Timeouts are applied per request via context; a zero timeout uses
// [DefaultClientTimeout].
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	dialer := &net.Dialer{}
	return &Client{
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
				MaxIdleConns:    1,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// On asks the server to start all collectors.
func (c *Client) On(ctx context.Context) (supervisor.Report, error) {
	return c.do(ctx, "on", http.MethodPost, PathOn)
}

// Off asks the server to stop all collectors.
func (c *Client) Off(ctx context.Context) (supervisor.Report, error) {
	return c.do(ctx, "off", http.MethodPost, PathOff)
}

// Reload asks the server to reload its configuration.
func (c *Client) Reload(ctx context.Context) (supervisor.Report, error) {
	return c.do(ctx, "reload", http.MethodPost, PathReload)
}

// Status fetches the server's status report.
func (c *Client) Status(ctx context.Context) (supervisor.Report, error) {
	return c.do(ctx, "status", http.MethodGet, PathStatus)
}

func (c *Client) do(ctx context.Context, op, method, path string) (supervisor.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// the host is ignored by the unix dialer
	req, err := http.NewRequestWithContext(ctx, method, "http://barista"+path, nil)
	if err != nil {
		return supervisor.Report{}, &ControlRequestError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return supervisor.Report{}, &ControlRequestError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	var env Envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodySize)).Decode(&env); err != nil {
		return supervisor.Report{}, &ControlRequestError{
			Op:        op,
			RequestID: resp.Header.Get(HeaderRequestID),
			Err:       fmt.Errorf("failed to decode response (HTTP %d): %w", resp.StatusCode, err),
		}
	}

	if !env.OK || env.Status == nil {
		e := &ControlRequestError{Op: op, RequestID: env.RequestID, Code: CodeInternal, Message: "malformed response"}
		if env.Error != nil {
			e.Code = env.Error.Code
			e.Message = env.Error.Message
		}
		return supervisor.Report{}, e
	}
	return *env.Status, nil
}

// Close closes idle connections. The client remains usable.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
