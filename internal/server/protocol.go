package server

import "github.com/jpalmerr/barista/internal/supervisor"

// Routes served on the control socket.
const (
	PathOn     = "/v1/on"
	PathOff    = "/v1/off"
	PathReload = "/v1/reload"
	PathStatus = "/v1/status"
)

// Error codes carried in [ErrorBody].
const (
	CodeBadRequest       = "bad_request"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeForbidden        = "forbidden"
	CodeConfig           = "config"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal"
)

// HeaderRequestID carries the per-request correlation ID.
const HeaderRequestID = "X-Request-Id"

// Envelope is the body of every control response.
type Envelope struct {
	OK        bool               `json:"ok"`
	RequestID string             `json:"request_id,omitempty"`
	Status    *supervisor.Report `json:"status,omitempty"`
	Error     *ErrorBody         `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
