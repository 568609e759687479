// Package server provides the control socket for a running barista server.
//
// This package is internal to barista and handles both ends of the control
// channel:
//
//   - [Server]: HTTP/1.1 over a unix socket (mode 0600), forwarding on, off,
//     reload and status to the supervisor
//   - [Client]: the matching client used by the CLI subcommands
//
// Responses are JSON [Envelope] values. Failures carry a stable error code
// (bad_request, method_not_allowed, forbidden, config, unavailable, internal)
// and affect only the request that caused them. On Linux the peer's uid is
// checked with SO_PEERCRED.
package server
