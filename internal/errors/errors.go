// Package errors defines domain-level errors used throughout the application.
// These errors represent lifecycle and routing failures and are mapped to HTTP status codes at the API boundary.
//
// NOTE: Important for developers
// When adding a new error here, you MUST consider how it should be handled when returned from API endpoints.
//
// Unmapped errors will default to HTTP 500 Internal Server Error.
//
// Don't forget to:
// 1. Add your error to mapError (internal/daemon/api_server.go)
// 2. Add a test case to TestMapError (internal/daemon/api_server_test.go)
package errors

import (
	"errors"
)

var (
	// ErrBadRequest indicates that the client provided invalid input or made a malformed request.
	// Recommended to map to HTTP 400 Bad Request.
	ErrBadRequest = errors.New("bad request")

	// ErrServerNotFound indicates that no server with the requested name is configured.
	// Recommended to map to HTTP 404 Not Found.
	ErrServerNotFound = errors.New("server not found")

	// ErrServerDisabled indicates that the server is configured but not enabled.
	// Recommended to map to HTTP 409 Conflict.
	ErrServerDisabled = errors.New("server is disabled")

	// ErrServerAlreadyRunning indicates a start was requested for a server that is already starting or running.
	// Recommended to map to HTTP 409 Conflict.
	ErrServerAlreadyRunning = errors.New("server is already running")

	// ErrServerNotRunning indicates that an operation needs a running server, such as routing a request to it.
	// Recommended to map to HTTP 409 Conflict.
	ErrServerNotRunning = errors.New("server is not running")

	// ErrServerPermanentlyFailed indicates that the server exhausted its restart budget.
	// It stays failed until it is reset by an operator.
	// Recommended to map to HTTP 409 Conflict.
	ErrServerPermanentlyFailed = errors.New("server has permanently failed")

	// ErrInvalidStateTransition indicates that a lifecycle event is not permitted in the server's current state.
	// Recommended to map to HTTP 409 Conflict.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrToolListFailed indicates that listing tools from a server failed.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrToolListFailed = errors.New("tool list failed")

	// ErrToolCallFailed indicates that calling a tool on a server failed.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrToolCallFailed = errors.New("tool call failed")

	// ErrServerTimeout indicates that a running server did not answer a routed request in time.
	// Recommended to map to HTTP 504 Gateway Timeout.
	ErrServerTimeout = errors.New("server did not respond in time")

	// ErrHealthNotTracked indicates that no health has been recorded for the specified server yet.
	// Recommended to map to HTTP 404 Not Found.
	ErrHealthNotTracked = errors.New("server health is not being tracked")
)
