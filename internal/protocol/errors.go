package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Standard error codes.
const (
	CodeParseError     = mcp.PARSE_ERROR
	CodeInvalidRequest = mcp.INVALID_REQUEST
	CodeMethodNotFound = mcp.METHOD_NOT_FOUND
	CodeInvalidParams  = mcp.INVALID_PARAMS
	CodeInternalError  = mcp.INTERNAL_ERROR
)

// Application error codes, allocated from the implementation-defined server error range.
const (
	CodeRateLimited  = -32001
	CodeUnauthorized = -32002
	CodeShuttingDown = -32003
	CodeTimeout      = -32004
)

var (
	// ErrClosed is returned for calls on, or outstanding when, a connection closes.
	ErrClosed = errors.New("connection closed")

	// ErrCallTimeout is returned when a call's context expires before its response arrives.
	ErrCallTimeout = errors.New("call timed out")
)

// Error is the error payload of a response. It implements the error interface so it can be returned directly.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError builds an Error, encoding data as JSON when present.
func NewError(code int, message string, data any) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", CodeName(e.Code), e.Code, e.Message)
}

// Is matches another *Error with the same code, so errors.Is can test for a class of error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeName returns a short name for a known error code.
func CodeName(code int) string {
	switch code {
	case CodeParseError:
		return "parse-error"
	case CodeInvalidRequest:
		return "invalid-request"
	case CodeMethodNotFound:
		return "method-not-found"
	case CodeInvalidParams:
		return "invalid-params"
	case CodeInternalError:
		return "internal-error"
	case CodeRateLimited:
		return "rate-limited"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeShuttingDown:
		return "shutting-down"
	case CodeTimeout:
		return "timeout"
	default:
		return "application-error"
	}
}

// DecodeError describes a message that could not be decoded.
// ID is set when the request identifier could still be recovered from the malformed input.
type DecodeError struct {
	Code int
	ID   *ID
	Err  error
}

func (e *DecodeError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s for id %s: %s", CodeName(e.Code), e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %s", CodeName(e.Code), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Response returns the error response owed to the sender.
// It returns false when the identifier was not recoverable, in which case nothing can be sent.
func (e *DecodeError) Response() (*Response, bool) {
	if e.ID == nil {
		return nil, false
	}
	return NewErrorResponse(e.ID, &Error{Code: e.Code, Message: e.Err.Error()}), true
}
