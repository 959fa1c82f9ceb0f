// Package protocol implements the newline-delimited JSON-RPC envelope spoken between the supervisor and its workers.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// Version is the JSON-RPC version stamped on every envelope.
	Version = mcp.JSONRPC_VERSION

	// ProtocolVersion is the worker protocol revision sent with every request.
	ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
)

const (
	MethodInitialize = string(mcp.MethodInitialize)
	MethodPing       = string(mcp.MethodPing)
	MethodToolsList  = string(mcp.MethodToolsList)
	MethodToolsCall  = string(mcp.MethodToolsCall)

	// NotificationInitialized is sent by the caller once it has processed the initialize result.
	NotificationInitialized = "notifications/initialized"

	// NotificationCancelled asks the receiver to abandon an outstanding request.
	NotificationCancelled = "notifications/cancelled"
)

var (
	_ Message = (*Request)(nil)
	_ Message = (*Response)(nil)
	_ Message = (*Notification)(nil)
)

// Message is one of *Request, *Response or *Notification.
type Message interface {
	isMessage()
}

// ID correlates a request with its response. It holds either a string or an integer.
// The zero value is the integer 0.
type ID struct {
	str   string
	num   int64
	isStr bool
}

// Request asks the receiver to run a method and answer with a Response carrying the same ID.
type Request struct {
	ProtocolVersion string
	Method          string
	Params          json.RawMessage
	ID              ID
}

// Response answers a Request. Exactly one of Result or Error is set.
// ID is nil only when the request's identifier could not be recovered.
type Response struct {
	ID     *ID
	Result json.RawMessage
	Error  *Error
}

// Notification is a one-way message that never receives a response.
type Notification struct {
	Method string
	Params json.RawMessage
}

// CancelledParams are the parameters of a cancellation notification.
type CancelledParams struct {
	RequestID ID     `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// InitializeParams are sent by the supervisor to begin the handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
}

// InitializeResult completes the handshake and advertises the worker's tools.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
	SessionID       string             `json:"sessionId,omitempty"`
	Tools           []mcp.Tool         `json:"tools"`
}

// ToolsListResult is the result of a tools/list request.
type ToolsListResult struct {
	Tools []mcp.Tool `json:"tools"`
}

// CallToolParams are the parameters of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// NewStringID returns a string identifier.
func NewStringID(s string) ID {
	return ID{str: s, isStr: true}
}

// NewNumberID returns an integer identifier.
func NewNumberID(n int64) ID {
	return ID{num: n}
}

// String renders the identifier for logs.
func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
// Only strings and integers are accepted.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty id")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string id: %w", err)
		}
		*id = NewStringID(s)
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be a string or an integer, got %s", data)
	}
	*id = NewNumberID(n)

	return nil
}

func (*Request) isMessage()      {}
func (*Response) isMessage()     {}
func (*Notification) isMessage() {}

// NewRequest builds a request, encoding params as JSON.
func NewRequest(id ID, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params for '%s': %w", method, err)
	}

	return &Request{
		ProtocolVersion: ProtocolVersion,
		Method:          method,
		Params:          raw,
		ID:              id,
	}, nil
}

// NewNotification builds a notification, encoding params as JSON.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params for '%s': %w", method, err)
	}

	return &Notification{Method: method, Params: raw}, nil
}

// NewResult builds a success response, encoding result as JSON.
func NewResult(id ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}

	return &Response{ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id *ID, err *Error) *Response {
	return &Response{ID: id, Error: err}
}

// DecodeParams unmarshals the request parameters into v.
// Absent parameters leave v untouched.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 || bytes.Equal(r.Params, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return NewError(CodeInvalidParams, fmt.Sprintf("invalid params for '%s': %s", r.Method, err), nil)
	}
	return nil
}

// DecodeResult unmarshals a success result into v, or returns the response's error.
func (r *Response) DecodeResult(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if v == nil || len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
