package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// idPattern finds an id member in input that is not valid JSON.
var idPattern = regexp.MustCompile(`"id"\s*:\s*("(?:[^"\\]|\\.)*"|-?[0-9]+)`)

// envelope is the wire shape shared by every message kind.
type envelope struct {
	JSONRPC         string          `json:"jsonrpc"`
	ProtocolVersion string          `json:"protocol_version,omitempty"`
	ID              json.RawMessage `json:"id,omitempty"`
	Method          string          `json:"method,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *Error          `json:"error,omitempty"`
}

type requestEnvelope struct {
	JSONRPC         string          `json:"jsonrpc"`
	ProtocolVersion string          `json:"protocol_version,omitempty"`
	Method          string          `json:"method"`
	Params          json.RawMessage `json:"params,omitempty"`
	ID              ID              `json:"id"`
}

type responseEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type notificationEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Encode serializes a message to its wire form, without a trailing newline.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		if m.Method == "" {
			return nil, fmt.Errorf("request method cannot be empty")
		}
		return json.Marshal(requestEnvelope{
			JSONRPC:         Version,
			ProtocolVersion: m.ProtocolVersion,
			Method:          m.Method,
			Params:          m.Params,
			ID:              m.ID,
		})
	case *Response:
		if m.Error != nil && m.Result != nil {
			return nil, fmt.Errorf("response cannot carry both a result and an error")
		}
		env := responseEnvelope{JSONRPC: Version, ID: m.ID, Error: m.Error}
		if m.Error == nil {
			env.Result = m.Result
			if len(env.Result) == 0 {
				env.Result = json.RawMessage("null")
			}
		}
		return json.Marshal(env)
	case *Notification:
		if m.Method == "" {
			return nil, fmt.Errorf("notification method cannot be empty")
		}
		return json.Marshal(notificationEnvelope{
			JSONRPC: Version,
			Method:  m.Method,
			Params:  m.Params,
		})
	case nil:
		return nil, fmt.Errorf("message cannot be nil")
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}
}

// Decode parses a single wire message.
// Failures are reported as *DecodeError, carrying the request identifier whenever it can be recovered.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &DecodeError{Code: CodeInvalidRequest, ID: recoverID(data), Err: err}
		}
		return nil, &DecodeError{Code: CodeParseError, ID: recoverID(data), Err: err}
	}

	var id *ID
	if len(env.ID) > 0 && !bytes.Equal(env.ID, []byte("null")) {
		var parsed ID
		if err := json.Unmarshal(env.ID, &parsed); err != nil {
			return nil, &DecodeError{Code: CodeInvalidRequest, Err: err}
		}
		id = &parsed
	}

	invalid := func(format string, args ...any) error {
		return &DecodeError{Code: CodeInvalidRequest, ID: id, Err: fmt.Errorf(format, args...)}
	}

	if env.JSONRPC != "" && env.JSONRPC != Version {
		return nil, invalid("unsupported jsonrpc version '%s'", env.JSONRPC)
	}

	hasResult := len(env.Result) > 0
	hasError := env.Error != nil

	if env.Method != "" {
		if hasResult || hasError {
			return nil, invalid("message cannot carry both a method and a result or error")
		}
		if id == nil {
			return &Notification{Method: env.Method, Params: env.Params}, nil
		}
		return &Request{
			ProtocolVersion: env.ProtocolVersion,
			Method:          env.Method,
			Params:          env.Params,
			ID:              *id,
		}, nil
	}

	switch {
	case hasResult && hasError:
		return nil, invalid("response cannot carry both a result and an error")
	case hasError:
		return &Response{ID: id, Error: env.Error}, nil
	case hasResult && id != nil:
		return &Response{ID: id, Result: env.Result}, nil
	case hasResult:
		return nil, invalid("success response is missing an id")
	default:
		return nil, invalid("message has neither a method nor a result")
	}
}

// recoverID scans input that failed to decode for a usable identifier.
func recoverID(data []byte) *ID {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && len(probe.ID) > 0 {
		var id ID
		if err := json.Unmarshal(probe.ID, &id); err == nil {
			return &id
		}
	}

	m := idPattern.FindSubmatch(data)
	if m == nil {
		return nil
	}

	var id ID
	if err := json.Unmarshal(m[1], &id); err != nil {
		return nil
	}

	return &id
}
