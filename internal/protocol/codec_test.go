package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	strID := NewStringID("req-7")
	numID := NewNumberID(42)

	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "request with string id",
			msg: &Request{
				ProtocolVersion: ProtocolVersion,
				Method:          MethodToolsCall,
				Params:          json.RawMessage(`{"name":"echo","arguments":{"text":"hi"}}`),
				ID:              strID,
			},
		},
		{
			name: "request with integer id and no params",
			msg:  &Request{Method: MethodPing, ID: numID},
		},
		{
			name: "request with zero id",
			msg:  &Request{Method: MethodPing, ID: NewNumberID(0)},
		},
		{
			name: "success response",
			msg:  &Response{ID: &numID, Result: json.RawMessage(`{"tools":[]}`)},
		},
		{
			name: "error response with data",
			msg: &Response{
				ID: &strID,
				Error: &Error{
					Code:    CodeInvalidParams,
					Message: "missing property",
					Data:    json.RawMessage(`{"field":"text"}`),
				},
			},
		},
		{
			name: "error response without data",
			msg:  &Response{ID: &numID, Error: &Error{Code: CodeRateLimited, Message: "slow down"}},
		},
		{
			name: "notification",
			msg:  &Notification{Method: NotificationCancelled, Params: json.RawMessage(`{"requestId":42}`)},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			data, err := Encode(tc.msg)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			require.Equal(t, tc.msg, got)
		})
	}
}

func TestEncode_ResponseWithoutResultEncodesNull(t *testing.T) {
	t.Parallel()

	id := NewNumberID(1)
	data, err := Encode(&Response{ID: &id})
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":null}`, string(data))
}

func TestEncode_Invalid(t *testing.T) {
	t.Parallel()

	id := NewNumberID(1)

	tests := []struct {
		name string
		msg  Message
	}{
		{"nil", nil},
		{"request without method", &Request{ID: id}},
		{"notification without method", &Notification{}},
		{"response with result and error", &Response{ID: &id, Result: json.RawMessage(`1`), Error: &Error{}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Encode(tc.msg)
			require.Error(t, err)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	strID := NewStringID("abc")
	numID := NewNumberID(9)

	tests := []struct {
		name     string
		input    string
		wantCode int
		wantID   *ID
	}{
		{
			name:     "truncated json with string id",
			input:    `{"jsonrpc":"2.0","id":"abc","method":"tools/call","params":{`,
			wantCode: CodeParseError,
			wantID:   &strID,
		},
		{
			name:     "truncated json with integer id",
			input:    `{"id": 9, "method": "ping"`,
			wantCode: CodeParseError,
			wantID:   &numID,
		},
		{
			name:     "garbage",
			input:    `not json at all`,
			wantCode: CodeParseError,
		},
		{
			name:     "fractional id",
			input:    `{"id":1.5,"method":"ping"}`,
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "object id",
			input:    `{"id":{"x":1},"method":"ping"}`,
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "method with wrong type",
			input:    `{"id":9,"method":5}`,
			wantCode: CodeInvalidRequest,
			wantID:   &numID,
		},
		{
			name:     "wrong jsonrpc version",
			input:    `{"jsonrpc":"1.0","id":9,"method":"ping"}`,
			wantCode: CodeInvalidRequest,
			wantID:   &numID,
		},
		{
			name:     "neither method nor result",
			input:    `{"jsonrpc":"2.0","id":"abc"}`,
			wantCode: CodeInvalidRequest,
			wantID:   &strID,
		},
		{
			name:     "method with result",
			input:    `{"id":9,"method":"ping","result":{}}`,
			wantCode: CodeInvalidRequest,
			wantID:   &numID,
		},
		{
			name:     "result without id",
			input:    `{"result":{}}`,
			wantCode: CodeInvalidRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode([]byte(tc.input))
			require.Error(t, err)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			require.Equal(t, tc.wantCode, decodeErr.Code)
			require.Equal(t, tc.wantID, decodeErr.ID)

			resp, ok := decodeErr.Response()
			if tc.wantID == nil {
				require.False(t, ok)
				require.Nil(t, resp)
				return
			}
			require.True(t, ok)
			require.Equal(t, tc.wantID, resp.ID)
			require.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}
}

func TestDecode_NullIDIsNotification(t *testing.T) {
	t.Parallel()

	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":null,"method":"notifications/initialized"}`))
	require.NoError(t, err)
	require.Equal(t, &Notification{Method: NotificationInitialized}, msg)
}

func TestError_Is(t *testing.T) {
	t.Parallel()

	err := NewError(CodeTimeout, "tool 'sleep' exceeded 1s", map[string]string{"tool": "sleep"})
	require.ErrorIs(t, err, &Error{Code: CodeTimeout})
	require.NotErrorIs(t, err, &Error{Code: CodeInternalError})
	require.NotErrorIs(t, err, ErrClosed)
	require.JSONEq(t, `{"tool":"sleep"}`, string(err.Data))
	require.Equal(t, "timeout (-32004): tool 'sleep' exceeded 1s", err.Error())
}

func TestID_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var id ID
	require.NoError(t, json.Unmarshal([]byte(`"x"`), &id))
	require.Equal(t, `"x"`, id.String())

	require.NoError(t, json.Unmarshal([]byte(`-3`), &id))
	require.Equal(t, "-3", id.String())

	require.Error(t, json.Unmarshal([]byte(`true`), &id))
}
