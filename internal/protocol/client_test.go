package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

// peer is the far end of a Client under test.
type peer struct {
	reader *Reader
	writer *Writer
	out    io.Closer
}

func newClientPair(t *testing.T) (*Client, *peer) {
	t.Helper()

	clientIn, peerOut := io.Pipe()
	peerIn, clientOut := io.Pipe()

	c, err := NewClient(hclog.NewNullLogger(), clientIn, clientOut)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		_ = peerOut.Close()
		_ = peerIn.Close()
	})

	return c, &peer{reader: NewReader(peerIn), writer: NewWriter(peerOut), out: peerOut}
}

// readRequest returns the next request, or nil if the next message is anything else.
func (p *peer) readRequest() *Request {
	msg, err := p.reader.Read()
	if err != nil {
		return nil
	}
	req, _ := msg.(*Request)
	return req
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil, &io.PipeReader{}, &io.PipeWriter{})
	require.EqualError(t, err, "logger cannot be nil")

	_, err = NewClient(hclog.NewNullLogger(), nil, &io.PipeWriter{})
	require.EqualError(t, err, "reader and writer are required")
}

func TestClient_ConcurrentCallsCorrelateOutOfOrderResponses(t *testing.T) {
	t.Parallel()

	const calls = 10
	c, p := newClientPair(t)

	go func() {
		reqs := make([]*Request, 0, calls)
		for range calls {
			msg, err := p.reader.Read()
			if err != nil {
				return
			}
			reqs = append(reqs, msg.(*Request))
		}
		// Answer in reverse order to prove correlation does not depend on ordering.
		for i := len(reqs) - 1; i >= 0; i-- {
			_ = p.writer.Write(&Response{ID: &reqs[i].ID, Result: reqs[i].Params})
		}
	}()

	type echo struct {
		N int `json:"n"`
	}

	var wg sync.WaitGroup
	results := make([]echo, calls)
	errs := make([]error, calls)
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs[i] = c.Call(ctx, "echo", echo{N: i}, &results[i])
		}(i)
	}
	wg.Wait()

	for i := range calls {
		require.NoError(t, errs[i])
		require.Equal(t, i, results[i].N)
	}
	require.Zero(t, c.outstanding())
}

func TestClient_IdentifiersAreUnique(t *testing.T) {
	t.Parallel()

	c, p := newClientPair(t)

	seen := make(chan ID, 3)
	go func() {
		for range 3 {
			msg, err := p.reader.Read()
			if err != nil {
				return
			}
			req := msg.(*Request)
			seen <- req.ID
			_ = p.writer.Write(&Response{ID: &req.ID, Result: json.RawMessage(`{}`)})
		}
	}()

	for range 3 {
		require.NoError(t, c.Call(context.Background(), MethodPing, nil, nil))
	}

	ids := map[ID]struct{}{}
	for range 3 {
		ids[<-seen] = struct{}{}
	}
	require.Len(t, ids, 3)
}

func TestClient_ErrorResponse(t *testing.T) {
	t.Parallel()

	c, p := newClientPair(t)

	go func() {
		req := p.readRequest()
		if req == nil {
			return
		}
		_ = p.writer.Write(NewErrorResponse(&req.ID, NewError(CodeMethodNotFound, "no such method", nil)))
	}()

	err := c.Call(context.Background(), "missing", nil, nil)
	require.Error(t, err)

	var protoErr *Error
	require.True(t, errors.As(err, &protoErr))
	require.Equal(t, CodeMethodNotFound, protoErr.Code)
}

func TestClient_TimeoutSendsCancellation(t *testing.T) {
	t.Parallel()

	c, p := newClientPair(t)

	cancelled := make(chan CancelledParams, 1)
	requested := make(chan ID, 1)
	go func() {
		req := p.readRequest()
		if req == nil {
			return
		}
		requested <- req.ID

		msg, err := p.reader.Read()
		if err != nil {
			return
		}
		n, ok := msg.(*Notification)
		if !ok || n.Method != NotificationCancelled {
			return
		}
		var params CancelledParams
		_ = json.Unmarshal(n.Params, &params)
		cancelled <- params
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Call(ctx, MethodToolsCall, CallToolParams{Name: "sleep"}, nil)
	require.ErrorIs(t, err, ErrCallTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)

	id := <-requested
	select {
	case params := <-cancelled:
		require.Equal(t, id, params.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation notification was not sent")
	}
	require.Zero(t, c.outstanding())
}

func TestClient_LateResponseIsDiscarded(t *testing.T) {
	t.Parallel()

	c, p := newClientPair(t)

	go func() {
		req := p.readRequest()
		if req == nil {
			return
		}
		// Consume the cancellation before answering too late.
		_, _ = p.reader.Read()
		_ = p.writer.Write(&Response{ID: &req.ID, Result: json.RawMessage(`"late"`)})

		next := p.readRequest()
		if next == nil {
			return
		}
		_ = p.writer.Write(&Response{ID: &next.ID, Result: json.RawMessage(`"fresh"`)})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Call(ctx, "slow", nil, nil), ErrCallTimeout)

	var got string
	require.NoError(t, c.Call(context.Background(), "fast", nil, &got))
	require.Equal(t, "fresh", got)
}

func TestClient_PeerCloseFailsOutstandingCalls(t *testing.T) {
	t.Parallel()

	c, p := newClientPair(t)

	go func() {
		_ = p.readRequest()
		_ = p.out.Close()
	}()

	err := c.Call(context.Background(), MethodPing, nil, nil)
	require.ErrorIs(t, err, ErrClosed)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe close")
	}
	require.ErrorIs(t, c.closeErr(), ErrClosed)

	// Calls after close fail immediately.
	require.ErrorIs(t, c.Call(context.Background(), MethodPing, nil, nil), ErrClosed)
}

func TestClient_MalformedResponsesAreDropped(t *testing.T) {
	t.Parallel()

	c, p := newClientPair(t)

	go func() {
		req := p.readRequest()
		if req == nil {
			return
		}
		_, _ = p.out.(io.Writer).Write([]byte("{garbage\n"))
		_ = p.writer.Write(&Response{ID: &req.ID, Result: json.RawMessage(`true`)})
	}()

	var ok bool
	require.NoError(t, c.Call(context.Background(), MethodPing, nil, &ok))
	require.True(t, ok)
}
