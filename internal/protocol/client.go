package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// Client issues requests over a connection and correlates their responses.
// Identifiers are allocated from a counter, so an identifier is never reused while its request is outstanding.
// Use NewClient to create a Client.
type Client struct {
	logger hclog.Logger
	reader *Reader
	writer *Writer
	closer io.Closer

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[ID]chan *Response
	err     error
	done    chan struct{}
}

// NewClient starts reading responses from r and returns a Client that writes requests to w.
// When w implements io.Closer it is closed by Close.
func NewClient(logger hclog.Logger, r io.Reader, w io.Writer) (*Client, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if r == nil || w == nil {
		return nil, fmt.Errorf("reader and writer are required")
	}

	c := &Client{
		logger:  logger,
		reader:  NewReader(r),
		writer:  NewWriter(w),
		pending: make(map[ID]chan *Response),
		done:    make(chan struct{}),
	}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}

	go c.readLoop()

	return c, nil
}

// Call sends a request and waits for its response, decoding the result into result when non-nil.
// A response error is returned as *Error.
// If ctx expires first a cancellation notification is sent and ErrCallTimeout is returned.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	id := NewNumberID(c.nextID.Add(1))

	req, err := NewRequest(id, method, params)
	if err != nil {
		return err
	}

	ch, err := c.register(id)
	if err != nil {
		return err
	}

	if err := c.writer.Write(req); err != nil {
		c.unregister(id)
		return fmt.Errorf("sending '%s': %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: %s", ErrClosed, method)
		}
		return resp.DecodeResult(result)
	case <-ctx.Done():
		c.unregister(id)
		if n, err := NewNotification(NotificationCancelled, CancelledParams{RequestID: id, Reason: ctx.Err().Error()}); err == nil {
			if err := c.writer.Write(n); err != nil {
				c.logger.Debug("Failed to send cancellation", "id", id.String(), "error", err)
			}
		}
		return fmt.Errorf("%w: %s: %w", ErrCallTimeout, method, ctx.Err())
	}
}

// Notify sends a notification.
func (c *Client) Notify(method string, params any) error {
	n, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.writer.Write(n)
}

// Done is closed once the connection has closed and every outstanding call has failed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// closeErr returns the reason the connection closed, or nil while it is open.
func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// outstanding returns the number of calls awaiting a response.
func (c *Client) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close closes the write side and fails every outstanding call with ErrClosed.
func (c *Client) Close() error {
	var err error
	if c.closer != nil {
		err = c.closer.Close()
	}
	c.shutdown(ErrClosed)
	return err
}

func (c *Client) register(id ID) (chan *Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("request id %s is already outstanding", id)
	}

	ch := make(chan *Response, 1)
	c.pending[id] = ch

	return ch, nil
}

func (c *Client) unregister(id ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Client) readLoop() {
	for {
		msg, err := c.reader.Read()
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Warn("Dropping malformed message", "error", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				err = ErrClosed
			}
			c.shutdown(err)
			return
		}

		switch m := msg.(type) {
		case *Response:
			c.deliver(m)
		case *Notification:
			c.logger.Debug("Received notification", "method", m.Method)
		case *Request:
			c.logger.Warn("Rejecting unexpected request from peer", "method", m.Method, "id", m.ID.String())
			resp := NewErrorResponse(&m.ID, NewError(CodeMethodNotFound, "client does not serve requests", nil))
			if err := c.writer.Write(resp); err != nil {
				c.logger.Debug("Failed to reject request", "error", err)
			}
		}
	}
}

func (c *Client) deliver(resp *Response) {
	if resp.ID == nil {
		c.logger.Warn("Received error without a request id", "error", resp.Error)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*resp.ID]
	delete(c.pending, *resp.ID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Discarding response for unknown or abandoned request", "id", resp.ID.String())
		return
	}

	ch <- resp
}

func (c *Client) shutdown(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return
	}

	if !errors.Is(reason, ErrClosed) {
		reason = fmt.Errorf("%w: %w", ErrClosed, reason)
	}
	c.err = reason
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
}
