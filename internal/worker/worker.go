// Package worker hosts a tool registry behind a stdio transport loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/time/rate"

	"github.com/mozilla-ai/fleetd/internal/protocol"
	"github.com/mozilla-ai/fleetd/internal/tools"
)

var (
	// ErrDrainTimeout is returned by Serve when in-flight calls outlive the drain grace period.
	ErrDrainTimeout = errors.New("drain grace period elapsed with calls in flight")

	// errCancelledByPeer marks calls abandoned through a cancellation notification.
	errCancelledByPeer = errors.New("cancelled by caller")

	// errTerminated marks calls still running when the worker terminates.
	errTerminated = errors.New("worker terminated")
)

// Worker answers protocol requests by dispatching them to a tool registry.
// Use New to create a Worker.
type Worker struct {
	logger    hclog.Logger
	registry  *tools.Registry
	opts      Options
	limiter   *rate.Limiter
	sessionID string

	mu        sync.Mutex
	state     State
	resumable bool
	final     bool
	inflight  map[protocol.ID]context.CancelCauseFunc

	drainCh  chan struct{}
	resumeCh chan struct{}
	idleCh   chan struct{}
}

// readResult carries one result of reading the transport.
type readResult struct {
	msg protocol.Message
	err error
}

// New creates a Worker serving the tools held by registry.
func New(logger hclog.Logger, registry *tools.Registry, opt ...Option) (*Worker, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry cannot be nil")
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid worker options: %w", err)
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}

	return &Worker{
		logger:    logger.Named("worker"),
		registry:  registry,
		opts:      opts,
		limiter:   limiter,
		sessionID: uuid.NewString(),
		state:     StateStarting,
		inflight:  make(map[protocol.ID]context.CancelCauseFunc),
		drainCh:   make(chan struct{}, 1),
		resumeCh:  make(chan struct{}, 1),
		idleCh:    make(chan struct{}, 1),
	}, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// InFlight returns the number of tool calls currently executing.
func (w *Worker) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

// Drain stops accepting new requests and lets in-flight calls finish within the drain timeout.
func (w *Worker) Drain() {
	w.mu.Lock()
	from := w.state
	if !canTransition(from, StateDraining) {
		w.mu.Unlock()
		return
	}
	w.state = StateDraining
	w.resumable = from == StateReady || from == StateServing
	w.mu.Unlock()

	w.logger.Info("Draining", "in_flight", w.InFlight())
	signal(w.drainCh)
}

// Resume returns a draining worker to serving, provided the drain was requested through Drain
// and the transport is still open.
func (w *Worker) Resume() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateDraining || !w.resumable || w.final {
		return false
	}
	w.state = StateServing
	signal(w.resumeCh)

	return true
}

// Serve reads requests from r and writes responses to w until the worker terminates.
// Cancelling ctx, or r reaching EOF, starts draining.
// Serve returns ErrDrainTimeout when calls were still running at the end of the grace period.
func (w *Worker) Serve(ctx context.Context, r io.Reader, wr io.Writer) error {
	if w.State() != StateStarting {
		return fmt.Errorf("worker already served")
	}

	writer := protocol.NewWriter(wr)
	reader := protocol.NewReader(r)

	base, cancelAll := context.WithCancelCause(context.Background())
	defer cancelAll(errTerminated)

	quit := make(chan struct{})
	defer close(quit)

	msgs := make(chan readResult)
	go func() {
		for {
			msg, err := reader.Read()
			select {
			case msgs <- readResult{msg: msg, err: err}:
			case <-quit:
				return
			}
			var decodeErr *protocol.DecodeError
			if err != nil && !errors.As(err, &decodeErr) {
				return
			}
		}
	}()

	w.logger.Info("Worker started", "session", w.sessionID, "tools", len(w.registry.List()))

	var timer *time.Timer
	var drainTimeout <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	ctxDone := ctx.Done()

	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			w.finalize()
			w.Drain()
		case res := <-msgs:
			if res.err != nil {
				var decodeErr *protocol.DecodeError
				if errors.As(res.err, &decodeErr) {
					w.rejectMalformed(writer, decodeErr)
					continue
				}
				if !errors.Is(res.err, io.EOF) {
					w.logger.Error("Transport failed", "error", res.err)
				}
				msgs = nil
				w.finalize()
				w.Drain()
				continue
			}
			w.handle(base, writer, res.msg)
		case <-w.drainCh:
			if w.State() != StateDraining {
				continue
			}
			if w.InFlight() == 0 {
				return w.terminate(nil)
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.DrainTimeout)
				drainTimeout = timer.C
			}
		case <-w.resumeCh:
			if timer != nil {
				timer.Stop()
				timer = nil
				drainTimeout = nil
			}
			w.logger.Info("Resumed serving")
		case <-w.idleCh:
			if w.State() == StateDraining && w.InFlight() == 0 {
				return w.terminate(nil)
			}
		case <-drainTimeout:
			w.logger.Warn("Drain grace period elapsed", "in_flight", w.InFlight(), "timeout", w.opts.DrainTimeout)
			return w.terminate(ErrDrainTimeout)
		}
	}
}

// handle dispatches a single decoded message. It never blocks on tool execution.
func (w *Worker) handle(base context.Context, writer *protocol.Writer, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Request:
		w.handleRequest(base, writer, m)
	case *protocol.Notification:
		w.handleNotification(m)
	case *protocol.Response:
		w.logger.Debug("Ignoring unsolicited response", "id", m.ID)
	}
}

func (w *Worker) handleRequest(base context.Context, writer *protocol.Writer, req *protocol.Request) {
	state := w.State()

	switch {
	case state == StateDraining || state == StateTerminated:
		w.respondError(writer, req.ID, protocol.NewError(protocol.CodeShuttingDown, "worker is shutting down", nil))
		return
	case req.Method == protocol.MethodInitialize:
		w.initialize(writer, req)
		return
	case req.Method == protocol.MethodPing:
		w.respond(writer, req.ID, struct{}{})
		return
	case state == StateStarting:
		w.respondError(writer, req.ID, protocol.NewError(protocol.CodeInvalidRequest, "worker is not initialized", nil))
		return
	}

	w.transition(StateReady, StateServing)

	switch req.Method {
	case protocol.MethodToolsList:
		w.respond(writer, req.ID, protocol.ToolsListResult{Tools: w.registry.Tools()})
	case protocol.MethodToolsCall:
		w.startCall(base, writer, req)
	default:
		w.respondError(writer, req.ID, protocol.NewError(
			protocol.CodeMethodNotFound,
			fmt.Sprintf("method '%s' not found", req.Method),
			nil,
		))
	}
}

func (w *Worker) initialize(writer *protocol.Writer, req *protocol.Request) {
	if !w.transition(StateStarting, StateInitializing) {
		w.respondError(writer, req.ID, protocol.NewError(protocol.CodeInvalidRequest, "worker is already initialized", nil))
		return
	}

	var params protocol.InitializeParams
	if err := req.DecodeParams(&params); err != nil {
		w.transition(StateInitializing, StateStarting)
		w.respondError(writer, req.ID, asProtocolError(err))
		return
	}

	w.logger.Info("Handshake", "client", params.ClientInfo.Name, "protocol_version", params.ProtocolVersion)

	w.transition(StateInitializing, StateReady)
	w.respond(writer, req.ID, protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo:      w.opts.ServerInfo,
		SessionID:       w.sessionID,
		Tools:           w.registry.Tools(),
	})
}

func (w *Worker) handleNotification(n *protocol.Notification) {
	switch n.Method {
	case protocol.NotificationInitialized:
		w.transition(StateReady, StateServing)
	case protocol.NotificationCancelled:
		var params protocol.CancelledParams
		if err := (&protocol.Request{Method: n.Method, Params: n.Params}).DecodeParams(&params); err != nil {
			w.logger.Warn("Invalid cancellation", "error", err)
			return
		}
		w.mu.Lock()
		cancel, ok := w.inflight[params.RequestID]
		w.mu.Unlock()
		if ok {
			w.logger.Debug("Cancelling call", "id", params.RequestID.String(), "reason", params.Reason)
			cancel(errCancelledByPeer)
		}
	default:
		w.logger.Debug("Ignoring notification", "method", n.Method)
	}
}

// startCall registers the call as in flight and runs it on its own goroutine.
func (w *Worker) startCall(base context.Context, writer *protocol.Writer, req *protocol.Request) {
	callCtx, cancel := context.WithCancelCause(base)

	w.mu.Lock()
	if _, exists := w.inflight[req.ID]; exists {
		w.mu.Unlock()
		cancel(nil)
		w.respondError(writer, req.ID, protocol.NewError(
			protocol.CodeInvalidRequest,
			fmt.Sprintf("request id %s is already in flight", req.ID),
			nil,
		))
		return
	}
	w.inflight[req.ID] = cancel
	w.mu.Unlock()

	go w.call(callCtx, writer, req)
}

type callOutcome struct {
	result *mcp.CallToolResult
	err    error
}

func (w *Worker) call(ctx context.Context, writer *protocol.Writer, req *protocol.Request) {
	defer w.release(req.ID)

	var params protocol.CallToolParams
	if err := req.DecodeParams(&params); err != nil {
		w.respondError(writer, req.ID, asProtocolError(err))
		return
	}

	if w.limiter != nil && !w.limiter.Allow() {
		w.respondError(writer, req.ID, protocol.NewError(protocol.CodeRateLimited, "rate limit exceeded", nil))
		return
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, w.opts.CallTimeout)
	defer cancel()

	outcome := make(chan callOutcome, 1)
	go func() {
		res, err := w.registry.Invoke(timeoutCtx, params.Name, params.Arguments)
		outcome <- callOutcome{result: res, err: err}
	}()

	select {
	case out := <-outcome:
		if out.err != nil {
			w.respondError(writer, req.ID, toolError(out.err))
			return
		}
		w.respond(writer, req.ID, out.result)
	case <-timeoutCtx.Done():
		switch cause := context.Cause(timeoutCtx); {
		case errors.Is(cause, errCancelledByPeer):
			w.logger.Debug("Call cancelled by caller", "id", req.ID.String(), "tool", params.Name)
		case errors.Is(cause, context.DeadlineExceeded):
			w.logger.Warn("Call timed out", "id", req.ID.String(), "tool", params.Name, "timeout", w.opts.CallTimeout)
			w.respondError(writer, req.ID, protocol.NewError(
				protocol.CodeTimeout,
				fmt.Sprintf("tool '%s' exceeded %s", params.Name, w.opts.CallTimeout),
				nil,
			))
		default:
			w.respondError(writer, req.ID, protocol.NewError(protocol.CodeShuttingDown, "worker is shutting down", nil))
		}
	}
}

// release removes a finished call and signals idleness when nothing remains in flight.
func (w *Worker) release(id protocol.ID) {
	w.mu.Lock()
	if cancel, ok := w.inflight[id]; ok {
		cancel(nil)
		delete(w.inflight, id)
	}
	idle := len(w.inflight) == 0
	w.mu.Unlock()

	if idle {
		signal(w.idleCh)
	}
}

func (w *Worker) terminate(err error) error {
	w.mu.Lock()
	w.state = StateTerminated
	for id, cancel := range w.inflight {
		cancel(errTerminated)
		delete(w.inflight, id)
	}
	w.mu.Unlock()

	w.logger.Info("Worker terminated", "session", w.sessionID)

	return err
}

// finalize records that the transport or caller has gone away, so draining can no longer be resumed.
func (w *Worker) finalize() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.final = true
}

func (w *Worker) transition(from State, to State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != from || !canTransition(from, to) {
		return false
	}
	w.state = to

	return true
}

func (w *Worker) rejectMalformed(writer *protocol.Writer, decodeErr *protocol.DecodeError) {
	resp, ok := decodeErr.Response()
	if !ok {
		w.logger.Warn("Dropping malformed message without a recoverable id", "error", decodeErr)
		return
	}

	w.logger.Warn("Rejecting malformed message", "error", decodeErr)
	if err := writer.Write(resp); err != nil {
		w.logger.Error("Failed to write response", "error", err)
	}
}

func (w *Worker) respond(writer *protocol.Writer, id protocol.ID, result any) {
	resp, err := protocol.NewResult(id, result)
	if err != nil {
		w.respondError(writer, id, protocol.NewError(protocol.CodeInternalError, err.Error(), nil))
		return
	}
	if err := writer.Write(resp); err != nil {
		w.logger.Error("Failed to write response", "id", id.String(), "error", err)
	}
}

func (w *Worker) respondError(writer *protocol.Writer, id protocol.ID, perr *protocol.Error) {
	if err := writer.Write(protocol.NewErrorResponse(&id, perr)); err != nil {
		w.logger.Error("Failed to write error response", "id", id.String(), "error", err)
	}
}

// toolError maps registry failures onto protocol errors.
func toolError(err error) *protocol.Error {
	var (
		notFound   *tools.NotFoundError
		validation *tools.ValidationError
		execution  *tools.ExecutionError
	)

	switch {
	case errors.As(err, &notFound):
		return protocol.NewError(protocol.CodeInvalidParams, err.Error(), nil)
	case errors.As(err, &validation):
		return protocol.NewError(protocol.CodeInvalidParams, err.Error(), map[string][]string{"problems": validation.Problems})
	case errors.As(err, &execution):
		return protocol.NewError(protocol.CodeInternalError, err.Error(), nil)
	default:
		return protocol.NewError(protocol.CodeInternalError, err.Error(), nil)
	}
}

func asProtocolError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}
	return protocol.NewError(protocol.CodeInternalError, err.Error(), nil)
}

// signal performs a non-blocking send on a buffered notification channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
