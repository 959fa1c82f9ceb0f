package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/fleetd/internal/domain"
	"github.com/mozilla-ai/fleetd/internal/errors"
)

type fakeSupervisor struct {
	mu sync.Mutex

	statuses   []domain.ServerStatus
	actionErr  error
	actions    []string
	tools      []mcp.Tool
	toolsErr   error
	callResult *mcp.CallToolResult
	callErr    error
	lastArgs   map[string]any
}

func newFakeSupervisor(statuses ...domain.ServerStatus) *fakeSupervisor {
	return &fakeSupervisor{statuses: statuses}
}

func (f *fakeSupervisor) List() []domain.ServerStatus {
	return f.statuses
}

func (f *fakeSupervisor) Status(name string) (domain.ServerStatus, error) {
	for _, st := range f.statuses {
		if st.Name == name {
			return st, nil
		}
	}
	return domain.ServerStatus{}, fmt.Errorf("%w: %s", errors.ErrServerNotFound, name)
}

func (f *fakeSupervisor) record(action, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action+":"+name)
	return f.actionErr
}

func (f *fakeSupervisor) Start(_ context.Context, name string) error { return f.record("start", name) }
func (f *fakeSupervisor) Stop(name string) error                     { return f.record("stop", name) }
func (f *fakeSupervisor) Restart(_ context.Context, name string) error {
	return f.record("restart", name)
}
func (f *fakeSupervisor) Reset(name string) error { return f.record("reset", name) }

func (f *fakeSupervisor) ListTools(_ context.Context, _ string) ([]mcp.Tool, error) {
	return f.tools, f.toolsErr
}

func (f *fakeSupervisor) CallTool(_ context.Context, _ string, _ string, args map[string]any) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastArgs = args
	return f.callResult, f.callErr
}

type fakeMonitor struct {
	mu sync.Mutex

	report  domain.HealthReport
	records map[string][]domain.HealthRecord
	polled  []string
	pollAll int
}

func (f *fakeMonitor) Report() domain.HealthReport {
	return f.report
}

func (f *fakeMonitor) Poll(_ context.Context, name string) (domain.HealthRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history, ok := f.records[name]
	if !ok {
		return domain.HealthRecord{}, fmt.Errorf("%w: %s", errors.ErrServerNotFound, name)
	}
	f.polled = append(f.polled, name)
	return history[len(history)-1], nil
}

func (f *fakeMonitor) PollAll(_ context.Context) map[string]domain.HealthRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollAll++
	out := make(map[string]domain.HealthRecord, len(f.records))
	for name, history := range f.records {
		out[name] = history[len(history)-1]
	}
	return out
}

func (f *fakeMonitor) History(name string) ([]domain.HealthRecord, error) {
	history, ok := f.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrHealthNotTracked, name)
	}
	return history, nil
}

type fakeFeed struct {
	alerts []domain.Alert
	asked  int

	// live is returned by Subscribe. unsubscribed is closed once the subscription ends.
	live         chan domain.Alert
	unsubscribed chan struct{}
}

func (f *fakeFeed) Subscribe(int) (<-chan domain.Alert, func()) {
	if f.live == nil {
		f.live = make(chan domain.Alert)
	}
	if f.unsubscribed == nil {
		f.unsubscribed = make(chan struct{})
	}

	var once sync.Once
	return f.live, func() { once.Do(func() { close(f.unsubscribed) }) }
}

func (f *fakeFeed) Recent(n int) []domain.Alert {
	f.asked = n
	if n <= 0 || n >= len(f.alerts) {
		return f.alerts
	}
	return f.alerts[len(f.alerts)-n:]
}
