// Package apiclient talks to a running daemon over its HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/mozilla-ai/fleetd/internal/api"
)

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionReset   Action = "reset"
)

const applicationJSON = "application/json"

// Action is a lifecycle operation that can be applied to a server.
type Action string

// StatusError is returned when the daemon answers with a non-2xx status.
type StatusError struct {
	Status int
	Title  string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Title)
}

// Client calls the daemon API. Use New to create a Client.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// New creates a Client for the daemon at addr, e.g. "http://localhost:8191".
func New(logger hclog.Logger, addr string, opt ...Option) (*Client, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(addr), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid daemon address '%s': %w", addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid daemon address '%s': scheme must be http or https", addr)
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = logger.Named("apiclient")
	client.CheckRetry = checkRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	prefix, err := url.JoinPath(u.String(), "api", api.APIVersion)
	if err != nil {
		return nil, err
	}

	return &Client{baseURL: prefix, http: client}, nil
}

// checkRetry retries reads on any transient failure, but lifecycle and tool calls only when the request never
// reached the daemon.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Servers lists every supervised server.
func (c *Client) Servers(ctx context.Context) ([]api.Server, error) {
	var body struct {
		Servers []api.Server `json:"servers"`
	}
	if err := c.do(ctx, http.MethodGet, "/servers", nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Servers, nil
}

// Server returns the status of a single server.
func (c *Client) Server(ctx context.Context, name string) (api.Server, error) {
	var s api.Server
	err := c.do(ctx, http.MethodGet, "/servers/"+url.PathEscape(name), nil, nil, &s)
	return s, err
}

// Apply runs a lifecycle action against a server and returns its resulting status.
func (c *Client) Apply(ctx context.Context, name string, action Action) (api.Server, error) {
	var s api.Server
	err := c.do(ctx, http.MethodPost, "/servers/"+url.PathEscape(name)+"/"+string(action), nil, nil, &s)
	return s, err
}

// Tools lists the tools of a running server at the given detail level (minimal, summary or full).
func (c *Client) Tools(ctx context.Context, name string, detail string) ([]api.Tool, error) {
	var query url.Values
	if detail != "" {
		query = url.Values{"detail": {detail}}
	}

	var body struct {
		Tools []api.Tool `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/servers/"+url.PathEscape(name)+"/tools", query, nil, &body); err != nil {
		return nil, err
	}
	return body.Tools, nil
}

// CallTool calls a tool on a running server and returns its text output.
func (c *Client) CallTool(ctx context.Context, name string, tool string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}

	var out string
	path := "/servers/" + url.PathEscape(name) + "/tools/" + url.PathEscape(tool)
	err := c.do(ctx, http.MethodPost, path, nil, args, &out)
	return out, err
}

// HealthReport returns the latest health report.
func (c *Client) HealthReport(ctx context.Context) (api.HealthReport, error) {
	var r api.HealthReport
	err := c.do(ctx, http.MethodGet, "/health/report", nil, nil, &r)
	return r, err
}

// PollAll asks the daemon to poll every enabled server and returns the resulting report.
func (c *Client) PollAll(ctx context.Context) (api.HealthReport, error) {
	var r api.HealthReport
	err := c.do(ctx, http.MethodPost, "/health/poll", nil, nil, &r)
	return r, err
}

// Poll asks the daemon to poll a single server.
func (c *Client) Poll(ctx context.Context, name string) (api.HealthRecord, error) {
	var r api.HealthRecord
	err := c.do(ctx, http.MethodPost, "/health/"+url.PathEscape(name)+"/poll", nil, nil, &r)
	return r, err
}

// History returns the retained health records of a server, oldest first.
func (c *Client) History(ctx context.Context, name string) ([]api.HealthRecord, error) {
	var body struct {
		Records []api.HealthRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/health/"+url.PathEscape(name)+"/history", nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Records, nil
}

// Alerts returns up to limit recent alerts, oldest first. A limit of 0 returns every retained alert.
func (c *Client) Alerts(ctx context.Context, limit int) ([]api.Alert, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}

	var body struct {
		Alerts []api.Alert `json:"alerts"`
	}
	if err := c.do(ctx, http.MethodGet, "/alerts", query, nil, &body); err != nil {
		return nil, err
	}
	return body.Alerts, nil
}

func (c *Client) do(ctx context.Context, method string, path string, query url.Values, in any, out any) error {
	var payload io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", applicationJSON)
	if in != nil {
		req.Header.Set("Content-Type", applicationJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// decodeError reads an RFC 9457 problem document, falling back to the status line.
func decodeError(resp *http.Response) error {
	statusErr := &StatusError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}

	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &problem); err == nil {
		if problem.Title != "" {
			statusErr.Title = problem.Title
		}
		statusErr.Detail = problem.Detail
	}

	return statusErr
}

// Options contains optional configuration for a Client.
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with defaults, then applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	options := Options{
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: time.Second,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}

	return options, nil
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.Timeout = timeout
		return nil
	}
}

// WithRetries configures how many times, and how patiently, failed requests are retried.
func WithRetries(retries int, waitMin time.Duration, waitMax time.Duration) Option {
	return func(o *Options) error {
		if retries < 0 {
			return fmt.Errorf("retry count cannot be negative, got %d", retries)
		}
		if waitMin < 0 || waitMax < waitMin {
			return fmt.Errorf("invalid retry wait bounds [%v, %v]", waitMin, waitMax)
		}
		o.RetryMax = retries
		o.RetryWaitMin = waitMin
		o.RetryWaitMax = waitMax
		return nil
	}
}
