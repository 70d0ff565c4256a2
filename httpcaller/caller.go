// Package httpcaller provides a lifecycle-aware rrio.Caller that performs HTTP requests.
// Each worker gets its own Caller, whose *http.Client is created in Setup and whose idle
// connections are closed in Teardown.
package httpcaller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JohnPlummer/jp-go-rrio"
)

const (
	// DefaultTimeout bounds a whole HTTP exchange, including reading the body.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes = 1 << 20
)

var errNotSetUp = errors.New("http caller used before setup")

// Request describes one HTTP request.
type Request struct {
	Method string            `json:"method,omitempty"`
	URL    string            `json:"url"`
	Header map[string]string `json:"header,omitempty"`
	Body   string            `json:"body,omitempty"`
}

// Response is the result of a successful HTTP request.
type Response struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Caller performs HTTP requests. It implements rrio.Caller and rrio.SetupTeardown; it must
// be set up before use and is owned by a single worker.
type Caller struct {
	timeout      time.Duration
	maxBodyBytes int64
	userAgent    string
	transport    http.RoundTripper

	client *http.Client
}

// Option configures a Caller.
type Option func(*Caller)

// WithTimeout sets the client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Caller) {
		c.timeout = timeout
	}
}

// WithMaxBodyBytes caps how much of each response body is kept.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Caller) {
		c.maxBodyBytes = n
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Caller) {
		c.userAgent = ua
	}
}

// WithTransport sets the transport used by the client built in Setup.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Caller) {
		c.transport = rt
	}
}

// New creates a Caller. It holds no client until Setup.
func New(opts ...Option) *Caller {
	c := &Caller{
		timeout:      DefaultTimeout,
		maxBodyBytes: DefaultMaxBodyBytes,
		userAgent:    "rrio-httpcaller",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory returns a CallerFactory building a fresh Caller for every worker.
//
// Example:
//
//	t, err := rrio.New(httpcaller.Factory(httpcaller.WithTimeout(5*time.Second)),
//	    rrio.WithWorkers(8),
//	)
func Factory(opts ...Option) rrio.CallerFactory[Request, Response] {
	return func() rrio.Caller[Request, Response] {
		return New(opts...)
	}
}

// Setup implements rrio.SetupTeardown.
func (c *Caller) Setup(_ context.Context) error {
	transport := c.transport
	if transport == nil {
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return errors.New("default transport is not an *http.Transport")
		}
		transport = base.Clone()
	}
	c.client = &http.Client{
		Timeout:   c.timeout,
		Transport: transport,
	}
	return nil
}

// Teardown implements rrio.SetupTeardown.
func (c *Caller) Teardown(_ context.Context) error {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	return nil
}

// Call implements rrio.Caller. Responses with status 400 or above are returned as
// rrio.StatusCodeError so the transform's classifier can map them to failure kinds.
func (c *Caller) Call(ctx context.Context, req Request) (Response, error) {
	if c.client == nil {
		return Response{}, rrio.Terminal(errNotSetUp)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != "" {
		body = bytes.NewBufferString(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Response{}, rrio.Terminal(fmt.Errorf("invalid request: %w", err))
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("User-Agent") == "" && c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBodyBytes+1))
	if err != nil {
		return Response{}, rrio.RemoteSystem(fmt.Errorf("failed to read response body: %w", err))
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		return Response{}, rrio.NewStatusCodeError(httpResp.StatusCode,
			fmt.Errorf("%s %s: %s", method, req.URL, httpResp.Status))
	}

	truncated := int64(len(data)) > c.maxBodyBytes
	if truncated {
		data = data[:c.maxBodyBytes]
	}
	return Response{
		URL:         req.URL,
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        string(data),
		Truncated:   truncated,
	}, nil
}
