package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const maxResponseBodySize = 1 << 20 // 1MB

// pooled transport limits; the site is a single host and we never need more
// than MaxWorkers concurrent connections to it
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// DefaultUserAgent is sent with every request unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Request describes one call to the booking site. A non-nil Form is sent as
// an urlencoded body.
type Request struct {
	Method  string
	URL     string
	Form    url.Values
	Headers map[string]string
}

// Response holds the result of a [Client] call.
type Response struct {
	// Body is limited to 1MB.
	Body []byte

	// StatusCode is zero if the request failed before a response arrived.
	StatusCode int

	Latency time.Duration

	// Error is set when the request could not be completed. A non-2xx status
	// is not an error at this level.
	Error error
}

// Client is an HTTP client wrapper for the booking site.
//
// Timeouts are applied per call via context. Clients derived with
// [Client.WithJar] share the connection pool of their parent.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a [Client] with a pooled transport.
func NewClient() *Client {
	return NewClientFrom(&http.Client{
		// no global timeout, every call carries its own
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        defaultMaxIdleConns,
			MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
			MaxConnsPerHost:     defaultMaxConnsPerHost,
			IdleConnTimeout:     defaultIdleConnTimeout,
		},
	})
}

// NewClientFrom wraps an existing *http.Client.
func NewClientFrom(hc *http.Client) *Client {
	return &Client{httpClient: hc, userAgent: DefaultUserAgent}
}

// WithUserAgent returns a copy of c that sends ua.
func (c *Client) WithUserAgent(ua string) *Client {
	cp := *c
	cp.userAgent = ua
	return &cp
}

// WithJar returns a copy of c that keeps cookies in a fresh jar. The copy
// shares the transport, so connections are still pooled.
func (c *Client) WithJar() (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	hc := *c.httpClient
	hc.Jar = jar
	return &Client{httpClient: &hc, userAgent: c.userAgent}, nil
}

// Do performs req under timeout and returns a structured [Response].
//
// Do always returns a Response; errors are captured in its Error field.
func (c *Client) Do(ctx context.Context, req Request, timeout time.Duration) Response {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.Form != nil {
			method = http.MethodPost
		}
	}

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:       data,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
}

// Close releases idle connections. The client stays usable. Safe to call
// multiple times and on a nil client.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
