// Package transport sends JSON requests to the API and classifies responses by status code.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single round-trip, since pending auth operations are never cancelled otherwise.
const DefaultTimeout = 30 * time.Second

// Request is a fully built outgoing call.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// StatusError is returned for any response outside [200,300).
type StatusError struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("unexpected response status: %s", e.Status)
	}
	return fmt.Sprintf("unexpected response status: %d", e.StatusCode)
}

// Transport sends a request and returns its successful response or a *StatusError.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

// Compile-time check to ensure HTTPTransport implements Transport
var _ Transport = (*HTTPTransport)(nil)

// Option configures an HTTPTransport.
type Option func(*http.Client)

// WithBaseTransport sets the RoundTripper used for requests.
// If not provided, http.DefaultTransport is used.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *http.Client) {
		c.Transport = rt
	}
}

// WithCookieJar attaches a jar so server-set session cookies are stored and replayed.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *http.Client) {
		c.Jar = jar
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *http.Client) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(opts ...Option) *HTTPTransport {
	client := &http.Client{
		Timeout:   DefaultTimeout,
		Transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(client)
	}
	return &HTTPTransport{client: client}
}

// Send performs the request. Non-2xx responses are returned as *StatusError carrying the body.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for key, values := range req.Header {
		httpReq.Header[key] = values
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header,
			Body:       data,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// RoundTripper returns an http.RoundTripper that shares the transport's cookie jar and timeout.
// Redirects are handed back to the caller instead of being followed.
func (t *HTTPTransport) RoundTripper() http.RoundTripper {
	client := *t.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &clientRoundTripper{client: &client}
}

type clientRoundTripper struct {
	client *http.Client
}

func (rt *clientRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.RequestURI != "" {
		req = req.Clone(req.Context())
		req.RequestURI = ""
	}
	return rt.client.Do(req)
}

// JSONHeaders returns the Accept and Content-Type headers every API call carries.
func JSONHeaders() http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json; charset=utf-8")
	return h
}
