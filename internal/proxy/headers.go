package proxy

import (
	"net/http"
)

// allowedHeaders defines the client headers permitted to pass through to the API.
// Client credentials and cookies never leave the proxy; the session's own are attached downstream.
var allowedHeaders = map[string]bool{
	"Content-Type":    true,
	"Content-Length":  true,
	"Accept":          true,
	"Accept-Encoding": true,
	"Accept-Language": true,
	"If-None-Match":   true,
	"Deviceid":        true,

	// W3C Trace Context for distributed tracing correlation.
	"Traceparent": true,
	"Tracestate":  true,
}

// HeaderFilterTransport is an http.RoundTripper that drops every request header not explicitly allowed.
type HeaderFilterTransport struct {
	Base http.RoundTripper
}

// Compile-time check that HeaderFilterTransport implements http.RoundTripper.
var _ http.RoundTripper = (*HeaderFilterTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *HeaderFilterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	newReq := req.Clone(req.Context())
	newReq.Header = make(http.Header, len(req.Header))
	for key, values := range req.Header {
		if allowedHeaders[http.CanonicalHeaderKey(key)] {
			newReq.Header[key] = values
		}
	}

	return base.RoundTrip(newReq)
}
