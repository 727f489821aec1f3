package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/composr-connector/internal/authrequest"
	"github.com/florianilch/composr-connector/internal/tokenstore"
	"github.com/florianilch/composr-connector/internal/transport"
)

// TokenProvider supplies access tokens. It is satisfied by *lifecycle.Lifecycle.
type TokenProvider interface {
	GetCurrentToken(ctx context.Context) (string, error)
	RefreshUserToken(ctx context.Context) (tokenstore.UserToken, error)
	Authenticated() bool
}

// RequestSpec describes a single API call.
type RequestSpec struct {
	// Endpoint is a name from the endpoint table, or a literal path when the name is unknown.
	Endpoint string
	Method   string
	Params   url.Values
	// Data is encoded as the JSON request body when non-nil.
	Data             any
	HeadersExtension map[string]string
}

// Dispatcher sends requests with the current access token attached.
type Dispatcher struct {
	tokens     TokenProvider
	transport  transport.Transport
	baseURL    string
	endpoints  map[string]string
	propagator propagation.TextMapPropagator
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTransport sets the transport used to send requests.
// If not provided, a default HTTPTransport is used.
func WithTransport(t transport.Transport) Option {
	return func(d *Dispatcher) {
		d.transport = t
	}
}

// WithEndpoints sets the endpoint name to path table.
func WithEndpoints(endpoints map[string]string) Option {
	return func(d *Dispatcher) {
		d.endpoints = endpoints
	}
}

// WithPropagator sets the propagator injecting trace context into outgoing requests.
// If not provided, the global propagator is used.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(d *Dispatcher) {
		d.propagator = p
	}
}

// New creates a Dispatcher sending requests relative to baseURL.
func New(tokens TokenProvider, baseURL string, opts ...Option) (*Dispatcher, error) {
	if tokens == nil {
		return nil, fmt.Errorf("missing token provider")
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	d := &Dispatcher{
		tokens:  tokens,
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.transport == nil {
		d.transport = transport.NewHTTPTransport()
	}
	if d.propagator == nil {
		d.propagator = otel.GetTextMapPropagator()
	}
	return d, nil
}

// Dispatch sends the request with the current token. A 401 response under an authenticated user
// session triggers one token refresh and one resend when allowRetry is set; the resend's outcome
// is returned as-is. Any other failure is returned unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, spec RequestSpec, allowRetry bool) (*transport.Response, error) {
	req, err := d.buildRequest(spec)
	if err != nil {
		return nil, err
	}

	token, err := d.tokens.GetCurrentToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring access token: %w", err)
	}

	resp, err := d.send(ctx, req, token)
	if err == nil {
		return resp, nil
	}
	if !allowRetry || !IsUnauthorized(err) || !d.tokens.Authenticated() {
		return nil, err
	}

	slog.DebugContext(ctx, "request unauthorized, refreshing user token", "method", req.Method, "url", req.URL)
	refreshed, refreshErr := d.tokens.RefreshUserToken(ctx)
	if refreshErr != nil {
		return nil, fmt.Errorf("refreshing user token after unauthorized response: %w", refreshErr)
	}

	return d.send(ctx, req, refreshed.AccessToken)
}

// Get sends a GET request with query params.
func (d *Dispatcher) Get(ctx context.Context, endpoint string, params url.Values) (*transport.Response, error) {
	return d.Dispatch(ctx, RequestSpec{Method: http.MethodGet, Endpoint: endpoint, Params: params}, true)
}

// Delete sends a DELETE request with query params.
func (d *Dispatcher) Delete(ctx context.Context, endpoint string, params url.Values) (*transport.Response, error) {
	return d.Dispatch(ctx, RequestSpec{Method: http.MethodDelete, Endpoint: endpoint, Params: params}, true)
}

// Post sends a POST request with a JSON body.
func (d *Dispatcher) Post(ctx context.Context, endpoint string, data any) (*transport.Response, error) {
	return d.Dispatch(ctx, RequestSpec{Method: http.MethodPost, Endpoint: endpoint, Data: data}, true)
}

// Put sends a PUT request with a JSON body.
func (d *Dispatcher) Put(ctx context.Context, endpoint string, data any) (*transport.Response, error) {
	return d.Dispatch(ctx, RequestSpec{Method: http.MethodPut, Endpoint: endpoint, Data: data}, true)
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	var statusErr *transport.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized
}

// ResolvePath maps an endpoint name to its path, falling back to the name itself.
func (d *Dispatcher) ResolvePath(endpoint string) string {
	if path, ok := d.endpoints[endpoint]; ok {
		return path
	}
	return endpoint
}

// buildRequest prepares everything but the credential, so a resend reuses the same request.
func (d *Dispatcher) buildRequest(spec RequestSpec) (*transport.Request, error) {
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodGet
	}

	target := authrequest.JoinURL(d.baseURL, d.ResolvePath(spec.Endpoint))
	if len(spec.Params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + spec.Params.Encode()
	}

	var body []byte
	if spec.Data != nil {
		var err error
		if body, err = json.Marshal(spec.Data); err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	header := transport.JSONHeaders()
	for key, value := range spec.HeadersExtension {
		header.Set(key, value)
	}

	return &transport.Request{
		URL:    target,
		Method: method,
		Header: header,
		Body:   body,
	}, nil
}

func (d *Dispatcher) send(ctx context.Context, req *transport.Request, token string) (*transport.Response, error) {
	out := *req
	out.Header = req.Header.Clone()
	out.Header.Set("Authorization", "Bearer "+token)
	d.propagator.Inject(ctx, propagation.HeaderCarrier(out.Header))

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		slog.DebugContext(ctx, "dispatching request", "method", out.Method, "url", out.URL, "trace_id", sc.TraceID().String())
	}

	return d.transport.Send(ctx, &out)
}
