package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/florianilch/composr-connector/internal/lifecycle"
)

// StatusPath serves the local session status.
const StatusPath = "/_connector/status"

// SessionStatus reports the state of the authenticated session.
type SessionStatus interface {
	Authenticated() bool
	State() lifecycle.State
}

// StatusResponse is the body served at StatusPath.
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	State         string `json:"state"`
	Upstream      string `json:"upstream"`
}

// Proxy forwards local requests to the API with the session's credentials attached.
type Proxy struct {
	mux      *http.ServeMux
	server   *http.Server
	status   SessionStatus
	upstream *url.URL

	logRequests func(http.Handler) http.Handler
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a proxy forwarding every request below baseURL through rt.
// rt is expected to attach credentials, typically a *dispatch.RoundTripper.
func New(rt http.RoundTripper, baseURL string, status SessionStatus) (*Proxy, error) {
	upstream, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host required", baseURL)
	}
	if rt == nil {
		return nil, fmt.Errorf("missing round tripper")
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
		},
		// Flush as soon as the upstream does.
		FlushInterval: -1,
		Transport:     &HeaderFilterTransport{Base: rt},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.ErrorContext(r.Context(), "upstream request failed", "error", err)
			writeError(r.Context(), w, "upstream request failed", http.StatusBadGateway)
		},
	}

	p := &Proxy{
		mux:      http.NewServeMux(),
		status:   status,
		upstream: upstream,
	}

	p.logRequests = requestLogger(slog.Default())

	p.mux.Handle("GET "+StatusPath, p.withMiddleware(http.HandlerFunc(p.handleStatus)))
	p.mux.Handle("/", p.withMiddleware(reverseProxyHandler))

	return p, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

func (p *Proxy) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Upstream: p.upstream.String()}
	if p.status != nil {
		resp.Authenticated = p.status.Authenticated()
		resp.State = p.status.State().String()
	}
	writeJSON(r.Context(), w, resp, http.StatusOK)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: read entire client request
		WriteTimeout: 5 * time.Minute,  // Inbound: includes a possible token refresh and one resend
		IdleTimeout:  90 * time.Second, // Inbound: keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.InfoContext(ctx, "proxy listening", "address", listener.Addr().String(), "upstream", p.upstream.String())
	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
