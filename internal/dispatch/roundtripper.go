package dispatch

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// RoundTripper applies the dispatch retry policy to arbitrary HTTP requests.
// Request bodies are buffered so they can be replayed on the retry.
type RoundTripper struct {
	Tokens TokenProvider
	// Base is the underlying transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

// Compile-time check to ensure RoundTripper implements http.RoundTripper
var _ http.RoundTripper = (*RoundTripper)(nil)

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffering request body: %w", err)
		}
	}

	token, err := rt.Tokens.GetCurrentToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring access token: %w", err)
	}

	resp, err := rt.base().RoundTrip(rt.withToken(req, body, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !rt.Tokens.Authenticated() {
		return resp, err
	}

	refreshed, err := rt.Tokens.RefreshUserToken(ctx)
	if err != nil {
		slog.WarnContext(ctx, "user token refresh failed, returning unauthorized response", "error", err)
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return rt.base().RoundTrip(rt.withToken(req, body, refreshed.AccessToken))
}

func (rt *RoundTripper) withToken(req *http.Request, body []byte, token string) *http.Request {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}
	out.Header.Set("Authorization", "Bearer "+token)
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(out.Header))
	return out
}

func (rt *RoundTripper) base() http.RoundTripper {
	if rt.Base != nil {
		return rt.Base
	}
	return http.DefaultTransport
}
