package proxy

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// recoverPanics turns a handler panic into a 500 so the connection is not torn down mid-session.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.ErrorContext(r.Context(), "proxy handler panicked", "panic", v, "path", r.URL.Path)
				writeError(r.Context(), w, "internal proxy error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// requestLogger records one concise ECS line per proxied call. Only non-secret request headers
// are included; bodies and response headers are left out.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		LogRequestHeaders:  []string{"Content-Type", "Origin", "Deviceid"},
		LogResponseHeaders: []string{},

		RecoverPanics: false,
	})
}

// withMiddleware wraps h so that requests pass through the logger first and then panic recovery.
func (p *Proxy) withMiddleware(h http.Handler) http.Handler {
	return p.logRequests(recoverPanics(h))
}
