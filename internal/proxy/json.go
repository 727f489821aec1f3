package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorBody is what the proxy answers with when it cannot produce an upstream response.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// writeJSON sends data as the response body. The status line is already out when encoding
// runs, so a failed encode is only logged.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	writeJSON(ctx, w, errorBody{Error: message, Status: status}, status)
}
