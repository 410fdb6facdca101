package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/ctxlog"
)

// writeJSON renders body as a JSON response. An encoding failure happens
// after the status line has been sent, so it can only be logged.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		ctxlog.From(context.Background()).Error("Failed to encode response", "error", err)
	}
}

// writeError renders an error as `{"error": "..."}` with the given status.
func writeError(w http.ResponseWriter, err error, status int) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
