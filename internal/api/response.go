// Package api provides HTTP response utilities for KolpingBot.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// HeaderRequestID echoes the id assigned by middleware.RequestID back to the caller.
const HeaderRequestID = "X-Request-Id"

// fallbackErrorResponse is sent when a payload cannot be encoded.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse encodes payload before touching the headers, so an encoding
// failure still produces a well-formed 500. The request id, when present, is set
// on the response and attached to any log line.
func writeJSONResponse(w http.ResponseWriter, r *http.Request, statusCode int, payload any) {
	reqID := middleware.GetReqID(r.Context())
	if reqID != "" {
		w.Header().Set(HeaderRequestID, reqID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "request_id", reqID, "path", r.URL.Path, "error", err)
		data = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "request_id", reqID, "status", statusCode, "error", err)
	}
}
