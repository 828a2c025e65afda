// Package httpjson writes JSON responses and the shared error envelope.
package httpjson

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the error envelope every HTTP failure uses
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Write encodes v with the given status code
func Write(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Error writes the error envelope
func Error(w http.ResponseWriter, code int, message string) {
	Write(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
