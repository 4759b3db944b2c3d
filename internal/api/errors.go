package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/sangam/internal/artifact"
	"github.com/kalambet/sangam/internal/conversation"
	"github.com/kalambet/sangam/internal/extract"
	"github.com/kalambet/sangam/internal/pipeline"
	"github.com/kalambet/sangam/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// serviceError maps a domain error to its HTTP status and error type.
func serviceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, extract.ErrInvalidInput), errors.Is(err, artifact.ErrInvalidKey):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, artifact.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, conversation.ErrIndexing):
		httpError(w, http.StatusConflict, "not_ready", "%v", err)
	case errors.Is(err, pipeline.ErrUpstream):
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
	case errors.Is(err, artifact.ErrCorrupt):
		httpError(w, http.StatusInternalServerError, "corrupt_artifact", "%s failed: stored content is damaged", op)
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "api_error", "%s timed out", op)
	default:
		slog.Error("request failed", "op", op, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%s failed: %v", op, err)
	}
}
