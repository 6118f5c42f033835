package server

import (
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/odvcencio/qapilot/pkg/errors"
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	if r.Body == nil {
		return nil, http.StatusBadRequest, fmt.Errorf("request body required")
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSuiteBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if stdliberrors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxSuiteBytes)
		}
		return nil, http.StatusBadRequest, err
	}
	return data, 0, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	response := struct {
		Error     string `json:"error"`
		Status    int    `json:"status"`
		Code      string `json:"code,omitempty"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}{
		Error:     http.StatusText(status),
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if qErr, ok := apperrors.As(err); ok {
		response.Code = string(qErr.Code)
		response.Message = apperrors.UserMessageOf(err)
	} else if err != nil {
		response.Message = err.Error()
	}
	respondJSON(w, status, response)
}
