package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/tagbox-core/internal/jukebox"
	"github.com/nerrad567/tagbox-core/internal/mapping"
	"github.com/nerrad567/tagbox-core/internal/media"
)

// Error is the body of every non-Result failure.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeTooLarge    = "payload_too_large"
	ErrCodeUnavailable = "unavailable"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	json.NewEncoder(w).Encode(body) //nolint:errcheck // Client may have gone away
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, msg)
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, msg)
}

func writeInternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, msg)
}

// writeResult writes a control-plane result. The body is the result itself;
// the HTTP status reflects the kind of failure.
func writeResult(w http.ResponseWriter, res jukebox.Result) {
	writeJSON(w, resultStatus(res), res)
}

func resultStatus(res jukebox.Result) int {
	if res.OK() {
		return http.StatusOK
	}
	switch err := res.Err; {
	case errors.Is(err, media.ErrInvalidTrack),
		errors.Is(err, mapping.ErrInvalidEntry),
		errors.Is(err, jukebox.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrNotFound),
		errors.Is(err, mapping.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jukebox.ErrRead):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
