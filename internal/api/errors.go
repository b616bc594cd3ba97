package api

import (
	"encoding/json"
	"net/http"

	"github.com/alert-engine/internal/alerterr"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: errorBody{Code: code, Message: message}})
}

// parseJSONBody parses a JSON request body, rejecting unknown fields.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// mapError maps a coded error to an HTTP status, code and message.
func mapError(err error) (int, string, string) {
	code := alerterr.CodeOf(err)
	switch code {
	case alerterr.CodeNotFound:
		return http.StatusNotFound, string(code), err.Error()
	case alerterr.CodeConflict:
		return http.StatusConflict, string(code), err.Error()
	case alerterr.CodeQuotaExceeded:
		return http.StatusForbidden, string(code), err.Error()
	case alerterr.CodeMalformedCondition:
		return http.StatusBadRequest, string(code), err.Error()
	case alerterr.CodeThrottled:
		return http.StatusTooManyRequests, string(code), err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
	}
}

func respondMappedError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	respondError(w, status, code, message)
}
