package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"clinic-secops/internal/service"
	"clinic-secops/internal/util"
)

const (
	codeValidation        = "VALIDATION_ERROR"
	codeUnauthorized      = "UNAUTHORIZED"
	codeForbidden         = "FORBIDDEN"
	codeNotFound          = "NOT_FOUND"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeInvalidCode       = "INVALID_CODE"
	codeNotConfigured     = "NOT_CONFIGURED"
	codeRateLimited       = "RATE_LIMITED"
	codeInternal          = "INTERNAL_ERROR"

	internalMessage = "An internal error occurred"
)

// Request is the action-discriminated body of every component endpoint.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type Response struct {
	Data  interface{}  `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Response{Data: data})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, Response{Error: &ErrorDetail{Code: code, Message: message}})
}

// classify maps an error to its HTTP status and stable code. Store and driver text never
// reaches the caller.
func classify(err error) (int, string, string) {
	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(err, service.ErrValidation):
		status, code = http.StatusBadRequest, codeValidation
	case errors.Is(err, service.ErrUnauthorized):
		status, code = http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, service.ErrForbidden):
		status, code = http.StatusForbidden, codeForbidden
	case errors.Is(err, service.ErrNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, service.ErrInvalidTransition):
		status, code = http.StatusConflict, codeInvalidTransition
	case errors.Is(err, service.ErrInvalidCode):
		status, code = http.StatusBadRequest, codeInvalidCode
	case errors.Is(err, service.ErrNotConfigured):
		status, code = http.StatusConflict, codeNotConfigured
	}

	if code == codeInternal {
		return status, code, internalMessage
	}
	message := service.PublicMessage(err)
	if message == "" {
		message = http.StatusText(status)
	}
	return status, code, message
}
