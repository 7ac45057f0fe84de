package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/epidata/client"
	"github.com/bascanada/epidata/pkg/epidata/client/config"
	"github.com/bascanada/epidata/pkg/epidata/factory"
	"github.com/bascanada/epidata/pkg/query"
)

// APIError is a standardized error response structure.
type APIError struct {
	Message string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

const (
	ErrCodeContextNotFound   = "CONTEXT_NOT_FOUND"
	ErrCodeInvalidQuery      = "INVALID_QUERY"
	ErrCodeRemoteError       = "REMOTE_ERROR"
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBackendError      = "BACKEND_ERROR"
	ErrCodeConfigError       = "CONFIG_ERROR"
	ErrCodeValidationError   = "VALIDATION_ERROR"
)

// writeJSON writes a JSON response with a given status code.
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to write json response", "err", err)
	}
}

// writeError writes a standardized APIError response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	s.writeJSON(w, statusCode, APIError{
		Code:    code,
		Message: message,
	})
}

// writeEngineError maps an error of the query path to a response. Engine
// messages are passed through verbatim.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status, apiErr := toAPIError(err)
	s.writeJSON(w, status, apiErr)
}

func toAPIError(err error) (int, APIError) {
	var remote *bridge.RemoteError
	switch {
	case errors.As(err, &remote):
		details := map[string]interface{}{"method": remote.Method}
		if remote.Code != "" {
			details["engineCode"] = remote.Code
		}
		return http.StatusBadGateway, APIError{Message: remote.Message, Code: ErrCodeRemoteError, Details: details}
	case errors.Is(err, config.ErrContextNotFound):
		return http.StatusNotFound, APIError{Message: err.Error(), Code: ErrCodeContextNotFound}
	case errors.Is(err, query.ErrUnsupportedValue),
		errors.Is(err, query.ErrInvalidField),
		errors.Is(err, query.ErrMissingBegin),
		errors.Is(err, query.ErrInvalidRange),
		errors.Is(err, client.ErrUnknownKind),
		errors.Is(err, factory.ErrNoEngine):
		return http.StatusBadRequest, APIError{Message: err.Error(), Code: ErrCodeInvalidQuery}
	case errors.Is(err, bridge.ErrLaunch), errors.Is(err, bridge.ErrClosed):
		return http.StatusServiceUnavailable, APIError{Message: err.Error(), Code: ErrCodeEngineUnavailable}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, APIError{Message: err.Error(), Code: ErrCodeTimeout}
	}
	return http.StatusInternalServerError, APIError{Message: err.Error(), Code: ErrCodeBackendError}
}
