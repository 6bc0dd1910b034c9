package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/dolmetscher/pkg/api"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type,
// method not allowed) are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// VerbatimError is implemented by errors that carry a complete upstream
// HTTP reply which must reach the client unchanged.
type VerbatimError interface {
	error
	HTTPStatus() int
	ContentType() string
	ResponseBody() []byte
}

// apiErrorer is implemented by errors that know their downstream rendering.
type apiErrorer interface {
	APIError() *api.APIError
}

// AsAPIError converts err into an APIError. Errors that are neither an
// APIError nor describe one become a generic server error.
func AsAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var described apiErrorer
	if errors.As(err, &described) {
		return described.APIError()
	}
	var verbatim VerbatimError
	if errors.As(err, &verbatim) {
		return &api.APIError{
			Type:    api.ErrorTypeServerError,
			Code:    http.StatusText(verbatim.HTTPStatus()),
			Message: verbatim.Error(),
		}
	}
	return api.NewServerError(err.Error())
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api. It sets the Content-Type header and writes
// the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteError writes any handler error before the response has started.
// Upstream replies are relayed with their own status, body and content
// type; everything else is rendered as an APIError.
func WriteError(w http.ResponseWriter, err error) {
	var verbatim VerbatimError
	if errors.As(err, &verbatim) {
		ct := verbatim.ContentType()
		if ct == "" {
			ct = "application/json"
		}
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(verbatim.HTTPStatus())
		w.Write(verbatim.ResponseBody())
		return
	}
	WriteAPIError(w, AsAPIError(err))
}
