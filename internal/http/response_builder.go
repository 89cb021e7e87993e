// Package http serves the ledger and scheduler JSON API.
//
// This file holds the response builder and the mapping from domain error
// kinds to HTTP status codes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"splitledger/internal/core"
	applog "splitledger/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A nil body writes no content.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

// Error codes returned in the error body.
const (
	CodeInvalidActionDefinition = "invalid_action_definition"
	CodeInvalidEntry            = "invalid_entry"
	CodeInvalidPageCursor       = "invalid_page_cursor"
	CodeInvalidRequest          = "invalid_request"
	CodeNotFound                = "not_found"
	CodeAlreadyDeleted          = "already_deleted"
	CodeAlreadyExists           = "already_exists"
	CodeConcurrentUpdate        = "concurrent_update"
	CodeConcurrentClaimLost     = "concurrent_claim_lost"
	CodeOccurrenceExecuted      = "occurrence_executed"
	CodeInconsistentEntry       = "inconsistent_entry"
	CodeRateLimited             = "rate_limited"
	CodeUnavailable             = "unavailable"
	CodeInternal                = "internal_error"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse creates a response with the standard error body.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: errorDetail{Code: code, Message: message}})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, CodeInvalidRequest, message)
}

var errorKinds = []struct {
	kind   error
	status int
	code   string
}{
	{core.ErrInvalidActionDefinition, http.StatusBadRequest, CodeInvalidActionDefinition},
	{core.ErrInvalidEntry, http.StatusBadRequest, CodeInvalidEntry},
	{core.ErrInvalidAmount, http.StatusBadRequest, CodeInvalidEntry},
	{core.ErrInvalidPageCursor, http.StatusBadRequest, CodeInvalidPageCursor},
	{core.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{core.ErrAlreadyDeleted, http.StatusConflict, CodeAlreadyDeleted},
	{core.ErrAlreadyExists, http.StatusConflict, CodeAlreadyExists},
	{core.ErrConcurrentUpdate, http.StatusConflict, CodeConcurrentUpdate},
	{core.ErrConcurrentClaimLost, http.StatusConflict, CodeConcurrentClaimLost},
	{core.ErrOccurrenceExecuted, http.StatusConflict, CodeOccurrenceExecuted},
	{core.ErrInconsistentEntry, http.StatusUnprocessableEntity, CodeInconsistentEntry},
}

// statusFor maps an error to its status code and error code.
func statusFor(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			return k.status, k.code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, CodeUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeError renders err. Internal errors are logged and their text hidden.
func writeError(w http.ResponseWriter, r *http.Request, component string, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		applog.LogError(r.Context(), "Request failed", err, component, r.Pattern,
			applog.NewFields().WithErrorCode(code))
		msg = http.StatusText(status)
	}
	ErrorResponse(status, code, msg).Write(w)
}
