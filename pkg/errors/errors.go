// Package errors carries coded application errors from the stores up to
// the management API, where the code picks the HTTP status and the body.
package errors

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
	ErrCapacity           = NewError("CAPACITY_EXCEEDED", "capacity exceeded", http.StatusTooManyRequests)
	ErrConfiguration      = NewError("CONFIGURATION_ERROR", "invalid configuration", http.StatusUnprocessableEntity)
)

// permanent codes describe the input, so repeating the call cannot help.
var permanent = map[string]bool{
	ErrValidation.Code:    true,
	ErrNotFound.Code:      true,
	ErrConfiguration.Code: true,
}

// ErrorResponse is the JSON body returned by the management API on failure.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// FatalError is implemented by errors that know whether a retry is futile.
type FatalError interface {
	error
	IsFatal() bool
}

// Error values are immutable; the With and As methods return copies, so the
// package sentinels can be decorated freely.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
	fatal   *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func (e *Error) Error() string {
	msg := e.Message
	if detail, ok := e.Details["message"].(string); ok && detail != "" {
		msg = detail
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFatal is decided, in order, by AsFatal/AsRetryable, by a FatalError
// cause, and finally by whether the code is permanent.
func (e *Error) IsFatal() bool {
	if e.fatal != nil {
		return *e.fatal
	}
	var cause FatalError
	if e.Cause != nil && errors.As(e.Cause, &cause) {
		return cause.IsFatal()
	}
	return permanent[e.Code]
}

func (e *Error) IsRetryable() bool {
	return !e.IsFatal()
}

func (e *Error) clone() *Error {
	c := *e
	c.Details = maps.Clone(e.Details)
	return &c
}

func (e *Error) WithCause(cause error) *Error {
	c := e.clone()
	c.Cause = cause
	return c
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	c := e.clone()
	if c.Details == nil {
		c.Details = make(map[string]interface{}, 1)
	}
	c.Details[key] = value
	return c
}

func (e *Error) AsRetryable() *Error {
	return e.withFatal(false)
}

func (e *Error) AsFatal() *Error {
	return e.withFatal(true)
}

func (e *Error) withFatal(fatal bool) *Error {
	c := e.clone()
	c.fatal = &fatal
	return c
}

// Wrap attaches err as the cause of appErr; a nil err stays nil.
func Wrap(err error, appErr *Error) error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// IsCode reports whether err wraps an *Error with the given code.
func IsCode(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool           { return IsCode(err, ErrNotFound.Code) }
func IsValidation(err error) bool         { return IsCode(err, ErrValidation.Code) }
func IsConflict(err error) bool           { return IsCode(err, ErrConflict.Code) }
func IsCapacity(err error) bool           { return IsCode(err, ErrCapacity.Code) }
func IsConfiguration(err error) bool      { return IsCode(err, ErrConfiguration.Code) }
func IsServiceUnavailable(err error) bool { return IsCode(err, ErrServiceUnavailable.Code) }

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse renders err for an API client. Uncoded errors become a
// bare INTERNAL_ERROR so their text is not exposed.
func ToErrorResponse(err error) ErrorResponse {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}
	resp := ErrorResponse{Error: appErr.Message, ErrorCode: appErr.Code}
	if len(appErr.Details) > 0 {
		resp.Details = appErr.Details
	}
	return resp
}
