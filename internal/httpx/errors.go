// Package httpx holds the HTTP middleware and response helpers shared by
// the service routers: a uniform error envelope, observability, audit
// logging, and idempotency replay. It also holds rate-limiting and CORS
// middleware, which no service router mounts.
package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorKind classifies an error response per the error handling design:
// validation/auth/conflict/not_found/transient/fatal.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindAuth       ErrorKind = "auth"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindTransient  ErrorKind = "transient"
	KindFatal      ErrorKind = "fatal"
)

// Error is an application error carrying the HTTP status and kind to report.
type Error struct {
	Status  int
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func NewError(status int, kind ErrorKind, message string) *Error {
	return &Error{Status: status, Kind: kind, Message: message}
}

func Validation(message string) *Error { return NewError(http.StatusBadRequest, KindValidation, message) }
func Auth(message string) *Error       { return NewError(http.StatusUnauthorized, KindAuth, message) }
func Forbidden(message string) *Error  { return NewError(http.StatusForbidden, KindAuth, message) }
func Conflict(message string) *Error   { return NewError(http.StatusConflict, KindConflict, message) }
func NotFound(message string) *Error   { return NewError(http.StatusNotFound, KindNotFound, message) }
func Fatal(message string) *Error      { return NewError(http.StatusInternalServerError, KindFatal, message) }

// envelope is the uniform JSON error shape: {"error": <kind>, "message": <text>}.
type envelope struct {
	Error   ErrorKind `json:"error"`
	Message string    `json:"message"`
}

// WriteError writes err (an *Error, or any other error treated as fatal) as
// the uniform envelope, grounded on services/escrow-gateway/server.go's
// writeError helper.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*Error)
	if !ok {
		appErr = Fatal(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	_ = json.NewEncoder(w).Encode(envelope{Error: appErr.Kind, Message: appErr.Message})
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes the request body into v, returning a validation error
// on malformed JSON.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return Validation("malformed request body: " + err.Error())
	}
	return nil
}
