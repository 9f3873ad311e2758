// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrDeclined     = errors.New("confirmation required")
	ErrUpstream     = errors.New("upstream call failed")
	ErrPayment      = errors.New("payment failed")
)

// CodedError attaches a stable machine-readable code to err.
type CodedError struct {
	Code string
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }

func (e *CodedError) Unwrap() error { return e.Err }

// WithCode wraps err with code.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Err: err}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	code := ""
	var coded *CodedError
	if errors.As(err, &coded) {
		code = coded.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		ProblemCode(w, http.StatusNotFound, "Not Found", code, err.Error())
	case errors.Is(err, ErrConflict):
		ProblemCode(w, http.StatusConflict, "Conflict", code, err.Error())
	case errors.Is(err, ErrValidation):
		ProblemCode(w, http.StatusUnprocessableEntity, "Validation Failed", code, err.Error())
	case errors.Is(err, ErrDeclined):
		ProblemCode(w, http.StatusPreconditionRequired, "Confirmation Required", code, err.Error())
	case errors.Is(err, ErrUnauthorized):
		ProblemCode(w, http.StatusUnauthorized, "Unauthorized", code, err.Error())
	case errors.Is(err, ErrPayment):
		ProblemCode(w, http.StatusPaymentRequired, "Payment Failed", code, err.Error())
	case errors.Is(err, ErrUpstream):
		ProblemCode(w, http.StatusBadGateway, "Upstream Failure", code, err.Error())
	default:
		ProblemCode(w, http.StatusInternalServerError, "Internal Error", code, "")
	}
}
