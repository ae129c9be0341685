package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error at the point where it originates so callers can
// branch on a type match instead of inspecting messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAuth
	KindValidation
	KindPersistence
	KindRateLimited
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed, Status
// holds the HTTP status when the error came from a response.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindPersistence, KindRateLimited, KindServer:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable is the default retryability classification.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

func NewNetworkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func NewAuthError(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

func NewValidationError(op string, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message, Err: ErrorValidation}
}

func NewPersistenceError(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// NewHTTPError classifies a non-2xx response by status code.
func NewHTTPError(op string, status int, message string) *Error {
	e := &Error{Op: op, Status: status, Message: message}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
		e.Err = ErrorUnauthorized
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == http.StatusRequestTimeout:
		e.Kind = KindNetwork
	case status >= 500:
		e.Kind = KindServer
	case status >= 400:
		e.Kind = KindValidation
		e.Err = ErrorValidation
	default:
		e.Kind = KindUnknown
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
