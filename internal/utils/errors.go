package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failure for the workflows that surface it.
type ErrorKind string

const (
	// KindNetwork marks transport failures: connection refused, DNS, reset.
	KindNetwork ErrorKind = "network"
	// KindService marks a non-2xx response from the classification service.
	KindService ErrorKind = "service"
	// KindParse marks a 2xx response that lacks required fields.
	KindParse ErrorKind = "parse"
	// KindPrecondition marks an operation invoked without its inputs.
	KindPrecondition ErrorKind = "precondition"
	// KindTimeout marks a request that exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
)

// AppError wraps an operation, a failure kind, a human-facing message, and underlying error.
type AppError struct {
	Op   string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op string, kind ErrorKind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of err. Errors that carry no AppError are
// classified from the transport error chain, falling back to KindNetwork.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	if IsTimeout(err) {
		return KindTimeout
	}
	return KindNetwork
}

// MessageOf returns the human-facing message of err, or fallback.
func MessageOf(err error, fallback string) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Msg != "" {
		return appErr.Msg
	}
	return fallback
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
