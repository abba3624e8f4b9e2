// Package apperr defines the error taxonomy surfaced by domain operations.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind int

const (
	Internal Kind = iota
	Unauthenticated
	PermissionDenied
	InvalidState
	NotFound
	RateLimited
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case PermissionDenied:
		return "permission_denied"
	case InvalidState:
		return "invalid_state"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	case InvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

// Error is a classified domain error.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, apperr.E(NotFound)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// New builds an error of kind k.
func New(k Kind, op, message string) *Error {
	return &Error{Kind: k, Op: op, Message: message}
}

// Wrap classifies err under kind k. Internal errors are retryable.
func Wrap(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err, Retryable: k == Internal}
}

// E returns a bare sentinel for errors.Is comparisons.
func E(k Kind) *Error {
	return &Error{Kind: k}
}

// KindOf extracts the kind of err, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsRetryable reports whether the failed operation may be retried.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
