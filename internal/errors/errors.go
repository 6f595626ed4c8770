// Package errors defines the typed error taxonomy shared across the
// ingestion, compliance, and scheduling pipelines, plus the sanitization
// and aggregation helpers the platform uses before anything reaches a log
// sink or a caller.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing policy.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindConfig         Kind = "CONFIG_ERROR"
	KindCrypto         Kind = "CRYPTO_ERROR"
	KindIntegrity      Kind = "INTEGRITY_ERROR"
	KindNetwork        Kind = "NETWORK_ERROR"
	KindDatabase       Kind = "DATABASE_ERROR"
	KindQueue          Kind = "QUEUE_ERROR"
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	KindAuthorization  Kind = "AUTHORIZATION_ERROR"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindInternal       Kind = "INTERNAL"
)

// Retryable reports whether errors of this kind should be retried with
// backoff rather than surfaced immediately. See spec §7 propagation policy.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindDatabase, KindQueue:
		return true
	default:
		return false
	}
}

// Error wraps a Kind with a component, message, offending field paths
// (for VALIDATION_ERROR), and an optional cause.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Fields    []string
	Cause     error
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap attaches a Kind and component to an existing error.
func Wrap(kind Kind, component string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: cause.Error(), Cause: cause}
}

// Validation builds a VALIDATION_ERROR carrying offending field paths.
func Validation(component, message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Component: component, Message: message, Fields: fields}
}

// KindOf extracts the Kind from err, defaulting to INTERNAL when err does
// not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether err should be retried per spec §7.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
