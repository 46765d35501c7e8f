// Package apperr defines the error taxonomy shared by the settlement engine.
//
// Every error that crosses a package boundary is an *Error tagged with a Kind.
// Callers dispatch on the Kind (never on concrete error types) and on the
// Retryable flag, which the retry policy honours before any other heuristic.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies an error.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindTransientLedger
	KindLedgerRejected
	KindCircuitOpen
	KindRollbackFailure
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransientLedger:
		return "transient_ledger"
	case KindLedgerRejected:
		return "ledger_rejected"
	case KindCircuitOpen:
		return "circuit_open"
	case KindRollbackFailure:
		return "rollback_failure"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a kind to the status code the HTTP surface responds with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransientLedger:
		return http.StatusBadGateway
	case KindLedgerRejected:
		return http.StatusUnprocessableEntity
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindRollbackFailure, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// retryableByDefault reports whether errors of this kind are retried unless
// the constructor says otherwise.
func (k Kind) retryableByDefault() bool {
	switch k {
	case KindTransientLedger, KindCircuitOpen:
		return true
	case KindInternal, KindValidation, KindAuthorization, KindNotFound,
		KindConflict, KindLedgerRejected, KindRollbackFailure:
		return false
	default:
		return false
	}
}

// Error is a classified error carrying structured context.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Context   map[string]any
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString("]")
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// With attaches a context value and returns the same error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates an error of the given kind with the kind's default retry flag.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: kind.retryableByDefault(),
	}
}

// Newf is New with a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	e.Err = cause
	return e
}

func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return Newf(KindAuthorization, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Newf(KindConflict, format, args...)
}

func Internal(cause error, message string) *Error {
	return Wrap(KindInternal, cause, message)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsRetryable reports whether err is a classified error marked retryable.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}
