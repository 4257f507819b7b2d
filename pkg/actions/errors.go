package actions

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an action failure. Every kind maps to a stable,
// machine-checkable status code.
type Kind string

const (
	// KindConfiguration: no usable connector, or connector listing failed.
	KindConfiguration Kind = "configuration"
	// KindValidation: the request shape violates current policy.
	KindValidation Kind = "validation"
	// KindDispatch: the vendor call failed or reported an error outcome.
	KindDispatch Kind = "dispatch"
	// KindNotFound: the vendor has no record of the agent, or the ledger
	// has no record of the action.
	KindNotFound Kind = "not_found"
	// KindLedgerWrite: ledger persistence failed. When this happens after
	// a successful dispatch the system holds an externally-real side effect
	// with no (or incomplete) record; it must be surfaced loudly, never
	// masked.
	KindLedgerWrite Kind = "ledger_write"
)

// statusForKind is the stable status code per failure kind.
var statusForKind = map[Kind]int{
	KindConfiguration: http.StatusBadRequest,
	KindValidation:    http.StatusBadRequest,
	KindDispatch:      http.StatusInternalServerError,
	KindNotFound:      http.StatusNotFound,
	KindLedgerWrite:   http.StatusInternalServerError,
}

// Error is the domain error for response actions.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Cause      error
	// Meta carries diagnostic payload, e.g. the connector candidate list
	// when resolution fails.
	Meta any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: statusForKind[kind],
		Message:    message,
		Cause:      cause,
	}
}

// NewConfigurationError signals that no usable connector could be resolved.
func NewConfigurationError(message string, cause error, meta any) *Error {
	err := newError(KindConfiguration, message, cause)
	err.Meta = meta
	return err
}

// NewValidationError signals a request that violates current policy.
func NewValidationError(message string) *Error {
	return newError(KindValidation, message, nil)
}

// NewDispatchError signals a failed vendor call or a vendor-reported error.
func NewDispatchError(message string, cause error) *Error {
	return newError(KindDispatch, message, cause)
}

// NewNotFoundError signals a missing agent or action record.
func NewNotFoundError(message string) *Error {
	return newError(KindNotFound, message, nil)
}

// NewLedgerWriteError signals failed ledger persistence.
func NewLedgerWriteError(message string, cause error) *Error {
	return newError(KindLedgerWrite, message, cause)
}

// KindOf returns the failure kind, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf returns the stable status code for an error. Unclassified
// errors map to 500 with the original message preserved for diagnostics.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}
