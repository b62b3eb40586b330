package storage

import "fmt"

// Kind enumerates the error taxonomy of the storage core. It is not the
// HTTP status itself — pkg/controller maps Kind to status — but it is
// stable across storage backends and worth keeping close to the data.
type Kind string

const (
	KindMalformed        Kind = "malformed-json"
	KindInvalidBSO       Kind = "invalid-wbo"
	KindInvalidWrite     Kind = "invalid-write"
	KindOverQuota        Kind = "over-quota"
	KindNotAuthenticated Kind = "not-authenticated"
	KindNotFound         Kind = "not-found"
	KindConflict         Kind = "precondition-failed"
	KindNotModified      Kind = "not-modified"
	KindOverCapacity     Kind = "over-capacity"
	KindInternal         Kind = "internal"
)

// Error is the result-union error type used throughout the storage core
// in place of exceptions-as-control-flow: classified failures (not found,
// precondition, quota, ...) are returned as *Error values and nothing
// panics on bad input; unclassified driver failures may still come back
// as plain wrapped errors.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, if any; never shown to clients
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a storage.Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an internal storage.Error carrying cause, suitable for
// unexpected failures that should surface to clients only as "internal".
func Wrap(cause error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// NotFound is a convenience constructor for the common single-item case.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

// AsError unwraps err into a *Error, returning nil if err is not one (or is nil).
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*Error); ok {
		return se
	}
	return nil
}
