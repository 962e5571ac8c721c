// Package errors defines the storage error taxonomy used throughout QuillStore.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a storage failure. Authorization and malformed-metadata
// failures are fail-closed: an ambiguous server response is never treated as
// a valid document.
type Kind int

const (
	// KindUnauthorized means the host or credential was rejected. Not retried.
	KindUnauthorized Kind = iota
	// KindBadRequest means the locator was malformed or no backend matches it.
	KindBadRequest
	// KindConnection means a network, TLS, or unexpected-status failure.
	KindConnection
	// KindDiskSpace means the pre-flight disk space check failed.
	KindDiskSpace
	// KindProtocolViolation means the host returned 200 without a parseable body.
	KindProtocolViolation
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	case KindConnection:
		return "connection"
	case KindDiskSpace:
		return "disk_space"
	case KindProtocolViolation:
		return "protocol_violation"
	}
	return "unknown"
}

// StorageError is the error type returned by all storage operations that can
// fail against the host or the local filesystem.
type StorageError struct {
	// Kind is the failure classification.
	Kind Kind
	// Message is a human-readable description. For remote failures it may
	// carry the response body, which is logged verbatim on the failure path.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error { return e.Err }

// New returns a StorageError of the given kind.
func New(kind Kind, message string) *StorageError {
	return &StorageError{Kind: kind, Message: message}
}

// Newf returns a StorageError with a formatted message.
func Newf(kind Kind, format string, args ...any) *StorageError {
	return &StorageError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a StorageError of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *StorageError {
	return &StorageError{Kind: kind, Message: message, Err: err}
}

// kindOf reports the Kind of err if it is (or wraps) a StorageError.
func kindOf(err error) (Kind, bool) {
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool { k, ok := kindOf(err); return ok && k == KindUnauthorized }

// IsBadRequest reports whether err is a malformed-locator failure.
func IsBadRequest(err error) bool { k, ok := kindOf(err); return ok && k == KindBadRequest }

// IsConnection reports whether err is a network or unexpected-status failure.
func IsConnection(err error) bool { k, ok := kindOf(err); return ok && k == KindConnection }

// IsDiskSpace reports whether err is a low-disk-space failure.
func IsDiskSpace(err error) bool { k, ok := kindOf(err); return ok && k == KindDiskSpace }

// IsProtocolViolation reports whether err is a malformed-success-body failure.
func IsProtocolViolation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindProtocolViolation
}
