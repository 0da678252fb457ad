// Package gcperr provides the error type shared by every gcpkit service
// package. Failures from the underlying Google clients are classified
// once at the client boundary and wrapped into *Error; callers match by
// kind with errors.As/errors.Is or the Is* helpers, never by message.
package gcperr

import (
	"errors"
	"fmt"
)

// Kind identifies what a caller can do about an error.
type Kind string

const (
	// KindValidation marks caller-supplied input that was rejected before
	// any network call was made.
	KindValidation Kind = "VALIDATION"
	// KindNotFound marks a remote resource that does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindAlreadyExists marks a create that collided with an existing resource.
	KindAlreadyExists Kind = "ALREADY_EXISTS"
	// KindPermissionDenied marks a rejected call with valid credentials.
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	// KindUnauthenticated marks missing or unusable credentials.
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	// KindTimeout marks an operation that exceeded its deadline.
	KindTimeout Kind = "TIMEOUT"
	// KindConfiguration marks unusable settings (bad project id, missing
	// credentials file).
	KindConfiguration Kind = "CONFIGURATION"
	// KindService is the per-service catch-all for every other failure.
	KindService Kind = "SERVICE"
)

// Error is the single error type returned by gcpkit clients.
type Error struct {
	// Service is the short name of the service package that produced the
	// error ("storage", "firebasehosting", ...).
	Service string
	// Kind classifies the failure for programmatic handling.
	Kind Kind
	// Message is a human-readable description.
	Message string
	// Details carries resource identifiers and other diagnostics.
	Details map[string]any
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error. Two *Error values match
// when their kinds are equal and the target's Service is either empty or
// equal, so errors.Is(err, &Error{Kind: KindNotFound}) matches any
// not-found error regardless of service.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return t.Service == "" || t.Service == e.Service
}

// WithDetail attaches a diagnostic key/value pair and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a service catch-all error wrapping cause.
func New(service, message string, cause error) *Error {
	return &Error{Service: service, Kind: KindService, Message: message, Err: cause}
}

// Validation creates a fail-fast input error. No network call has been
// made when a validation error is returned.
func Validation(service, message string) *Error {
	return &Error{Service: service, Kind: KindValidation, Message: message}
}

// NotFound creates a not-found error for the named resource.
func NotFound(service, message string, cause error) *Error {
	return &Error{Service: service, Kind: KindNotFound, Message: message, Err: cause}
}

// AlreadyExists creates an already-exists error.
func AlreadyExists(service, message string, cause error) *Error {
	return &Error{Service: service, Kind: KindAlreadyExists, Message: message, Err: cause}
}

// Configuration creates a settings error.
func Configuration(message string, cause error) *Error {
	return &Error{Service: "config", Kind: KindConfiguration, Message: message, Err: cause}
}

// Unauthenticated creates a credentials error.
func Unauthenticated(service, message string, cause error) *Error {
	return &Error{Service: service, Kind: KindUnauthenticated, Message: message, Err: cause}
}

// Timeout creates a deadline error.
func Timeout(service, message string, cause error) *Error {
	return &Error{Service: service, Kind: KindTimeout, Message: message, Err: cause}
}

// KindOf extracts the kind from an error chain. Returns KindService for
// non-gcpkit errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindService
}

// ServiceOf extracts the originating service name from an error chain.
func ServiceOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Service
	}
	return ""
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

// IsValidation reports whether err is a fail-fast input error.
func IsValidation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindValidation
}

// IsAlreadyExists reports whether err is an already-exists error.
func IsAlreadyExists(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAlreadyExists
}

// IsTimeout reports whether err is a deadline error.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}
