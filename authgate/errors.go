package authgate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind represents the retry category of an operation error
type ErrorKind string

const (
	ErrorKindTransient        ErrorKind = "transient"
	ErrorKindPermissionDenied ErrorKind = "permission_denied"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindAlreadyExists    ErrorKind = "already_exists"
)

var (
	// ErrAuthRequired is matched by every *AuthRequiredError
	ErrAuthRequired = errors.New("authentication required")

	// ErrPermissionDenied marks an operation failure that retrying cannot fix
	ErrPermissionDenied = errors.New("permission-denied")

	// ErrNotFound marks a missing resource
	ErrNotFound = errors.New("not-found")

	// ErrAlreadyExists marks a conflicting create
	ErrAlreadyExists = errors.New("already-exists")
)

// AuthRequiredError is returned when no principal could be resolved for an operation.
type AuthRequiredError struct {
	Operation string
}

// Error implements the error interface
func (e *AuthRequiredError) Error() string {
	if e.Operation == "" {
		return ErrAuthRequired.Error()
	}
	return fmt.Sprintf("%s: user must be signed in to %s", ErrAuthRequired.Error(), e.Operation)
}

// Is implements errors.Is
func (e *AuthRequiredError) Is(target error) bool {
	return target == ErrAuthRequired
}

// IsAuthRequired checks if an error is an auth required error
func IsAuthRequired(err error) bool {
	return errors.Is(err, ErrAuthRequired)
}

// PanicError wraps a value recovered from a panicking operation.
type PanicError struct {
	Value any
}

// Error implements the error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

// Unwrap returns the recovered value when it was itself an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// normalizeError turns a recovered panic value into an error.
func normalizeError(v any) error {
	return &PanicError{Value: v}
}

// nonRetryableMarkers are matched against the error message when the chain carries no sentinel.
var nonRetryableMarkers = []struct {
	marker string
	kind   ErrorKind
}{
	{"permission", ErrorKindPermissionDenied},
	{"not-found", ErrorKindNotFound},
	{"already-exists", ErrorKindAlreadyExists},
}

// Classify returns the retry category of err.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindTransient
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrorKindPermissionDenied
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return ErrorKindAlreadyExists
	}

	msg := err.Error()
	for _, m := range nonRetryableMarkers {
		if strings.Contains(msg, m.marker) {
			return m.kind
		}
	}
	return ErrorKindTransient
}

// IsRetryable checks if an operation error may succeed on a later attempt
func IsRetryable(err error) bool {
	return Classify(err) == ErrorKindTransient
}
