package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the tagging engine
var (
	// Login channel errors
	ErrTransport          = errors.New("login transport failure")
	ErrFormat             = errors.New("bad response format")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccessDenied       = errors.New("access denied")
	ErrServiceUnreachable = errors.New("login service unreachable")
	ErrServerError        = errors.New("login server error")
	ErrLoginFailed        = errors.New("login failed")
	ErrInvalidRequest     = errors.New("invalid request")

	// Resolution errors
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidEncoding   = errors.New("input is not valid UTF-8")

	// Rule store errors
	ErrRuleStore    = errors.New("rule store error")
	ErrRuleNotFound = errors.New("rule not found")
	ErrStoreFull    = errors.New("rule store full")
	ErrInvalidRule  = errors.New("invalid rule")

	// Bridge errors
	ErrInvalidToken = errors.New("invalid token")
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrClosed       = errors.New("reconciler closed")

	// General
	ErrInternal = errors.New("internal error")
)

// LoginError carries the classified outcome of a failed login call. Kind is one of the
// login sentinels above; Status is the HTTP status when one was received.
type LoginError struct {
	Kind   error
	Status int
	Err    error
}

func (e *LoginError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Is lets errors.Is match on the classification as well as the transport/format family.
func (e *LoginError) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	switch target {
	case ErrTransport:
		return e.Kind != ErrFormat && e.Kind != ErrInvalidRequest
	}
	return false
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// StatusKind maps a non-200 login response status to its error kind.
func StatusKind(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrInvalidCredentials
	case status == http.StatusForbidden:
		return ErrAccessDenied
	case status == http.StatusNotFound:
		return ErrServiceUnreachable
	case status >= 500 && status <= 599:
		return ErrServerError
	default:
		return ErrLoginFailed
	}
}

// UserMessage returns the text shown to the user for a failed login.
func UserMessage(err error) string {
	var le *LoginError
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrAccessDenied):
		return "Access denied"
	case errors.Is(err, ErrServiceUnreachable):
		return "Login service not reachable"
	case errors.Is(err, ErrServerError):
		return "Server error, please try again later"
	case errors.Is(err, ErrFormat):
		return "Server response has the wrong format. Expected JSON with userId, token and domain."
	case errors.Is(err, ErrInvalidRequest):
		return "Please fill in all fields"
	case errors.As(err, &le) && le.Status != 0:
		return fmt.Sprintf("Login failed (status: %d)", le.Status)
	default:
		return "Login failed"
	}
}

// RuleStoreError reports the ids an external rule store call failed for.
type RuleStoreError struct {
	Op     string
	Failed map[int]error
}

func (e *RuleStoreError) Error() string {
	return fmt.Sprintf("%s: %s failed for %d rule(s)", ErrRuleStore, e.Op, len(e.Failed))
}

func (e *RuleStoreError) Is(target error) bool {
	return target == ErrRuleStore
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
