// Package util provides utility functions and common error types.
package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// Sentinel errors for the deployment error taxonomy
var (
	ErrInvalidIntent      = errors.New("invalid intent")
	ErrTransport          = errors.New("transport failure")
	ErrAuth               = errors.New("authentication failed")
	ErrApplyRejected      = errors.New("device rejected command")
	ErrValidationMismatch = errors.New("post-apply validation mismatch")
	ErrRollbackFailed     = errors.New("rollback failed")
	ErrCancelled          = errors.New("deployment cancelled")
	ErrUnsafeCommand      = errors.New("unsafe command")
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
)

// ErrorClass names one branch of the error taxonomy. It is what a
// TransactionResult carries so callers can branch without string matching.
type ErrorClass string

const (
	ClassNone       ErrorClass = ""
	ClassIntent     ErrorClass = "intent"
	ClassTransport  ErrorClass = "transport"
	ClassAuth       ErrorClass = "auth"
	ClassApply      ErrorClass = "apply"
	ClassValidation ErrorClass = "validation"
	ClassCancelled  ErrorClass = "cancelled"
	ClassInternal   ErrorClass = "internal"
)

// TransportError wraps a connect/timeout/reset failure on one device.
type TransportError struct {
	Op      string // "connect", "send", "read", "close"
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// NewTransportError creates a transport error
func NewTransportError(op, address string, err error) *TransportError {
	return &TransportError{Op: op, Address: address, Err: err}
}

// AuthError reports a device that refused the login or privileged-mode
// credentials. It is never retried: the same credentials fail the same way
// and repeated tries can lock the account.
type AuthError struct {
	Address string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login %s: %v", e.Address, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{ErrAuth, e.Err}
}

// NewAuthError creates an authentication error
func NewAuthError(address string, err error) *AuthError {
	return &AuthError{Address: address, Err: err}
}

// ApplyError reports a command the device refused.
type ApplyError struct {
	Command string
	Output  string
}

func (e *ApplyError) Error() string {
	out := strings.TrimSpace(e.Output)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return fmt.Sprintf("command %q rejected: %s", e.Command, out)
}

func (e *ApplyError) Unwrap() error {
	return ErrApplyRejected
}

// ValidationMismatchError lists expected configuration markers that were
// absent after apply.
type ValidationMismatchError struct {
	Device  string
	Missing []string
}

func (e *ValidationMismatchError) Error() string {
	return fmt.Sprintf("validation on %s: missing %s", e.Device, strings.Join(e.Missing, "; "))
}

func (e *ValidationMismatchError) Unwrap() error {
	return ErrValidationMismatch
}

// ValidationError represents one or more intent validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid intent: " + e.Errors[0]
	}
	return fmt.Sprintf("invalid intent:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidIntent
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// IsTransport reports whether err is a transport-class failure: an explicit
// TransportError, a network timeout, or a refused/reset connection.
func IsTransport(err error) bool {
	if err == nil || errors.Is(err, ErrAuth) {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// Classify maps an error onto the taxonomy.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrInvalidIntent), errors.Is(err, ErrUnsafeCommand):
		return ClassIntent
	case errors.Is(err, ErrAuth):
		return ClassAuth
	case errors.Is(err, ErrApplyRejected):
		return ClassApply
	case errors.Is(err, ErrValidationMismatch):
		return ClassValidation
	case IsTransport(err), errors.Is(err, context.DeadlineExceeded):
		return ClassTransport
	default:
		return ClassInternal
	}
}
