package browser

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnavailable     = errors.New("browser runtime unavailable")
	ErrSessionClosed   = errors.New("browser session closed")
	ErrSessionBusy     = errors.New("another browser session is still open")
	ErrLocatorNotFound = errors.New("locator not found")
	ErrTimeout         = errors.New("operation timeout")
	ErrCrashed         = errors.New("browser crashed")
)

// DriverError wraps errors from a browser adapter with a short code and a
// message fit for an issue report.
type DriverError struct {
	Code    string
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("browser error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("browser error [%s]: %s", e.Code, e.Message)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError creates a new DriverError.
func NewDriverError(code, message string) *DriverError {
	return &DriverError{Code: code, Message: message}
}

// WrapDriverError wraps an existing error with driver context.
func WrapDriverError(code, message string, err error) *DriverError {
	return &DriverError{Code: code, Message: message, Err: err}
}

// LocatorNotFound builds the error adapters return when a target is missing.
func LocatorNotFound(message string) *DriverError {
	return WrapDriverError("locator_not_found", message, ErrLocatorNotFound)
}

// Timeout builds the error adapters return when an action exceeds its bound.
func Timeout(message string, err error) *DriverError {
	if err == nil {
		err = ErrTimeout
	} else {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return WrapDriverError("timeout", message, err)
}

// IsTimeout returns true if the error is an action or navigation timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsLocatorNotFound returns true if the target element could not be resolved.
func IsLocatorNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrLocatorNotFound)
}

// IsFatal returns true if the error means the browser process itself is
// gone, as opposed to a problem with one page.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrCrashed) {
		return true
	}
	var driverErr *DriverError
	if errors.As(err, &driverErr) {
		return driverErr.Code == "crashed" || driverErr.Code == "unavailable"
	}
	return false
}

// MessageOf returns the report-friendly message of the outermost
// DriverError, or err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var driverErr *DriverError
	if errors.As(err, &driverErr) && driverErr.Message != "" {
		return driverErr.Message
	}
	return err.Error()
}
