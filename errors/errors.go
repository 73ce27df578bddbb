// Package errors provides the error classification used across the LWC stream
// components. Errors are classified as transient (upstream went away, retry by
// reconnecting), invalid (a frame or a config value is bad, skip it) or fatal
// (the process cannot continue).
package errors

import (
	"errors"
	"fmt"
	"io"
)

// ErrorClass tells the caller how to react to an error
type ErrorClass int

const (
	// ErrorTransient means retrying or reconnecting may succeed
	ErrorTransient ErrorClass = iota
	// ErrorInvalid means the input was bad; skip it and carry on
	ErrorInvalid
	// ErrorFatal means processing must stop
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors. Unwrapped sentinels are classified by sentinelClasses.
var (
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrUnexpectedStatus  = errors.New("unexpected response status")

	ErrMalformedFrame    = errors.New("malformed frame")
	ErrInvalidData       = errors.New("invalid data format")
	ErrParsingFailed     = errors.New("parsing failed")
	ErrResourceExhausted = errors.New("resource exhausted")

	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrUnsupportedSource = errors.New("unsupported source type")
	ErrUnsupportedSink   = errors.New("unsupported sink type")
)

var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrUnsupportedSource, ErrorFatal},
	{ErrUnsupportedSink, ErrorFatal},
	{ErrShuttingDown, ErrorFatal},
	{ErrMalformedFrame, ErrorInvalid},
	{ErrInvalidData, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrResourceExhausted, ErrorInvalid},
}

// ClassifiedError carries a class and where the error happened
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Classify returns the class of err. The outermost ClassifiedError in the
// chain decides; otherwise known sentinels do. Everything else, including
// io.ErrUnexpectedEOF and deadline errors, is transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	for _, s := range sentinelClasses {
		if errors.Is(err, s.err) {
			return s.class
		}
	}
	return ErrorTransient
}

// IsTransient reports whether err may go away by retrying
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ErrorTransient
}

// IsInvalid reports whether err is caused by bad input
func IsInvalid(err error) bool {
	return err != nil && Classify(err) == ErrorInvalid
}

// IsFatal reports whether err must stop processing
func IsFatal(err error) bool {
	return err != nil && Classify(err) == ErrorFatal
}

// IsEndOfStream reports whether err signals a normally ended stream. A
// truncated stream (io.ErrUnexpectedEOF) is not one.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF)
}

// Wrap adds context in the form "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err as transient
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps err as invalid
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps err as fatal
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
