package transport

import (
	"errors"
	"fmt"
)

// Failure kinds reported by every transport.
var (
	ErrConnectionFailed  = errors.New("connection failed")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrRemoteWriteFailed = errors.New("remote write failed")
)

// Error wraps a transport failure with its kind and the device it concerns.
// errors.Is matches both the kind and the underlying cause.
type Error struct {
	Kind     error
	DeviceID string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, deviceID string, err error) *Error {
	return &Error{Kind: kind, DeviceID: deviceID, Err: err}
}

// KindOf returns the failure kind of err, or nil when err is not a transport failure.
func KindOf(err error) error {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return nil
}
