package neterr

import (
	"errors"
	"fmt"
)

// Error is a classified failure. Op names the operation that failed and Err,
// when set, is the underlying cause kept for logging.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so
// errors.Is(err, neterr.New(neterr.RoomIsFull, "")) works on wrapped errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New returns a classified error without an underlying cause.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap attaches a code to err.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Is reports whether err classifies to code.
func Is(err error, code Code) bool {
	return err != nil && Classify(err) == code
}
