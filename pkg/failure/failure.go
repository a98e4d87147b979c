// Package failure classifies errors into the three kinds the annotator
// distinguishes when deciding what the user gets to see.
package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindConfig is a missing or invalid setting, found before any network call
	KindConfig Kind = "config"
	// KindTransport is a failed analyzer exchange
	KindTransport Kind = "transport"
	// KindData is a response that cannot be drawn
	KindData Kind = "data"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return fmt.Sprintf("[%s:%s] %v", e.Kind, e.Op, e.Cause)
		}
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Reason is the text shown to the user: the message, or the cause when the
// message is empty.
func (e *Error) Reason() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap tags err with a kind. An error that already carries a kind keeps it.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// IsKind checks whether the first classified error in the chain has the given kind
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when it was never classified
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
