// Package apperr classifies client-side failures so callers can decide
// whether to log out, surface a notice, or drop the error.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown Kind = "UNKNOWN"
	// AuthFailure forces logout: bad credentials or an expired token.
	AuthFailure Kind = "AUTH_FAILURE"
	// NetworkFailure covers any failed backend request.
	NetworkFailure Kind = "NETWORK_FAILURE"
	// ChannelFailure covers a push channel that is closed or errored.
	ChannelFailure Kind = "CHANNEL_FAILURE"
	// Rejected is a local refusal; nothing was sent to the backend.
	Rejected Kind = "REJECTED"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause == nil {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Cause)
		}
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, op, message string) error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

func Auth(op string, cause error) error    { return Wrap(AuthFailure, op, cause) }
func Network(op string, cause error) error { return Wrap(NetworkFailure, op, cause) }
func Channel(op string, cause error) error { return Wrap(ChannelFailure, op, cause) }

func Reject(op, message string) error { return New(Rejected, op, message) }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsAuth(err error) bool     { return KindOf(err) == AuthFailure }
func IsNetwork(err error) bool  { return KindOf(err) == NetworkFailure }
func IsChannel(err error) bool  { return KindOf(err) == ChannelFailure }
func IsRejected(err error) bool { return KindOf(err) == Rejected }
