package game

import (
	"errors"
	"fmt"
)

// Kind classifies errors reported to a connection.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindInvalidMove    Kind = "invalid_move"
	KindInvalidState   Kind = "invalid_state"
	KindOfferLimit     Kind = "offer_limit_exceeded"
	KindConnectionLost Kind = "connection_lost"
	KindTimeout        Kind = "timeout"
	KindInternal       Kind = "internal"
)

// Error is a classified domain error. Two errors match under errors.Is when
// their kinds are equal, so the sentinels below work as kind checks.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrInvalidMove    = &Error{Kind: KindInvalidMove}
	ErrInvalidState   = &Error{Kind: KindInvalidState}
	ErrOfferLimit     = &Error{Kind: KindOfferLimit}
	ErrConnectionLost = &Error{Kind: KindConnectionLost}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrInternal       = &Error{Kind: KindInternal}
)

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as an infrastructure failure.
func Wrap(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf returns the classification of err; unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
