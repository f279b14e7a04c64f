// Package apperr tags failures coming back from the identity provider and
// the document database with an explicit kind, so callers branch on the
// kind instead of probing error strings.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindAuth covers wrong credentials and account problems.
	KindAuth
	// KindWrite covers failed creates and deletes.
	KindWrite
	KindRead
	// KindNetwork covers transport failures and provider outages.
	KindNetwork
	// KindLimit is returned when the contact limit is enforced by the store.
	KindLimit
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindNetwork:
		return "network"
	case KindLimit:
		return "limit"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	// Op is the provider operation, e.g. "signInWithPassword" or "createContact".
	Op string
	// Code is the provider error code when one was returned.
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func WithCode(kind Kind, op, code string, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Errorf builds an *Error around a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}
