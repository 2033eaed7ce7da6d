// Package errs is the error taxonomy shared by the canonicalizer, the
// storage backends and the certify service.
//
// Callers branch on Kind through IsKind rather than on error strings.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindFormat                Kind = "format"
	KindStorage               Kind = "storage"
	KindNotFound              Kind = "not_found"
	KindAlreadyRevoked        Kind = "already_revoked"
	KindDigestVersionMismatch Kind = "digest_version_mismatch"
	KindInconsistent          Kind = "inconsistent"
	KindNotPermitted          Kind = "not_permitted"
	KindInvalid               Kind = "invalid"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func Ef(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to cause. A cause that already carries a Kind keeps it,
// so a NotFound raised deep in a backend is never turned into a Storage error.
func Wrap(kind Kind, op, msg string, cause error) error {
	if cause == nil {
		return E(kind, op, msg)
	}
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

func Storage(op string, cause error) error {
	return Wrap(KindStorage, op, "storage failure", cause)
}

func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller's infrastructure may retry the call.
func Retryable(err error) bool {
	return IsKind(err, KindStorage)
}
