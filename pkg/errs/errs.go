// Package errs implements the structured error chain used across svarog:
// every failure carries a stable Kind alongside a human detail string, and
// chains wrap their cause the same way the rest of the codebase wraps errors
// with fmt.Errorf("...: %w", err).
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable error classifier. Callers match on Kind, never on the
// formatted message.
type Kind string

const (
	NotImplemented          Kind = "NotImplemented"
	GrpcCallFailed          Kind = "GrpcCallFailed"
	GrpcServerIsDown        Kind = "GrpcServerIsDown"
	ThreadFailed            Kind = "ThreadFailed"
	CannotConnectGrpcServer Kind = "CannotConnectGrpcServer"
	NotRegistered           Kind = "Message not registered"
	MessagesMissing         Kind = "Some messages are missing"
	UnexpectedNull          Kind = "Unexpected null message"
	IntegerOverflow         Kind = "IntegerOverflow"
	NotFound                Kind = "not-found"
	InvalidArgument         Kind = "invalid-argument"
	Internal                Kind = "internal"

	// Orchestrator precondition failures, checked before any ceremony
	// starts driving cryptographic rounds.
	AllKeygenPlayersShouldAttend    Kind = "all keygen players should attend"
	SignerNotInSession              Kind = "signer not in the session"
	ProviderNotInSession            Kind = "provider not in the session"
	AllReshareConsumersShouldAttend Kind = "all reshare consumers should attend"
)

// Error is one link of a structured error chain.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a terminal link with no cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf is New with a formatted detail.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap chains cause under kind/detail.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Wrapf is Wrap with a formatted detail.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err (or any link in its chain) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		if e.Cause == nil {
			return false
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the Kind of the outermost link, or Internal if err is not
// one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
