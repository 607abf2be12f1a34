package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so that transports and notifications can decide
// how to surface it.
type Kind int

const (
	KindUnknown     Kind = iota
	KindValidation       // rejected locally before any network call
	KindRateLimit        // service said slow down; never retried
	KindTransport        // non-2xx or network failure
	KindTimeout          // a bounded wait ran out
	KindPlayback         // media resource failed on the client
	KindUnavailable      // dependency not configured or circuit open
	KindAborted          // superseded by our own cancellation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimit:
		return "rate_limit"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindPlayback:
		return "playback"
	case KindUnavailable:
		return "unavailable"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside a user-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap annotates err with a kind. A nil err stays nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
// Context cancellation is reported as KindAborted.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindAborted
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the user-facing message of a classified error, or
// err.Error() otherwise.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}
