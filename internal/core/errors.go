package core

import (
	"errors"
	"fmt"
)

// Kind classifies failures coming back from the service or rejected
// locally before any request is sent.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindTransport      Kind = "transport"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("validation failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrNotFound       = errors.New("not found")
	ErrTransport      = errors.New("transport error")
)

// Error is the single error type surfaced by the service adapters.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status, 0 when the request never got a response
	Message string // service-provided message when present
	Raw     string // raw response body for non-JSON errors
	Err     error  // underlying cause
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Kind == KindTransport {
		switch {
		case e.Status != 0 && e.Raw != "":
			return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Raw)
		case e.Status != 0:
			return fmt.Sprintf("request failed with status %d: %s", e.Status, msg)
		}
		return "request failed: " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) and friends work on *Error.
func (e *Error) Is(target error) bool {
	return sentinel(e.Kind) == target
}

func sentinel(k Kind) error {
	switch k {
	case KindAuthentication:
		return ErrAuthentication
	case KindValidation:
		return ErrValidation
	case KindAuthorization:
		return ErrAuthorization
	case KindNotFound:
		return ErrNotFound
	case KindTransport:
		return ErrTransport
	}
	return nil
}

// KindOf returns the classification of err, or "" when err is not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []Kind{KindAuthentication, KindValidation, KindAuthorization, KindNotFound, KindTransport} {
		if errors.Is(err, sentinel(k)) {
			return k
		}
	}
	return ""
}

// Validation wraps a local rule violation.
func Validation(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
}

func Authentication(msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

func Authorization(msg string) *Error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}
