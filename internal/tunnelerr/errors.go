// Package tunnelerr implements the data plane's error taxonomy: a small set
// of named kinds rather than a type hierarchy, each carrying a stable reason
// string for logs and wrapping the underlying cause.
package tunnelerr

import (
	"errors"
	"fmt"
)

// Kind identifies which category of the error taxonomy an error belongs to.
type Kind string

const (
	ConfigError             Kind = "config_error"
	IoError                 Kind = "io_error"
	SshProtocolError        Kind = "ssh_protocol_error"
	AuthorizationError      Kind = "authorization_error"
	ControlPlaneUnavailable Kind = "control_plane_unavailable"
	RoutingError            Kind = "routing_error"
	RateLimited             Kind = "rate_limited"
)

// Error is the concrete error value carrying a Kind, a stable Reason used in
// logs, and the underlying cause (if any). User-visible messages derived
// from an Error should use Kind or a terse fixed string, never Reason or
// Unwrap(), since Reason may carry internal detail.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs an Error wrapping cause, formatting Reason with args like fmt.Sprintf.
func Wrap(kind Kind, cause error, reason string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(reason, args...), Cause: cause}
}

// KindOf returns the Kind of err if it (or something it wraps) is a *Error,
// and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind matches kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
