// Package errs defines the pipeline's error taxonomy (spec §7): a small set
// of sentinel kinds that every agent, stage, and HTTP handler wraps errors
// with, so callers can classify failures with errors.Is/errors.As instead of
// parsing message strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy's error categories.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	PermissionDenied     Kind = "permission_denied"
	DependencyMissing    Kind = "dependency_missing"
	Timeout              Kind = "timeout"
	UpstreamUnavailable  Kind = "upstream_unavailable"
	IOFailure            Kind = "io_failure"
	Internal             Kind = "internal"
)

// Error wraps an underlying cause with a taxonomy Kind and a human detail.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, errs.InvalidInput) style checks against a Kind
// wrapped as a sentinel via New(kind, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an Error of the given kind around an existing error.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// sentinel is a zero-value Error used only for matching on Kind via Is.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

// IsKind reports whether err (or any error it wraps) carries the given Kind.
func IsKind(err error, k Kind) bool {
	return errors.Is(err, sentinel(k))
}

// PermissionDeniedError builds the typed permission error MCP raises,
// naming the agent and the attempted action (spec §4.1, §7).
func PermissionDeniedError(agentID, action string) *Error {
	return New(PermissionDenied, fmt.Sprintf("agent %q denied action %q", agentID, action))
}

// DependencyMissingError builds the "blocked:<dependency>" stage failure.
func DependencyMissingError(dependency string) *Error {
	return New(DependencyMissing, fmt.Sprintf("blocked:%s", dependency))
}

// TimeoutError builds the "timeout:<agent>" stage failure.
func TimeoutError(agentID string) *Error {
	return New(Timeout, fmt.Sprintf("timeout:%s", agentID))
}

// UpstreamUnavailableError builds the "LM unavailable" error, preserving the
// provider's own error text per spec §7.
func UpstreamUnavailableError(providerErr error) *Error {
	return Wrap(UpstreamUnavailable, "LM unavailable", providerErr)
}

// IOFailureError builds a stage failure for a failed artifact or sidecar write.
func IOFailureError(detail string, err error) *Error {
	return Wrap(IOFailure, detail, err)
}
