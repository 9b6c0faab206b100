package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig    = "CONFIG"
	ErrSSH       = "SSH"
	ErrTransport = "TRANSPORT"
	ErrInUse     = "IN_USE"
	ErrProfile   = "PROFILE"
	ErrExec      = "EXEC"
)

// Kind narrows a code to a specific failure class.
type Kind string

// Transport failure kinds.
const (
	KindConnectionLost    Kind = "connection_lost"
	KindTimeout           Kind = "timeout"
	KindMalformedResponse Kind = "malformed_response"
	KindEngineRejected    Kind = "engine_rejected"
)

// SSH failure kinds. KindTimeout is shared with transport errors.
const (
	KindAuthFailed         Kind = "auth_failed"
	KindNetworkUnreachable Kind = "network_unreachable"
	KindProtocolError      Kind = "protocol_error"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Kind       Kind
	Message    string
	Suggestion string
	Cause      error

	// EngineCode is the HTTP status (local) or CLI exit code (remote)
	// when Kind is KindEngineRejected.
	EngineCode int
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrExec code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrExec,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// NewTransport creates a transport error of the given kind.
func NewTransport(kind Kind, message string, cause error) *Error {
	return &Error{
		Code:       ErrTransport,
		Kind:       kind,
		Message:    message,
		Suggestion: transportSuggestion(kind),
		Cause:      cause,
	}
}

// NewEngineRejected creates a transport error for a request the Docker
// engine refused. code is the HTTP status or CLI exit code.
func NewEngineRejected(code int, message string, cause error) *Error {
	e := NewTransport(KindEngineRejected, message, cause)
	e.EngineCode = code
	return e
}

// NewSSH creates an SSH error of the given kind.
func NewSSH(kind Kind, message string, cause error) *Error {
	return &Error{
		Code:       ErrSSH,
		Kind:       kind,
		Message:    message,
		Suggestion: sshSuggestion(kind),
		Cause:      cause,
	}
}

// NewInUse creates the policy rejection returned when a destructive
// call targets a resource still referenced by a container.
func NewInUse(resource, id string, refs int) *Error {
	return &Error{
		Code:       ErrInUse,
		Message:    fmt.Sprintf("%s %s is in use by %d container(s)", resource, id, refs),
		Suggestion: "Stop and remove the containers using it first",
	}
}

func transportSuggestion(kind Kind) string {
	switch kind {
	case KindConnectionLost:
		return "Check that the Docker daemon is running and reachable"
	case KindTimeout:
		return "The Docker engine did not answer in time, try again or raise timeouts in config"
	case KindMalformedResponse:
		return "The Docker CLI output could not be parsed, check the remote docker version"
	}
	return ""
}

func sshSuggestion(kind Kind) string {
	switch kind {
	case KindAuthFailed:
		return "Check the profile credentials: dockwatch profile list"
	case KindNetworkUnreachable:
		return "Check the host is online and the SSH port is reachable"
	case KindTimeout:
		return "The host stopped responding, reconnect with --remote or from the dashboard"
	case KindProtocolError:
		return "The SSH exchange failed, check the server's sshd logs"
	}
	return ""
}

// Error implements the error interface with the three-part layout above.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var dwErr *Error
	if errors.As(err, &dwErr) {
		return dwErr.Code == code
	}
	return false
}

// IsKind checks if an error is a structured Error with the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind && kind != ""
}

// KindOf returns the kind of the first structured Error in the chain
// that carries one, or "".
func KindOf(err error) Kind {
	for err != nil {
		var dwErr *Error
		if !errors.As(err, &dwErr) {
			return ""
		}
		if dwErr.Kind != "" {
			return dwErr.Kind
		}
		err = dwErr.Cause
	}
	return ""
}

// IsInUse reports whether err is a ResourceInUse rejection.
func IsInUse(err error) bool {
	return IsCode(err, ErrInUse)
}

// Summary returns a one-line description of err: the message of the
// outermost structured Error, or the first line of err.Error().
func Summary(err error) string {
	if err == nil {
		return ""
	}
	var dwErr *Error
	if errors.As(err, &dwErr) {
		return dwErr.Message
	}
	line, _, _ := strings.Cut(err.Error(), "\n")
	return line
}
