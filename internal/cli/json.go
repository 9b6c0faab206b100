package cli

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"

	"github.com/rileyhilliard/dockwatch/internal/core"
	"github.com/rileyhilliard/dockwatch/internal/errors"
)

// Machine mode flag - when true, outputs JSON and suppresses human-friendly decorations
var machineMode bool

// MachineMode returns true if machine-readable output is enabled
func MachineMode() bool {
	return machineMode
}

// JSONEnvelope wraps command output in a consistent structure for machine parsing.
// All --json output should use this envelope.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError provides structured error information for machine parsing.
type JSONError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// Error codes for machine-readable output.
const (
	ErrCodeConfigNotFound    = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeProfileNotFound   = "PROFILE_NOT_FOUND"
	ErrCodeProfileInvalid    = "PROFILE_INVALID"
	ErrCodeSSHTimeout        = "SSH_TIMEOUT"
	ErrCodeSSHAuthFailed     = "SSH_AUTH_FAILED"
	ErrCodeSSHConnectionFail = "SSH_CONNECTION_FAILED"
	ErrCodeEngineUnreachable = "ENGINE_UNREACHABLE"
	ErrCodeEngineTimeout     = "ENGINE_TIMEOUT"
	ErrCodeEngineRejected    = "ENGINE_REJECTED"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeResourceInUse     = "RESOURCE_IN_USE"
	ErrCodeCommandFailed     = "COMMAND_FAILED"
	ErrCodeUnknown           = "UNKNOWN"
)

// WriteJSONSuccess writes a successful response with data to the writer.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	env := JSONEnvelope{
		Success: true,
		Data:    data,
	}
	return writeJSONEnvelope(w, env)
}

// WriteJSONError writes an error response to the writer.
func WriteJSONError(w io.Writer, code, message, suggestion string, details interface{}) error {
	env := JSONEnvelope{
		Success: false,
		Error: &JSONError{
			Code:       code,
			Message:    message,
			Suggestion: suggestion,
			Details:    details,
		},
	}
	return writeJSONEnvelope(w, env)
}

// WriteJSONFromError converts a Go error to a JSON error response.
func WriteJSONFromError(w io.Writer, err error) error {
	env := JSONEnvelope{
		Success: false,
		Error:   ErrorToJSON(err),
	}
	return writeJSONEnvelope(w, env)
}

// writeJSONEnvelope writes the envelope with consistent formatting.
func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// ErrorToJSON converts a Go error to a JSONError with appropriate code mapping.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	var dwErr *errors.Error
	if stderrors.As(err, &dwErr) {
		jsonErr := &JSONError{
			Code:       mapErrorCode(dwErr.Code, errors.KindOf(err), dwErr.Message),
			Message:    dwErr.Message,
			Suggestion: dwErr.Suggestion,
		}
		if kind := errors.KindOf(err); kind != "" {
			jsonErr.Details = map[string]interface{}{"kind": string(kind)}
		}
		return jsonErr
	}

	return &JSONError{
		Code:    ErrCodeUnknown,
		Message: err.Error(),
	}
}

// mapErrorCode maps internal error codes and kinds to machine-readable codes.
func mapErrorCode(internalCode string, kind errors.Kind, message string) string {
	switch internalCode {
	case errors.ErrConfig:
		msgLower := strings.ToLower(message)
		if strings.Contains(msgLower, "not found") || strings.Contains(msgLower, "couldn't find") {
			return ErrCodeConfigNotFound
		}
		return ErrCodeConfigInvalid
	case errors.ErrProfile:
		if strings.HasPrefix(message, "No profile") {
			return ErrCodeProfileNotFound
		}
		return ErrCodeProfileInvalid
	case errors.ErrSSH:
		switch kind {
		case errors.KindTimeout:
			return ErrCodeSSHTimeout
		case errors.KindAuthFailed:
			return ErrCodeSSHAuthFailed
		}
		return ErrCodeSSHConnectionFail
	case errors.ErrTransport:
		switch kind {
		case errors.KindTimeout:
			return ErrCodeEngineTimeout
		case errors.KindEngineRejected:
			return ErrCodeEngineRejected
		case errors.KindMalformedResponse:
			return ErrCodeMalformedResponse
		case errors.KindAuthFailed:
			return ErrCodeSSHAuthFailed
		}
		return ErrCodeEngineUnreachable
	case errors.ErrInUse:
		return ErrCodeResourceInUse
	case errors.ErrExec:
		return ErrCodeCommandFailed
	}

	return ErrCodeUnknown
}

// ResultJSON is the machine-readable form of one command result.
type ResultJSON struct {
	Op      string     `json:"op"`
	Ref     string     `json:"ref"`
	ID      string     `json:"id,omitempty"`
	Success bool       `json:"success"`
	Error   *JSONError `json:"error,omitempty"`
}

// resultToJSON converts a command result for the envelope.
func resultToJSON(res core.Result) ResultJSON {
	return ResultJSON{
		Op:      res.Op,
		Ref:     res.Ref,
		ID:      res.ID,
		Success: res.OK(),
		Error:   ErrorToJSON(res.Err),
	}
}
