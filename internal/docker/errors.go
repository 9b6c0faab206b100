package docker

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/rileyhilliard/dockwatch/internal/errors"
)

var (
	// ErrNotInstalled marks failures caused by a missing docker install.
	ErrNotInstalled = stderrors.New("docker is not installed")
	// ErrPermissionDenied marks failures to open the engine socket.
	ErrPermissionDenied = stderrors.New("permission denied on the Docker socket")
)

// statusCause tags cause with an engine status sentinel without changing
// its message.
type statusCause struct {
	status error
	cause  error
}

func (e statusCause) Error() string   { return e.cause.Error() }
func (e statusCause) Unwrap() []error { return []error{e.status, e.cause} }

// StatusOf classifies an Info failure. A nil error means the engine is
// running; anything not recognized as a missing install or a socket
// permission problem counts as not running.
func StatusOf(err error) EngineStatus {
	switch {
	case err == nil:
		return EngineRunning
	case stderrors.Is(err, ErrNotInstalled):
		return EngineNotInstalled
	case stderrors.Is(err, ErrPermissionDenied):
		return EnginePermissionDenied
	}
	return EngineNotRunning
}

// inUseMarkers are engine messages for removals blocked by references.
var inUseMarkers = []string{
	"has active endpoints",
	"is in use",
	"is being used",
	"image is referenced",
}

func looksInUse(msg string) bool {
	m := strings.ToLower(msg)
	for _, marker := range inUseMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return strings.Contains(m, "conflict") && strings.Contains(m, "is using")
}

// fromEngineError maps a Docker SDK error to a transport error. what
// names the operation for the message; resource/id identify the target
// of removals so engine-side conflicts surface as ResourceInUse.
func fromEngineError(err error, what, resource, id string) error {
	if err == nil {
		return nil
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTransport(errors.KindTimeout, what+" timed out", err)
	case stderrors.Is(err, context.Canceled):
		return errors.NewTransport(errors.KindTimeout, what+" cancelled", err)
	case isSocketPermission(err.Error()):
		e := errors.NewEngineRejected(http.StatusForbidden, "Permission denied on the Docker socket",
			statusCause{status: ErrPermissionDenied, cause: err})
		e.Suggestion = "Add your user to the docker group: sudo usermod -aG docker $USER"
		return e
	case client.IsErrConnectionFailed(err):
		return errors.NewTransport(errors.KindConnectionLost, "Cannot reach the Docker engine", err)
	case resource != "" && errdefs.IsConflict(err) && looksInUse(err.Error()):
		e := errors.NewInUse(resource, id, 1)
		e.Cause = err
		return e
	}
	return errors.NewEngineRejected(engineStatus(err), what+" was rejected by the engine", err)
}

// engineStatus recovers an HTTP-ish status from errdefs classes.
func engineStatus(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsConflict(err):
		return http.StatusConflict
	case errdefs.IsInvalidParameter(err):
		return http.StatusBadRequest
	case errdefs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errdefs.IsForbidden(err):
		return http.StatusForbidden
	case errdefs.IsNotModified(err):
		return http.StatusNotModified
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fromCLIResult maps a non-zero docker CLI exit to a transport error.
func fromCLIResult(exitCode int, stderr []byte, what, resource, id string) error {
	msg := strings.TrimSpace(string(stderr))
	cause := fmt.Errorf("exit %d: %s", exitCode, msg)

	if exitCode == 127 || strings.Contains(msg, "docker: command not found") {
		e := errors.NewEngineRejected(exitCode, "docker CLI not found on the remote host",
			statusCause{status: ErrNotInstalled, cause: cause})
		e.Suggestion = "Install Docker on the remote host or add it to PATH for non-interactive shells"
		return e
	}
	if strings.Contains(msg, "Cannot connect to the Docker daemon") || strings.Contains(msg, "Is the docker daemon running") {
		return errors.NewTransport(errors.KindConnectionLost, "Remote Docker daemon is not reachable", cause)
	}
	if isSocketPermission(msg) {
		e := errors.NewEngineRejected(exitCode, "Permission denied on the remote Docker socket",
			statusCause{status: ErrPermissionDenied, cause: cause})
		e.Suggestion = "Add the SSH user to the docker group: sudo usermod -aG docker $USER"
		return e
	}
	if resource != "" && looksInUse(msg) {
		e := errors.NewInUse(resource, id, 1)
		e.Cause = cause
		return e
	}
	return errors.NewEngineRejected(exitCode, what+" was rejected by the engine", cause)
}

func isSocketPermission(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "permission denied") &&
		(strings.Contains(m, "docker.sock") || strings.Contains(m, "docker daemon socket"))
}

// fromSessionError maps an SSH failure during a remote call to the
// transport taxonomy. The SSH error stays in the chain.
func fromSessionError(err error, what string) error {
	if err == nil {
		return nil
	}
	switch errors.KindOf(err) {
	case errors.KindTimeout:
		return errors.NewTransport(errors.KindTimeout, what+" timed out", err)
	default:
		return errors.NewTransport(errors.KindConnectionLost, what+" failed: SSH session unavailable", err)
	}
}

func malformed(what string, err error) error {
	return errors.NewTransport(errors.KindMalformedResponse,
		fmt.Sprintf("Couldn't parse docker output for %s", what), err)
}
