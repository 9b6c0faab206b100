package sshutil

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strings"

	"github.com/rileyhilliard/dockwatch/internal/errors"
)

// classifyDialError maps a TCP dial failure to an SSH error kind.
func classifyDialError(err error) *errors.Error {
	if isTimeout(err) {
		return errors.NewSSH(errors.KindTimeout, "dial timed out", err)
	}
	return errors.NewSSH(errors.KindNetworkUnreachable, "dial failed", err)
}

// classifyHandshakeError maps an SSH handshake failure to an SSH error kind.
func classifyHandshakeError(err error) *errors.Error {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "unable to authenticate"),
		strings.Contains(errStr, "no supported methods"),
		strings.Contains(errStr, "permission denied"),
		strings.Contains(errStr, "host key"),
		strings.Contains(errStr, "knownhosts"):
		return errors.NewSSH(errors.KindAuthFailed, "authentication failed", err)
	case isTimeout(err):
		return errors.NewSSH(errors.KindTimeout, "handshake timed out", err)
	case strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "broken pipe"):
		return errors.NewSSH(errors.KindNetworkUnreachable, "connection dropped during handshake", err)
	}
	return errors.NewSSH(errors.KindProtocolError, "handshake failed", err)
}

// ClassifyExecError maps a failure from an established connection to an
// SSH error kind. Connection-level breakage is reported as
// NetworkUnreachable so callers can treat it as connection lost.
func ClassifyExecError(err error) *errors.Error {
	if err == nil {
		return nil
	}
	var dwErr *errors.Error
	if stderrors.As(err, &dwErr) && dwErr.Code == errors.ErrSSH && dwErr.Kind != "" {
		return dwErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return errors.NewSSH(errors.KindTimeout, "command timed out", err)
	}
	if IsConnectionLost(err) {
		return errors.NewSSH(errors.KindNetworkUnreachable, "connection lost", err)
	}
	return errors.NewSSH(errors.KindProtocolError, "command exchange failed", err)
}

// IsConnectionLost reports whether err means the underlying transport is gone.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"connection closed",
		"session closed",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "i/o timeout") || strings.Contains(errStr, "timed out")
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on that box? Try: ssh <host>"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check your network connection."
	}
	if isTimeout(err) {
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	if strings.Contains(errStr, "no such host") {
		return "The hostname didn't resolve. Check the profile's host."
	}
	return "Make sure the host is reachable: ping <host>"
}
