package sshutil

import "context"

// SSHClient defines the interface for SSH command execution.
// Both the real Client and mock implementations satisfy this interface,
// so the session manager and remote transport can be tested without a
// live server.
type SSHClient interface {
	// Exec runs a command and returns stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	// Cancelling ctx aborts the exchange and closes the remote session.
	Exec(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error)

	// KeepAlive sends a global request to verify the connection is alive.
	KeepAlive() error

	// Close closes the SSH connection.
	Close() error

	// GetHost returns the original host/alias used to connect.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string
}
