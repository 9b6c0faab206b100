package sshutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func writeKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, "")
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_test")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestBuildSSHConfig_Password(t *testing.T) {
	cfg, err := buildSSHConfig(&sshSettings{user: "me"}, DialOptions{
		Auth: Auth{Password: "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, "me", cfg.User)
	assert.Len(t, cfg.Auth, 2, "password plus keyboard-interactive")
	assert.Equal(t, 10*time.Second, cfg.Timeout)
}

func TestBuildSSHConfig_Key(t *testing.T) {
	t.Run("plain key", func(t *testing.T) {
		cfg, err := buildSSHConfig(&sshSettings{user: "me"}, DialOptions{
			Auth:    Auth{KeyPath: writeKey(t, "")},
			Timeout: 3 * time.Second,
		})
		require.NoError(t, err)
		assert.Len(t, cfg.Auth, 1)
		assert.Equal(t, 3*time.Second, cfg.Timeout)
	})

	t.Run("encrypted key with passphrase", func(t *testing.T) {
		cfg, err := buildSSHConfig(&sshSettings{user: "me"}, DialOptions{
			Auth: Auth{KeyPath: writeKey(t, "pw"), Passphrase: "pw"},
		})
		require.NoError(t, err)
		assert.Len(t, cfg.Auth, 1)
	})

	t.Run("encrypted key without passphrase", func(t *testing.T) {
		_, err := buildSSHConfig(&sshSettings{user: "me"}, DialOptions{
			Auth: Auth{KeyPath: writeKey(t, "pw")},
		})
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindAuthFailed))
		assert.Contains(t, err.Error(), "encrypted")
	})

	t.Run("missing explicit key", func(t *testing.T) {
		_, err := buildSSHConfig(&sshSettings{user: "me"}, DialOptions{
			Auth: Auth{KeyPath: filepath.Join(t.TempDir(), "missing")},
		})
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindAuthFailed))
	})

	t.Run("missing config identity is ignored", func(t *testing.T) {
		cfg, err := buildSSHConfig(&sshSettings{user: "me", identityFile: "/nonexistent/key"}, DialOptions{
			Auth: Auth{Password: "pw"},
		})
		require.NoError(t, err)
		assert.Len(t, cfg.Auth, 2)
	})
}

func TestBuildSSHConfig_NoAuth(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	_, err := buildSSHConfig(&sshSettings{user: "me"}, DialOptions{Auth: Auth{UseAgent: true}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
	assert.True(t, errors.IsKind(err, errors.KindAuthFailed))
}

func TestBuildSSHConfig_KnownHostsCreated(t *testing.T) {
	known := filepath.Join(t.TempDir(), "ssh", "known_hosts")
	_, err := buildSSHConfig(&sshSettings{user: "me"}, DialOptions{
		Auth:                  Auth{Password: "pw"},
		StrictHostKeyChecking: true,
		KnownHosts:            known,
	})
	require.NoError(t, err)
	_, statErr := os.Stat(known)
	assert.NoError(t, statErr)
}

func TestDial_Unreachable(t *testing.T) {
	// Grab a free port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), DialOptions{
		Host:    "127.0.0.1",
		Port:    port,
		User:    "me",
		Auth:    Auth{Password: "pw"},
		Timeout: time.Second,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNetworkUnreachable))
	assert.Contains(t, err.Error(), "Can't reach")
}

func TestClassifyHandshakeError(t *testing.T) {
	tests := []struct {
		err  error
		want errors.Kind
	}{
		{fmt.Errorf("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]"), errors.KindAuthFailed},
		{fmt.Errorf("ssh: handshake failed: knownhosts: key is unknown"), errors.KindAuthFailed},
		{fmt.Errorf("read tcp: i/o timeout"), errors.KindTimeout},
		{fmt.Errorf("read: connection reset by peer"), errors.KindNetworkUnreachable},
		{fmt.Errorf("ssh: handshake failed: ssh: invalid packet length"), errors.KindProtocolError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, classifyHandshakeError(tt.err).Kind)
		})
	}
}

func TestClassifyExecError(t *testing.T) {
	assert.Nil(t, ClassifyExecError(nil))
	assert.Equal(t, errors.KindTimeout, ClassifyExecError(context.DeadlineExceeded).Kind)
	assert.Equal(t, errors.KindNetworkUnreachable, ClassifyExecError(io.EOF).Kind)
	assert.Equal(t, errors.KindNetworkUnreachable, ClassifyExecError(net.ErrClosed).Kind)
	assert.Equal(t, errors.KindProtocolError, ClassifyExecError(stderrors.New("weird")).Kind)

	pre := errors.NewSSH(errors.KindAuthFailed, "x", nil)
	assert.Same(t, pre, ClassifyExecError(pre))
}

func TestIsConnectionLost(t *testing.T) {
	assert.False(t, IsConnectionLost(nil))
	assert.True(t, IsConnectionLost(fmt.Errorf("wrapped: %w", io.EOF)))
	assert.True(t, IsConnectionLost(stderrors.New("write: broken pipe")))
	assert.False(t, IsConnectionLost(stderrors.New("exit status 1")))
}

func TestHostKeyMismatchError_Suggestion(t *testing.T) {
	e := &HostKeyMismatchError{Hostname: "box:22", ReceivedType: "ssh-ed25519", KnownHosts: "/k"}
	assert.Contains(t, e.Error(), "box:22")
	assert.Contains(t, e.Suggestion(), "ssh-keygen -R box")
	assert.Contains(t, e.Suggestion(), "Known types: unknown")
}
