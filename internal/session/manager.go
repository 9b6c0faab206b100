// Package session owns SSH connections to remote Docker hosts: connect,
// one-command-at-a-time execution with a watchdog, and disconnect. It
// never retries on its own; retry policy belongs to the poller.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/logger"
	"github.com/rileyhilliard/dockwatch/internal/profile"
	"github.com/rileyhilliard/dockwatch/pkg/sshutil"
)

// Dialer opens an SSH connection for a profile with resolved auth.
type Dialer func(ctx context.Context, p profile.ConnectionProfile, auth sshutil.Auth) (sshutil.SSHClient, error)

// Options configures a Manager.
type Options struct {
	Credentials profile.CredentialProvider
	// Dial defaults to sshutil.Dial with the settings below.
	Dial                  Dialer
	ConnectTimeout        time.Duration
	StrictHostKeyChecking bool
	KnownHosts            string
	Logger                logger.Logger
	// OnConnected is called after each successful connect.
	OnConnected func(profileID string)
}

// Handle identifies one live connection. A handle goes stale when its
// session disconnects or reconnects.
type Handle struct {
	ProfileID string
	gen       uint64
}

// Result is the outcome of one remote command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

type session struct {
	state  State
	client sshutil.SSHClient
	gen    uint64
	// sem serializes Execute so output never interleaves.
	sem chan struct{}
}

// Manager tracks one session per profile ID that has ever been connected.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	opts     Options
	log      logger.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Credentials == nil {
		opts.Credentials = profile.DefaultProvider()
	}
	if opts.Dial == nil {
		opts.Dial = defaultDialer(opts)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		sessions: make(map[string]*session),
		opts:     opts,
		log:      logger.WithComponent(log, "session"),
	}
}

func defaultDialer(opts Options) Dialer {
	return func(ctx context.Context, p profile.ConnectionProfile, auth sshutil.Auth) (sshutil.SSHClient, error) {
		return sshutil.Dial(ctx, sshutil.DialOptions{
			Host:                  p.Host,
			Port:                  p.Port,
			User:                  p.User,
			Auth:                  auth,
			Timeout:               opts.ConnectTimeout,
			StrictHostKeyChecking: opts.StrictHostKeyChecking,
			KnownHosts:            opts.KnownHosts,
		})
	}
}

func (m *Manager) get(id string) *session {
	s, ok := m.sessions[id]
	if !ok {
		s = &session{
			state: State{ProfileID: id, Phase: Disconnected},
			sem:   make(chan struct{}, 1),
		}
		m.sessions[id] = s
	}
	return s
}

// Connect opens (or reuses) the session for p. A live Connected session
// is reused. Failures move the session to Failed with the SSH error kind
// as reason. No retries happen here.
func (m *Manager) Connect(ctx context.Context, p profile.ConnectionProfile) (*Handle, error) {
	m.mu.Lock()
	s := m.get(p.ID)
	if s.state.Phase == Connected && s.client != nil {
		client, gen := s.client, s.gen
		m.mu.Unlock()
		if client.KeepAlive() == nil {
			return &Handle{ProfileID: p.ID, gen: gen}, nil
		}
		m.log.Debug("session %s went stale, reconnecting", p.ID)
		m.mu.Lock()
		if s.gen == gen {
			m.dropLocked(s, Disconnected, "", nil)
		} else if s.state.Phase == Connected && s.client != nil {
			// Someone else reconnected while we checked.
			h := &Handle{ProfileID: p.ID, gen: s.gen}
			m.mu.Unlock()
			return h, nil
		}
	}
	if s.state.Phase == Connecting {
		m.mu.Unlock()
		return nil, errors.NewSSH(errors.KindProtocolError,
			fmt.Sprintf("A connection to '%s' is already in progress", p.Name), nil)
	}
	s.state.Phase = Connecting
	s.state.Reason = ""
	s.state.Err = nil
	m.mu.Unlock()

	m.log.Info("connecting to %s (%s)", p.Name, p.Address())

	client, err := m.dial(ctx, p)

	m.mu.Lock()
	if err != nil {
		kind := errors.KindOf(err)
		if kind == "" {
			kind = errors.KindProtocolError
		}
		s.state.Phase = Failed
		s.state.Reason = kind
		s.state.Err = err
		m.mu.Unlock()
		m.log.Warn("connect to %s failed: %s", p.Name, kind)
		return nil, err
	}

	s.client = client
	s.gen++
	s.state.Phase = Connected
	s.state.LastActivity = time.Now()
	h := &Handle{ProfileID: p.ID, gen: s.gen}
	m.mu.Unlock()

	if m.opts.OnConnected != nil {
		m.opts.OnConnected(p.ID)
	}
	return h, nil
}

func (m *Manager) dial(ctx context.Context, p profile.ConnectionProfile) (sshutil.SSHClient, error) {
	auth, err := m.opts.Credentials.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	client, err := m.opts.Dial(ctx, p, auth)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.KindOf(err) == "" {
			return nil, errors.NewSSH(errors.KindTimeout, "connect cancelled", ctxErr)
		}
		return nil, err
	}
	return client, nil
}

// Execute runs one command on the session behind h. Calls on the same
// session are serialized. If the peer does not answer within timeout the
// exchange is cancelled and the session is marked Failed(Timeout). A
// connection-lost failure moves the session to Disconnected.
func (m *Manager) Execute(ctx context.Context, h *Handle, cmd string, timeout time.Duration) (Result, error) {
	s, _, err := m.live(h)
	if err != nil {
		return Result{}, err
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, errors.NewSSH(errors.KindTimeout, "gave up waiting for the session", ctx.Err())
	}
	defer func() { <-s.sem }()

	// The session may have dropped while we queued.
	_, client, err := m.live(h)
	if err != nil {
		return Result{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.log.Debug("exec on %s: %s", h.ProfileID, cmd)
	stdout, stderr, code, err := client.Exec(execCtx, cmd)
	if err == nil {
		m.mu.Lock()
		if s.gen == h.gen {
			s.state.LastActivity = time.Now()
		}
		m.mu.Unlock()
		return Result{Stdout: stdout, Stderr: stderr, ExitCode: code}, nil
	}

	// Caller cancelled: not the peer's fault, leave state alone.
	if ctx.Err() != nil {
		return Result{}, errors.NewSSH(errors.KindTimeout, "command cancelled", ctx.Err())
	}

	if stderrors.Is(execCtx.Err(), context.DeadlineExceeded) {
		sshErr := errors.NewSSH(errors.KindTimeout,
			fmt.Sprintf("No response from %s within %s", h.ProfileID, timeout), err)
		m.fail(h, errors.KindTimeout, sshErr)
		return Result{}, sshErr
	}

	sshErr := sshutil.ClassifyExecError(err)
	if sshErr.Kind == errors.KindNetworkUnreachable {
		m.log.Warn("session %s lost: %v", h.ProfileID, err)
		m.mu.Lock()
		if s.gen == h.gen {
			m.dropLocked(s, Disconnected, "", sshErr)
		}
		m.mu.Unlock()
	}
	return Result{}, sshErr
}

// live returns the session and client for a current handle.
func (m *Manager) live(h *Handle) (*session, sshutil.SSHClient, error) {
	if h == nil {
		return nil, nil, errors.NewSSH(errors.KindNetworkUnreachable, "no session", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h.ProfileID]
	if !ok || s.gen != h.gen || s.state.Phase != Connected || s.client == nil {
		return nil, nil, errors.NewSSH(errors.KindNetworkUnreachable,
			fmt.Sprintf("Session %s is not connected", h.ProfileID), nil)
	}
	return s, s.client, nil
}

func (m *Manager) fail(h *Handle, reason errors.Kind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h.ProfileID]
	if !ok || s.gen != h.gen {
		return
	}
	m.log.Warn("session %s failed: %s", h.ProfileID, reason)
	m.dropLocked(s, Failed, reason, err)
}

// dropLocked closes the client and moves to phase. Caller holds mu.
func (m *Manager) dropLocked(s *session, phase Phase, reason errors.Kind, err error) {
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	s.gen++
	s.state.Phase = phase
	s.state.Reason = reason
	s.state.Err = err
}

// Disconnect releases the connection behind h. Idempotent; stale handles
// are ignored.
func (m *Manager) Disconnect(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h.ProfileID]
	if !ok || s.gen != h.gen || s.state.Phase != Connected {
		return
	}
	m.log.Info("disconnecting %s", h.ProfileID)
	m.dropLocked(s, Disconnected, "", nil)
}

// MarkFailed forces the profile's session into Failed(reason), closing
// any live connection. Used by the poller after repeated failures.
func (m *Manager) MarkFailed(profileID string, reason errors.Kind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(profileID)
	if s.state.Phase == Failed && s.state.Reason == reason {
		return
	}
	m.log.Warn("marking session %s failed: %s", profileID, reason)
	m.dropLocked(s, Failed, reason, err)
}

// State returns a snapshot of the profile's session. Unknown profiles
// are Disconnected.
func (m *Manager) State(profileID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[profileID]; ok {
		return s.state
	}
	return State{ProfileID: profileID, Phase: Disconnected}
}

// Close disconnects every session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.state.Phase == Connected {
			m.dropLocked(s, Disconnected, "", nil)
		}
	}
}
