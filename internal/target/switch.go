package target

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/docker"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/history"
	"github.com/rileyhilliard/dockwatch/internal/logger"
	"github.com/rileyhilliard/dockwatch/internal/poller"
	"github.com/rileyhilliard/dockwatch/internal/profile"
	"github.com/rileyhilliard/dockwatch/internal/registry"
	"github.com/rileyhilliard/dockwatch/internal/session"
)

// ProfileLookup resolves saved profiles. *profile.Store implements it.
type ProfileLookup interface {
	Get(ref string) (profile.ConnectionProfile, bool)
	Touch(id string, at time.Time) error
}

// Options configures a Switch.
type Options struct {
	Sessions *session.Manager
	Profiles ProfileLookup
	Registry *registry.Registry
	Buffer   *history.Buffer

	// NewLocal builds the local transport. Defaults to docker.NewLocal
	// with Local.
	NewLocal func() (docker.Client, error)
	Local    docker.LocalOptions
	Timeouts docker.Timeouts

	Interval         time.Duration
	FailureThreshold int
	OnUpdate         func(poller.Update)
	Logger           logger.Logger
}

// ErrNoTarget is returned by Client before a successful Set.
var ErrNoTarget = errors.New(errors.ErrExec,
	"No target is connected",
	"Select the local engine or a remote profile first")

// Switch holds the single active target and its guarded transport.
type Switch struct {
	opts   Options
	log    logger.Logger
	poller *poller.Poller

	// setMu serializes handovers.
	setMu sync.Mutex

	mu     sync.RWMutex
	active Target
	client docker.Client
	handle *session.Handle
}

// New creates a Switch with no active target. The poller it drives is
// created here so suspension can reach the session manager.
func New(opts Options) *Switch {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	if opts.NewLocal == nil {
		local := opts.Local
		opts.NewLocal = func() (docker.Client, error) {
			c, err := docker.NewLocal(local)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	s := &Switch{opts: opts, log: logger.WithComponent(log, "target")}
	s.poller = poller.New(poller.Options{
		Registry:         opts.Registry,
		Buffer:           opts.Buffer,
		Interval:         opts.Interval,
		FailureThreshold: opts.FailureThreshold,
		OnSuspend:        s.suspend,
		OnUpdate:         opts.OnUpdate,
		Logger:           logger.WithComponent(log, "poller"),
	})
	return s
}

// Poller returns the poller driven by this switch.
func (s *Switch) Poller() *poller.Poller {
	return s.poller
}

// Set makes t the active target. The previous poller is stopped and its
// in-flight tick discarded, the previous session released, and the
// registry and buffer cleared before the new transport is connected. On
// connect failure t stays active with no client, so a later Set retries.
func (s *Switch) Set(ctx context.Context, t Target) error {
	if t.IsZero() {
		return errors.New(errors.ErrConfig, "No target given", "Use the local engine or a saved profile")
	}

	s.setMu.Lock()
	defer s.setMu.Unlock()

	var p profile.ConnectionProfile
	if t.IsRemote() {
		if s.opts.Sessions == nil || s.opts.Profiles == nil {
			return errors.New(errors.ErrConfig, "Remote targets are not configured", "")
		}
		var ok bool
		p, ok = s.opts.Profiles.Get(t.ProfileID)
		if !ok {
			return errors.New(errors.ErrProfile,
				fmt.Sprintf("No profile '%s'", t.ProfileID),
				"Run 'dockwatch profile list' to see saved profiles")
		}
		t.ProfileID = p.ID
	}

	s.log.Info("switching target to %s", t)
	s.poller.Stop()

	s.mu.Lock()
	prev, prevClient, prevHandle := s.active, s.client, s.handle
	s.active, s.client, s.handle = t, nil, nil
	s.mu.Unlock()

	if prevClient != nil {
		_ = prevClient.Close()
	}
	if prevHandle != nil && prev != t {
		s.opts.Sessions.Disconnect(prevHandle)
	}

	s.opts.Buffer.Reset()
	s.opts.Registry.Reset()

	client, handle, err := s.connect(ctx, t, p)
	if err != nil {
		s.log.Warn("connect to %s failed: %v", t, err)
		return err
	}
	guarded := docker.NewGuard(client, s.opts.Registry)

	s.mu.Lock()
	s.client, s.handle = guarded, handle
	s.mu.Unlock()

	s.poller.Start(guarded, t.IsRemote())
	return nil
}

func (s *Switch) connect(ctx context.Context, t Target, p profile.ConnectionProfile) (docker.Client, *session.Handle, error) {
	if !t.IsRemote() {
		c, err := s.opts.NewLocal()
		return c, nil, err
	}
	h, err := s.opts.Sessions.Connect(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if err := s.opts.Profiles.Touch(p.ID, time.Now()); err != nil {
		s.log.Warn("could not record last connection for %s: %v", p.Name, err)
	}
	runner := docker.SessionRunner{Manager: s.opts.Sessions, Handle: h}
	return docker.NewRemote(runner, s.opts.Timeouts), h, nil
}

// Active returns the current target.
func (s *Switch) Active() Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Client returns the guarded transport of the active target.
func (s *Switch) Client() (docker.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, ErrNoTarget
	}
	return s.client, nil
}

// SessionState returns the session of the active remote target. Local
// targets report Connected once a client exists.
func (s *Switch) SessionState() session.State {
	s.mu.RLock()
	t, connected := s.active, s.client != nil
	s.mu.RUnlock()
	if t.IsRemote() {
		return s.opts.Sessions.State(t.ProfileID)
	}
	if connected {
		return session.State{Phase: session.Connected}
	}
	return session.State{Phase: session.Disconnected}
}

// Close stops polling and releases the active transport.
func (s *Switch) Close() {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.poller.Stop()
	s.mu.Lock()
	client, handle := s.client, s.handle
	s.active, s.client, s.handle = Target{}, nil, nil
	s.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	if handle != nil {
		s.opts.Sessions.Disconnect(handle)
	}
}

// suspend runs when the poller gives up on a remote target. A session
// that already failed keeps its original reason.
func (s *Switch) suspend(reason errors.Kind, err error) {
	t := s.Active()
	if !t.IsRemote() {
		return
	}
	if st := s.opts.Sessions.State(t.ProfileID); st.Phase == session.Failed {
		s.log.Warn("polling of %s suspended; session already failed: %s", t, st.Reason)
		return
	}
	s.opts.Sessions.MarkFailed(t.ProfileID, reason, err)
}
