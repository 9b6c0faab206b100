// Package core wires the registry, metric history, session manager,
// poller and target switch into one context object and exposes the
// query, command, profile and target interfaces the CLI and dashboard
// use.
package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rileyhilliard/dockwatch/internal/config"
	"github.com/rileyhilliard/dockwatch/internal/docker"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/history"
	"github.com/rileyhilliard/dockwatch/internal/logger"
	"github.com/rileyhilliard/dockwatch/internal/poller"
	"github.com/rileyhilliard/dockwatch/internal/profile"
	"github.com/rileyhilliard/dockwatch/internal/registry"
	"github.com/rileyhilliard/dockwatch/internal/session"
	"github.com/rileyhilliard/dockwatch/internal/target"
)

// notifyBuffer is how many results Notifications holds before new ones
// are dropped.
const notifyBuffer = 64

// Options configures a Core. Only Config is required.
type Options struct {
	Config *config.Config
	// Profiles defaults to the store at Config.ProfilesFile.
	Profiles    *profile.Store
	Credentials profile.CredentialProvider
	// Dial and NewLocal replace the real transports in tests.
	Dial     session.Dialer
	NewLocal func() (docker.Client, error)
	// OnUpdate observes every poller tick.
	OnUpdate func(poller.Update)
	Logger   logger.Logger
}

// Core is the single entry point into dockwatch's resource management.
type Core struct {
	cfg *config.Config
	log logger.Logger

	registry *registry.Registry
	buffer   *history.Buffer
	sessions *session.Manager
	profiles *profile.Store
	target   *target.Switch

	notify chan Result

	// ctx bounds background command work; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Core with no active target.
func New(opts Options) (*Core, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	store := opts.Profiles
	if store == nil {
		var err error
		store, err = profile.Open(config.ExpandTilde(cfg.ProfilesFile))
		if err != nil {
			return nil, err
		}
	}

	timeouts := docker.Timeouts{Query: cfg.Timeouts.Query, Mutation: cfg.Timeouts.Mutation}
	reg := registry.New()
	buf := history.New(history.DefaultSize)
	sessions := session.NewManager(session.Options{
		Credentials:           opts.Credentials,
		Dial:                  opts.Dial,
		ConnectTimeout:        cfg.Timeouts.Connect,
		StrictHostKeyChecking: cfg.SSH.StrictHostKeyChecking,
		KnownHosts:            config.ExpandTilde(cfg.SSH.KnownHosts),
		Logger:                log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		cfg:      cfg,
		log:      logger.WithComponent(log, "core"),
		registry: reg,
		buffer:   buf,
		sessions: sessions,
		profiles: store,
		notify:   make(chan Result, notifyBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.target = target.New(target.Options{
		Sessions: sessions,
		Profiles: store,
		Registry: reg,
		Buffer:   buf,
		NewLocal: opts.NewLocal,
		Local: docker.LocalOptions{
			Host:             cfg.DockerHost,
			Timeouts:         timeouts,
			StatsConcurrency: cfg.Poll.StatsConcurrency,
			Logger:           logger.WithComponent(log, "docker"),
		},
		Timeouts:         timeouts,
		FailureThreshold: cfg.Poll.FailureThreshold,
		OnUpdate:         opts.OnUpdate,
		Logger:           log,
	})
	return c, nil
}

// Close stops polling, waits for running commands, and drops every
// session.
func (c *Core) Close() {
	c.cancel()
	c.wg.Wait()
	c.target.Close()
	c.sessions.Close()
}

// Config returns the configuration Core was built with.
func (c *Core) Config() *config.Config {
	return c.cfg
}

// Containers returns the latest known containers.
func (c *Core) Containers() []docker.ContainerInfo { return c.registry.Containers() }

// Images returns the latest known images with in-use flags.
func (c *Core) Images() []docker.ImageInfo { return c.registry.Images() }

// Networks returns the latest known user networks.
func (c *Core) Networks() []docker.NetworkInfo { return c.registry.Networks() }

// Volumes returns the latest known attached volumes.
func (c *Core) Volumes() []docker.VolumeInfo { return c.registry.Volumes() }

// Container resolves an ID, name, or ID prefix against the registry.
func (c *Core) Container(ref string) (docker.ContainerInfo, bool) {
	return c.registry.Container(ref)
}

// MetricHistory returns the sample ring, oldest first.
func (c *Core) MetricHistory() []docker.MetricSample { return c.buffer.Snapshot() }

// History exposes the ring for sparkline helpers.
func (c *Core) History() *history.Buffer { return c.buffer }

// Generation counts applied snapshots since the last target switch.
func (c *Core) Generation() uint64 { return c.registry.Generation() }

// EngineInfo asks the active transport for engine version and counts.
// On failure the returned Status still classifies why the engine is
// unavailable.
func (c *Core) EngineInfo(ctx context.Context) (docker.EngineInfo, error) {
	client, err := c.target.Client()
	if err != nil {
		return docker.EngineInfo{}, err
	}
	return client.Info(ctx)
}

// ContainerStats samples one container directly, bypassing the poller.
func (c *Core) ContainerStats(ctx context.Context, ref string) (docker.MetricSample, error) {
	client, err := c.target.Client()
	if err != nil {
		return docker.MetricSample{}, err
	}
	id := ref
	if info, ok := c.registry.Container(ref); ok {
		id = info.ID
	}
	return client.Stats(ctx, id)
}

// SetTarget performs a full handover to t.
func (c *Core) SetTarget(ctx context.Context, t target.Target) error {
	return c.target.Set(ctx, t)
}

// ActiveTarget returns the current target.
func (c *Core) ActiveTarget() target.Target {
	return c.target.Active()
}

// SessionState returns the connection state of the active target.
func (c *Core) SessionState() session.State {
	return c.target.SessionState()
}

// PollStatus reports whether polling is suspended and the last tick error.
func (c *Core) PollStatus() (suspended bool, lastErr error) {
	p := c.target.Poller()
	return p.Suspended(), p.LastError()
}

// Refresh forces one tick and waits for it.
func (c *Core) Refresh(ctx context.Context) error {
	return c.target.Poller().Refresh(ctx)
}

// WaitForData blocks until the first snapshot of the active target is
// applied or ctx is done. One-shot CLI commands use it before reading
// the query interface.
func (c *Core) WaitForData(ctx context.Context) error {
	if c.registry.Generation() > 0 {
		return nil
	}
	return c.Refresh(ctx)
}

// ListProfiles returns saved profiles, favorites first.
func (c *Core) ListProfiles() []profile.ConnectionProfile {
	return c.profiles.List()
}

// FindProfile resolves a profile by ID or name.
func (c *Core) FindProfile(ref string) (profile.ConnectionProfile, bool) {
	return c.profiles.Get(ref)
}

// AddProfile validates and saves p under a fresh ID.
func (c *Core) AddProfile(p profile.ConnectionProfile) (profile.ConnectionProfile, error) {
	return c.profiles.Add(p)
}

// RemoveProfile deletes a saved profile. The active target's profile
// cannot be removed.
func (c *Core) RemoveProfile(ref string) error {
	p, ok := c.profiles.Get(ref)
	if !ok {
		return errors.New(errors.ErrProfile,
			fmt.Sprintf("No profile '%s'", ref),
			"Run 'dockwatch profile list' to see saved profiles")
	}
	if active := c.target.Active(); active.IsRemote() && active.ProfileID == p.ID {
		return errors.New(errors.ErrProfile,
			fmt.Sprintf("Profile '%s' is the active target", p.Name),
			"Switch to another target first")
	}
	return c.profiles.Remove(p.ID)
}

// SetFavorite pins or unpins a profile.
func (c *Core) SetFavorite(ref string, favorite bool) error {
	p, ok := c.profiles.Get(ref)
	if !ok {
		return errors.New(errors.ErrProfile,
			fmt.Sprintf("No profile '%s'", ref),
			"Run 'dockwatch profile list' to see saved profiles")
	}
	return c.profiles.SetFavorite(p.ID, favorite)
}
