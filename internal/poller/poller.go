// Package poller refreshes the registry and metric history from the
// active Docker client on a fixed tick.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rileyhilliard/dockwatch/internal/docker"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/history"
	"github.com/rileyhilliard/dockwatch/internal/logger"
	"github.com/rileyhilliard/dockwatch/internal/registry"
)

// DefaultInterval is the tick period.
const DefaultInterval = time.Second

// DefaultFailureThreshold is how many consecutive failed ticks against a
// remote target suspend polling.
const DefaultFailureThreshold = 3

// Update describes one finished tick.
type Update struct {
	Seq    uint64
	Forced bool
	Err    error
	// Suspended is true when this tick tripped the failure threshold.
	Suspended bool
}

// Options configures a Poller.
type Options struct {
	Registry *registry.Registry
	Buffer   *history.Buffer
	Interval time.Duration
	// FailureThreshold applies to remote targets only.
	FailureThreshold int
	// OnSuspend runs once when a remote target trips the threshold.
	OnSuspend func(reason errors.Kind, err error)
	// OnUpdate runs after every tick that was not discarded.
	OnUpdate func(Update)
	Logger   logger.Logger
}

// Poller drives refresh ticks for one client at a time.
type Poller struct {
	opts Options
	log  logger.Logger

	mu      sync.Mutex
	client  docker.Client
	remote  bool
	ctx     context.Context
	cancel  context.CancelFunc
	epoch   uint64
	running bool
	lastErr error

	wg        sync.WaitGroup
	inFlight  atomic.Bool
	suspended atomic.Bool
	failures  atomic.Int32
	seq       atomic.Uint64

	// applyMu orders registry and buffer writes between regular and
	// forced ticks.
	applyMu sync.Mutex
}

// New creates a stopped poller.
func New(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}
	return &Poller{opts: opts, log: opts.Logger}
}

// ErrNotRunning is returned by Refresh when no client is being polled.
var ErrNotRunning = errors.New(errors.ErrExec, "Poller is not running", "Select a target first")

// ErrSuspended is returned by Refresh after the failure threshold tripped.
var ErrSuspended = errors.New(errors.ErrExec, "Polling is suspended after repeated failures", "Reconnect to the target to resume")

// Start begins polling client. The first tick runs immediately. remote
// enables the consecutive-failure threshold.
func (p *Poller) Start(client docker.Client, remote bool) {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
	p.remote = remote
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.epoch++
	p.running = true
	p.lastErr = nil
	p.failures.Store(0)
	p.suspended.Store(false)

	ctx, epoch := p.ctx, p.epoch
	p.wg.Add(1)
	go p.loop(ctx, epoch)
}

// Stop cancels the in-flight tick and waits for it to finish. Results
// of a cancelled tick are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) stopLocked() {
	if !p.running {
		return
	}
	p.cancel()
	p.epoch++
	p.running = false
	p.client = nil
}

// Running reports whether a client is being polled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Suspended reports whether the failure threshold stopped polling.
func (p *Poller) Suspended() bool {
	return p.suspended.Load()
}

// Failures is the current consecutive-failure count.
func (p *Poller) Failures() int {
	return int(p.failures.Load())
}

// LastError is the error of the most recent failed tick, cleared by the
// next successful one.
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Refresh runs one forced tick now, alongside any regular tick in
// flight. Whichever finishes last wins.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	if p.suspended.Load() {
		p.mu.Unlock()
		return ErrSuspended
	}
	runCtx, client, remote, epoch := p.ctx, p.client, p.remote, p.epoch
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	return p.tick(tickCtx, client, remote, epoch, true)
}

func (p *Poller) loop(ctx context.Context, epoch uint64) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.tryTick(ctx, epoch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tryTick(ctx, epoch)
		}
	}
}

// tryTick starts a regular tick unless one is still in flight.
func (p *Poller) tryTick(ctx context.Context, epoch uint64) {
	if p.suspended.Load() {
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.log.Debug("tick skipped: previous tick still in flight")
		return
	}

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		p.inFlight.Store(false)
		return
	}
	client, remote := p.client, p.remote
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		_ = p.tick(ctx, client, remote, epoch, false)
	}()
}

// tick fetches a full snapshot and applies it if the epoch is unchanged.
func (p *Poller) tick(ctx context.Context, client docker.Client, remote bool, epoch uint64, forced bool) error {
	seq := p.seq.Add(1)
	snap, sample, err := fetch(ctx, client)

	if ctx.Err() != nil {
		p.log.Debug("tick %d discarded: %v", seq, ctx.Err())
		return ctx.Err()
	}
	if err != nil {
		p.recordFailure(seq, forced, remote, epoch, err)
		return err
	}

	p.applyMu.Lock()
	p.mu.Lock()
	current := p.epoch == epoch
	if current {
		p.lastErr = nil
	}
	p.mu.Unlock()
	if !current {
		p.applyMu.Unlock()
		p.log.Debug("tick %d discarded: target changed", seq)
		return nil
	}
	p.opts.Registry.Apply(snap)
	p.opts.Buffer.Append(sample)
	p.applyMu.Unlock()

	p.failures.Store(0)
	p.notify(Update{Seq: seq, Forced: forced})
	return nil
}

func (p *Poller) recordFailure(seq uint64, forced, remote bool, epoch uint64, err error) {
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return
	}
	p.lastErr = err
	p.mu.Unlock()

	n := int(p.failures.Add(1))
	p.log.Warn("tick %d failed (%d consecutive): %v", seq, n, err)

	tripped := remote && n >= p.opts.FailureThreshold && p.suspended.CompareAndSwap(false, true)
	if tripped {
		reason := errors.KindOf(err)
		if reason == "" || reason == errors.KindEngineRejected || reason == errors.KindMalformedResponse {
			reason = errors.KindProtocolError
		}
		if reason == errors.KindConnectionLost {
			reason = errors.KindNetworkUnreachable
		}
		p.log.Error("polling suspended after %d consecutive failures", n)
		if p.opts.OnSuspend != nil {
			p.opts.OnSuspend(reason, err)
		}
	}
	p.notify(Update{Seq: seq, Forced: forced, Err: err, Suspended: tripped})
}

func (p *Poller) notify(u Update) {
	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(u)
	}
}

// fetch runs the four list calls and the stats call concurrently.
func fetch(ctx context.Context, client docker.Client) (registry.Snapshot, docker.MetricSample, error) {
	var (
		snap   registry.Snapshot
		sample docker.MetricSample
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Containers, err = client.ListContainers(gctx, docker.ListFilter{All: true})
		return err
	})
	g.Go(func() error {
		var err error
		snap.Images, err = client.ListImages(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Networks, err = client.ListNetworks(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Volumes, err = client.ListVolumes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		sample, snap.Stats, err = client.StatsAll(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return registry.Snapshot{}, docker.MetricSample{}, err
	}
	snap.Taken = sample.Timestamp
	return snap, sample, nil
}
