package poller

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/docker"
	dockertesting "github.com/rileyhilliard/dockwatch/internal/docker/testing"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/history"
	"github.com/rileyhilliard/dockwatch/internal/logger"
	"github.com/rileyhilliard/dockwatch/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	reg *registry.Registry
	buf *history.Buffer
	p   *Poller

	mu       sync.Mutex
	suspends []errors.Kind
	updates  []Update
}

func newHarness(interval time.Duration) *harness {
	h := &harness{reg: registry.New(), buf: history.New(0)}
	h.p = New(Options{
		Registry: h.reg,
		Buffer:   h.buf,
		Interval: interval,
		Logger:   logger.NewBufferLogger(),
		OnSuspend: func(reason errors.Kind, _ error) {
			h.mu.Lock()
			h.suspends = append(h.suspends, reason)
			h.mu.Unlock()
		},
		OnUpdate: func(u Update) {
			h.mu.Lock()
			h.updates = append(h.updates, u)
			h.mu.Unlock()
		},
	})
	return h
}

func (h *harness) suspendReasons() []errors.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]errors.Kind(nil), h.suspends...)
}

func populated() *dockertesting.FakeClient {
	f := dockertesting.NewFakeClient()
	f.SetContainers(docker.ContainerInfo{ID: "c1", Name: "web", Image: "nginx", Status: docker.StatusRunning, Networks: []string{"frontend"}})
	f.SetImages(docker.ImageInfo{ID: "sha256:n", Tags: []string{"nginx:latest"}})
	f.SetNetworks(docker.NetworkInfo{ID: "n1", Name: "frontend"})
	f.SetSample(docker.MetricSample{CPUPercent: 12, MemUsed: 10, MemLimit: 100})
	return f
}

func TestStart_FirstTickIsImmediate(t *testing.T) {
	h := newHarness(time.Hour)
	f := populated()
	h.p.Start(f, false)
	defer h.p.Stop()

	require.Eventually(t, func() bool { return h.reg.Generation() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.reg.Containers(), 1)
	assert.True(t, h.reg.Images()[0].InUse)
	assert.Equal(t, 1, h.buf.Len())
	latest, _ := h.buf.Latest()
	assert.Equal(t, 12.0, latest.CPUPercent)
	assert.True(t, h.p.Running())
}

func TestTick_RunsAllFiveCalls(t *testing.T) {
	h := newHarness(time.Hour)
	f := populated()
	h.p.Start(f, false)
	defer h.p.Stop()

	require.Eventually(t, func() bool { return h.reg.Generation() == 1 }, time.Second, 5*time.Millisecond)
	for _, name := range []string{"ListContainers", "ListImages", "ListNetworks", "ListVolumes", "StatsAll"} {
		assert.Equal(t, 1, f.CallCount(name), name)
	}
}

func TestFailure_KeepsStaleData(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	f := populated()
	h.p.Start(f, false)
	defer h.p.Stop()

	require.Eventually(t, func() bool { return h.reg.Generation() >= 1 }, time.Second, 5*time.Millisecond)
	f.SetError(errors.NewTransport(errors.KindConnectionLost, "gone", nil))

	require.Eventually(t, func() bool { return h.p.Failures() >= 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.reg.Containers(), 1, "failed ticks never blank the registry")
	assert.Error(t, h.p.LastError())
	assert.False(t, h.p.Suspended(), "local targets are never suspended")
	assert.Empty(t, h.suspendReasons())

	f.SetError(nil)
	require.Eventually(t, func() bool { return h.p.Failures() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, h.p.LastError())
}

func TestRemote_SuspendsAfterThreshold(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	f := populated()
	f.SetError(errors.NewTransport(errors.KindTimeout, "slow", errors.NewSSH(errors.KindTimeout, "no answer", nil)))
	h.p.Start(f, true)
	defer h.p.Stop()

	require.Eventually(t, h.p.Suspended, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, DefaultFailureThreshold, h.p.Failures())
	assert.Equal(t, []errors.Kind{errors.KindTimeout}, h.suspendReasons())

	// No further ticks run while suspended.
	calls := f.CallCount("StatsAll")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, f.CallCount("StatsAll"))

	assert.ErrorIs(t, h.p.Refresh(context.Background()), ErrSuspended)
}

func TestRemote_ConnectionLostSuspendsAsUnreachable(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	f := populated()
	f.SetError(errors.NewTransport(errors.KindConnectionLost, "reset", nil))
	h.p.Start(f, true)
	defer h.p.Stop()

	require.Eventually(t, h.p.Suspended, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []errors.Kind{errors.KindNetworkUnreachable}, h.suspendReasons())
}

func TestStart_ClearsSuspension(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	f := populated()
	f.SetError(stderrors.New("boom"))
	h.p.Start(f, true)
	require.Eventually(t, h.p.Suspended, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []errors.Kind{errors.KindProtocolError}, h.suspendReasons())

	f.SetError(nil)
	h.p.Start(f, true)
	defer h.p.Stop()
	assert.False(t, h.p.Suspended())
	require.Eventually(t, func() bool { return h.reg.Generation() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestTicksNeverOverlap(t *testing.T) {
	h := newHarness(5 * time.Millisecond)
	f := populated()
	f.SetDelay(40 * time.Millisecond)
	h.p.Start(f, false)

	time.Sleep(150 * time.Millisecond)
	h.p.Stop()

	// One tick issues five concurrent calls; a second overlapping tick
	// would push this past five.
	assert.LessOrEqual(t, f.MaxConcurrent(), 5)
	assert.LessOrEqual(t, f.CallCount("StatsAll"), 5)
}

func TestStop_DiscardsInFlightTick(t *testing.T) {
	h := newHarness(time.Hour)
	f := populated()
	f.SetDelay(500 * time.Millisecond)
	h.p.Start(f, false)

	require.Eventually(t, func() bool { return f.CallCount("StatsAll") == 1 }, time.Second, time.Millisecond)
	start := time.Now()
	h.p.Stop()
	assert.Less(t, time.Since(start), 400*time.Millisecond, "stop cancels rather than waits out the delay")

	assert.Zero(t, h.reg.Generation())
	assert.Zero(t, h.buf.Len())
	assert.Zero(t, h.p.Failures(), "cancelled ticks are not failures")
	assert.False(t, h.p.Running())
}

func TestRefresh(t *testing.T) {
	h := newHarness(time.Hour)
	assert.ErrorIs(t, h.p.Refresh(context.Background()), ErrNotRunning)

	f := populated()
	h.p.Start(f, false)
	defer h.p.Stop()
	require.Eventually(t, func() bool { return h.reg.Generation() == 1 }, time.Second, 5*time.Millisecond)

	f.SetContainers()
	require.NoError(t, h.p.Refresh(context.Background()))
	assert.Empty(t, h.reg.Containers())
	assert.Equal(t, uint64(2), h.reg.Generation())
	assert.Equal(t, 2, h.buf.Len())

	h.mu.Lock()
	last := h.updates[len(h.updates)-1]
	h.mu.Unlock()
	assert.True(t, last.Forced)
}

func TestRefresh_CancelledByCaller(t *testing.T) {
	h := newHarness(time.Hour)
	f := populated()
	h.p.Start(f, false)
	defer h.p.Stop()
	require.Eventually(t, func() bool { return h.reg.Generation() == 1 }, time.Second, 5*time.Millisecond)

	f.SetDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.p.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), h.reg.Generation())
}

func TestOnUpdate_ReportsEveryTick(t *testing.T) {
	var n atomic.Int32
	p := New(Options{
		Registry: registry.New(),
		Buffer:   history.New(0),
		Interval: 10 * time.Millisecond,
		OnUpdate: func(Update) { n.Add(1) },
	})
	p.Start(populated(), false)
	defer p.Stop()
	require.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}
