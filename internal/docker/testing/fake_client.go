// Package testing provides an in-memory docker.Client for tests.
package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/docker"
)

// FakeClient is a scriptable docker.Client. All methods are safe for
// concurrent use.
type FakeClient struct {
	mu sync.Mutex

	containers []docker.ContainerInfo
	images     []docker.ImageInfo
	networks   []docker.NetworkInfo
	volumes    []docker.VolumeInfo
	sample     docker.MetricSample
	stats      map[string]docker.ContainerStats

	// err fails every call while set.
	err error
	// delay blocks every call, honoring ctx.
	delay time.Duration

	calls    []string
	inFlight int32
	maxSeen  int32
	closed   atomic.Bool
	nextID   int
}

// NewFakeClient returns an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{stats: map[string]docker.ContainerStats{}}
}

// SetContainers replaces the container list.
func (f *FakeClient) SetContainers(cs ...docker.ContainerInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers = append([]docker.ContainerInfo(nil), cs...)
}

// SetImages replaces the image list.
func (f *FakeClient) SetImages(is ...docker.ImageInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append([]docker.ImageInfo(nil), is...)
}

// SetNetworks replaces the network list.
func (f *FakeClient) SetNetworks(ns ...docker.NetworkInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append([]docker.NetworkInfo(nil), ns...)
}

// SetVolumes replaces the volume list.
func (f *FakeClient) SetVolumes(vs ...docker.VolumeInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append([]docker.VolumeInfo(nil), vs...)
}

// SetSample sets the aggregate StatsAll returns. A zero timestamp is
// replaced with time.Now at call time.
func (f *FakeClient) SetSample(s docker.MetricSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample = s
}

// SetError makes every call fail with err; nil clears it.
func (f *FakeClient) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SetDelay makes every call block for d or until ctx is done.
func (f *FakeClient) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns the recorded call names in order.
func (f *FakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts recorded calls with the given name.
func (f *FakeClient) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// MaxConcurrent is the highest number of overlapping calls observed.
func (f *FakeClient) MaxConcurrent() int {
	return int(atomic.LoadInt32(&f.maxSeen))
}

// IsClosed reports whether Close was called.
func (f *FakeClient) IsClosed() bool {
	return f.closed.Load()
}

// enter records a call and applies delay and error.
func (f *FakeClient) enter(ctx context.Context, name string) error {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, name)
	delay, err := f.delay, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// ListContainers implements docker.Client.
func (f *FakeClient) ListContainers(ctx context.Context, filter docker.ListFilter) ([]docker.ContainerInfo, error) {
	if err := f.enter(ctx, "ListContainers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []docker.ContainerInfo
	for _, c := range f.containers {
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListImages implements docker.Client.
func (f *FakeClient) ListImages(ctx context.Context) ([]docker.ImageInfo, error) {
	if err := f.enter(ctx, "ListImages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docker.ImageInfo(nil), f.images...), nil
}

// ListNetworks implements docker.Client.
func (f *FakeClient) ListNetworks(ctx context.Context) ([]docker.NetworkInfo, error) {
	if err := f.enter(ctx, "ListNetworks"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docker.NetworkInfo(nil), f.networks...), nil
}

// ListVolumes implements docker.Client.
func (f *FakeClient) ListVolumes(ctx context.Context) ([]docker.VolumeInfo, error) {
	if err := f.enter(ctx, "ListVolumes"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docker.VolumeInfo(nil), f.volumes...), nil
}

// ContainerAction implements docker.Client. Lifecycle actions update the
// fake's container state; remove deletes it.
func (f *FakeClient) ContainerAction(ctx context.Context, id string, action docker.Action) error {
	if err := f.enter(ctx, "ContainerAction:"+string(action)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.containers {
		if c.ID != id && c.Name != id {
			continue
		}
		switch action {
		case docker.ActionStart, docker.ActionRestart, docker.ActionUnpause:
			f.containers[i].Status = docker.StatusRunning
		case docker.ActionStop:
			f.containers[i].Status = docker.StatusExited
		case docker.ActionPause:
			f.containers[i].Status = docker.StatusPaused
		case docker.ActionRemove:
			f.containers = append(f.containers[:i], f.containers[i+1:]...)
		}
		return nil
	}
	return fmt.Errorf("no such container: %s", id)
}

// RemoveImage implements docker.Client.
func (f *FakeClient) RemoveImage(ctx context.Context, id string) error {
	if err := f.enter(ctx, "RemoveImage"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, img := range f.images {
		if img.ID == id {
			f.images = append(f.images[:i], f.images[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no such image: %s", id)
}

// RemoveNetwork implements docker.Client.
func (f *FakeClient) RemoveNetwork(ctx context.Context, id string) error {
	if err := f.enter(ctx, "RemoveNetwork"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.networks {
		if n.ID == id || n.Name == id {
			f.networks = append(f.networks[:i], f.networks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no such network: %s", id)
}

// RemoveVolume implements docker.Client.
func (f *FakeClient) RemoveVolume(ctx context.Context, name string) error {
	if err := f.enter(ctx, "RemoveVolume"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.volumes {
		if v.Name == name {
			f.volumes = append(f.volumes[:i], f.volumes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no such volume: %s", name)
}

// CreateContainer implements docker.Client. The new container is running.
func (f *FakeClient) CreateContainer(ctx context.Context, spec docker.CreateSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	if err := f.enter(ctx, "CreateContainer"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake%08d", f.nextID)
	name := spec.Name
	if name == "" {
		name = id
	}
	var vols []string
	for _, v := range spec.Volumes {
		vols = append(vols, v.Source)
	}
	f.containers = append(f.containers, docker.ContainerInfo{
		ID: id, Name: name, Image: spec.Image, Status: docker.StatusRunning, Created: time.Now(), Volumes: vols,
	})
	sort.SliceStable(f.containers, func(i, j int) bool { return f.containers[i].Name < f.containers[j].Name })
	return id, nil
}

// Stats implements docker.Client.
func (f *FakeClient) Stats(ctx context.Context, id string) (docker.MetricSample, error) {
	if err := f.enter(ctx, "Stats"); err != nil {
		return docker.MetricSample{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.stats[id]
	return docker.MetricSample{
		Timestamp: time.Now(), CPUPercent: st.CPUPercent, MemUsed: st.MemUsed, MemLimit: st.MemLimit,
		NetRx: st.NetRx, NetTx: st.NetTx,
	}, nil
}

// StatsAll implements docker.Client.
func (f *FakeClient) StatsAll(ctx context.Context) (docker.MetricSample, map[string]docker.ContainerStats, error) {
	if err := f.enter(ctx, "StatsAll"); err != nil {
		return docker.MetricSample{}, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sample
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	per := make(map[string]docker.ContainerStats, len(f.stats))
	for k, v := range f.stats {
		per[k] = v
	}
	return s, per, nil
}

// SetStats sets the per-container breakdown.
func (f *FakeClient) SetStats(id string, st docker.ContainerStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[id] = st
}

// Info implements docker.Client. Counts are derived from the current
// lists; on failure Status is classified from the error.
func (f *FakeClient) Info(ctx context.Context) (docker.EngineInfo, error) {
	if err := f.enter(ctx, "Info"); err != nil {
		return docker.EngineInfo{Status: docker.StatusOf(err)}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info := docker.EngineInfo{
		Status:       docker.EngineRunning,
		Version:      "fake",
		OS:           "linux",
		OSType:       "linux",
		Architecture: "x86_64",
		MemTotal:     f.sample.MemLimit,
		Containers:   len(f.containers),
		Images:       len(f.images),
	}
	for _, c := range f.containers {
		switch c.Status {
		case docker.StatusRunning:
			info.Running++
		case docker.StatusPaused:
			info.Paused++
		default:
			info.Stopped++
		}
	}
	return info, nil
}

// Close implements docker.Client.
func (f *FakeClient) Close() error {
	f.closed.Store(true)
	return nil
}

var _ docker.Client = (*FakeClient)(nil)
