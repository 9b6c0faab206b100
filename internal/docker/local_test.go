package docker

import (
	"context"
	stderrors "errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pbnjay/memory"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine is an in-memory engineAPI.
type fakeEngine struct {
	mu sync.Mutex

	containers []container.Summary
	images     []image.Summary
	networks   []network.Summary
	volumes    []*volume.Volume
	memTotal   int64
	info       system.Info
	// stats holds queued stats JSON bodies per container ID.
	stats map[string][]string

	err        error
	removeErr  error
	createErr  []error
	actions    []string
	pulled     []string
	createdCfg *container.Config
	createdHC  *container.HostConfig
	infoCalls  int
	closed     bool
}

func (f *fakeEngine) record(s string) {
	f.mu.Lock()
	f.actions = append(f.actions, s)
	f.mu.Unlock()
}

func (f *fakeEngine) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if opts.All {
		return f.containers, nil
	}
	var running []container.Summary
	for _, c := range f.containers {
		if c.State == "running" {
			running = append(running, c)
		}
	}
	return running, nil
}

func (f *fakeEngine) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.record("start " + id)
	return f.err
}

func (f *fakeEngine) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.record("stop " + id)
	return f.err
}

func (f *fakeEngine) ContainerRestart(_ context.Context, id string, _ container.StopOptions) error {
	f.record("restart " + id)
	return f.err
}

func (f *fakeEngine) ContainerPause(_ context.Context, id string) error {
	f.record("pause " + id)
	return f.err
}

func (f *fakeEngine) ContainerUnpause(_ context.Context, id string) error {
	f.record("unpause " + id)
	return f.err
}

func (f *fakeEngine) ContainerRemove(_ context.Context, id string, opts container.RemoveOptions) error {
	if opts.Force {
		f.record("rm -f " + id)
	}
	return f.removeErr
}

func (f *fakeEngine) ContainerCreate(_ context.Context, cfg *container.Config, hc *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.record("create " + name)
	f.createdCfg, f.createdHC = cfg, hc
	if len(f.createErr) > 0 {
		err := f.createErr[0]
		f.createErr = f.createErr[1:]
		if err != nil {
			return container.CreateResponse{}, err
		}
	}
	return container.CreateResponse{ID: "new123"}, nil
}

func (f *fakeEngine) ContainerStatsOneShot(_ context.Context, id string) (container.StatsResponseReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.stats[id]
	if len(queue) == 0 {
		return container.StatsResponseReader{}, errdefs.NotFound(stderrors.New("no stats"))
	}
	body := queue[0]
	f.stats[id] = queue[1:]
	return container.StatsResponseReader{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeEngine) ImageList(context.Context, image.ListOptions) ([]image.Summary, error) {
	return f.images, f.err
}

func (f *fakeEngine) ImageRemove(_ context.Context, id string, _ image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.record("rmi " + id)
	return nil, f.removeErr
}

func (f *fakeEngine) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeEngine) NetworkList(context.Context, network.ListOptions) ([]network.Summary, error) {
	return f.networks, f.err
}

func (f *fakeEngine) NetworkRemove(_ context.Context, id string) error {
	f.record("network rm " + id)
	return f.removeErr
}

func (f *fakeEngine) VolumeList(context.Context, volume.ListOptions) (volume.ListResponse, error) {
	return volume.ListResponse{Volumes: f.volumes}, f.err
}

func (f *fakeEngine) VolumeRemove(_ context.Context, name string, _ bool) error {
	f.record("volume rm " + name)
	return f.removeErr
}

func (f *fakeEngine) Info(context.Context) (system.Info, error) {
	f.mu.Lock()
	f.infoCalls++
	f.mu.Unlock()
	info := f.info
	if info.MemTotal == 0 {
		info.MemTotal = f.memTotal
	}
	return info, f.err
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func newTestLocal(f *fakeEngine) *Local {
	return newLocal(f, LocalOptions{StatsConcurrency: 2})
}

func TestLocal_ListContainers(t *testing.T) {
	f := &fakeEngine{containers: []container.Summary{
		{
			ID: "c2", Names: []string{"/web"}, Image: "nginx", State: "running", Status: "Up 1 minute", Created: 1700000000,
			Ports: []container.Port{{IP: "0.0.0.0", PrivatePort: 80, PublicPort: 8080, Type: "tcp"}, {PrivatePort: 443, Type: "tcp"}},
			NetworkSettings: &container.NetworkSettingsSummary{Networks: map[string]*network.EndpointSettings{
				"frontend": {}, "backend": {},
			}},
			Mounts: []container.MountPoint{
				{Type: mount.TypeVolume, Name: "webdata"},
				{Type: mount.TypeBind, Source: "/srv/conf"},
			},
		},
		{ID: "c1", Names: []string{"/Api"}, Image: "api:1", State: "exited"},
	}}
	l := newTestLocal(f)

	all, err := l.ListContainers(context.Background(), ListFilter{All: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Api", all[0].Name)

	web := all[1]
	assert.Equal(t, StatusRunning, web.Status)
	assert.Equal(t, []string{"backend", "frontend"}, web.Networks)
	assert.Equal(t, []string{"webdata"}, web.Volumes)
	assert.Equal(t, []string{"0.0.0.0:8080->80/tcp", "443/tcp"}, web.Ports)
	assert.Equal(t, int64(1700000000), web.Created.Unix())

	running, err := l.ListContainers(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "web", running[0].Name)
}

func TestLocal_ListImagesNetworksVolumes(t *testing.T) {
	f := &fakeEngine{
		images: []image.Summary{
			{ID: "sha256:b", RepoTags: []string{"redis:7"}, Size: 10},
			{ID: "sha256:a", RepoTags: []string{"<none>:<none>"}, Size: 5},
		},
		networks: []network.Summary{
			{ID: "n1", Name: "bridge", Driver: "bridge"},
			{ID: "n2", Name: "backend", Driver: "bridge", Scope: "local"},
		},
		volumes: []*volume.Volume{
			{Name: "zdata", Driver: "local", CreatedAt: "2024-01-02T03:04:05Z"},
			nil,
			{Name: "adata", Driver: "local"},
		},
	}
	l := newTestLocal(f)

	images, err := l.ListImages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Empty(t, images[0].Tags, "untagged image sorts by short ID")
	assert.Equal(t, []string{"redis:7"}, images[1].Tags)

	networks, err := l.ListNetworks(context.Background())
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, "backend", networks[0].Name)

	volumes, err := l.ListVolumes(context.Background())
	require.NoError(t, err)
	require.Len(t, volumes, 2)
	assert.Equal(t, "adata", volumes[0].Name)
	assert.Equal(t, 2024, volumes[1].Created.Year())
}

func TestLocal_ContainerActions(t *testing.T) {
	f := &fakeEngine{}
	l := newTestLocal(f)
	for _, a := range []Action{ActionStart, ActionStop, ActionRestart, ActionPause, ActionUnpause, ActionRemove} {
		require.NoError(t, l.ContainerAction(context.Background(), "abc", a))
	}
	assert.Equal(t, []string{"start abc", "stop abc", "restart abc", "pause abc", "unpause abc", "rm -f abc"}, f.actions)

	err := l.ContainerAction(context.Background(), "abc", Action("explode"))
	require.Error(t, err)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 400, e.EngineCode)
}

func TestLocal_ErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "not found",
			err:  errdefs.NotFound(stderrors.New("No such volume: data")),
			check: func(t *testing.T, err error) {
				var e *errors.Error
				require.ErrorAs(t, err, &e)
				assert.Equal(t, errors.KindEngineRejected, e.Kind)
				assert.Equal(t, 404, e.EngineCode)
			},
		},
		{
			name:  "conflict in use",
			err:   errdefs.Conflict(stderrors.New("remove data: volume is in use - [abc]")),
			check: func(t *testing.T, err error) { assert.True(t, errors.IsInUse(err)) },
		},
		{
			name: "other conflict",
			err:  errdefs.Conflict(stderrors.New("something else")),
			check: func(t *testing.T, err error) {
				var e *errors.Error
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 409, e.EngineCode)
			},
		},
		{
			name:  "deadline",
			err:   context.DeadlineExceeded,
			check: func(t *testing.T, err error) { assert.True(t, errors.IsKind(err, errors.KindTimeout)) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeEngine{removeErr: tt.err}
			l := newTestLocal(f)
			tt.check(t, l.RemoveVolume(context.Background(), "data"))
		})
	}
}

func statsBody(total, system uint64, online int, usage, inactive uint64, rx, tx uint64) string {
	return `{"cpu_stats":{"cpu_usage":{"total_usage":` + itoa(total) + `},"system_cpu_usage":` + itoa(system) +
		`,"online_cpus":` + itoa(uint64(online)) + `},` +
		`"memory_stats":{"usage":` + itoa(usage) + `,"limit":1000000,"stats":{"inactive_file":` + itoa(inactive) + `}},` +
		`"networks":{"eth0":{"rx_bytes":` + itoa(rx) + `,"tx_bytes":` + itoa(tx) + `}},` +
		`"blkio_stats":{"io_service_bytes_recursive":[{"op":"read","value":10},{"op":"write","value":20}]}}`
}

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }

func TestLocal_StatsAll_CPUDelta(t *testing.T) {
	f := &fakeEngine{
		memTotal: 8_000_000,
		containers: []container.Summary{
			{ID: "a", Names: []string{"/a"}, State: "running"},
			{ID: "b", Names: []string{"/b"}, State: "running"},
			{ID: "c", Names: []string{"/c"}, State: "exited"},
		},
		stats: map[string][]string{
			"a": {statsBody(1000, 10000, 2, 5000, 1000, 100, 200), statsBody(2000, 20000, 2, 5000, 1000, 150, 250)},
			"b": {statsBody(500, 10000, 2, 3000, 0, 1, 2), statsBody(500, 20000, 2, 3000, 0, 1, 2)},
		},
	}
	l := newTestLocal(f)

	first, per, err := l.StatsAll(context.Background())
	require.NoError(t, err)
	require.Len(t, per, 2)
	assert.Zero(t, first.CPUPercent, "no previous reading yet")
	assert.Equal(t, uint64(7000), first.MemUsed, "inactive file pages are excluded")
	assert.Equal(t, uint64(8_000_000), first.MemLimit)
	assert.Equal(t, uint64(101), first.NetRx)
	assert.Equal(t, uint64(10), per["a"].BlockRead)
	assert.Equal(t, uint64(20), per["a"].BlockWrite)

	second, per, err := l.StatsAll(context.Background())
	require.NoError(t, err)
	// a: (1000/10000) * 2 * 100 = 20%; b: idle.
	assert.InDelta(t, 20.0, per["a"].CPUPercent, 0.001)
	assert.InDelta(t, 0.0, per["b"].CPUPercent, 0.001)
	assert.InDelta(t, 20.0, second.CPUPercent, 0.001)
	assert.Equal(t, 1, f.infoCalls, "host memory is cached")
}

func TestLocal_StatsAll_SkipsVanishedContainers(t *testing.T) {
	f := &fakeEngine{
		memTotal: 1_000_000,
		containers: []container.Summary{
			{ID: "a", Names: []string{"/a"}, State: "running"},
			{ID: "gone", Names: []string{"/gone"}, State: "running"},
		},
		// gone has no queued body, so its stats call is NotFound.
		stats: map[string][]string{
			"a": {statsBody(1000, 10000, 2, 5000, 1000, 100, 200)},
		},
	}
	l := newTestLocal(f)

	sample, per, err := l.StatsAll(context.Background())
	require.NoError(t, err)
	require.Len(t, per, 1)
	assert.Contains(t, per, "a")
	assert.Equal(t, uint64(4000), sample.MemUsed)
	assert.Equal(t, uint64(1_000_000), sample.MemLimit)
}

func TestLocal_StatsAll_FailurePropagates(t *testing.T) {
	f := &fakeEngine{
		memTotal:   1,
		containers: []container.Summary{{ID: "a", State: "running"}},
		stats:      map[string][]string{"a": {"{not json"}},
	}
	l := newTestLocal(f)
	_, _, err := l.StatsAll(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindMalformedResponse))
}

func TestLocal_PruneCPU(t *testing.T) {
	f := &fakeEngine{
		containers: []container.Summary{{ID: "a", State: "running"}},
		stats:      map[string][]string{"a": {statsBody(1, 1, 1, 1, 0, 0, 0)}},
	}
	l := newTestLocal(f)
	l.prevCPU["gone"] = cpuSample{total: 1}

	_, _, err := l.StatsAll(context.Background())
	require.NoError(t, err)
	assert.Contains(t, l.prevCPU, "a")
	assert.NotContains(t, l.prevCPU, "gone")
}

func TestLocal_CreateContainer_PullsMissingImage(t *testing.T) {
	f := &fakeEngine{createErr: []error{errdefs.NotFound(stderrors.New("No such image: nginx:latest"))}}
	l := newTestLocal(f)

	id, err := l.CreateContainer(context.Background(), CreateSpec{
		Name:    "web",
		Image:   "nginx",
		Ports:   []PortMapping{{HostPort: "8080", ContainerPort: "80"}},
		Volumes: []VolumeMapping{{Source: "webdata", Target: "/data"}},
		Env:     map[string]string{"A": "1"},
		Restart: RestartOnFailure,
	})
	require.NoError(t, err)
	assert.Equal(t, "new123", id)
	assert.Equal(t, []string{"nginx:latest"}, f.pulled)
	assert.Equal(t, []string{"create web", "create web", "start new123"}, f.actions)

	assert.Equal(t, []string{"A=1"}, f.createdCfg.Env)
	assert.Len(t, f.createdCfg.ExposedPorts, 1)
	assert.Len(t, f.createdHC.PortBindings, 1)
	assert.Equal(t, []string{"webdata:/data:rw"}, f.createdHC.Binds)
	assert.Equal(t, container.RestartPolicyOnFailure, f.createdHC.RestartPolicy.Name)
	assert.Equal(t, DefaultOnFailureRetries, f.createdHC.RestartPolicy.MaximumRetryCount)
}

func TestEngineConfig_BadPort(t *testing.T) {
	_, _, err := engineConfig(CreateSpec{Image: "x", Ports: []PortMapping{{HostPort: "a", ContainerPort: "b"}}})
	assert.Error(t, err)
}

func TestMemoryUsed(t *testing.T) {
	assert.Equal(t, uint64(70), memoryUsed(container.MemoryStats{Usage: 100, Stats: map[string]uint64{"total_inactive_file": 30}}))
	assert.Equal(t, uint64(90), memoryUsed(container.MemoryStats{Usage: 100, Stats: map[string]uint64{"cache": 10}}))
	assert.Equal(t, uint64(100), memoryUsed(container.MemoryStats{Usage: 100}))
	assert.Equal(t, uint64(100), memoryUsed(container.MemoryStats{Usage: 100, Stats: map[string]uint64{"inactive_file": 500}}))
}

func TestLocal_Close(t *testing.T) {
	f := &fakeEngine{}
	require.NoError(t, newTestLocal(f).Close())
	assert.True(t, f.closed)
}

func TestLocal_HostMemoryFallback(t *testing.T) {
	l := newTestLocal(&fakeEngine{})
	total, err := l.hostMemory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, memory.TotalMemory(), total, "engines reporting 0 fall back to local memory")
}

func TestLocal_Info(t *testing.T) {
	f := &fakeEngine{info: system.Info{
		ServerVersion:     "28.5.1",
		OperatingSystem:   "Ubuntu 24.04 LTS",
		OSType:            "linux",
		Architecture:      "x86_64",
		NCPU:              8,
		MemTotal:          16 << 30,
		Containers:        5,
		ContainersRunning: 3,
		ContainersPaused:  1,
		ContainersStopped: 1,
		Images:            7,
	}}
	l := newTestLocal(f)

	info, err := l.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EngineRunning, info.Status)
	assert.Equal(t, "28.5.1", info.Version)
	assert.Equal(t, "x86_64", info.Architecture)
	assert.Equal(t, 8, info.CPUs)
	assert.Equal(t, uint64(16<<30), info.MemTotal)
	assert.Equal(t, [4]int{5, 3, 1, 1}, [4]int{info.Containers, info.Running, info.Paused, info.Stopped})
	assert.Equal(t, 7, info.Images)

	_, _, err = l.StatsAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.infoCalls, "Info primes the host memory cache")
}

func TestLocal_InfoStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		onPath   bool
		want     EngineStatus
		wantKind errors.Kind
	}{
		{
			name:     "daemon down",
			err:      client.ErrorConnectionFailed("unix:///var/run/docker.sock"),
			onPath:   true,
			want:     EngineNotRunning,
			wantKind: errors.KindConnectionLost,
		},
		{
			name:     "not installed",
			err:      client.ErrorConnectionFailed("unix:///var/run/docker.sock"),
			want:     EngineNotInstalled,
			wantKind: errors.KindConnectionLost,
		},
		{
			name:     "socket permission",
			err:      stderrors.New("permission denied while trying to connect to the Docker daemon socket at unix:///var/run/docker.sock"),
			onPath:   true,
			want:     EnginePermissionDenied,
			wantKind: errors.KindEngineRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLocal(&fakeEngine{err: tt.err})
			l.lookPath = func(bin string) (string, error) {
				if tt.onPath {
					return "/usr/bin/" + bin, nil
				}
				return "", stderrors.New("executable file not found in $PATH")
			}
			info, err := l.Info(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.want, info.Status)
			assert.Equal(t, tt.want, StatusOf(err))
			assert.True(t, errors.IsKind(err, tt.wantKind), "got %v", err)
		})
	}
}
