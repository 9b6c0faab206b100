package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pbnjay/memory"
	"golang.org/x/sync/errgroup"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/logger"
)

// engineAPI is the subset of the Docker SDK client Local uses.
type engineAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerStart(ctx context.Context, id string, options container.StartOptions) error
	ContainerStop(ctx context.Context, id string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, id string, options container.StopOptions) error
	ContainerPause(ctx context.Context, id string) error
	ContainerUnpause(ctx context.Context, id string) error
	ContainerRemove(ctx context.Context, id string, options container.RemoveOptions) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error)
	ContainerStatsOneShot(ctx context.Context, id string) (container.StatsResponseReader, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageRemove(ctx context.Context, id string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error)
	NetworkRemove(ctx context.Context, id string) error
	VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error)
	VolumeRemove(ctx context.Context, name string, force bool) error
	Info(ctx context.Context) (system.Info, error)
	Close() error
}

// LocalOptions configures a Local client.
type LocalOptions struct {
	// Host overrides DOCKER_HOST, e.g. unix:///var/run/docker.sock.
	Host     string
	Timeouts Timeouts
	// StatsConcurrency bounds parallel per-container stats calls.
	StatsConcurrency int
	Logger           logger.Logger
}

// cpuSample is the previous cumulative CPU reading for one container.
type cpuSample struct {
	total  uint64
	system uint64
}

// Local talks to the Docker engine API over its socket.
type Local struct {
	api      engineAPI
	timeouts Timeouts
	limit    int
	log      logger.Logger
	now      func() time.Time
	lookPath func(string) (string, error)

	mu      sync.Mutex
	prevCPU map[string]cpuSample
	hostMem uint64
}

// NewLocal connects to the engine named by opts.Host or the environment.
func NewLocal(opts LocalOptions) (*Local, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	api, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fromEngineError(err, "connect to the Docker engine", "", "")
	}
	return newLocal(api, opts), nil
}

func newLocal(api engineAPI, opts LocalOptions) *Local {
	limit := opts.StatsConcurrency
	if limit <= 0 {
		limit = 8
	}
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	return &Local{
		api:      api,
		timeouts: opts.Timeouts.withDefaults(),
		limit:    limit,
		log:      log,
		now:      time.Now,
		lookPath: exec.LookPath,
		prevCPU:  make(map[string]cpuSample),
	}
}

func (l *Local) query(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeouts.Query)
}

func (l *Local) mutation(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeouts.Mutation)
}

// ListContainers implements Client.
func (l *Local) ListContainers(ctx context.Context, filter ListFilter) ([]ContainerInfo, error) {
	ctx, cancel := l.query(ctx)
	defer cancel()

	opts := container.ListOptions{All: filter.All || filter.Status != ""}
	if filter.Status != "" {
		opts.Filters = filters.NewArgs(filters.Arg("status", string(filter.Status)))
	}
	summaries, err := l.api.ContainerList(ctx, opts)
	if err != nil {
		return nil, fromEngineError(err, "list containers", "", "")
	}
	if filter.Status != "" {
		filter.All = true
	}

	containers := make([]ContainerInfo, 0, len(summaries))
	for _, s := range summaries {
		c := containerFromSummary(s)
		if filter.Match(c) {
			containers = append(containers, c)
		}
	}
	sortContainers(containers)
	return containers, nil
}

func containerFromSummary(s container.Summary) ContainerInfo {
	c := ContainerInfo{
		ID:         s.ID,
		Image:      s.Image,
		ImageID:    s.ImageID,
		Status:     normalizeStatus(s.State),
		StatusText: s.Status,
		Created:    time.Unix(s.Created, 0),
	}
	if len(s.Names) > 0 {
		c.Name = strings.TrimPrefix(s.Names[0], "/")
	}
	for _, p := range s.Ports {
		c.Ports = append(c.Ports, formatPort(p))
	}
	if s.NetworkSettings != nil {
		for name := range s.NetworkSettings.Networks {
			c.Networks = append(c.Networks, name)
		}
	}
	for _, m := range s.Mounts {
		if m.Type == mount.TypeVolume && m.Name != "" {
			c.Volumes = append(c.Volumes, m.Name)
		}
	}
	sort.Strings(c.Networks)
	sort.Strings(c.Volumes)
	return c
}

// formatPort renders a port the way `docker ps` does.
func formatPort(p container.Port) string {
	if p.PublicPort == 0 {
		return fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)
	}
	ip := p.IP
	if ip == "" {
		ip = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d->%d/%s", ip, p.PublicPort, p.PrivatePort, p.Type)
}

// ListImages implements Client.
func (l *Local) ListImages(ctx context.Context) ([]ImageInfo, error) {
	ctx, cancel := l.query(ctx)
	defer cancel()

	summaries, err := l.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fromEngineError(err, "list images", "", "")
	}
	images := make([]ImageInfo, 0, len(summaries))
	for _, s := range summaries {
		img := ImageInfo{ID: s.ID, Size: s.Size, Created: time.Unix(s.Created, 0)}
		for _, tag := range s.RepoTags {
			if tag != "<none>:<none>" {
				img.Tags = append(img.Tags, tag)
			}
		}
		images = append(images, img)
	}
	sortImages(images)
	return images, nil
}

// ListNetworks implements Client. Engine-managed networks are skipped.
func (l *Local) ListNetworks(ctx context.Context) ([]NetworkInfo, error) {
	ctx, cancel := l.query(ctx)
	defer cancel()

	summaries, err := l.api.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, fromEngineError(err, "list networks", "", "")
	}
	var networks []NetworkInfo
	for _, s := range summaries {
		if IsSystemNetwork(s.Name) {
			continue
		}
		networks = append(networks, NetworkInfo{ID: s.ID, Name: s.Name, Driver: s.Driver, Scope: s.Scope})
	}
	sortNetworks(networks)
	return networks, nil
}

// ListVolumes implements Client.
func (l *Local) ListVolumes(ctx context.Context) ([]VolumeInfo, error) {
	ctx, cancel := l.query(ctx)
	defer cancel()

	resp, err := l.api.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, fromEngineError(err, "list volumes", "", "")
	}
	volumes := make([]VolumeInfo, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		info := VolumeInfo{Name: v.Name, Driver: v.Driver, Mountpoint: v.Mountpoint}
		if t, err := time.Parse(time.RFC3339, v.CreatedAt); err == nil {
			info.Created = t
		}
		volumes = append(volumes, info)
	}
	sortVolumes(volumes)
	return volumes, nil
}

// ContainerAction implements Client.
func (l *Local) ContainerAction(ctx context.Context, id string, action Action) error {
	ctx, cancel := l.mutation(ctx)
	defer cancel()

	var err error
	resource := ""
	switch action {
	case ActionStart:
		err = l.api.ContainerStart(ctx, id, container.StartOptions{})
	case ActionStop:
		err = l.api.ContainerStop(ctx, id, container.StopOptions{})
	case ActionRestart:
		err = l.api.ContainerRestart(ctx, id, container.StopOptions{})
	case ActionPause:
		err = l.api.ContainerPause(ctx, id)
	case ActionUnpause:
		err = l.api.ContainerUnpause(ctx, id)
	case ActionRemove:
		resource = "container"
		err = l.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		if err == nil {
			l.forgetCPU(id)
		}
	default:
		err = errdefs.InvalidParameter(fmt.Errorf("unknown container action %q", action))
	}
	return fromEngineError(err, string(action)+" container "+ShortID(id), resource, id)
}

// RemoveImage implements Client.
func (l *Local) RemoveImage(ctx context.Context, id string) error {
	ctx, cancel := l.mutation(ctx)
	defer cancel()
	_, err := l.api.ImageRemove(ctx, id, image.RemoveOptions{PruneChildren: true})
	return fromEngineError(err, "remove image "+ShortID(id), "image", id)
}

// RemoveNetwork implements Client.
func (l *Local) RemoveNetwork(ctx context.Context, id string) error {
	ctx, cancel := l.mutation(ctx)
	defer cancel()
	return fromEngineError(l.api.NetworkRemove(ctx, id), "remove network "+id, "network", id)
}

// RemoveVolume implements Client.
func (l *Local) RemoveVolume(ctx context.Context, name string) error {
	ctx, cancel := l.mutation(ctx)
	defer cancel()
	return fromEngineError(l.api.VolumeRemove(ctx, name, false), "remove volume "+name, "volume", name)
}

// CreateContainer creates and starts a container, pulling the image when
// it is not present locally.
func (l *Local) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	ctx, cancel := l.mutation(ctx)
	defer cancel()

	cfg, hostCfg, err := engineConfig(spec)
	if err != nil {
		return "", fromEngineError(errdefs.InvalidParameter(err), "create container", "", "")
	}

	resp, err := l.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil && errdefs.IsNotFound(err) {
		l.log.Info("pulling %s", spec.Image)
		if err := l.pull(ctx, spec.Image); err != nil {
			return "", fromEngineError(err, "pull image "+spec.Image, "", "")
		}
		resp, err = l.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	}
	if err != nil {
		return "", fromEngineError(err, "create container", "", "")
	}
	for _, w := range resp.Warnings {
		l.log.Warn("create %s: %s", ShortID(resp.ID), w)
	}
	if err := l.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, fromEngineError(err, "start container "+ShortID(resp.ID), "", "")
	}
	return resp.ID, nil
}

func (l *Local) pull(ctx context.Context, ref string) error {
	rc, err := l.api.ImagePull(ctx, NormalizeImageRef(ref), image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// engineConfig translates a CreateSpec into engine API structs.
func engineConfig(spec CreateSpec) (*container.Config, *container.HostConfig, error) {
	portSpecs := make([]string, 0, len(spec.Ports))
	for _, p := range spec.Ports {
		portSpecs = append(portSpecs, p.Spec())
	}
	exposed, bindings, err := nat.ParsePortSpecs(portSpecs)
	if err != nil {
		return nil, nil, err
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.envList(),
		ExposedPorts: exposed,
	}
	if len(spec.Command) > 0 {
		cfg.Cmd = spec.Command
	}

	hostCfg := &container.HostConfig{PortBindings: bindings}
	for _, v := range spec.Volumes {
		hostCfg.Binds = append(hostCfg.Binds, v.Spec())
	}
	switch spec.Restart {
	case RestartAlways:
		hostCfg.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyAlways}
	case RestartUnlessStopped:
		hostCfg.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyUnlessStopped}
	case RestartOnFailure:
		hostCfg.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyOnFailure,
			MaximumRetryCount: DefaultOnFailureRetries,
		}
	}
	return cfg, hostCfg, nil
}

// Stats implements Client.
func (l *Local) Stats(ctx context.Context, id string) (MetricSample, error) {
	ctx, cancel := l.query(ctx)
	defer cancel()
	st, err := l.containerStats(ctx, id)
	if err != nil {
		return MetricSample{}, err
	}
	return sampleFromStats(l.now(), st), nil
}

// StatsAll implements Client. Per-container calls fan out with a bounded
// errgroup. Containers that stop or disappear between the list and their
// stats call are left out of the sample; any other failure cancels the
// rest.
func (l *Local) StatsAll(ctx context.Context) (MetricSample, map[string]ContainerStats, error) {
	ctx, cancel := l.query(ctx)
	defer cancel()

	running, err := l.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return MetricSample{}, nil, fromEngineError(err, "list containers", "", "")
	}
	hostMem, err := l.hostMemory(ctx)
	if err != nil {
		return MetricSample{}, nil, err
	}

	var mu sync.Mutex
	stats := make(map[string]ContainerStats, len(running))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.limit)
	for _, c := range running {
		id := c.ID
		g.Go(func() error {
			st, err := l.containerStats(gctx, id)
			if goneDuringSample(err) {
				l.log.Debug("skipping stats for %s: %v", ShortID(id), err)
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			stats[id] = st
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MetricSample{}, nil, err
	}
	l.pruneCPU(stats)
	return aggregate(l.now(), stats, hostMem), stats, nil
}

// Info implements Client. An unreachable engine on a host with neither
// the docker CLI nor dockerd on PATH is reported as not installed.
func (l *Local) Info(ctx context.Context) (EngineInfo, error) {
	ctx, cancel := l.query(ctx)
	defer cancel()

	info, err := l.api.Info(ctx)
	if err != nil {
		mapped := fromEngineError(err, "read engine info", "", "")
		if e, ok := mapped.(*errors.Error); ok && e.Kind == errors.KindConnectionLost && !l.dockerOnPath() {
			e.Cause = statusCause{status: ErrNotInstalled, cause: e.Cause}
			e.Suggestion = "Install Docker: https://docs.docker.com/get-docker/"
		}
		return EngineInfo{Status: StatusOf(mapped)}, mapped
	}
	if info.MemTotal > 0 {
		l.mu.Lock()
		l.hostMem = uint64(info.MemTotal)
		l.mu.Unlock()
	}
	return EngineInfo{
		Status:        EngineRunning,
		Version:       info.ServerVersion,
		OS:            info.OperatingSystem,
		OSType:        info.OSType,
		Architecture:  info.Architecture,
		KernelVersion: info.KernelVersion,
		CPUs:          info.NCPU,
		MemTotal:      uint64(max(info.MemTotal, 0)),
		Containers:    info.Containers,
		Running:       info.ContainersRunning,
		Paused:        info.ContainersPaused,
		Stopped:       info.ContainersStopped,
		Images:        info.Images,
	}, nil
}

func (l *Local) dockerOnPath() bool {
	for _, bin := range []string{"docker", "dockerd"} {
		if _, err := l.lookPath(bin); err == nil {
			return true
		}
	}
	return false
}

// goneDuringSample reports whether a stats failure means the container
// was removed or stopped after it was listed.
func goneDuringSample(err error) bool {
	return err != nil && (errdefs.IsNotFound(err) || errdefs.IsConflict(err))
}

// hostMemory caches the engine's MemTotal after the first call.
func (l *Local) hostMemory(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	cached := l.hostMem
	l.mu.Unlock()
	if cached > 0 {
		return cached, nil
	}
	info, err := l.api.Info(ctx)
	if err != nil {
		return 0, fromEngineError(err, "read engine info", "", "")
	}
	total := uint64(0)
	if info.MemTotal > 0 {
		total = uint64(info.MemTotal)
	} else {
		// Some engines (rootless, older podman shims) report 0. The engine
		// shares this host, so fall back to the local physical memory.
		total = memory.TotalMemory()
	}
	if total == 0 {
		return 0, nil
	}
	l.mu.Lock()
	l.hostMem = total
	l.mu.Unlock()
	return total, nil
}

func (l *Local) containerStats(ctx context.Context, id string) (ContainerStats, error) {
	resp, err := l.api.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return ContainerStats{}, fromEngineError(err, "stats "+ShortID(id), "", "")
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ContainerStats{}, malformed("stats "+ShortID(id), err)
	}
	return l.convertStats(id, raw), nil
}

// convertStats turns a one-shot engine sample into ContainerStats. One-shot
// samples carry no previous reading, so CPU is computed against the last
// sample seen for the same container; the first sample reads 0%.
func (l *Local) convertStats(id string, raw container.StatsResponse) ContainerStats {
	cur := cpuSample{total: raw.CPUStats.CPUUsage.TotalUsage, system: raw.CPUStats.SystemUsage}

	l.mu.Lock()
	prev, seen := l.prevCPU[id]
	l.prevCPU[id] = cur
	l.mu.Unlock()

	st := ContainerStats{
		MemUsed:  memoryUsed(raw.MemoryStats),
		MemLimit: raw.MemoryStats.Limit,
	}
	if seen {
		st.CPUPercent = cpuPercent(prev, cur, raw.CPUStats)
	}
	for _, n := range raw.Networks {
		st.NetRx += n.RxBytes
		st.NetTx += n.TxBytes
	}
	for _, e := range raw.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(e.Op) {
		case "read":
			st.BlockRead += e.Value
		case "write":
			st.BlockWrite += e.Value
		}
	}
	return st
}

func cpuPercent(prev, cur cpuSample, cpu container.CPUStats) float64 {
	if cur.total < prev.total || cur.system <= prev.system {
		return 0
	}
	cpuDelta := float64(cur.total - prev.total)
	systemDelta := float64(cur.system - prev.system)
	online := float64(cpu.OnlineCPUs)
	if online == 0 {
		online = float64(len(cpu.CPUUsage.PercpuUsage))
	}
	if online == 0 {
		online = 1
	}
	return cpuDelta / systemDelta * online * 100
}

// memoryUsed subtracts reclaimable page cache the way `docker stats` does.
func memoryUsed(m container.MemoryStats) uint64 {
	for _, key := range []string{"inactive_file", "total_inactive_file"} {
		if v, ok := m.Stats[key]; ok && v < m.Usage {
			return m.Usage - v
		}
	}
	if v, ok := m.Stats["cache"]; ok && v < m.Usage {
		return m.Usage - v
	}
	return m.Usage
}

func (l *Local) forgetCPU(id string) {
	l.mu.Lock()
	delete(l.prevCPU, id)
	l.mu.Unlock()
}

// pruneCPU drops readings for containers that are no longer running.
func (l *Local) pruneCPU(live map[string]ContainerStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.prevCPU {
		if _, ok := live[id]; !ok {
			delete(l.prevCPU, id)
		}
	}
}

// Close releases the engine client.
func (l *Local) Close() error {
	return l.api.Close()
}
