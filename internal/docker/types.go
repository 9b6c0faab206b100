package docker

import (
	"fmt"
	"strings"
	"time"
)

// ContainerStatus is the lifecycle state reported by the engine.
type ContainerStatus string

const (
	StatusCreated    ContainerStatus = "created"
	StatusRunning    ContainerStatus = "running"
	StatusPaused     ContainerStatus = "paused"
	StatusRestarting ContainerStatus = "restarting"
	StatusRemoving   ContainerStatus = "removing"
	StatusExited     ContainerStatus = "exited"
	StatusDead       ContainerStatus = "dead"
)

// normalizeStatus maps engine state strings onto ContainerStatus.
func normalizeStatus(state string) ContainerStatus {
	switch s := ContainerStatus(strings.ToLower(strings.TrimSpace(state))); s {
	case StatusCreated, StatusRunning, StatusPaused, StatusRestarting, StatusRemoving, StatusExited, StatusDead:
		return s
	case "stopped":
		return StatusExited
	default:
		return StatusCreated
	}
}

// ContainerInfo is one container on the active target. Values are
// replaced wholesale on every refresh.
type ContainerInfo struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Image      string          `json:"image"`
	ImageID    string          `json:"image_id,omitempty"`
	Status     ContainerStatus `json:"status"`
	StatusText string          `json:"status_text,omitempty"`
	Created    time.Time       `json:"created"`
	Ports      []string        `json:"ports,omitempty"`
	// Networks holds attached network names.
	Networks []string `json:"networks,omitempty"`
	// Volumes holds attached named volumes. Bind mounts are not listed.
	Volumes []string        `json:"volumes,omitempty"`
	Stats   *ContainerStats `json:"stats,omitempty"`
}

// ContainerStats is a per-container resource snapshot.
type ContainerStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsed    uint64  `json:"mem_used"`
	MemLimit   uint64  `json:"mem_limit"`
	NetRx      uint64  `json:"net_rx"`
	NetTx      uint64  `json:"net_tx"`
	BlockRead  uint64  `json:"block_read"`
	BlockWrite uint64  `json:"block_write"`
}

// ImageInfo is one image. InUse is derived by the registry.
type ImageInfo struct {
	ID      string    `json:"id"`
	Tags    []string  `json:"tags,omitempty"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
	InUse   bool      `json:"in_use"`
}

// DisplayName is the first tag, or the short ID for untagged images.
func (i ImageInfo) DisplayName() string {
	if len(i.Tags) > 0 {
		return i.Tags[0]
	}
	return ShortID(i.ID)
}

// NetworkInfo is one user-defined network. ConnectedCount is derived by
// the registry.
type NetworkInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Driver         string `json:"driver"`
	Scope          string `json:"scope,omitempty"`
	ConnectedCount int    `json:"connected_count"`
}

// VolumeInfo is one volume. ConnectedCount is derived by the registry.
type VolumeInfo struct {
	Name           string    `json:"name"`
	Driver         string    `json:"driver"`
	Mountpoint     string    `json:"mountpoint"`
	Created        time.Time `json:"created,omitempty"`
	ConnectedCount int       `json:"connected_count"`
}

// MetricSample is one aggregate measurement of the whole target.
// NetRx and NetTx are cumulative byte counters.
type MetricSample struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemUsed    uint64    `json:"mem_used"`
	MemLimit   uint64    `json:"mem_limit"`
	NetRx      uint64    `json:"net_rx"`
	NetTx      uint64    `json:"net_tx"`
}

// MemPercent returns MemUsed as a percentage of MemLimit.
func (s MetricSample) MemPercent() float64 {
	if s.MemLimit == 0 {
		return 0
	}
	return float64(s.MemUsed) / float64(s.MemLimit) * 100
}

// EngineStatus is the reachability of the engine behind a Client.
type EngineStatus string

const (
	EngineRunning          EngineStatus = "running"
	EngineNotRunning       EngineStatus = "not_running"
	EngineNotInstalled     EngineStatus = "not_installed"
	EnginePermissionDenied EngineStatus = "permission_denied"
)

// EngineInfo describes the Docker engine and its resource counts.
type EngineInfo struct {
	Status        EngineStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	OS            string       `json:"os,omitempty"`
	OSType        string       `json:"os_type,omitempty"`
	Architecture  string       `json:"architecture,omitempty"`
	KernelVersion string       `json:"kernel_version,omitempty"`
	CPUs          int          `json:"cpus,omitempty"`
	MemTotal      uint64       `json:"mem_total,omitempty"`
	Containers    int          `json:"containers"`
	Running       int          `json:"running"`
	Paused        int          `json:"paused"`
	Stopped       int          `json:"stopped"`
	Images        int          `json:"images"`
}

// Action is a container lifecycle operation.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionPause   Action = "pause"
	ActionUnpause Action = "unpause"
	ActionRemove  Action = "remove"
)

// ParseAction validates a user-supplied action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(s)); a {
	case ActionStart, ActionStop, ActionRestart, ActionPause, ActionUnpause, ActionRemove:
		return a, nil
	case "rm":
		return ActionRemove, nil
	}
	return "", fmt.Errorf("unknown container action %q", s)
}

// ListFilter narrows ListContainers.
type ListFilter struct {
	// All includes stopped containers.
	All bool
	// Status keeps only containers in this state when set.
	Status ContainerStatus
	// Name keeps containers whose name contains this substring.
	Name string
}

// Match applies the filter to one container.
func (f ListFilter) Match(c ContainerInfo) bool {
	if !f.All && c.Status != StatusRunning && c.Status != StatusPaused && c.Status != StatusRestarting {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Name != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(f.Name)) {
		return false
	}
	return true
}

// RestartPolicy mirrors the engine's restart policies.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
	RestartOnFailure     RestartPolicy = "on-failure"
)

// DefaultOnFailureRetries caps on-failure restarts.
const DefaultOnFailureRetries = 3

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostIP        string `json:"host_ip,omitempty"`
	HostPort      string `json:"host_port"`
	ContainerPort string `json:"container_port"`
	Protocol      string `json:"protocol,omitempty"` // tcp (default) or udp
}

// Spec renders the mapping in `docker run -p` syntax.
func (p PortMapping) Spec() string {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	spec := p.HostPort + ":" + p.ContainerPort + "/" + proto
	if p.HostIP != "" {
		spec = p.HostIP + ":" + spec
	}
	return spec
}

// VolumeMapping mounts a named volume or host path into the container.
type VolumeMapping struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Spec renders the mapping in `docker run -v` syntax.
func (v VolumeMapping) Spec() string {
	mode := "rw"
	if v.ReadOnly {
		mode = "ro"
	}
	return v.Source + ":" + v.Target + ":" + mode
}

// CreateSpec describes a container to create and start.
type CreateSpec struct {
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Ports   []PortMapping     `json:"ports,omitempty"`
	Volumes []VolumeMapping   `json:"volumes,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Restart RestartPolicy     `json:"restart,omitempty"`
	Command []string          `json:"command,omitempty"`
}

// ShortID trims a sha256: prefix and truncates to 12 characters.
func ShortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
