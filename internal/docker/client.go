// Package docker talks to one Docker endpoint. Local uses the engine API
// directly; Remote runs the docker CLI over an SSH session and parses its
// JSON output. Both satisfy Client and return identical shapes, so callers
// never branch on the transport.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/errors"
)

// Client is the Docker operations capability for one endpoint. Every
// list result is sorted by name, case-insensitively.
type Client interface {
	ListContainers(ctx context.Context, filter ListFilter) ([]ContainerInfo, error)
	ListImages(ctx context.Context) ([]ImageInfo, error)
	ListNetworks(ctx context.Context) ([]NetworkInfo, error)
	ListVolumes(ctx context.Context) ([]VolumeInfo, error)

	ContainerAction(ctx context.Context, id string, action Action) error
	RemoveImage(ctx context.Context, id string) error
	RemoveNetwork(ctx context.Context, id string) error
	RemoveVolume(ctx context.Context, name string) error
	CreateContainer(ctx context.Context, spec CreateSpec) (string, error)

	// Stats samples one container.
	Stats(ctx context.Context, id string) (MetricSample, error)
	// StatsAll samples every running container and returns the
	// aggregate plus the per-container breakdown keyed by ID.
	StatsAll(ctx context.Context) (MetricSample, map[string]ContainerStats, error)

	// Info reports engine version and resource counts. Status is always
	// EngineRunning on success; use StatusOf to classify a failure.
	Info(ctx context.Context) (EngineInfo, error)

	Close() error
}

// Timeouts bounds transport calls.
type Timeouts struct {
	Query    time.Duration
	Mutation time.Duration
}

// DefaultTimeouts are 10s for queries and 30s for mutating actions.
var DefaultTimeouts = Timeouts{Query: 10 * time.Second, Mutation: 30 * time.Second}

func (t Timeouts) withDefaults() Timeouts {
	if t.Query <= 0 {
		t.Query = DefaultTimeouts.Query
	}
	if t.Mutation <= 0 {
		t.Mutation = DefaultTimeouts.Mutation
	}
	return t
}

// systemNetworks are created by the engine and never shown.
var systemNetworks = map[string]bool{
	"bridge": true,
	"host":   true,
	"none":   true,
}

// IsSystemNetwork reports whether name is an engine-managed network.
func IsSystemNetwork(name string) bool {
	return systemNetworks[name]
}

func sortContainers(cs []ContainerInfo) {
	sort.SliceStable(cs, func(i, j int) bool {
		return lessFold(cs[i].Name, cs[j].Name, cs[i].ID, cs[j].ID)
	})
}

func sortImages(is []ImageInfo) {
	sort.SliceStable(is, func(i, j int) bool {
		return lessFold(is[i].DisplayName(), is[j].DisplayName(), is[i].ID, is[j].ID)
	})
}

func sortNetworks(ns []NetworkInfo) {
	sort.SliceStable(ns, func(i, j int) bool {
		return lessFold(ns[i].Name, ns[j].Name, ns[i].ID, ns[j].ID)
	})
}

func sortVolumes(vs []VolumeInfo) {
	sort.SliceStable(vs, func(i, j int) bool {
		return lessFold(vs[i].Name, vs[j].Name, "", "")
	})
}

// lessFold orders by case-folded name, then exact name, then ID, so the
// order is total and never depends on enumeration order.
func lessFold(a, b, idA, idB string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	if a != b {
		return a < b
	}
	return idA < idB
}

// NormalizeImageRef adds the implicit :latest tag to untagged references
// so "nginx" and "nginx:latest" compare equal. Digests and IDs are kept.
func NormalizeImageRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.Contains(ref, "@") || strings.HasPrefix(ref, "sha256:") {
		return ref
	}
	// A colon after the last slash is a tag; before it, a registry port.
	slash := strings.LastIndex(ref, "/")
	if !strings.Contains(ref[slash+1:], ":") {
		return ref + ":latest"
	}
	return ref
}

// Validate checks a CreateSpec before it reaches either transport.
func (s CreateSpec) Validate() error {
	if strings.TrimSpace(s.Image) == "" {
		return errors.New(errors.ErrExec, "Container image is required", "Pass --image, e.g. --image nginx:latest")
	}
	if s.Name != "" && strings.ContainsAny(s.Name, " /:") {
		return errors.New(errors.ErrExec,
			fmt.Sprintf("Invalid container name '%s'", s.Name),
			"Names may contain letters, digits, '_', '.', and '-'")
	}
	for _, p := range s.Ports {
		if p.HostPort == "" || p.ContainerPort == "" {
			return errors.New(errors.ErrExec,
				fmt.Sprintf("Invalid port mapping '%s'", p.Spec()),
				"Use host:container, e.g. 8080:80")
		}
		if p.Protocol != "" && p.Protocol != "tcp" && p.Protocol != "udp" {
			return errors.New(errors.ErrExec,
				fmt.Sprintf("Unknown protocol '%s'", p.Protocol),
				"Use tcp or udp")
		}
	}
	for _, v := range s.Volumes {
		if v.Source == "" || v.Target == "" {
			return errors.New(errors.ErrExec,
				fmt.Sprintf("Invalid volume mapping '%s'", v.Spec()),
				"Use source:target, e.g. data:/var/lib/data")
		}
	}
	switch s.Restart {
	case "", RestartNo, RestartAlways, RestartUnlessStopped, RestartOnFailure:
	default:
		return errors.New(errors.ErrExec,
			fmt.Sprintf("Unknown restart policy '%s'", s.Restart),
			"Use one of: no, always, unless-stopped, on-failure")
	}
	return nil
}

// aggregate folds per-container stats into one target-wide sample.
func aggregate(now time.Time, perContainer map[string]ContainerStats, hostMem uint64) MetricSample {
	sample := MetricSample{Timestamp: now, MemLimit: hostMem}
	for _, st := range perContainer {
		sample.CPUPercent += st.CPUPercent
		sample.MemUsed += st.MemUsed
		sample.NetRx += st.NetRx
		sample.NetTx += st.NetTx
		if hostMem == 0 && st.MemLimit > sample.MemLimit {
			sample.MemLimit = st.MemLimit
		}
	}
	return sample
}

func sampleFromStats(now time.Time, st ContainerStats) MetricSample {
	return MetricSample{
		Timestamp:  now,
		CPUPercent: st.CPUPercent,
		MemUsed:    st.MemUsed,
		MemLimit:   st.MemLimit,
		NetRx:      st.NetRx,
		NetTx:      st.NetTx,
	}
}
