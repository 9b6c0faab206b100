// Package registry holds the latest snapshot of one Docker target and the
// usage relationships derived from it.
//
// The poller is the only writer. Apply swaps all four resource lists and
// their derived usage under one lock, so readers never observe a
// half-updated view. Every read returns a copy.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/docker"
)

// Snapshot is the raw result of one poll tick.
type Snapshot struct {
	Containers []docker.ContainerInfo
	Images     []docker.ImageInfo
	Networks   []docker.NetworkInfo
	Volumes    []docker.VolumeInfo
	// Stats is the per-container breakdown keyed by container ID. Optional.
	Stats map[string]docker.ContainerStats
	Taken time.Time
}

// Registry is the in-memory view of the active target.
type Registry struct {
	mu sync.RWMutex

	containers []docker.ContainerInfo
	images     []docker.ImageInfo
	networks   []docker.NetworkInfo
	volumes    []docker.VolumeInfo

	imageRefs   map[string][]string
	networkRefs map[string][]string
	volumeRefs  map[string][]string

	generation uint64
	updated    time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Apply replaces the whole view with snap and recomputes usage.
func (r *Registry) Apply(snap Snapshot) {
	containers := cloneContainers(snap.Containers)
	for i := range containers {
		if st, ok := snap.Stats[containers[i].ID]; ok {
			st := st
			containers[i].Stats = &st
		}
	}

	u := computeUsage(containers)

	images := make([]docker.ImageInfo, len(snap.Images))
	imageRefs := make(map[string][]string, len(snap.Images))
	for i, img := range snap.Images {
		img.Tags = append([]string(nil), img.Tags...)
		refs := u.imageRefs(img)
		img.InUse = len(refs) > 0
		images[i] = img
		if len(refs) > 0 {
			imageRefs[img.ID] = refs
			for _, tag := range img.Tags {
				imageRefs[docker.NormalizeImageRef(tag)] = refs
			}
		}
	}

	networks := make([]docker.NetworkInfo, len(snap.Networks))
	networkRefs := make(map[string][]string, len(snap.Networks))
	for i, n := range snap.Networks {
		refs := u.networkRefs(n)
		n.ConnectedCount = len(refs)
		networks[i] = n
		if len(refs) > 0 {
			if n.ID != "" {
				networkRefs[n.ID] = refs
			}
			networkRefs[n.Name] = refs
		}
	}

	// Volumes nobody mounts are not part of the view.
	var volumes []docker.VolumeInfo
	volumeRefs := make(map[string][]string)
	for _, v := range snap.Volumes {
		refs := u.volumes[v.Name]
		if len(refs) == 0 {
			continue
		}
		v.ConnectedCount = len(refs)
		volumes = append(volumes, v)
		volumeRefs[v.Name] = refs
	}

	taken := snap.Taken
	if taken.IsZero() {
		taken = time.Now()
	}

	r.mu.Lock()
	r.containers = containers
	r.images = images
	r.networks = networks
	r.volumes = volumes
	r.imageRefs = imageRefs
	r.networkRefs = networkRefs
	r.volumeRefs = volumeRefs
	r.generation++
	r.updated = taken
	r.mu.Unlock()
}

// Reset clears the view. The generation counter keeps counting.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers, r.images, r.networks, r.volumes = nil, nil, nil, nil
	r.imageRefs, r.networkRefs, r.volumeRefs = nil, nil, nil
	r.updated = time.Time{}
	r.generation++
}

// Generation increments on every Apply and Reset.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Updated is when the current view was taken; zero when empty.
func (r *Registry) Updated() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updated
}

// Containers returns a copy of the container list.
func (r *Registry) Containers() []docker.ContainerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneContainers(r.containers)
}

// Container looks up one container by ID, ID prefix, or name.
func (r *Registry) Container(ref string) (docker.ContainerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.containers {
		if c.ID == ref || c.Name == ref || (len(ref) >= 4 && strings.HasPrefix(c.ID, ref)) {
			return cloneContainers([]docker.ContainerInfo{c})[0], true
		}
	}
	return docker.ContainerInfo{}, false
}

// Images returns a copy of the image list.
func (r *Registry) Images() []docker.ImageInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]docker.ImageInfo, len(r.images))
	for i, img := range r.images {
		img.Tags = append([]string(nil), img.Tags...)
		out[i] = img
	}
	return out
}

// Networks returns a copy of the network list.
func (r *Registry) Networks() []docker.NetworkInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]docker.NetworkInfo(nil), r.networks...)
}

// Volumes returns a copy of the attached volume list.
func (r *Registry) Volumes() []docker.VolumeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]docker.VolumeInfo(nil), r.volumes...)
}

// ImageInUse returns the names of containers referencing the image, by
// ID, ID prefix, or any tag. "nginx" and "nginx:latest" are the same
// reference. A prefix shared by several images reports the union of their
// references.
func (r *Registry) ImageInUse(ref string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if refs, ok := r.imageRefs[ref]; ok {
		return append([]string(nil), refs...)
	}
	if refs, ok := r.imageRefs[docker.NormalizeImageRef(ref)]; ok {
		return append([]string(nil), refs...)
	}
	if r.hasImageName(ref) {
		return nil
	}
	var refs []string
	for _, img := range r.imagesByPrefix(ref) {
		refs = append(refs, r.imageRefs[img.ID]...)
	}
	return dedupe(refs)
}

// ResolveImage expands an unambiguous ID prefix to the full image ID.
// Tags, full IDs, and unknown or ambiguous prefixes are returned as is.
func (r *Registry) ResolveImage(ref string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.hasImageName(ref) {
		return ref
	}
	if matches := r.imagesByPrefix(ref); len(matches) == 1 {
		return matches[0].ID
	}
	return ref
}

// hasImageName reports whether ref names an image exactly, by ID or tag.
func (r *Registry) hasImageName(ref string) bool {
	norm := docker.NormalizeImageRef(ref)
	for _, img := range r.images {
		if img.ID == ref {
			return true
		}
		for _, tag := range img.Tags {
			if tag == ref || docker.NormalizeImageRef(tag) == norm {
				return true
			}
		}
	}
	return false
}

func (r *Registry) imagesByPrefix(ref string) []docker.ImageInfo {
	short := strings.TrimPrefix(ref, "sha256:")
	if !isHexPrefix(short) {
		return nil
	}
	var out []docker.ImageInfo
	for _, img := range r.images {
		if strings.HasPrefix(strings.TrimPrefix(img.ID, "sha256:"), short) {
			out = append(out, img)
		}
	}
	return out
}

// NetworkInUse returns the names of containers attached to the network,
// by ID, ID prefix, or name.
func (r *Registry) NetworkInUse(ref string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if refs, ok := r.networkRefs[ref]; ok {
		return append([]string(nil), refs...)
	}
	if r.hasNetworkName(ref) {
		return nil
	}
	var refs []string
	for _, n := range r.networksByPrefix(ref) {
		refs = append(refs, r.networkRefs[n.ID]...)
	}
	return dedupe(refs)
}

// ResolveNetwork expands an unambiguous ID prefix to the full network ID.
// Names, full IDs, and unknown or ambiguous prefixes are returned as is.
func (r *Registry) ResolveNetwork(ref string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.hasNetworkName(ref) {
		return ref
	}
	if matches := r.networksByPrefix(ref); len(matches) == 1 {
		return matches[0].ID
	}
	return ref
}

func (r *Registry) hasNetworkName(ref string) bool {
	for _, n := range r.networks {
		if n.ID == ref || n.Name == ref {
			return true
		}
	}
	return false
}

func (r *Registry) networksByPrefix(ref string) []docker.NetworkInfo {
	if !isHexPrefix(ref) {
		return nil
	}
	var out []docker.NetworkInfo
	for _, n := range r.networks {
		if n.ID != "" && strings.HasPrefix(n.ID, ref) {
			out = append(out, n)
		}
	}
	return out
}

// isHexPrefix reports whether s could be the start of an engine ID.
func isHexPrefix(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// VolumeInUse returns the names of containers mounting the volume.
func (r *Registry) VolumeInUse(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.volumeRefs[name]...)
}

// usage is the per-key reference index built from one container list.
type usage struct {
	images   map[string][]string
	networks map[string][]string
	volumes  map[string][]string
}

func computeUsage(containers []docker.ContainerInfo) usage {
	u := usage{
		images:   make(map[string][]string),
		networks: make(map[string][]string),
		volumes:  make(map[string][]string),
	}
	for _, c := range containers {
		name := c.Name
		if name == "" {
			name = docker.ShortID(c.ID)
		}
		imageKeys := map[string]bool{}
		if c.Image != "" {
			imageKeys[docker.NormalizeImageRef(c.Image)] = true
		}
		if c.ImageID != "" {
			imageKeys[c.ImageID] = true
		}
		for k := range imageKeys {
			u.images[k] = append(u.images[k], name)
		}
		for _, n := range c.Networks {
			u.networks[n] = append(u.networks[n], name)
		}
		for _, v := range c.Volumes {
			u.volumes[v] = append(u.volumes[v], name)
		}
	}
	for _, m := range []map[string][]string{u.images, u.networks, u.volumes} {
		for k, names := range m {
			m[k] = dedupe(names)
		}
	}
	return u
}

// imageRefs collects containers that reference img by ID or any tag.
func (u usage) imageRefs(img docker.ImageInfo) []string {
	var refs []string
	refs = append(refs, u.images[img.ID]...)
	// Containers created from an untagged ID show the ID as their image.
	refs = append(refs, u.images[docker.NormalizeImageRef(img.ID)]...)
	if short := docker.ShortID(img.ID); short != img.ID {
		refs = append(refs, u.images[docker.NormalizeImageRef(short)]...)
	}
	for _, tag := range img.Tags {
		refs = append(refs, u.images[docker.NormalizeImageRef(tag)]...)
	}
	return dedupe(refs)
}

func (u usage) networkRefs(n docker.NetworkInfo) []string {
	refs := append([]string(nil), u.networks[n.Name]...)
	if n.ID != "" {
		refs = append(refs, u.networks[n.ID]...)
	}
	return dedupe(refs)
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	out := names[:1]
	for _, n := range names[1:] {
		if n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}

func cloneContainers(in []docker.ContainerInfo) []docker.ContainerInfo {
	if in == nil {
		return nil
	}
	out := make([]docker.ContainerInfo, len(in))
	for i, c := range in {
		c.Ports = append([]string(nil), c.Ports...)
		c.Networks = append([]string(nil), c.Networks...)
		c.Volumes = append([]string(nil), c.Volumes...)
		if c.Stats != nil {
			st := *c.Stats
			c.Stats = &st
		}
		out[i] = c
	}
	return out
}
