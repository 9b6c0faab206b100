package docker

import (
	"context"
	"strings"

	"github.com/rileyhilliard/dockwatch/internal/errors"
)

// UsageOracle answers whether a resource is referenced by any container
// in the latest registry snapshot. The InUse methods return the
// referencing container names, empty when the resource is free. They
// accept the same refs the engine does, including short ID prefixes.
type UsageOracle interface {
	ImageInUse(ref string) []string
	NetworkInUse(ref string) []string
	VolumeInUse(name string) []string

	// ResolveImage and ResolveNetwork expand an unambiguous ID prefix to
	// the full ID and return any other ref unchanged.
	ResolveImage(ref string) string
	ResolveNetwork(ref string) string
}

// Guard wraps a Client and refuses removals of referenced resources
// before the inner client is called.
type Guard struct {
	Client
	usage UsageOracle
}

// NewGuard wraps inner with usage protection.
func NewGuard(inner Client, usage UsageOracle) *Guard {
	return &Guard{Client: inner, usage: usage}
}

// Inner returns the unguarded client.
func (g *Guard) Inner() Client {
	return g.Client
}

// RemoveImage fails with IN_USE when a container references the image.
// The inner client receives the full ID when ref is a short prefix.
func (g *Guard) RemoveImage(ctx context.Context, ref string) error {
	if refs := g.usage.ImageInUse(ref); len(refs) > 0 {
		return inUse("image", ShortID(ref), refs)
	}
	return g.Client.RemoveImage(ctx, g.usage.ResolveImage(ref))
}

// RemoveNetwork fails with IN_USE when a container is attached.
func (g *Guard) RemoveNetwork(ctx context.Context, ref string) error {
	if refs := g.usage.NetworkInUse(ref); len(refs) > 0 {
		return inUse("network", ref, refs)
	}
	return g.Client.RemoveNetwork(ctx, g.usage.ResolveNetwork(ref))
}

// RemoveVolume fails with IN_USE when a container mounts the volume.
func (g *Guard) RemoveVolume(ctx context.Context, name string) error {
	if refs := g.usage.VolumeInUse(name); len(refs) > 0 {
		return inUse("volume", name, refs)
	}
	return g.Client.RemoveVolume(ctx, name)
}

func inUse(resource, id string, refs []string) *errors.Error {
	e := errors.NewInUse(resource, id, len(refs))
	if len(refs) <= 3 {
		e.Suggestion = "Remove or detach these containers first: " + strings.Join(refs, ", ")
	} else {
		e.Suggestion = "Remove or detach these containers first: " + strings.Join(refs[:3], ", ") + ", ..."
	}
	return e
}
