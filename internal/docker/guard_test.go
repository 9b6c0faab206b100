package docker

import (
	"context"
	"testing"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticUsage struct {
	images, networks, volumes map[string][]string
}

func (s staticUsage) ImageInUse(id string) []string    { return s.images[id] }
func (s staticUsage) NetworkInUse(id string) []string  { return s.networks[id] }
func (s staticUsage) VolumeInUse(name string) []string { return s.volumes[name] }
func (s staticUsage) ResolveImage(ref string) string   { return ref }
func (s staticUsage) ResolveNetwork(ref string) string { return ref }

func TestGuard_BlocksReferencedResources(t *testing.T) {
	f := &fakeEngine{}
	usage := staticUsage{
		images:   map[string][]string{"sha256:img": {"web"}},
		networks: map[string][]string{"backend": {"web", "db"}},
		volumes:  map[string][]string{"data": {"a", "b", "c", "d"}},
	}
	g := NewGuard(newTestLocal(f), usage)
	ctx := context.Background()

	err := g.RemoveImage(ctx, "sha256:img")
	require.Error(t, err)
	assert.True(t, errors.IsInUse(err))
	assert.Contains(t, err.Error(), "in use by 1 container(s)")

	err = g.RemoveNetwork(ctx, "backend")
	assert.True(t, errors.IsInUse(err))
	assert.Contains(t, err.Error(), "web, db")

	err = g.RemoveVolume(ctx, "data")
	assert.True(t, errors.IsInUse(err))
	assert.Contains(t, err.Error(), "a, b, c, ...")

	assert.Empty(t, f.actions, "no engine call is made for in-use resources")
}

func TestGuard_PassesFreeResources(t *testing.T) {
	f := &fakeEngine{}
	g := NewGuard(newTestLocal(f), staticUsage{})
	ctx := context.Background()

	require.NoError(t, g.RemoveImage(ctx, "sha256:free"))
	require.NoError(t, g.RemoveNetwork(ctx, "spare"))
	require.NoError(t, g.RemoveVolume(ctx, "scratch"))
	require.NoError(t, g.ContainerAction(ctx, "abc", ActionRemove))

	assert.Equal(t, []string{"rmi sha256:free", "network rm spare", "volume rm scratch", "rm -f abc"}, f.actions)
}

func TestGuard_SatisfiesClient(t *testing.T) {
	var c Client = NewGuard(NewRemote(newFakeRunner(), Timeouts{}), staticUsage{})
	g, ok := c.(*Guard)
	require.True(t, ok)
	assert.IsType(t, &Remote{}, g.Inner())
}
