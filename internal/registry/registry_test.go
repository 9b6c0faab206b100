package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/rileyhilliard/dockwatch/internal/docker"
	dockertesting "github.com/rileyhilliard/dockwatch/internal/docker/testing"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() Snapshot {
	return Snapshot{
		Containers: []docker.ContainerInfo{
			{ID: "c1", Name: "web", Image: "nginx", Status: docker.StatusRunning, Networks: []string{"frontend"}, Volumes: []string{"webdata"}},
			{ID: "c2", Name: "api", Image: "app:2", ImageID: "sha256:app", Status: docker.StatusRunning, Networks: []string{"frontend", "backend"}},
			{ID: "c3", Name: "db", Image: "postgres:16", Status: docker.StatusExited, Networks: []string{"backend"}, Volumes: []string{"pgdata", "webdata"}},
		},
		Images: []docker.ImageInfo{
			{ID: "sha256:nginx", Tags: []string{"nginx:latest"}},
			{ID: "sha256:app", Tags: []string{"app:1"}},
			{ID: "sha256:pg", Tags: []string{"postgres:16"}},
			{ID: "sha256:orphan", Tags: []string{"busybox:latest"}},
		},
		Networks: []docker.NetworkInfo{
			{ID: "n1", Name: "backend"},
			{ID: "n2", Name: "frontend"},
			{ID: "n3", Name: "spare"},
		},
		Volumes: []docker.VolumeInfo{
			{Name: "pgdata"},
			{Name: "scratch"},
			{Name: "webdata"},
		},
		Stats: map[string]docker.ContainerStats{"c1": {CPUPercent: 3}},
	}
}

func TestApply_DerivesUsage(t *testing.T) {
	r := New()
	r.Apply(fixture())

	images := r.Images()
	require.Len(t, images, 4)
	inUse := map[string]bool{}
	for _, img := range images {
		inUse[img.ID] = img.InUse
	}
	assert.True(t, inUse["sha256:nginx"], "untagged reference matches :latest")
	assert.True(t, inUse["sha256:app"], "matched by image ID")
	assert.True(t, inUse["sha256:pg"], "stopped containers still reference images")
	assert.False(t, inUse["sha256:orphan"])

	counts := map[string]int{}
	for _, n := range r.Networks() {
		counts[n.Name] = n.ConnectedCount
	}
	assert.Equal(t, map[string]int{"backend": 2, "frontend": 2, "spare": 0}, counts)

	volumes := r.Volumes()
	require.Len(t, volumes, 2, "unattached volumes are excluded")
	assert.Equal(t, "pgdata", volumes[0].Name)
	assert.Equal(t, 1, volumes[0].ConnectedCount)
	assert.Equal(t, "webdata", volumes[1].Name)
	assert.Equal(t, 2, volumes[1].ConnectedCount)

	c, ok := r.Container("web")
	require.True(t, ok)
	require.NotNil(t, c.Stats)
	assert.InDelta(t, 3.0, c.Stats.CPUPercent, 0.001)
}

func TestUsageQueries(t *testing.T) {
	r := New()
	r.Apply(fixture())

	assert.Equal(t, []string{"web"}, r.ImageInUse("nginx"))
	assert.Equal(t, []string{"web"}, r.ImageInUse("nginx:latest"))
	assert.Equal(t, []string{"web"}, r.ImageInUse("sha256:nginx"))
	assert.Equal(t, []string{"api"}, r.ImageInUse("sha256:app"))
	assert.Empty(t, r.ImageInUse("busybox"))

	assert.Equal(t, []string{"api", "db"}, r.NetworkInUse("backend"))
	assert.Equal(t, []string{"api", "db"}, r.NetworkInUse("n1"))
	assert.Empty(t, r.NetworkInUse("spare"))

	assert.Equal(t, []string{"db", "web"}, r.VolumeInUse("webdata"))
	assert.Empty(t, r.VolumeInUse("scratch"))
}

func TestImageInUse_ShortID(t *testing.T) {
	r := New()
	r.Apply(Snapshot{
		Containers: []docker.ContainerInfo{{ID: "c1", Name: "x", Image: "0123456789ab"}},
		Images:     []docker.ImageInfo{{ID: "sha256:0123456789abcdef0123"}},
	})
	assert.True(t, r.Images()[0].InUse)
	assert.Equal(t, []string{"x"}, r.ImageInUse("0123456789ab"))
}

const (
	appnetID  = "aaaaaaaaaaaa5f1c0c6f3b2b8c1d4e0e2a5b7c9d1e3f5a7b9c1d3e5f7a9b1c3d5e"
	spareID   = "cccccccccccc5f1c0c6f3b2b8c1d4e0e2a5b7c9d1e3f5a7b9c1d3e5f7a9b1c3d5e"
	webImage  = "sha256:bbbbbbbbbbbb0f1e2d3c4b5a69788796a5b4c3d2e1f00112233445566778899"
	freeImage = "sha256:dddddddddddd0f1e2d3c4b5a69788796a5b4c3d2e1f00112233445566778899"
)

func prefixFixture() Snapshot {
	return Snapshot{
		Containers: []docker.ContainerInfo{
			{ID: "c1", Name: "web", Image: "nginx:1.27", ImageID: webImage, Networks: []string{"appnet"}},
		},
		Images: []docker.ImageInfo{
			{ID: webImage, Tags: []string{"nginx:1.27"}},
			{ID: freeImage, Tags: []string{"alpine:3.19"}},
		},
		Networks: []docker.NetworkInfo{
			{ID: appnetID, Name: "appnet"},
			{ID: spareID, Name: "spare"},
		},
	}
}

func TestUsageQueries_IDPrefixes(t *testing.T) {
	r := New()
	r.Apply(prefixFixture())

	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"network short id", r.NetworkInUse(docker.ShortID(appnetID)), []string{"web"}},
		{"network 4-char prefix", r.NetworkInUse("aaaa"), []string{"web"}},
		{"free network prefix", r.NetworkInUse("cccc"), nil},
		{"image 6-char prefix", r.ImageInUse("bbbbbb"), []string{"web"}},
		{"image prefix with algorithm", r.ImageInUse("sha256:bbbbbbbb"), []string{"web"}},
		{"image short id", r.ImageInUse(docker.ShortID(webImage)), []string{"web"}},
		{"free image prefix", r.ImageInUse("dddddd"), nil},
		{"non-hex ref never prefix-matches", r.ImageInUse("ghost"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestResolve(t *testing.T) {
	r := New()
	snap := prefixFixture()
	snap.Images = append(snap.Images, docker.ImageInfo{ID: "sha256:dddddddddddd99", Tags: []string{"alpine:edge"}})
	r.Apply(snap)

	assert.Equal(t, appnetID, r.ResolveNetwork("aaaaaaaaaaaa"))
	assert.Equal(t, "appnet", r.ResolveNetwork("appnet"), "names stay names")
	assert.Equal(t, "ffff", r.ResolveNetwork("ffff"), "unknown prefix is passed through")

	assert.Equal(t, webImage, r.ResolveImage("bbbbbb"))
	assert.Equal(t, "nginx:1.27", r.ResolveImage("nginx:1.27"), "tags stay tags")
	assert.Equal(t, "dddddd", r.ResolveImage("dddddd"), "ambiguous prefix is passed through")
}

func TestGuard_ShortRefsNeverReachEngine(t *testing.T) {
	r := New()
	r.Apply(prefixFixture())
	fake := dockertesting.NewFakeClient()
	fake.SetImages(prefixFixture().Images...)
	fake.SetNetworks(prefixFixture().Networks...)
	g := docker.NewGuard(fake, r)
	ctx := context.Background()

	err := g.RemoveNetwork(ctx, docker.ShortID(appnetID))
	require.Error(t, err)
	assert.True(t, errors.IsInUse(err))

	err = g.RemoveImage(ctx, "bbbbbb")
	require.Error(t, err)
	assert.True(t, errors.IsInUse(err))

	assert.Zero(t, fake.CallCount("RemoveNetwork"))
	assert.Zero(t, fake.CallCount("RemoveImage"))

	// Free resources go through with the full ID.
	require.NoError(t, g.RemoveImage(ctx, "dddddd"))
	require.NoError(t, g.RemoveNetwork(ctx, "cccccccccccc"))
	assert.Equal(t, 1, fake.CallCount("RemoveImage"))
	assert.Equal(t, 1, fake.CallCount("RemoveNetwork"))
}

func TestApply_RemovingReferencesFlipsUsage(t *testing.T) {
	r := New()
	snap := fixture()
	r.Apply(snap)
	assert.NotEmpty(t, r.ImageInUse("nginx"))

	snap.Containers = snap.Containers[1:]
	r.Apply(snap)
	assert.Empty(t, r.ImageInUse("nginx"))
	for _, img := range r.Images() {
		if img.ID == "sha256:nginx" {
			assert.False(t, img.InUse)
		}
	}
	assert.Equal(t, []string{"db"}, r.VolumeInUse("webdata"))
}

func TestReadsReturnCopies(t *testing.T) {
	r := New()
	r.Apply(fixture())

	cs := r.Containers()
	cs[0].Name = "mutated"
	cs[0].Networks[0] = "mutated"
	imgs := r.Images()
	imgs[0].Tags[0] = "mutated"
	refs := r.NetworkInUse("backend")
	refs[0] = "mutated"

	assert.NotEqual(t, "mutated", r.Containers()[0].Name)
	assert.NotEqual(t, "mutated", r.Containers()[0].Networks[0])
	assert.NotEqual(t, "mutated", r.Images()[0].Tags[0])
	assert.NotEqual(t, "mutated", r.NetworkInUse("backend")[0])
}

func TestApply_DoesNotAliasInput(t *testing.T) {
	r := New()
	snap := fixture()
	r.Apply(snap)
	snap.Containers[0].Name = "changed"
	snap.Images[0].Tags[0] = "changed"

	c, ok := r.Container("c1")
	require.True(t, ok)
	assert.Equal(t, "web", c.Name)
	assert.NotEqual(t, "changed", r.Images()[0].Tags[0])
}

func TestResetAndGeneration(t *testing.T) {
	r := New()
	assert.Zero(t, r.Generation())
	assert.True(t, r.Updated().IsZero())

	r.Apply(fixture())
	assert.Equal(t, uint64(1), r.Generation())
	assert.False(t, r.Updated().IsZero())

	r.Reset()
	assert.Equal(t, uint64(2), r.Generation())
	assert.Empty(t, r.Containers())
	assert.Empty(t, r.Images())
	assert.Empty(t, r.Networks())
	assert.Empty(t, r.Volumes())
	assert.Empty(t, r.VolumeInUse("webdata"))
	assert.True(t, r.Updated().IsZero())
}

func TestContainerLookup(t *testing.T) {
	r := New()
	r.Apply(Snapshot{Containers: []docker.ContainerInfo{{ID: "abcdef123456", Name: "web"}}})

	_, ok := r.Container("abcd")
	assert.True(t, ok, "ID prefix")
	_, ok = r.Container("abc")
	assert.False(t, ok, "prefix too short")
	_, ok = r.Container("web")
	assert.True(t, ok)
	_, ok = r.Container("nope")
	assert.False(t, ok)
}

// Readers running alongside Apply must always see a consistent pair of
// container list and derived usage.
func TestApply_ConsistentUnderConcurrentReads(t *testing.T) {
	r := New()
	with := fixture()
	without := fixture()
	without.Containers = nil

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				r.Apply(with)
			} else {
				r.Apply(without)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		for _, n := range r.Networks() {
			if n.Name == "backend" {
				assert.Contains(t, []int{0, 2}, n.ConnectedCount)
			}
		}
	}
	close(stop)
	wg.Wait()
}
