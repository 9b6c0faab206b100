package docker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers by command prefix and records every call.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]session.Result
	errs      map[string]error
	calls     []string
	timeouts  []time.Duration
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]session.Result{}, errs: map[string]error{}}
}

func (f *fakeRunner) on(prefix string, res session.Result) { f.responses[prefix] = res }

func (f *fakeRunner) Run(_ context.Context, cmd string, timeout time.Duration) (session.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	f.timeouts = append(f.timeouts, timeout)
	for prefix, err := range f.errs {
		if strings.HasPrefix(cmd, prefix) {
			return session.Result{}, err
		}
	}
	best := ""
	for prefix := range f.responses {
		if strings.HasPrefix(cmd, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return session.Result{ExitCode: 127, Stderr: []byte("sh: 1: " + cmd + ": not found")}, nil
	}
	return f.responses[best], nil
}

func (f *fakeRunner) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func ok(stdout string) session.Result { return session.Result{Stdout: []byte(stdout)} }

func TestRemote_ListContainers_SortedAndFiltered(t *testing.T) {
	r := newFakeRunner()
	out := `{"ID":"3","Names":"zeta","State":"running"}
{"ID":"1","Names":"Alpha","State":"exited"}
{"ID":"2","Names":"beta","State":"running"}
`
	r.on("docker ps -a", ok(out))
	r.on("docker ps --no-trunc", ok(out))
	rc := NewRemote(r, Timeouts{})

	all, err := rc.ListContainers(context.Background(), ListFilter{All: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"Alpha", "beta", "zeta"}, []string{all[0].Name, all[1].Name, all[2].Name})
	assert.Contains(t, r.lastCall(), "docker ps -a")

	running, err := rc.ListContainers(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	exited, err := rc.ListContainers(context.Background(), ListFilter{Status: StatusExited})
	require.NoError(t, err)
	require.Len(t, exited, 1)
	assert.Equal(t, "Alpha", exited[0].Name)
}

func TestRemote_UsesQueryAndMutationTimeouts(t *testing.T) {
	r := newFakeRunner()
	r.on("docker images", ok(""))
	r.on("docker stop", ok(""))
	rc := NewRemote(r, Timeouts{})

	_, err := rc.ListImages(context.Background())
	require.NoError(t, err)
	require.NoError(t, rc.ContainerAction(context.Background(), "abc", ActionStop))

	assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second}, r.timeouts)
}

func TestRemote_ContainerActionCommands(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{ActionStart, "docker start 'abc'"},
		{ActionStop, "docker stop 'abc'"},
		{ActionRestart, "docker restart 'abc'"},
		{ActionPause, "docker pause 'abc'"},
		{ActionUnpause, "docker unpause 'abc'"},
		{ActionRemove, "docker rm -f 'abc'"},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			r := newFakeRunner()
			r.on("docker", ok(""))
			rc := NewRemote(r, Timeouts{})
			require.NoError(t, rc.ContainerAction(context.Background(), "abc", tt.action))
			assert.Equal(t, tt.want, r.lastCall())
		})
	}

	rc := NewRemote(newFakeRunner(), Timeouts{})
	err := rc.ContainerAction(context.Background(), "abc", Action("explode"))
	assert.True(t, errors.IsKind(err, errors.KindEngineRejected))
}

func TestRemote_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		result session.Result
		check  func(t *testing.T, err error)
	}{
		{
			name:   "in use",
			result: session.Result{ExitCode: 1, Stderr: []byte("Error response from daemon: error while removing network: network backend id 123 has active endpoints")},
			check:  func(t *testing.T, err error) { assert.True(t, errors.IsInUse(err)) },
		},
		{
			name:   "not found",
			result: session.Result{ExitCode: 1, Stderr: []byte("Error response from daemon: No such network: backend")},
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsKind(err, errors.KindEngineRejected))
				var e *errors.Error
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 1, e.EngineCode)
			},
		},
		{
			name:   "daemon down",
			result: session.Result{ExitCode: 1, Stderr: []byte("Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?")},
			check:  func(t *testing.T, err error) { assert.True(t, errors.IsKind(err, errors.KindConnectionLost)) },
		},
		{
			name:   "missing cli",
			result: session.Result{ExitCode: 127, Stderr: []byte("bash: docker: command not found")},
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsKind(err, errors.KindEngineRejected))
				assert.Contains(t, err.Error(), "not found on the remote host")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			r.on("docker network rm", tt.result)
			rc := NewRemote(r, Timeouts{})
			tt.check(t, rc.RemoveNetwork(context.Background(), "backend"))
		})
	}
}

func TestRemote_SessionErrorsBecomeTransportErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.Kind
	}{
		{"timeout", errors.NewSSH(errors.KindTimeout, "no answer", nil), errors.KindTimeout},
		{"unreachable", errors.NewSSH(errors.KindNetworkUnreachable, "reset", nil), errors.KindConnectionLost},
		{"protocol", errors.NewSSH(errors.KindProtocolError, "bad packet", nil), errors.KindConnectionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			r.errs["docker volume ls"] = tt.err
			rc := NewRemote(r, Timeouts{})
			_, err := rc.ListVolumes(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrTransport))
			assert.Equal(t, tt.want, errors.KindOf(err))
		})
	}
}

func TestRemote_MalformedOutput(t *testing.T) {
	r := newFakeRunner()
	r.on("docker network ls", ok("{broken"))
	rc := NewRemote(r, Timeouts{})
	_, err := rc.ListNetworks(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindMalformedResponse))
}

func TestRemote_StatsAll(t *testing.T) {
	r := newFakeRunner()
	out := `{"ID":"a","Name":"web","CPUPerc":"10.00%","MemUsage":"100MiB / 1GiB","NetIO":"1kB / 2kB","BlockIO":"0B / 0B"}
{"ID":"b","Name":"db","CPUPerc":"5.50%","MemUsage":"50MiB / 1GiB","NetIO":"3kB / 4kB","BlockIO":"0B / 0B"}
` + statsMarker + "\n4294967296\n"
	r.on("docker stats --no-stream --no-trunc --format '{{json .}}';", ok(out))
	rc := NewRemote(r, Timeouts{})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rc.now = func() time.Time { return now }

	sample, per, err := rc.StatsAll(context.Background())
	require.NoError(t, err)
	require.Len(t, per, 2)
	assert.Equal(t, now, sample.Timestamp)
	assert.InDelta(t, 15.5, sample.CPUPercent, 0.001)
	assert.Equal(t, uint64(150*1024*1024), sample.MemUsed)
	assert.Equal(t, uint64(4294967296), sample.MemLimit)
	assert.Equal(t, uint64(4000), sample.NetRx)
	assert.Equal(t, uint64(6000), sample.NetTx)
	assert.Len(t, r.calls, 1, "stats and host memory come from one exchange")
}

func TestRemote_StatsAll_MissingMarker(t *testing.T) {
	r := newFakeRunner()
	r.on("docker stats --no-stream --no-trunc --format '{{json .}}';", ok(""))
	rc := NewRemote(r, Timeouts{})
	_, _, err := rc.StatsAll(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindMalformedResponse))
}

func TestRemote_CreateContainer(t *testing.T) {
	r := newFakeRunner()
	r.on("docker run", ok("Unable to find image 'nginx:latest' locally\n0123456789abcdef\n"))
	rc := NewRemote(r, Timeouts{})

	id, err := rc.CreateContainer(context.Background(), CreateSpec{
		Name:    "web",
		Image:   "nginx",
		Ports:   []PortMapping{{HostPort: "8080", ContainerPort: "80"}},
		Volumes: []VolumeMapping{{Source: "webdata", Target: "/usr/share/nginx/html", ReadOnly: true}},
		Env:     map[string]string{"B": "2", "A": "1 2"},
		Restart: RestartOnFailure,
	})
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", id)

	assert.Equal(t,
		"docker run -d --name 'web' -p '8080:80/tcp' -v 'webdata:/usr/share/nginx/html:ro' -e 'A=1 2' -e 'B=2' --restart on-failure:3 'nginx'",
		r.lastCall())
}

func TestRemote_CreateContainer_Invalid(t *testing.T) {
	r := newFakeRunner()
	rc := NewRemote(r, Timeouts{})
	_, err := rc.CreateContainer(context.Background(), CreateSpec{Name: "web"})
	require.Error(t, err)
	assert.Empty(t, r.calls)
}

func TestRemote_Close(t *testing.T) {
	assert.NoError(t, NewRemote(newFakeRunner(), Timeouts{}).Close())
}

func TestRemote_Info(t *testing.T) {
	r := newFakeRunner()
	r.on("docker info", ok(`{"ServerVersion":"27.3.1","OperatingSystem":"Debian GNU/Linux 12","OSType":"linux",`+
		`"Architecture":"aarch64","NCPU":4,"MemTotal":8000000000,"Containers":3,"ContainersRunning":2,`+
		`"ContainersPaused":0,"ContainersStopped":1,"Images":9,"ServerErrors":null}`))
	rc := NewRemote(r, Timeouts{})

	info, err := rc.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "docker info --format '{{json .}}'", r.lastCall())
	assert.Equal(t, EngineRunning, info.Status)
	assert.Equal(t, "27.3.1", info.Version)
	assert.Equal(t, "aarch64", info.Architecture)
	assert.Equal(t, uint64(8000000000), info.MemTotal)
	assert.Equal(t, 2, info.Running)
	assert.Equal(t, 1, info.Stopped)
	assert.Equal(t, 9, info.Images)
}

func TestRemote_InfoStatus(t *testing.T) {
	tests := []struct {
		name   string
		result *session.Result
		want   EngineStatus
		kind   errors.Kind
	}{
		{
			name: "daemon down",
			result: &session.Result{ExitCode: 1, Stdout: []byte(
				`{"ServerErrors":["Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?"]}`)},
			want: EngineNotRunning,
			kind: errors.KindConnectionLost,
		},
		{
			name: "socket permission",
			result: &session.Result{ExitCode: 1, Stdout: []byte(
				`{"ServerErrors":["permission denied while trying to connect to the Docker daemon socket at unix:///var/run/docker.sock"]}`)},
			want: EnginePermissionDenied,
			kind: errors.KindEngineRejected,
		},
		{
			name: "no docker on host",
			want: EngineNotInstalled,
			kind: errors.KindEngineRejected,
		},
		{
			name:   "garbage output",
			result: &session.Result{Stdout: []byte("not json")},
			want:   "",
			kind:   errors.KindMalformedResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			if tt.result != nil {
				r.on("docker info", *tt.result)
			}
			info, err := NewRemote(r, Timeouts{}).Info(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.want, info.Status)
			assert.True(t, errors.IsKind(err, tt.kind), "got %v", err)
		})
	}
}
