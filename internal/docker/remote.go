package docker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/session"
	"github.com/rileyhilliard/dockwatch/internal/util"
)

// Runner executes one shell command on a remote host.
type Runner interface {
	Run(ctx context.Context, cmd string, timeout time.Duration) (session.Result, error)
}

// SessionRunner runs commands over a session.Manager handle.
type SessionRunner struct {
	Manager *session.Manager
	Handle  *session.Handle
}

// Run implements Runner.
func (r SessionRunner) Run(ctx context.Context, cmd string, timeout time.Duration) (session.Result, error) {
	return r.Manager.Execute(ctx, r.Handle, cmd, timeout)
}

// statsMarker separates `docker stats` output from `docker info` in the
// batched stats command.
const statsMarker = "__dockwatch_meminfo__"

const (
	cmdListContainers = "docker ps --no-trunc --format '{{json .}}'"
	cmdListImages     = "docker images --no-trunc --format '{{json .}}'"
	cmdListNetworks   = "docker network ls --no-trunc --format '{{json .}}'"
	cmdListVolumes    = "docker volume ls --format '{{json .}}'"
	cmdInfo           = "docker info --format '{{json .}}'"
	cmdStatsAll       = "docker stats --no-stream --no-trunc --format '{{json .}}'; echo '" + statsMarker + "'; docker info --format '{{.MemTotal}}'"
)

// Remote drives the docker CLI on a remote host.
type Remote struct {
	run      Runner
	timeouts Timeouts
	now      func() time.Time
}

// NewRemote creates a remote client over run.
func NewRemote(run Runner, timeouts Timeouts) *Remote {
	return &Remote{run: run, timeouts: timeouts.withDefaults(), now: time.Now}
}

// exec runs cmd and maps SSH and CLI failures. resource/id name the
// target of a removal for in-use detection.
func (r *Remote) exec(ctx context.Context, what, cmd string, timeout time.Duration, resource, id string) ([]byte, error) {
	res, err := r.run.Run(ctx, cmd, timeout)
	if err != nil {
		return nil, fromSessionError(err, what)
	}
	if res.ExitCode != 0 {
		return nil, fromCLIResult(res.ExitCode, res.Stderr, what, resource, id)
	}
	return res.Stdout, nil
}

// ListContainers implements Client.
func (r *Remote) ListContainers(ctx context.Context, filter ListFilter) ([]ContainerInfo, error) {
	cmd := cmdListContainers
	if filter.All || filter.Status != "" {
		cmd = strings.Replace(cmd, "docker ps", "docker ps -a", 1)
	}
	out, err := r.exec(ctx, "list containers", cmd, r.timeouts.Query, "", "")
	if err != nil {
		return nil, err
	}
	all, err := parseContainers(out)
	if err != nil {
		return nil, malformed("containers", err)
	}
	if filter.Status != "" {
		filter.All = true
	}
	containers := make([]ContainerInfo, 0, len(all))
	for _, c := range all {
		if filter.Match(c) {
			containers = append(containers, c)
		}
	}
	sortContainers(containers)
	return containers, nil
}

// ListImages implements Client.
func (r *Remote) ListImages(ctx context.Context) ([]ImageInfo, error) {
	out, err := r.exec(ctx, "list images", cmdListImages, r.timeouts.Query, "", "")
	if err != nil {
		return nil, err
	}
	images, err := parseImages(out)
	if err != nil {
		return nil, malformed("images", err)
	}
	sortImages(images)
	return images, nil
}

// ListNetworks implements Client.
func (r *Remote) ListNetworks(ctx context.Context) ([]NetworkInfo, error) {
	out, err := r.exec(ctx, "list networks", cmdListNetworks, r.timeouts.Query, "", "")
	if err != nil {
		return nil, err
	}
	networks, err := parseNetworks(out)
	if err != nil {
		return nil, malformed("networks", err)
	}
	sortNetworks(networks)
	return networks, nil
}

// ListVolumes implements Client.
func (r *Remote) ListVolumes(ctx context.Context) ([]VolumeInfo, error) {
	out, err := r.exec(ctx, "list volumes", cmdListVolumes, r.timeouts.Query, "", "")
	if err != nil {
		return nil, err
	}
	volumes, err := parseVolumes(out)
	if err != nil {
		return nil, malformed("volumes", err)
	}
	sortVolumes(volumes)
	return volumes, nil
}

// ContainerAction implements Client.
func (r *Remote) ContainerAction(ctx context.Context, id string, action Action) error {
	var cmd string
	resource := ""
	switch action {
	case ActionStart, ActionStop, ActionRestart, ActionPause, ActionUnpause:
		cmd = "docker " + string(action) + " " + util.ShellQuote(id)
	case ActionRemove:
		cmd = "docker rm -f " + util.ShellQuote(id)
		resource = "container"
	default:
		return errors.NewEngineRejected(400, fmt.Sprintf("Unknown container action '%s'", action), nil)
	}
	_, err := r.exec(ctx, string(action)+" container "+ShortID(id), cmd, r.timeouts.Mutation, resource, id)
	return err
}

// RemoveImage implements Client.
func (r *Remote) RemoveImage(ctx context.Context, id string) error {
	_, err := r.exec(ctx, "remove image "+ShortID(id), "docker rmi "+util.ShellQuote(id), r.timeouts.Mutation, "image", id)
	return err
}

// RemoveNetwork implements Client.
func (r *Remote) RemoveNetwork(ctx context.Context, id string) error {
	_, err := r.exec(ctx, "remove network "+id, "docker network rm "+util.ShellQuote(id), r.timeouts.Mutation, "network", id)
	return err
}

// RemoveVolume implements Client.
func (r *Remote) RemoveVolume(ctx context.Context, name string) error {
	_, err := r.exec(ctx, "remove volume "+name, "docker volume rm "+util.ShellQuote(name), r.timeouts.Mutation, "volume", name)
	return err
}

// CreateContainer runs `docker run -d` and returns the new container ID.
func (r *Remote) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	out, err := r.exec(ctx, "create container", runCommand(spec), r.timeouts.Mutation, "", "")
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(lastLine(out))
	if id == "" {
		return "", malformed("docker run", fmt.Errorf("no container ID in output"))
	}
	return id, nil
}

// runCommand renders spec as a `docker run -d` command line.
func runCommand(spec CreateSpec) string {
	args := []string{"docker", "run", "-d"}
	if spec.Name != "" {
		args = append(args, "--name", util.ShellQuote(spec.Name))
	}
	for _, p := range spec.Ports {
		args = append(args, "-p", util.ShellQuote(p.Spec()))
	}
	for _, v := range spec.Volumes {
		args = append(args, "-v", util.ShellQuote(v.Spec()))
	}
	for _, e := range spec.envList() {
		args = append(args, "-e", util.ShellQuote(e))
	}
	if flag := spec.restartFlag(); flag != "" {
		args = append(args, "--restart", flag)
	}
	args = append(args, util.ShellQuote(spec.Image))
	if len(spec.Command) > 0 {
		args = append(args, util.ShellJoin(spec.Command))
	}
	return strings.Join(args, " ")
}

// Stats implements Client.
func (r *Remote) Stats(ctx context.Context, id string) (MetricSample, error) {
	cmd := "docker stats --no-stream --no-trunc --format '{{json .}}' " + util.ShellQuote(id)
	out, err := r.exec(ctx, "stats "+ShortID(id), cmd, r.timeouts.Query, "", "")
	if err != nil {
		return MetricSample{}, err
	}
	stats, err := parseStats(out)
	if err != nil {
		return MetricSample{}, malformed("stats", err)
	}
	for _, st := range stats {
		return sampleFromStats(r.now(), st), nil
	}
	return MetricSample{}, malformed("stats", fmt.Errorf("no row for %s", ShortID(id)))
}

// StatsAll samples every running container and the host memory total in
// one round trip.
func (r *Remote) StatsAll(ctx context.Context) (MetricSample, map[string]ContainerStats, error) {
	out, err := r.exec(ctx, "collect stats", cmdStatsAll, r.timeouts.Query, "", "")
	if err != nil {
		return MetricSample{}, nil, err
	}
	statsOut, memOut, ok := bytes.Cut(out, []byte(statsMarker))
	if !ok {
		return MetricSample{}, nil, malformed("stats", fmt.Errorf("missing section marker"))
	}
	stats, err := parseStats(statsOut)
	if err != nil {
		return MetricSample{}, nil, malformed("stats", err)
	}
	hostMem, err := parseMemTotal(memOut)
	if err != nil {
		return MetricSample{}, nil, malformed("docker info", err)
	}
	return aggregate(r.now(), stats, hostMem), stats, nil
}

// Info implements Client. When the daemon is down the CLI exits non-zero
// but still prints JSON with ServerErrors, which carry the real reason.
func (r *Remote) Info(ctx context.Context) (EngineInfo, error) {
	const what = "read engine info"
	res, err := r.run.Run(ctx, cmdInfo, r.timeouts.Query)
	if err != nil {
		err = fromSessionError(err, what)
		return EngineInfo{Status: StatusOf(err)}, err
	}
	info, perr := parseInfo(res.Stdout)
	if perr == nil && len(info.ServerErrors) > 0 {
		code := res.ExitCode
		if code == 0 {
			code = 1
		}
		err := fromCLIResult(code, []byte(strings.Join(info.ServerErrors, "\n")), what, "", "")
		return EngineInfo{Status: StatusOf(err)}, err
	}
	if res.ExitCode != 0 {
		err := fromCLIResult(res.ExitCode, res.Stderr, what, "", "")
		return EngineInfo{Status: StatusOf(err)}, err
	}
	if perr != nil {
		return EngineInfo{}, malformed("docker info", perr)
	}
	return info.convert(), nil
}

// Close is a no-op; the session belongs to the session manager.
func (r *Remote) Close() error { return nil }

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return lines[len(lines)-1]
}
