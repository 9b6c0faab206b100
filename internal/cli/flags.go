package cli

import (
	"fmt"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/docker"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/spf13/cobra"
)

// RunFlags holds the flags of `dockwatch run`.
type RunFlags struct {
	Name    string
	Image   string
	Ports   []string
	Volumes []string
	Env     []string
	Restart string
}

// AddRunFlags registers --name, --image, -p, -v, -e, and --restart on a command.
func AddRunFlags(cmd *cobra.Command, flags *RunFlags) {
	cmd.Flags().StringVar(&flags.Name, "name", "", "container name")
	cmd.Flags().StringVar(&flags.Image, "image", "", "image to run (required)")
	cmd.Flags().StringArrayVarP(&flags.Ports, "publish", "p", nil, "publish a port, host:container[/proto]")
	cmd.Flags().StringArrayVarP(&flags.Volumes, "volume", "v", nil, "mount a volume, source:target[:ro]")
	cmd.Flags().StringArrayVarP(&flags.Env, "env", "e", nil, "set an environment variable, KEY=VALUE")
	cmd.Flags().StringVar(&flags.Restart, "restart", "", "restart policy: no, always, unless-stopped, on-failure")
}

// Spec turns the flags plus the trailing command into a validated CreateSpec.
func (f RunFlags) Spec(command []string) (docker.CreateSpec, error) {
	spec := docker.CreateSpec{
		Name:    f.Name,
		Image:   f.Image,
		Restart: docker.RestartPolicy(f.Restart),
		Command: command,
	}

	for _, p := range f.Ports {
		pm, err := docker.ParsePortMapping(p)
		if err != nil {
			return docker.CreateSpec{}, errors.WrapWithCode(err, errors.ErrExec,
				fmt.Sprintf("'%s' isn't a valid port mapping", p),
				"Use host:container, e.g. -p 8080:80 or -p 127.0.0.1:53:53/udp")
		}
		spec.Ports = append(spec.Ports, pm)
	}
	for _, v := range f.Volumes {
		vm, err := docker.ParseVolumeMapping(v)
		if err != nil {
			return docker.CreateSpec{}, errors.WrapWithCode(err, errors.ErrExec,
				fmt.Sprintf("'%s' isn't a valid volume mapping", v),
				"Use source:target, e.g. -v data:/var/lib/data or -v ./conf:/etc/app:ro")
		}
		spec.Volumes = append(spec.Volumes, vm)
	}
	if len(f.Env) > 0 {
		env, err := docker.ParseEnv(f.Env)
		if err != nil {
			return docker.CreateSpec{}, errors.WrapWithCode(err, errors.ErrExec,
				"Invalid environment variable",
				"Use KEY=VALUE, e.g. -e TZ=UTC")
		}
		spec.Env = env
	}

	if err := spec.Validate(); err != nil {
		return docker.CreateSpec{}, err
	}
	return spec, nil
}

// minWatchInterval keeps the dashboard from refreshing faster than the poller.
const minWatchInterval = 500 * time.Millisecond

// ParseInterval parses a refresh interval flag. Empty means the default.
func ParseInterval(flag string) (time.Duration, error) {
	if flag == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid interval", flag),
			"Try something like 1s, 2s, or 500ms.")
	}
	if d < minWatchInterval {
		return 0, errors.New(errors.ErrConfig,
			fmt.Sprintf("Interval %s is too short", d),
			fmt.Sprintf("Use %s or more.", minWatchInterval))
	}
	return d, nil
}
