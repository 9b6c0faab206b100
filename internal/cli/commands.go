package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/core"
	"github.com/rileyhilliard/dockwatch/internal/docker"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/ui"
	"github.com/rileyhilliard/dockwatch/internal/util"
	"github.com/spf13/cobra"
)

// Command-specific flags
var (
	psAllFlag bool
	runFlags  RunFlags
)

// psCmd lists containers
var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List containers",
	Long: `List containers on the active target. Only running containers are
shown unless --all is given.

Examples:
  dockwatch ps
  dockwatch ps -a
  dockwatch --remote box ps --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		return writeContainers(cmd.OutOrStdout(), c.Containers(), psAllFlag)
	},
}

// imagesCmd lists images
var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List images",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		return writeImages(cmd.OutOrStdout(), c.Images(), time.Now())
	},
}

// networksCmd lists user-defined networks
var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List user-defined networks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		return writeNetworks(cmd.OutOrStdout(), c.Networks())
	},
}

// volumesCmd lists volumes attached to containers
var volumesCmd = &cobra.Command{
	Use:   "volumes",
	Short: "List volumes in use by containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		return writeVolumes(cmd.OutOrStdout(), c.Volumes())
	},
}

// networkCmd groups network subcommands
var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage networks",
}

var networkRmCmd = &cobra.Command{
	Use:     "rm <network>...",
	Aliases: []string{"remove"},
	Short:   "Remove networks no container is attached to",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeCommand(cmd, args, (*core.Core).RemoveNetwork)
	},
}

// volumeCmd groups volume subcommands
var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
}

var volumeRmCmd = &cobra.Command{
	Use:     "rm <volume>...",
	Aliases: []string{"remove"},
	Short:   "Remove volumes no container mounts",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeCommand(cmd, args, (*core.Core).RemoveVolume)
	},
}

// rmiCmd removes images
var rmiCmd = &cobra.Command{
	Use:   "rmi <image>...",
	Short: "Remove images no container uses",
	Long: `Remove images. Images used by any known container are rejected
before the engine is asked.

Examples:
  dockwatch rmi busybox:1.36
  dockwatch rmi 3f57d9401f8d`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeCommand(cmd, args, (*core.Core).RemoveImage)
	},
}

// runCmd creates and starts a container
var runCmd = &cobra.Command{
	Use:   "run [flags] [-- command...]",
	Short: "Create and start a container",
	Long: `Create a container from an image and start it in the background.

Examples:
  dockwatch run --image nginx:latest --name web -p 8080:80
  dockwatch run --image postgres:16 -v pgdata:/var/lib/postgresql/data -e POSTGRES_PASSWORD=secret --restart unless-stopped
  dockwatch --remote box run --image redis:7 -- redis-server --appendonly yes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := runFlags.Spec(args)
		if err != nil {
			return err
		}
		c, _, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		ctx, cancel := mutationContext(cmd.Context(), c)
		defer cancel()
		return writeResults(cmd.OutOrStdout(), []core.Result{<-c.CreateContainer(ctx, spec)})
	},
}

// completionCmd generates shell completion scripts
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion scripts for dockwatch.

Examples:
  # Bash
  dockwatch completion bash > /etc/bash_completion.d/dockwatch

  # Zsh
  dockwatch completion zsh > "${fpath[1]}/_dockwatch"

  # Fish
  dockwatch completion fish > ~/.config/fish/completions/dockwatch.fish`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(w)
		case "zsh":
			return rootCmd.GenZshCompletion(w)
		case "fish":
			return rootCmd.GenFishCompletion(w, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(w)
		default:
			return errors.New(errors.ErrExec,
				"Unknown shell: "+args[0],
				"Supported shells: bash, zsh, fish, powershell")
		}
	},
}

// lifecycleCmd builds one container lifecycle command, e.g. `stop`.
func lifecycleCmd(action docker.Action, short string) *cobra.Command {
	use := string(action)
	if action == docker.ActionRemove {
		use = "rm"
	}
	return &cobra.Command{
		Use:   use + " <container>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := mutationContext(cmd.Context(), c)
			defer cancel()

			results := make([]core.Result, 0, len(args))
			for _, ref := range args {
				results = append(results, <-c.PerformContainerAction(ctx, ref, action))
			}
			return writeResults(cmd.OutOrStdout(), results)
		},
	}
}

// removeCommand runs remove for every ref and reports each result.
func removeCommand(cmd *cobra.Command, refs []string, remove func(*core.Core, context.Context, string) <-chan core.Result) error {
	c, _, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	ctx, cancel := mutationContext(cmd.Context(), c)
	defer cancel()

	results := make([]core.Result, 0, len(refs))
	for _, ref := range refs {
		results = append(results, <-remove(c, ctx, ref))
	}
	return writeResults(cmd.OutOrStdout(), results)
}

// mutationContext bounds a batch of commands. The per-call engine timeout
// still applies inside the transport.
func mutationContext(parent context.Context, c *core.Core) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	cfg := c.Config()
	return context.WithTimeout(parent, cfg.Timeouts.Mutation+cfg.Timeouts.Query)
}

// errCommandsFailed is returned after printing results when any failed.
func errCommandsFailed(failed, total int) error {
	return errors.New(errors.ErrExec,
		fmt.Sprintf("%d of %d %s failed", failed, total, util.Pluralize(total, "command", "commands")),
		"")
}

// writeResults prints one line per result, or the JSON envelope.
func writeResults(w io.Writer, results []core.Result) error {
	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}

	if machineMode {
		out := make([]ResultJSON, len(results))
		for i, res := range results {
			out[i] = resultToJSON(res)
		}
		if err := WriteJSONSuccess(w, out); err != nil {
			return err
		}
		if failed > 0 {
			return errReported
		}
		return nil
	}

	for _, res := range results {
		if res.OK() {
			line := fmt.Sprintf("%s %s %s", ui.Style(ui.ColorSuccess).Render(ui.SymbolSuccess), res.Op, res.Ref)
			if res.ID != "" {
				line += " (" + docker.ShortID(res.ID) + ")"
			}
			fmt.Fprintln(w, line)
			continue
		}
		symbol := ui.SymbolFail
		if errors.IsInUse(res.Err) {
			symbol = ui.SymbolInUse
		}
		fmt.Fprintf(w, "%s %s %s: %s\n", ui.Style(ui.ColorError).Render(symbol), res.Op, res.Ref, errors.Summary(res.Err))
	}
	if failed > 0 {
		return errCommandsFailed(failed, len(results))
	}
	return nil
}

// writeContainers prints containers in `docker ps` layout.
func writeContainers(w io.Writer, containers []docker.ContainerInfo, all bool) error {
	shown := make([]docker.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		if all || c.Status == docker.StatusRunning {
			shown = append(shown, c)
		}
	}
	if machineMode {
		return WriteJSONSuccess(w, shown)
	}

	rows := make([][]string, 0, len(shown))
	for _, c := range shown {
		cpu, mem := "-", "-"
		if c.Stats != nil {
			cpu = ui.FormatPercent(c.Stats.CPUPercent)
			mem = ui.FormatMemory(c.Stats.MemUsed) + " / " + ui.FormatMemory(c.Stats.MemLimit)
		}
		status := c.StatusText
		if status == "" {
			status = string(c.Status)
		}
		rows = append(rows, []string{
			docker.ShortID(c.ID),
			c.Name,
			util.Truncate(c.Image, 32),
			ui.StatusSymbol(c.Status) + " " + status,
			cpu,
			mem,
			util.JoinOrNone(c.Ports),
		})
	}
	fmt.Fprint(w, ui.RenderTable([]string{"CONTAINER ID", "NAME", "IMAGE", "STATUS", "CPU", "MEM", "PORTS"}, rows))
	return nil
}

// writeImages prints images with their in-use flag.
func writeImages(w io.Writer, images []docker.ImageInfo, now time.Time) error {
	if machineMode {
		return WriteJSONSuccess(w, images)
	}
	rows := make([][]string, 0, len(images))
	for _, img := range images {
		inUse := ""
		if img.InUse {
			inUse = ui.SymbolInUse + " in use"
		}
		rows = append(rows, []string{
			img.DisplayName(),
			docker.ShortID(img.ID),
			ui.FormatBytes(img.Size),
			ui.FormatAge(img.Created, now),
			inUse,
		})
	}
	fmt.Fprint(w, ui.RenderTable([]string{"IMAGE", "IMAGE ID", "SIZE", "CREATED", "USAGE"}, rows))
	return nil
}

// writeNetworks prints networks with attached container counts.
func writeNetworks(w io.Writer, networks []docker.NetworkInfo) error {
	if machineMode {
		return WriteJSONSuccess(w, networks)
	}
	rows := make([][]string, 0, len(networks))
	for _, n := range networks {
		rows = append(rows, []string{
			docker.ShortID(n.ID),
			n.Name,
			n.Driver,
			n.Scope,
			fmt.Sprint(n.ConnectedCount),
		})
	}
	fmt.Fprint(w, ui.RenderTable([]string{"NETWORK ID", "NAME", "DRIVER", "SCOPE", "CONTAINERS"}, rows))
	return nil
}

// writeVolumes prints volumes with attached container counts.
func writeVolumes(w io.Writer, volumes []docker.VolumeInfo) error {
	if machineMode {
		return WriteJSONSuccess(w, volumes)
	}
	rows := make([][]string, 0, len(volumes))
	for _, v := range volumes {
		rows = append(rows, []string{v.Name, v.Driver, fmt.Sprint(v.ConnectedCount)})
	}
	fmt.Fprint(w, ui.RenderTable([]string{"VOLUME NAME", "DRIVER", "CONTAINERS"}, rows))
	return nil
}

func init() {
	psCmd.Flags().BoolVarP(&psAllFlag, "all", "a", false, "show all containers (default shows just running)")
	AddRunFlags(runCmd, &runFlags)

	networkCmd.AddCommand(networkRmCmd, &cobra.Command{
		Use:   "ls",
		Short: "List user-defined networks",
		Args:  cobra.NoArgs,
		RunE:  networksCmd.RunE,
	})
	volumeCmd.AddCommand(volumeRmCmd, &cobra.Command{
		Use:   "ls",
		Short: "List volumes in use by containers",
		Args:  cobra.NoArgs,
		RunE:  volumesCmd.RunE,
	})

	rootCmd.AddCommand(psCmd, imagesCmd, networksCmd, volumesCmd)
	rootCmd.AddCommand(
		lifecycleCmd(docker.ActionStart, "Start stopped containers"),
		lifecycleCmd(docker.ActionStop, "Stop running containers"),
		lifecycleCmd(docker.ActionRestart, "Restart containers"),
		lifecycleCmd(docker.ActionPause, "Pause running containers"),
		lifecycleCmd(docker.ActionUnpause, "Unpause paused containers"),
		lifecycleCmd(docker.ActionRemove, "Force-remove containers"),
	)
	rootCmd.AddCommand(rmiCmd, networkCmd, volumeCmd, runCmd)
	rootCmd.AddCommand(completionCmd)
}
