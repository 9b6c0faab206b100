package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rileyhilliard/dockwatch/internal/docker"
	"github.com/rileyhilliard/dockwatch/internal/ui"
	"github.com/spf13/cobra"
)

// InfoJSON is the --json form of the info command.
type InfoJSON struct {
	Target string `json:"target"`
	docker.EngineInfo
}

// infoCmd reports engine status and version for the target
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show Docker engine status and version",
	Long: `Show whether the Docker engine is reachable, its version, and
container and image counts.

When the engine is unavailable the status line says why: not running,
not installed, or permission denied on the socket.

Examples:
  dockwatch info
  dockwatch --remote prod info --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := appCore()
		if err != nil {
			return err
		}
		t, label, err := resolveTarget(c, remoteFlag)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg := c.Config()
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Connect+cfg.Timeouts.Query)
		defer cancel()
		if err := c.SetTarget(ctx, t); err != nil {
			return err
		}

		info, err := c.EngineInfo(ctx)
		w := cmd.OutOrStdout()
		if err != nil {
			if !machineMode && info.Status != "" {
				fmt.Fprintf(w, "%s %s: %s\n", ui.SymbolFail, label, statusText(info.Status))
			}
			return err
		}
		if machineMode {
			return WriteJSONSuccess(w, InfoJSON{Target: label, EngineInfo: info})
		}
		return writeInfo(w, label, info)
	},
}

func statusText(s docker.EngineStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

func writeInfo(w io.Writer, label string, info docker.EngineInfo) error {
	platform := info.OSType
	if info.Architecture != "" {
		platform += "/" + info.Architecture
	}
	fmt.Fprintf(w, "%s %s: Docker %s\n", ui.SymbolSuccess, label, info.Version)
	fmt.Fprintf(w, "  status:     %s\n", statusText(info.Status))
	if info.OS != "" {
		fmt.Fprintf(w, "  os:         %s (%s)\n", info.OS, platform)
	}
	if info.KernelVersion != "" {
		fmt.Fprintf(w, "  kernel:     %s\n", info.KernelVersion)
	}
	if info.CPUs > 0 {
		fmt.Fprintf(w, "  cpus:       %d\n", info.CPUs)
	}
	if info.MemTotal > 0 {
		fmt.Fprintf(w, "  memory:     %s\n", ui.FormatMemory(info.MemTotal))
	}
	fmt.Fprintf(w, "  containers: %d (%d running, %d paused, %d stopped)\n",
		info.Containers, info.Running, info.Paused, info.Stopped)
	fmt.Fprintf(w, "  images:     %d\n", info.Images)
	return nil
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
