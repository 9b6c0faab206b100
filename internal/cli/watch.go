package cli

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/monitor"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var watchInterval string

// watchCmd starts the dashboard
var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"top", "monitor"},
	Short:   "Live dashboard of containers and resources",
	Long: `Open a live dashboard of containers, images, networks, and volumes with
CPU and memory history for the active target.

Keys:
  tab/shift+tab  switch pane       s  start/stop container
  j/k            move selection    R  restart container
  r              refresh now       p  pause/unpause container
  c              reconnect         d  remove selected item
  ?              help              q  quit

Examples:
  dockwatch watch
  dockwatch --remote box watch --interval 2s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New(errors.ErrExec,
				"watch needs an interactive terminal",
				"Use 'dockwatch ps --json' for scripted output.")
		}
		interval, err := ParseInterval(watchInterval)
		if err != nil {
			return err
		}

		c, label, err := connect(cmd.Context())
		if err != nil {
			return err
		}

		if !noColor && os.Getenv("NO_COLOR") == "" {
			lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).ColorProfile())
		}

		model := monitor.NewModel(c, monitor.Options{
			TargetLabel: label,
			Interval:    interval,
			Timeout:     c.Config().Timeouts.Connect + c.Config().Timeouts.Query,
		})
		p := tea.NewProgram(model, tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchInterval, "interval", "", "dashboard refresh interval (default 1s, minimum 500ms)")
	rootCmd.AddCommand(watchCmd)
}
