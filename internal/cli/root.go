package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rileyhilliard/dockwatch/internal/config"
	"github.com/rileyhilliard/dockwatch/internal/core"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/logger"
	"github.com/rileyhilliard/dockwatch/internal/profile"
	"github.com/rileyhilliard/dockwatch/internal/target"
	"github.com/spf13/cobra"
)

// Global flags
var (
	cfgFile    string
	logLevel   string
	remoteFlag string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "dockwatch",
	Short: "Monitor and control Docker locally or over SSH",
	Long: `dockwatch lists, controls and watches Docker containers, images,
networks and volumes on this machine or on a remote host reached over SSH.

Remote hosts are saved as connection profiles. Pick one with --remote:

  dockwatch profile add --name box --host box.example.com
  dockwatch --remote box ps
  dockwatch --remote box watch`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupApp()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/dockwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&remoteFlag, "remote", "H", "", "connection profile to use instead of the local engine")
	rootCmd.PersistentFlags().BoolVar(&machineMode, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	err := rootCmd.Execute()
	closeApp()
	if err == nil {
		return
	}

	if stderrors.Is(err, errReported) {
		os.Exit(1)
	}

	if machineMode {
		_ = WriteJSONFromError(os.Stdout, err)
		os.Exit(1)
	}

	if isUnknownCommandError(err) {
		fmt.Fprintln(os.Stderr, err)
		if name := extractUnknownCommand(err); name != "" {
			if suggestions := rootCmd.SuggestionsFor(name); len(suggestions) > 0 {
				fmt.Fprintf(os.Stderr, "\nDid you mean %s?\n", strings.Join(suggestions, " or "))
			}
		}
		fmt.Fprintln(os.Stderr, "Run 'dockwatch --help' for usage.")
		os.Exit(1)
	}

	fmt.Fprint(os.Stderr, err.Error())
	if !strings.HasSuffix(err.Error(), "\n") {
		fmt.Fprintln(os.Stderr)
	}
	os.Exit(1)
}

// errReported marks a failure whose details were already written, e.g. a
// JSON envelope listing failed results.
var errReported = stderrors.New("failure already reported")

// isUnknownCommandError reports whether err is cobra's unknown command or
// flag error.
func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag")
}

// extractUnknownCommand pulls the command name out of
// `unknown command "foo" for "dockwatch"`.
func extractUnknownCommand(err error) string {
	msg := err.Error()
	start := strings.Index(msg, `"`)
	if start < 0 {
		return ""
	}
	end := strings.Index(msg[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

// app holds per-invocation state shared by commands.
type app struct {
	cfg  *config.Config
	log  logger.Logger
	core *core.Core
}

var current *app

// setupApp loads config and logging. The core is created on first use.
func setupApp() error {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	log := logger.New(logger.Options{Level: level, File: config.ExpandTilde(cfg.Log.File)})
	logger.SetDefault(log)

	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	current = &app{cfg: cfg, log: log}
	return nil
}

func closeApp() {
	if current != nil && current.core != nil {
		current.core.Close()
		current.core = nil
	}
}

// appCore returns the lazily built core for this invocation.
func appCore() (*core.Core, error) {
	if current == nil {
		if err := setupApp(); err != nil {
			return nil, err
		}
	}
	if current.core == nil {
		c, err := core.New(core.Options{
			Config:      current.cfg,
			Credentials: profile.DefaultProvider(),
			Logger:      current.log,
		})
		if err != nil {
			return nil, err
		}
		current.core = c
	}
	return current.core, nil
}

// resolveTarget maps the --remote flag to a target and a display label.
func resolveTarget(c *core.Core, ref string) (target.Target, string, error) {
	if ref == "" {
		return target.Local(), "local", nil
	}
	p, ok := c.FindProfile(ref)
	if !ok {
		return target.Target{}, "", errors.New(errors.ErrProfile,
			fmt.Sprintf("No profile '%s'", ref),
			"Run 'dockwatch profile list' to see saved profiles, or add one with 'dockwatch profile add'")
	}
	return target.Remote(p.ID), p.Name, nil
}

// connect selects the target named by --remote and waits for the first
// snapshot, so query commands see data.
func connect(ctx context.Context) (*core.Core, string, error) {
	c, err := appCore()
	if err != nil {
		return nil, "", err
	}
	t, label, err := resolveTarget(c, remoteFlag)
	if err != nil {
		return nil, "", err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	cfg := c.Config()
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Connect+cfg.Timeouts.Query)
	defer cancel()
	if err := c.SetTarget(connectCtx, t); err != nil {
		return nil, "", err
	}
	if err := c.WaitForData(connectCtx); err != nil {
		return nil, "", err
	}
	return c, label, nil
}
