package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/dockwatch/internal/core"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/profile"
	"github.com/rileyhilliard/dockwatch/internal/target"
	"github.com/rileyhilliard/dockwatch/internal/ui"
	"github.com/rileyhilliard/dockwatch/pkg/sshutil"
	"github.com/spf13/cobra"
)

// ProfileAddOptions holds options for the profile add command.
type ProfileAddOptions struct {
	Name        string
	Host        string
	Port        int
	User        string
	KeyPath     string
	Password    bool
	Agent       bool
	Description string
	Favorite    bool
}

var profileAddOpts ProfileAddOptions

var profileCmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"profiles"},
	Short:   "Manage saved remote connection profiles",
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved profiles",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := appCore()
		if err != nil {
			return err
		}
		return writeProfiles(cmd.OutOrStdout(), c.ListProfiles(), time.Now())
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Save a remote host as a connection profile",
	Long: `Save a remote host as a connection profile. Without --host, pick
an entry from ~/.ssh/config or type the details in.

Secrets are never stored. Passwords and key passphrases are read from
DOCKWATCH_SECRET_<ID> or prompted for when connecting.

Examples:
  dockwatch profile add
  dockwatch profile add --name box --host box.example.com --user deploy --key ~/.ssh/id_ed25519
  dockwatch profile add --name nas --host 192.168.1.20 --password`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return profileAdd(cmd.OutOrStdout(), profileAddOpts)
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove [name]",
	Aliases: []string{"rm"},
	Short:   "Delete a saved profile",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return profileRemove(cmd.OutOrStdout(), name)
	},
}

var profileTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Connect to a profile and check the remote engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return profileTest(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func favoriteCmd(favorite bool) *cobra.Command {
	use, short := "favorite <name>", "Pin a profile to the top of the list"
	if !favorite {
		use, short = "unfavorite <name>", "Unpin a profile"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := appCore()
			if err != nil {
				return err
			}
			if err := c.SetFavorite(args[0], favorite); err != nil {
				return err
			}
			if !machineMode {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Updated profile '%s'\n", ui.SymbolSuccess, args[0])
			}
			return nil
		},
	}
}

// profileAdd saves a profile from flags, prompting for what's missing.
func profileAdd(w io.Writer, opts ProfileAddOptions) error {
	c, err := appCore()
	if err != nil {
		return err
	}

	var p profile.ConnectionProfile
	if opts.Host == "" {
		if machineMode {
			return errors.New(errors.ErrProfile,
				"--host is required with --json",
				"Pass --host and the other fields as flags")
		}
		var cancelled bool
		p, cancelled, err = collectProfile(opts)
		if err != nil {
			return err
		}
		if cancelled {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	} else {
		p = profileFromOptions(opts)
	}

	saved, err := c.AddProfile(p)
	if err != nil {
		return err
	}
	if machineMode {
		return WriteJSONSuccess(w, saved)
	}
	fmt.Fprintf(w, "%s Added profile '%s' (%s)\n", ui.SymbolSuccess, saved.Name, saved.Address())
	fmt.Fprintf(w, "  Try it: dockwatch --remote %s ps\n", saved.Name)
	return nil
}

// profileFromOptions builds a profile from flags alone.
func profileFromOptions(opts ProfileAddOptions) profile.ConnectionProfile {
	p := profile.ConnectionProfile{
		Name:        opts.Name,
		Host:        opts.Host,
		Port:        opts.Port,
		User:        opts.User,
		Description: opts.Description,
		Favorite:    opts.Favorite,
		Credential:  profile.Credential{Kind: profile.CredentialAgent},
	}
	switch {
	case opts.KeyPath != "":
		p.Credential = profile.Credential{Kind: profile.CredentialKey, KeyPath: opts.KeyPath}
	case opts.Password:
		p.Credential = profile.Credential{Kind: profile.CredentialPassword}
	}
	return p
}

const manualEntry = "\x00manual"

// collectProfile asks for profile details with huh forms, offering
// ~/.ssh/config entries first.
func collectProfile(opts ProfileAddOptions) (profile.ConnectionProfile, bool, error) {
	p := profileFromOptions(opts)

	entries, _ := sshutil.ParseSSHConfig()
	if len(entries) > 0 {
		options := make([]huh.Option[string], 0, len(entries)+1)
		for _, e := range entries {
			label := e.Alias
			if desc := e.Description(); desc != "" {
				label += " - " + desc
			}
			options = append(options, huh.NewOption(label, e.Alias))
		}
		options = append(options, huh.NewOption("Enter host details manually", manualEntry))

		choice := manualEntry
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Select a host from ~/.ssh/config").
					Options(options...).
					Value(&choice),
			),
		)
		if err := form.Run(); err != nil {
			if err == huh.ErrUserAborted {
				return profile.ConnectionProfile{}, true, nil
			}
			return profile.ConnectionProfile{}, false, errors.WrapWithCode(err, errors.ErrProfile,
				"Couldn't get your selection",
				"Try again or pass --host")
		}
		for _, e := range entries {
			if e.Alias == choice {
				p = profile.FromSSHConfig(e)
				if opts.Name != "" {
					p.Name = opts.Name
				}
				p.Favorite = opts.Favorite
				return p, false, nil
			}
		}
	}

	port := ""
	if p.Port != 0 {
		port = strconv.Itoa(p.Port)
	}
	kind := string(profile.CredentialAgent)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Host").
				Description("Hostname, IP, or ~/.ssh/config alias").
				Value(&p.Host).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("host is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Name").
				Description("Short name for --remote (defaults to the host)").
				Value(&p.Name),
			huh.NewInput().
				Title("User").
				Value(&p.User),
			huh.NewInput().
				Title("Port").
				Placeholder(strconv.Itoa(profile.DefaultPort)).
				Value(&port).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					if _, err := strconv.Atoi(s); err != nil {
						return fmt.Errorf("port must be a number")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Authentication").
				Options(
					huh.NewOption("SSH agent", string(profile.CredentialAgent)),
					huh.NewOption("Private key", string(profile.CredentialKey)),
					huh.NewOption("Password", string(profile.CredentialPassword)),
				).
				Value(&kind),
		),
	)
	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return profile.ConnectionProfile{}, true, nil
		}
		return profile.ConnectionProfile{}, false, errors.WrapWithCode(err, errors.ErrProfile,
			"Couldn't get your input",
			"Try again or pass the details as flags")
	}
	if port != "" {
		p.Port, _ = strconv.Atoi(port)
	}
	p.Credential = profile.Credential{Kind: profile.CredentialKind(kind)}

	if p.Credential.Kind == profile.CredentialKey {
		keyPath := "~/.ssh/id_ed25519"
		keyForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Private key path").
					Value(&keyPath),
			),
		)
		if err := keyForm.Run(); err != nil {
			return profile.ConnectionProfile{}, true, nil
		}
		p.Credential.KeyPath = keyPath
	}
	return p, false, nil
}

// profileRemove deletes a profile, picking and confirming interactively
// when no name is given.
func profileRemove(w io.Writer, name string) error {
	c, err := appCore()
	if err != nil {
		return err
	}

	if name == "" {
		if machineMode {
			return errors.New(errors.ErrProfile,
				"Profile name is required with --json",
				"Use: dockwatch profile remove <name> --json")
		}
		profiles := c.ListProfiles()
		if len(profiles) == 0 {
			return errors.New(errors.ErrProfile,
				"No profiles saved",
				"Nothing to remove.")
		}
		options := make([]huh.Option[string], len(profiles))
		for i, p := range profiles {
			options[i] = huh.NewOption(p.Name+" - "+p.Address(), p.ID)
		}
		var confirm bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Select profile to remove").
					Options(options...).
					Value(&name),
				huh.NewConfirm().
					Title("Remove this profile?").
					Description("This cannot be undone").
					Value(&confirm),
			),
		)
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrProfile,
				"Couldn't get your selection",
				"Try again or use: dockwatch profile remove <name>")
		}
		if !confirm {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	p, ok := c.FindProfile(name)
	if !ok {
		return errors.New(errors.ErrProfile,
			fmt.Sprintf("No profile '%s'", name),
			"Run 'dockwatch profile list' to see saved profiles")
	}
	if err := c.RemoveProfile(p.ID); err != nil {
		return err
	}
	if machineMode {
		return WriteJSONSuccess(w, map[string]string{"removed": p.ID})
	}
	fmt.Fprintf(w, "%s Removed profile '%s'\n", ui.SymbolSuccess, p.Name)
	return nil
}

// profileTest switches to the profile and waits for one snapshot.
func profileTest(ctx context.Context, w io.Writer, name string) error {
	c, err := appCore()
	if err != nil {
		return err
	}
	p, ok := c.FindProfile(name)
	if !ok {
		return errors.New(errors.ErrProfile,
			fmt.Sprintf("No profile '%s'", name),
			"Run 'dockwatch profile list' to see saved profiles")
	}

	cfg := c.Config()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Connect+cfg.Timeouts.Query)
	defer cancel()

	start := time.Now()
	if err := c.SetTarget(ctx, target.Remote(p.ID)); err != nil {
		return err
	}
	if err := c.WaitForData(ctx); err != nil {
		return err
	}
	return writeProfileTest(w, p, c, time.Since(start))
}

func writeProfileTest(w io.Writer, p profile.ConnectionProfile, c *core.Core, took time.Duration) error {
	containers := c.Containers()
	if machineMode {
		return WriteJSONSuccess(w, map[string]interface{}{
			"profile":    p.Name,
			"session":    c.SessionState().String(),
			"containers": len(containers),
			"latency_ms": took.Milliseconds(),
		})
	}
	fmt.Fprintf(w, "%s Connected to %s in %s\n", ui.SymbolSuccess, p.Address(), took.Round(time.Millisecond))
	fmt.Fprintf(w, "  %d containers visible\n", len(containers))
	return nil
}

// writeProfiles prints saved profiles, favorites first.
func writeProfiles(w io.Writer, profiles []profile.ConnectionProfile, now time.Time) error {
	if machineMode {
		return WriteJSONSuccess(w, profiles)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(w, "No profiles saved.")
		fmt.Fprintln(w, "\nAdd one with: dockwatch profile add")
		return nil
	}

	favStyle := lipgloss.NewStyle().Foreground(ui.ColorWarning)
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		name := p.Name
		if p.Favorite {
			name = favStyle.Render("★") + " " + name
		}
		last := "never"
		if p.LastConnected != nil {
			last = ui.FormatAge(*p.LastConnected, now)
		}
		rows = append(rows, []string{name, p.Address(), string(p.Credential.Kind), last, p.Description})
	}
	fmt.Fprint(w, ui.RenderTable([]string{"NAME", "ADDRESS", "AUTH", "LAST CONNECTED", "DESCRIPTION"}, rows))
	return nil
}

func init() {
	f := profileAddCmd.Flags()
	f.StringVar(&profileAddOpts.Name, "name", "", "profile name (defaults to the host)")
	f.StringVar(&profileAddOpts.Host, "host", "", "hostname, IP, or ~/.ssh/config alias")
	f.IntVar(&profileAddOpts.Port, "port", 0, "SSH port (default 22)")
	f.StringVar(&profileAddOpts.User, "user", "", "SSH user")
	f.StringVar(&profileAddOpts.KeyPath, "key", "", "private key path")
	f.BoolVar(&profileAddOpts.Password, "password", false, "authenticate with a password")
	f.BoolVar(&profileAddOpts.Agent, "agent", false, "authenticate with the SSH agent (default)")
	f.StringVar(&profileAddOpts.Description, "description", "", "free-form note")
	f.BoolVar(&profileAddOpts.Favorite, "favorite", false, "pin to the top of the list")
	profileAddCmd.MarkFlagsMutuallyExclusive("key", "password", "agent")

	profileCmd.AddCommand(profileListCmd, profileAddCmd, profileRemoveCmd, profileTestCmd)
	profileCmd.AddCommand(favoriteCmd(true), favoriteCmd(false))
	rootCmd.AddCommand(profileCmd)
}
