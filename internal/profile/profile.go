// Package profile holds saved remote connection targets and the
// credential providers that turn them into SSH auth at connect time.
package profile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/pkg/sshutil"
)

// DefaultPort is used when a profile leaves the port unset.
const DefaultPort = 22

// CredentialKind selects how a profile authenticates.
type CredentialKind string

const (
	CredentialPassword CredentialKind = "password"
	CredentialKey      CredentialKind = "key"
	CredentialAgent    CredentialKind = "agent"
)

// Credential references a secret without holding it. Passwords and key
// passphrases come from a CredentialProvider at connect time.
type Credential struct {
	Kind    CredentialKind `yaml:"kind" json:"kind"`
	KeyPath string         `yaml:"key_path,omitempty" json:"key_path,omitempty"`
}

// ConnectionProfile is a saved remote target.
type ConnectionProfile struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Host        string     `yaml:"host" json:"host"`
	Port        int        `yaml:"port,omitempty" json:"port,omitempty"`
	User        string     `yaml:"user,omitempty" json:"user,omitempty"`
	Credential  Credential `yaml:"credential" json:"credential"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Favorite    bool       `yaml:"favorite,omitempty" json:"favorite,omitempty"`

	LastConnected *time.Time `yaml:"last_connected,omitempty" json:"last_connected,omitempty"`
}

// Address returns host:port for display.
func (p ConnectionProfile) Address() string {
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	host := p.Host
	if p.User != "" {
		host = p.User + "@" + host
	}
	return host + ":" + strconv.Itoa(port)
}

// Validate checks the fields a connection attempt depends on.
func (p ConnectionProfile) Validate() error {
	if strings.TrimSpace(p.Host) == "" {
		return errors.New(errors.ErrProfile,
			"Profile has no host",
			"Set a hostname, IP, or ~/.ssh/config alias")
	}
	if strings.ContainsAny(p.Host, " \t/") {
		return errors.New(errors.ErrProfile,
			fmt.Sprintf("Profile host '%s' isn't a valid hostname", p.Host),
			"Use a bare hostname or IP, without scheme or path")
	}
	if p.Port < 0 || p.Port > 65535 {
		return errors.New(errors.ErrProfile,
			fmt.Sprintf("Port %d is out of range", p.Port),
			"Use a port between 1 and 65535")
	}
	switch p.Credential.Kind {
	case CredentialPassword, CredentialAgent:
	case CredentialKey:
		if p.Credential.KeyPath == "" {
			return errors.New(errors.ErrProfile,
				"Key credential without a key path",
				"Set the path to the private key, e.g. ~/.ssh/id_ed25519")
		}
	default:
		return errors.New(errors.ErrProfile,
			fmt.Sprintf("Unknown credential kind '%s'", p.Credential.Kind),
			"Use one of: password, key, agent")
	}
	return nil
}

// FromSSHConfig builds an unsaved profile from an ~/.ssh/config entry.
// The alias stays as Host so Dial keeps resolving it through the config.
func FromSSHConfig(entry sshutil.SSHHostEntry) ConnectionProfile {
	p := ConnectionProfile{
		Name:        entry.Alias,
		Host:        entry.Alias,
		User:        entry.User,
		Description: entry.Description(),
		Credential:  Credential{Kind: CredentialAgent},
	}
	if port, err := strconv.Atoi(entry.Port); err == nil {
		p.Port = port
	}
	if entry.IdentityFile != "" {
		p.Credential = Credential{Kind: CredentialKey, KeyPath: entry.IdentityFile}
	}
	return p
}
