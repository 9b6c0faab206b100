package profile

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/pkg/sshutil"
	"golang.org/x/term"
)

// CredentialProvider resolves a profile's credential reference into SSH
// auth. Implementations must not persist secrets.
type CredentialProvider interface {
	Resolve(ctx context.Context, p ConnectionProfile) (sshutil.Auth, error)
}

// secretLookup fetches the password (password kind) or passphrase (key
// kind) for p. ok is false when this source has nothing for p.
type secretLookup func(ctx context.Context, p ConnectionProfile) (secret string, ok bool, err error)

// authFor builds Auth from the credential kind and an optional secret.
func authFor(p ConnectionProfile, secret string) sshutil.Auth {
	switch p.Credential.Kind {
	case CredentialPassword:
		return sshutil.Auth{Password: secret}
	case CredentialKey:
		return sshutil.Auth{KeyPath: p.Credential.KeyPath, Passphrase: secret, UseAgent: true}
	default:
		return sshutil.Auth{UseAgent: true}
	}
}

// needsSecret reports whether a kind cannot work without a secret.
func needsSecret(p ConnectionProfile) bool {
	return p.Credential.Kind == CredentialPassword
}

// StaticProvider serves secrets from memory, keyed by profile ID.
// Used in tests and when secrets arrive from flags.
type StaticProvider struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewStaticProvider creates a provider seeded with secrets by profile ID.
func NewStaticProvider(secrets map[string]string) *StaticProvider {
	s := &StaticProvider{secrets: make(map[string]string, len(secrets))}
	for k, v := range secrets {
		s.secrets[k] = v
	}
	return s
}

// Set stores a secret for a profile ID.
func (s *StaticProvider) Set(id, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[id] = secret
}

func (s *StaticProvider) lookup(_ context.Context, p ConnectionProfile) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[p.ID]
	return secret, ok, nil
}

// Resolve implements CredentialProvider.
func (s *StaticProvider) Resolve(ctx context.Context, p ConnectionProfile) (sshutil.Auth, error) {
	return Chain(s).Resolve(ctx, p)
}

// EnvProvider reads DOCKWATCH_SECRET_<ID> (ID upper-cased), then the
// shared DOCKWATCH_SSH_PASSWORD.
type EnvProvider struct{}

// EnvVarFor returns the per-profile environment variable name.
func EnvVarFor(id string) string {
	return "DOCKWATCH_SECRET_" + strings.ToUpper(id)
}

func (EnvProvider) lookup(_ context.Context, p ConnectionProfile) (string, bool, error) {
	if v, ok := os.LookupEnv(EnvVarFor(p.ID)); ok {
		return v, true, nil
	}
	if v, ok := os.LookupEnv("DOCKWATCH_SSH_PASSWORD"); ok && p.Credential.Kind == CredentialPassword {
		return v, true, nil
	}
	return "", false, nil
}

// Resolve implements CredentialProvider.
func (e EnvProvider) Resolve(ctx context.Context, p ConnectionProfile) (sshutil.Auth, error) {
	return Chain(e).Resolve(ctx, p)
}

// PromptProvider asks on the terminal. Only password profiles are
// prompted; key profiles rely on the agent or an unencrypted key.
type PromptProvider struct {
	In  *os.File
	Out io.Writer

	mu    sync.Mutex
	cache map[string]string
}

// NewPromptProvider prompts on stdin/stderr.
func NewPromptProvider() *PromptProvider {
	return &PromptProvider{In: os.Stdin, Out: os.Stderr}
}

func (pp *PromptProvider) lookup(_ context.Context, p ConnectionProfile) (string, bool, error) {
	if !needsSecret(p) {
		return "", false, nil
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()
	if secret, ok := pp.cache[p.ID]; ok {
		return secret, true, nil
	}

	fd := int(pp.In.Fd())
	if !term.IsTerminal(fd) {
		return "", false, nil
	}
	fmt.Fprintf(pp.Out, "Password for %s: ", p.Address())
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(pp.Out)
	if err != nil {
		return "", false, errors.WrapWithCode(err, errors.ErrProfile, "Couldn't read password", "")
	}

	if pp.cache == nil {
		pp.cache = make(map[string]string)
	}
	pp.cache[p.ID] = string(raw)
	return string(raw), true, nil
}

// Resolve implements CredentialProvider.
func (pp *PromptProvider) Resolve(ctx context.Context, p ConnectionProfile) (sshutil.Auth, error) {
	return Chain(pp).Resolve(ctx, p)
}

type lookupSource interface {
	lookup(ctx context.Context, p ConnectionProfile) (string, bool, error)
}

// ChainProvider tries sources in order and uses the first secret found.
type ChainProvider struct {
	sources []lookupSource
}

// Chain combines providers from this package. The first to produce a
// secret wins.
func Chain(sources ...lookupSource) *ChainProvider {
	return &ChainProvider{sources: sources}
}

// Resolve implements CredentialProvider.
func (c *ChainProvider) Resolve(ctx context.Context, p ConnectionProfile) (sshutil.Auth, error) {
	for _, src := range c.sources {
		secret, ok, err := src.lookup(ctx, p)
		if err != nil {
			return sshutil.Auth{}, err
		}
		if ok {
			return authFor(p, secret), nil
		}
	}

	if needsSecret(p) {
		return sshutil.Auth{}, errors.NewSSH(errors.KindAuthFailed,
			fmt.Sprintf("No password available for profile '%s'", p.Name),
			nil)
	}
	return authFor(p, ""), nil
}

// DefaultProvider reads the environment first, then prompts.
func DefaultProvider() CredentialProvider {
	return Chain(EnvProvider{}, NewPromptProvider())
}
