package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/pkg/sshutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "profiles.yaml"))
	require.NoError(t, err)
	return s
}

func sample(name string) ConnectionProfile {
	return ConnectionProfile{
		Name:       name,
		Host:       name + ".example.com",
		User:       "deploy",
		Credential: Credential{Kind: CredentialPassword},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       ConnectionProfile
		wantErr string
	}{
		{name: "valid password", p: sample("a")},
		{name: "valid agent", p: ConnectionProfile{Host: "h", Credential: Credential{Kind: CredentialAgent}}},
		{name: "missing host", p: ConnectionProfile{Credential: Credential{Kind: CredentialAgent}}, wantErr: "no host"},
		{name: "host with path", p: ConnectionProfile{Host: "ssh://h/x", Credential: Credential{Kind: CredentialAgent}}, wantErr: "valid hostname"},
		{name: "bad port", p: ConnectionProfile{Host: "h", Port: 70000, Credential: Credential{Kind: CredentialAgent}}, wantErr: "out of range"},
		{name: "key without path", p: ConnectionProfile{Host: "h", Credential: Credential{Kind: CredentialKey}}, wantErr: "key path"},
		{name: "unknown kind", p: ConnectionProfile{Host: "h", Credential: Credential{Kind: "token"}}, wantErr: "Unknown credential"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsCode(err, errors.ErrProfile))
		})
	}
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "deploy@a.example.com:22", sample("a").Address())
	assert.Equal(t, "h:2222", ConnectionProfile{Host: "h", Port: 2222}.Address())
}

func TestStore_AddAssignsImmutableID(t *testing.T) {
	s := newStore(t)

	p := sample("web")
	p.ID = "caller-chosen"
	added, err := s.Add(p)
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.NotEqual(t, "caller-chosen", added.ID)
	assert.Len(t, added.ID, 24)

	// Update cannot change the ID, only the fields.
	updated := added
	updated.Description = "front door"
	require.NoError(t, s.Update(updated))

	got, ok := s.Get(added.ID)
	require.True(t, ok)
	assert.Equal(t, added.ID, got.ID)
	assert.Equal(t, "front door", got.Description)
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.yaml")
	s, err := Open(path)
	require.NoError(t, err)

	a, err := s.Add(sample("alpha"))
	require.NoError(t, err)
	b, err := s.Add(ConnectionProfile{
		Name:       "beta",
		Host:       "10.0.0.2",
		Port:       2222,
		Credential: Credential{Kind: CredentialKey, KeyPath: "~/.ssh/id_ed25519"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Touch(a.ID, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := Open(path)
	require.NoError(t, err)
	list := reopened.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
	assert.Equal(t, 2222, list[1].Port)
	assert.Equal(t, CredentialKey, list[1].Credential.Kind)
	require.NotNil(t, list[0].LastConnected)
	assert.Equal(t, 2026, list[0].LastConnected.Year())
}

func TestStore_DuplicateName(t *testing.T) {
	s := newStore(t)
	_, err := s.Add(sample("web"))
	require.NoError(t, err)

	_, err = s.Add(sample("WEB"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestStore_NameDefaultsToHost(t *testing.T) {
	s := newStore(t)
	p, err := s.Add(ConnectionProfile{Host: "bare.host", Credential: Credential{Kind: CredentialAgent}})
	require.NoError(t, err)
	assert.Equal(t, "bare.host", p.Name)
}

func TestStore_GetByName(t *testing.T) {
	s := newStore(t)
	added, err := s.Add(sample("Prod"))
	require.NoError(t, err)

	got, ok := s.Get("prod")
	require.True(t, ok)
	assert.Equal(t, added.ID, got.ID)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_Remove(t *testing.T) {
	s := newStore(t)
	a, _ := s.Add(sample("a"))
	b, _ := s.Add(sample("b"))

	require.NoError(t, s.Remove(a.ID))
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	err := s.Remove(a.ID)
	assert.True(t, errors.IsCode(err, errors.ErrProfile))
}

func TestStore_FavoritesFirst(t *testing.T) {
	s := newStore(t)
	_, _ = s.Add(sample("alpha"))
	z, _ := s.Add(sample("zulu"))
	require.NoError(t, s.SetFavorite(z.ID, true))

	list := s.List()
	assert.Equal(t, "zulu", list[0].Name)
	assert.Equal(t, "alpha", list[1].Name)
}

func TestOpen_Errors(t *testing.T) {
	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "p.yaml")
		require.NoError(t, os.WriteFile(path, []byte("profiles: [unclosed"), 0o600))
		_, err := Open(path)
		assert.True(t, errors.IsCode(err, errors.ErrProfile))
	})

	t.Run("entry without id", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "p.yaml")
		require.NoError(t, os.WriteFile(path, []byte("version: 1\nprofiles:\n  - name: x\n    host: h\n"), 0o600))
		_, err := Open(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no id")
	})

	t.Run("future version", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "p.yaml")
		require.NoError(t, os.WriteFile(path, []byte("version: 9\n"), 0o600))
		_, err := Open(path)
		assert.Error(t, err)
	})
}

func TestFromSSHConfig(t *testing.T) {
	p := FromSSHConfig(sshutil.SSHHostEntry{
		Alias:        "prod",
		Hostname:     "10.0.0.5",
		User:         "deploy",
		Port:         "2222",
		IdentityFile: "/home/me/.ssh/prod",
	})
	assert.Equal(t, "prod", p.Name)
	assert.Equal(t, "prod", p.Host)
	assert.Equal(t, 2222, p.Port)
	assert.Equal(t, CredentialKey, p.Credential.Kind)
	assert.Equal(t, "/home/me/.ssh/prod", p.Credential.KeyPath)
	assert.NoError(t, p.Validate())

	bare := FromSSHConfig(sshutil.SSHHostEntry{Alias: "x"})
	assert.Equal(t, CredentialAgent, bare.Credential.Kind)
	assert.Equal(t, 0, bare.Port)
}

func TestCredentialProviders(t *testing.T) {
	ctx := context.Background()
	pw := ConnectionProfile{ID: "abc", Name: "pw", Host: "h", Credential: Credential{Kind: CredentialPassword}}
	key := ConnectionProfile{ID: "def", Name: "key", Host: "h", Credential: Credential{Kind: CredentialKey, KeyPath: "/k"}}
	agent := ConnectionProfile{ID: "ghi", Name: "agent", Host: "h", Credential: Credential{Kind: CredentialAgent}}

	t.Run("static password", func(t *testing.T) {
		auth, err := NewStaticProvider(map[string]string{"abc": "s3cret"}).Resolve(ctx, pw)
		require.NoError(t, err)
		assert.Equal(t, sshutil.Auth{Password: "s3cret"}, auth)
	})

	t.Run("missing password fails auth", func(t *testing.T) {
		_, err := NewStaticProvider(nil).Resolve(ctx, pw)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindAuthFailed))
	})

	t.Run("key without passphrase uses agent too", func(t *testing.T) {
		auth, err := NewStaticProvider(nil).Resolve(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, sshutil.Auth{KeyPath: "/k", UseAgent: true}, auth)
	})

	t.Run("key passphrase from static", func(t *testing.T) {
		sp := NewStaticProvider(nil)
		sp.Set("def", "phrase")
		auth, err := sp.Resolve(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "phrase", auth.Passphrase)
	})

	t.Run("agent", func(t *testing.T) {
		auth, err := EnvProvider{}.Resolve(ctx, agent)
		require.NoError(t, err)
		assert.True(t, auth.UseAgent)
	})

	t.Run("env per profile", func(t *testing.T) {
		t.Setenv(EnvVarFor("abc"), "from-env")
		auth, err := EnvProvider{}.Resolve(ctx, pw)
		require.NoError(t, err)
		assert.Equal(t, "from-env", auth.Password)
	})

	t.Run("env shared password", func(t *testing.T) {
		t.Setenv("DOCKWATCH_SSH_PASSWORD", "shared")
		auth, err := EnvProvider{}.Resolve(ctx, pw)
		require.NoError(t, err)
		assert.Equal(t, "shared", auth.Password)
	})

	t.Run("chain order", func(t *testing.T) {
		t.Setenv(EnvVarFor("abc"), "env")
		auth, err := Chain(NewStaticProvider(map[string]string{"abc": "static"}), EnvProvider{}).Resolve(ctx, pw)
		require.NoError(t, err)
		assert.Equal(t, "static", auth.Password)
	})
}
