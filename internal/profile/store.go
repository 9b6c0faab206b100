package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"gopkg.in/yaml.v3"
)

const storeVersion = 1

type storeFile struct {
	Version  int                 `yaml:"version"`
	Profiles []ConnectionProfile `yaml:"profiles"`
}

// Store is a flat list of profiles keyed by immutable ID, persisted as
// YAML. Every mutation is written through to disk.
type Store struct {
	mu       sync.RWMutex
	path     string
	profiles []ConnectionProfile
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrProfile,
			"Can't read profiles file",
			"Check permissions on "+path)
	}

	var f storeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrProfile,
			"Profiles file is not valid YAML",
			"Fix or remove "+path)
	}
	if f.Version > storeVersion {
		return nil, errors.New(errors.ErrProfile,
			fmt.Sprintf("Profiles file version %d is newer than this dockwatch understands", f.Version),
			"Upgrade dockwatch")
	}

	for _, p := range f.Profiles {
		if p.ID == "" {
			return nil, errors.New(errors.ErrProfile,
				fmt.Sprintf("Profile '%s' has no id", p.Name),
				"Remove it from "+path+" and add it again with: dockwatch profile add")
		}
	}
	s.profiles = f.Profiles
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// List returns all profiles, favorites first, then by name.
func (s *Store) List() []ConnectionProfile {
	s.mu.RLock()
	out := make([]ConnectionProfile, len(s.profiles))
	copy(out, s.profiles)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Favorite != out[j].Favorite {
			return out[i].Favorite
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Get finds a profile by ID, falling back to a case-insensitive name match.
func (s *Store) Get(ref string) (ConnectionProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(ref); i >= 0 {
		return s.profiles[i], true
	}
	for _, p := range s.profiles {
		if strings.EqualFold(p.Name, ref) {
			return p, true
		}
	}
	return ConnectionProfile{}, false
}

// Add validates p, assigns a fresh ID, and persists it. Any ID on p is
// ignored so callers cannot mint or reuse IDs.
func (s *Store) Add(p ConnectionProfile) (ConnectionProfile, error) {
	if p.Name == "" {
		p.Name = p.Host
	}
	if err := p.Validate(); err != nil {
		return ConnectionProfile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.profiles {
		if strings.EqualFold(existing.Name, p.Name) {
			return ConnectionProfile{}, errors.New(errors.ErrProfile,
				fmt.Sprintf("A profile named '%s' already exists", p.Name),
				"Pick another name or remove the old one first")
		}
	}

	p.ID = NewID()
	s.profiles = append(s.profiles, p)
	if err := s.save(); err != nil {
		s.profiles = s.profiles[:len(s.profiles)-1]
		return ConnectionProfile{}, err
	}
	return p, nil
}

// Update replaces the profile with p.ID. The ID itself never changes.
func (s *Store) Update(p ConnectionProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.mutate(p.ID, func(existing *ConnectionProfile) {
		*existing = p
	})
}

// Remove deletes the profile with the given ID.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return notFound(id)
	}
	removed := s.profiles[i]
	s.profiles = append(s.profiles[:i], s.profiles[i+1:]...)
	if err := s.save(); err != nil {
		s.profiles = append(s.profiles[:i], append([]ConnectionProfile{removed}, s.profiles[i:]...)...)
		return err
	}
	return nil
}

// Touch records a successful connection.
func (s *Store) Touch(id string, at time.Time) error {
	return s.mutate(id, func(p *ConnectionProfile) {
		t := at.UTC()
		p.LastConnected = &t
	})
}

// SetFavorite pins or unpins a profile at the top of List.
func (s *Store) SetFavorite(id string, favorite bool) error {
	return s.mutate(id, func(p *ConnectionProfile) {
		p.Favorite = favorite
	})
}

func (s *Store) mutate(id string, fn func(*ConnectionProfile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return notFound(id)
	}
	before := s.profiles[i]
	fn(&s.profiles[i])
	s.profiles[i].ID = before.ID
	if err := s.save(); err != nil {
		s.profiles[i] = before
		return err
	}
	return nil
}

func (s *Store) index(id string) int {
	for i, p := range s.profiles {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// save writes atomically via a temp file and rename. Caller holds mu.
func (s *Store) save() error {
	data, err := yaml.Marshal(storeFile{Version: storeVersion, Profiles: s.profiles})
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrProfile, "Can't encode profiles", "")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.WrapWithCode(err, errors.ErrProfile,
			"Can't create profiles directory",
			"Check permissions on "+dir)
	}

	tmp, err := os.CreateTemp(dir, ".profiles-*.yaml")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrProfile,
			"Can't write profiles file",
			"Check permissions on "+dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.WrapWithCode(err, errors.ErrProfile, "Can't write profiles file", "")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapWithCode(err, errors.ErrProfile, "Can't write profiles file", "")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.WrapWithCode(err, errors.ErrProfile, "Can't write profiles file", "")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.WrapWithCode(err, errors.ErrProfile,
			"Can't replace profiles file",
			"Check permissions on "+s.path)
	}
	return nil
}

func notFound(id string) error {
	return errors.New(errors.ErrProfile,
		fmt.Sprintf("No profile with id '%s'", id),
		"List profiles with: dockwatch profile list")
}
