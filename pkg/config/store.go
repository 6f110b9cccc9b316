package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
)

const (
	// StorePath is the default path to the sync config store.
	StorePath = "~/.foldersync.yaml"

	// SupportedStoreVersion is the store version written by this binary.
	// Stores that don't specify a version default to it.
	SupportedStoreVersion = "1.0.0"

	// supportedStoreConstraint is the range of store versions that this
	// binary can read.
	supportedStoreConstraint = ">= 1.0.0, < 2.0.0"
)

// SyncConfig is a named mirror of a source folder into a set of target
// folders.
type SyncConfig struct {
	Name    string   `json:"name"`
	Source  string   `json:"source"`
	Targets []string `json:"targets"`

	// Except contains glob patterns for paths that aren't mirrored.
	Except []string `json:"except,omitempty"`

	// Active is whether a `foldersync start` process is currently mirroring
	// this config.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store contains all the sync configs created by the user.
type Store struct {
	Version string       `json:"version,omitempty"`
	Configs []SyncConfig `json:"configs"`
}

func (s Store) getVersion() string {
	return s.Version
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// GetStorePath returns the expanded path to the store, so that it can be
// directly passed to file operations.
func GetStorePath() (string, error) {
	return homedirExpand(StorePath)
}

// ParseStore parses the store at the default path. If the store doesn't
// exist yet, an empty store is returned.
func ParseStore() (Store, error) {
	path, err := GetStorePath()
	if err != nil {
		return Store{}, errors.WithContext(err, "expand store path")
	}

	store := Store{Version: SupportedStoreVersion}
	if err := parseConfig(path, &store, supportedStoreConstraint); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Store{Version: SupportedStoreVersion}, nil
		}
		return Store{}, errors.WithContext(err, "parse")
	}
	return store, nil
}

// WriteStore writes the given store to disk.
func WriteStore(store Store) error {
	store.Version = SupportedStoreVersion
	path, err := GetStorePath()
	if err != nil {
		return errors.WithContext(err, "expand store path")
	}

	yamlBytes, err := yaml.Marshal(store)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// Create validates `cfg` and adds it to the store. The source and target
// paths are replaced with their absolute paths.
func (s *Store) Create(cfg SyncConfig, now time.Time) error {
	if cfg.Name == "" {
		return errors.MissingFieldError{Field: "name"}
	}

	if cfg.Source == "" {
		return errors.MissingFieldError{Field: "source"}
	}

	if len(cfg.Targets) == 0 {
		return errors.MissingFieldError{Field: "targets"}
	}

	if _, ok := s.Get(cfg.Name); ok {
		return errors.NewFriendlyError("A sync config named %q already exists.", cfg.Name)
	}

	source, err := ValidateFolderPath(cfg.Source)
	if err != nil {
		return err
	}

	seen := map[string]struct{}{source: {}}
	var targets []string
	for _, target := range cfg.Targets {
		target, err := ValidateFolderPath(target)
		if err != nil {
			return err
		}

		if target == source {
			return errors.ValidationError{Path: target, Reason: "target is the source folder"}
		}

		if _, ok := seen[target]; ok {
			return errors.ValidationError{Path: target, Reason: "target is listed more than once"}
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}

	cfg.Source = source
	cfg.Targets = targets
	cfg.Active = false
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	s.Configs = append(s.Configs, cfg)
	return nil
}

// Get returns the config with the given name.
func (s Store) Get(name string) (SyncConfig, bool) {
	for _, cfg := range s.Configs {
		if cfg.Name == name {
			return cfg, true
		}
	}
	return SyncConfig{}, false
}

// Lookup is like Get, but returns a user-facing error if the config doesn't
// exist.
func (s Store) Lookup(name string) (SyncConfig, error) {
	cfg, ok := s.Get(name)
	if !ok {
		return SyncConfig{}, notFoundError(name)
	}
	return cfg, nil
}

// Delete removes the config with the given name.
func (s *Store) Delete(name string) error {
	for i, cfg := range s.Configs {
		if cfg.Name == name {
			s.Configs = append(s.Configs[:i], s.Configs[i+1:]...)
			return nil
		}
	}
	return notFoundError(name)
}

// SetActive records whether the config with the given name is being
// mirrored.
func (s *Store) SetActive(name string, active bool, now time.Time) error {
	for i := range s.Configs {
		if s.Configs[i].Name == name {
			s.Configs[i].Active = active
			s.Configs[i].UpdatedAt = now
			return nil
		}
	}
	return notFoundError(name)
}

func notFoundError(name string) error {
	return errors.NewFriendlyError("No sync config named %q exists.\n"+
		"Run `foldersync config list` to see the available configs.", name)
}

// ValidateFolderPath checks that `path` is an existing directory, and returns
// its absolute path. A leading `~` is expanded to the user's home directory.
func ValidateFolderPath(path string) (string, error) {
	expanded, err := homedirExpand(path)
	if err != nil {
		return "", errors.WithContext(err, "expand path")
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", errors.WithContext(err, "absolute path")
	}

	fi, err := fs.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.ValidationError{Path: absPath, Reason: "folder does not exist"}
		}
		return "", errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return "", errors.ValidationError{Path: absPath, Reason: "path is not a directory"}
	}
	return absPath, nil
}
