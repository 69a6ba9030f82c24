// Package repomap resolves which repository a tracker issue should be
// worked on. The mapping lives in a TOML file keyed by project, with
// per-label and per-team overrides and a global fallback.
package repomap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const mappingFileName = "repos.toml"

// ErrNotConfigured reports that no mapping file exists at any searched path.
var ErrNotConfigured = errors.New("no repo mapping file found")

// Target is one resolvable repository destination.
type Target struct {
	Owner    string `toml:"owner" json:"owner"`
	RepoName string `toml:"repo_name" json:"repo_name"`
	RepoURL  string `toml:"repo_url" json:"repo_url"`
	// Branch defaults to "main" when the mapping entry leaves it unset.
	Branch string `toml:"branch" json:"branch"`
}

func (t Target) validate(where string) error {
	if strings.TrimSpace(t.Owner) == "" {
		return fmt.Errorf("repo mapping %s: owner is required", where)
	}
	if strings.TrimSpace(t.RepoName) == "" {
		return fmt.Errorf("repo mapping %s: repo_name is required", where)
	}
	if strings.TrimSpace(t.RepoURL) == "" {
		return fmt.Errorf("repo mapping %s: repo_url is required", where)
	}
	return nil
}

// Project groups one project key's override chain entries.
type Project struct {
	// LabelOverrides maps lowercase label names to targets. Issue labels
	// are lowercased before lookup, so keys written in other cases never
	// match.
	LabelOverrides map[string]Target `toml:"label_overrides"`
	// TeamOverrides maps exact team names to targets.
	TeamOverrides map[string]Target `toml:"team_overrides"`
	Default       *Target           `toml:"default"`
}

// Mapping is the decoded repo mapping file set.
type Mapping struct {
	Projects map[string]Project `toml:"projects"`
	Default  *Target            `toml:"default"`
}

// DefaultPaths returns the mapping file locations in ascending precedence:
// the home file first, then the project-local override.
func DefaultPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return []string{
		filepath.Join(home, ".bridge", mappingFileName),
		filepath.Join(".bridge", mappingFileName),
	}, nil
}

// Load reads the mapping from the default locations.
func Load() (*Mapping, error) {
	paths, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return LoadFrom(paths...)
}

// LoadFrom overlays the given mapping files in order. Later files win: a
// project defined in a later file replaces the earlier definition
// wholesale, as does the global default. Missing files are skipped, but at
// least one must exist.
func LoadFrom(paths ...string) (*Mapping, error) {
	merged := &Mapping{Projects: map[string]Project{}}
	found := false
	for _, path := range paths {
		var file Mapping
		if _, err := toml.DecodeFile(path, &file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("parse repo mapping %s: %w", path, err)
		}
		found = true
		merged.merge(file)
	}
	if !found {
		return nil, fmt.Errorf("%w (looked in %s)", ErrNotConfigured, strings.Join(paths, ", "))
	}
	if err := merged.validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (m *Mapping) merge(other Mapping) {
	if other.Default != nil {
		m.Default = other.Default
	}
	for key, project := range other.Projects {
		m.Projects[key] = project
	}
}

func (m *Mapping) validate() error {
	if m.Default != nil {
		if err := m.Default.validate("default"); err != nil {
			return err
		}
	}
	for key, project := range m.Projects {
		for label, target := range project.LabelOverrides {
			where := fmt.Sprintf("projects.%s.label_overrides.%s", key, label)
			if err := target.validate(where); err != nil {
				return err
			}
		}
		for team, target := range project.TeamOverrides {
			where := fmt.Sprintf("projects.%s.team_overrides.%s", key, team)
			if err := target.validate(where); err != nil {
				return err
			}
		}
		if project.Default != nil {
			if err := project.Default.validate(fmt.Sprintf("projects.%s.default", key)); err != nil {
				return err
			}
		}
	}
	return nil
}
