package bootstrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const logPrefix = "bootstrap:loader"

// DefaultPaths are tried after any explicit path.
var DefaultPaths = []string{"config/actions.yaml", "actions.yaml"}

// LoadManifest tries paths in order, then DefaultPaths, and returns the
// first manifest that loads. Unreadable or invalid files are skipped with a
// warning. When nothing loads the built-in DefaultManifest is returned with
// an empty source path.
func LoadManifest(paths ...string) (*Manifest, string, error) {
	all := make([]string, 0, len(paths)+len(DefaultPaths))
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	all = append(all, DefaultPaths...)

	for _, p := range all {
		m, err := LoadFile(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Warn(fmt.Sprintf("%s - skipping manifest %s: %v", logPrefix, p, err))
			}
			continue
		}
		slog.Info(fmt.Sprintf("%s - Loaded manifest from %s (%d actions)", logPrefix, p, len(m.Actions)))
		return m, p, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default manifest", logPrefix))
	return DefaultManifest(), "", nil
}

// LoadFile reads and validates a single manifest. Files ending in .json are
// decoded as JSON, everything else as YAML.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	m, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s - %s: %w", logPrefix, path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest data in the given format ("json" or
// "yaml").
func Parse(data []byte, format string) (*Manifest, error) {
	var m Manifest
	var err error
	switch format {
	case "json":
		err = json.Unmarshal(data, &m)
	case "yaml", "yml", "":
		err = yaml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the version constraint and that every action and user
// is named.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return errors.New("manifest version is required")
	}
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return fmt.Errorf("manifest version %q: %w", m.Version, err)
	}
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("manifest version %s does not satisfy %s", m.Version, SupportedVersions)
	}

	for i, a := range m.Actions {
		if strings.Trim(a.Name, "/ ") == "" {
			return fmt.Errorf("action %d has no name", i)
		}
	}
	seen := make(map[string]bool, len(m.Users))
	for i, u := range m.Users {
		if u.Username == "" || u.ID == "" {
			return fmt.Errorf("user %d needs username and id", i)
		}
		if seen[u.Username] {
			return fmt.Errorf("duplicate user %q", u.Username)
		}
		seen[u.Username] = true
	}
	return nil
}

// DefaultManifest is used when no manifest file is found. It declares no
// actions beyond the built-ins registered in code.
func DefaultManifest() *Manifest {
	return &Manifest{Version: "1.0.0"}
}

// MergeManifests overlays override onto base: actions and users are
// replaced by name, exemptions are unioned.
func MergeManifests(base, override *Manifest) *Manifest {
	merged := &Manifest{Version: base.Version}
	if override.Version != "" {
		merged.Version = override.Version
	}

	actionIdx := make(map[string]int)
	for _, list := range [][]ActionSpec{base.Actions, override.Actions} {
		for _, a := range list {
			key := strings.TrimRight(a.Name, "/")
			if i, ok := actionIdx[key]; ok {
				merged.Actions[i] = a
				continue
			}
			actionIdx[key] = len(merged.Actions)
			merged.Actions = append(merged.Actions, a)
		}
	}

	userIdx := make(map[string]int)
	for _, list := range [][]User{base.Users, override.Users} {
		for _, u := range list {
			if i, ok := userIdx[u.Username]; ok {
				merged.Users[i] = u
				continue
			}
			userIdx[u.Username] = len(merged.Users)
			merged.Users = append(merged.Users, u)
		}
	}

	seen := make(map[string]bool)
	for _, list := range [][]string{base.Exempt, override.Exempt} {
		for _, e := range list {
			if !seen[e] {
				seen[e] = true
				merged.Exempt = append(merged.Exempt, e)
			}
		}
	}
	return merged
}
