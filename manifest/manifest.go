// Package manifest handles bvm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by FindAndLoad.
const FileName = "bvm.toml"

// Manifest represents a bvm.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Run     RunConfig   `toml:"run"`
	Imports Imports     `toml:"imports"`
	Cache   CacheConfig `toml:"cache"`
	Log     LogConfig   `toml:"log"`

	// Dir is the directory containing the bvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// RunConfig configures `bvm run` when no program is named on the command
// line.
type RunConfig struct {
	Entry        string   `toml:"entry"`
	Args         []string `toml:"args"`
	MaxCallDepth int      `toml:"max-call-depth"`
	Trace        bool     `toml:"trace"`
}

// Imports configures import resolution.
type Imports struct {
	Paths []string `toml:"paths"`
}

// CacheConfig configures the compiled-script cache.
type CacheConfig struct {
	Path     string `toml:"path"`
	Entries  int    `toml:"entries"`
	Keep     int    `toml:"keep"`
	Disabled bool   `toml:"disabled"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Load parses a bvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Imports.Paths) == 0 {
		m.Imports.Paths = []string{"lib"}
	}
	if m.Cache.Keep == 0 {
		m.Cache.Keep = 1000
	}
	if m.Run.MaxCallDepth < 0 {
		return nil, fmt.Errorf("%s: max-call-depth must not be negative", path)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a bvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ImportPaths returns absolute paths for the configured import search
// directories.
func (m *Manifest) ImportPaths() []string {
	var paths []string
	for _, d := range m.Imports.Paths {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// EntryPath returns the absolute path of the entry program, or "" if none
// is configured.
func (m *Manifest) EntryPath() string {
	if m.Run.Entry == "" {
		return ""
	}
	return m.abs(m.Run.Entry)
}

// CachePath returns the cache database path, defaulting to .bvm/cache.db
// next to the manifest.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" {
		return filepath.Join(m.Dir, ".bvm", "cache.db")
	}
	return m.abs(m.Cache.Path)
}

// LogPath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.abs(m.Log.File)
}

func (m *Manifest) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
