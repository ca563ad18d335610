// Package manifest handles jolt.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/jolt/vm"
)

// FileName is the name of the project configuration file.
const FileName = "jolt.toml"

// Manifest represents a jolt.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Engine  Engine  `toml:"engine"`
	Units   Units   `toml:"units"`
	Run     Run     `toml:"run"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the jolt.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Engine bounds the execution engine. Zero means the engine default;
// a zero MaxSteps means no step budget.
type Engine struct {
	MaxCallDepth    int   `toml:"max-call-depth"`
	MaxOperandStack int   `toml:"max-operand-stack"`
	MaxSteps        int64 `toml:"max-steps"`
	Trace           bool  `toml:"trace"`
}

// Units configures where class units are found.
type Units struct {
	Dirs    []string `toml:"dirs"`
	Preload []string `toml:"preload"`
}

// Run lists the entry points run by "jolt run" when none are given.
type Run struct {
	Entries  []string `toml:"entries"`
	Parallel bool     `toml:"parallel"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Load parses a jolt.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return parse(path, dir, data)
}

func parse(path, dir string, data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Units.Dirs) == 0 {
		m.Units.Dirs = []string{"units"}
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	switch {
	case m.Engine.MaxCallDepth < 0:
		return fmt.Errorf("engine.max-call-depth must not be negative")
	case m.Engine.MaxOperandStack < 0:
		return fmt.Errorf("engine.max-operand-stack must not be negative")
	case m.Engine.MaxSteps < 0:
		return fmt.Errorf("engine.max-steps must not be negative")
	}
	for _, e := range m.Run.Entries {
		if _, err := ParseEntry(e); err != nil {
			return err
		}
	}
	return nil
}

// FindAndLoad walks up from startDir to find a jolt.toml file,
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

// UnitDirPaths returns absolute paths for the configured unit directories.
func (m *Manifest) UnitDirPaths() []string {
	var paths []string
	for _, d := range m.Units.Dirs {
		if filepath.IsAbs(d) {
			paths = append(paths, d)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// LogFilePath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFilePath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}

// EngineConfig maps the [engine] section onto a vm.Config. Source and
// Logger are left for the caller.
func (m *Manifest) EngineConfig() vm.Config {
	cfg := vm.DefaultConfig()
	if m.Engine.MaxCallDepth > 0 {
		cfg.MaxCallDepth = m.Engine.MaxCallDepth
	}
	if m.Engine.MaxOperandStack > 0 {
		cfg.MaxOperandStack = m.Engine.MaxOperandStack
	}
	cfg.MaxSteps = m.Engine.MaxSteps
	cfg.Trace = m.Engine.Trace
	return cfg
}
