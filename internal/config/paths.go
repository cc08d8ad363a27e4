package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "claudebridge"

// Paths are the per-user directories claudebridge reads and writes.
type Paths struct {
	Data   string // $XDG_DATA_HOME/claudebridge
	Config string // $XDG_CONFIG_HOME/claudebridge
	State  string // $XDG_STATE_HOME/claudebridge, holds log files
}

// GetPaths resolves the XDG base directories, falling back to the usual
// locations under $HOME (or %APPDATA% on Windows).
func GetPaths() *Paths {
	return &Paths{
		Data:   xdgDir("XDG_DATA_HOME", ".local", "share"),
		Config: xdgDir("XDG_CONFIG_HOME", ".config"),
		State:  xdgDir("XDG_STATE_HOME", ".local", "state"),
	}
}

func xdgDir(env string, fallback ...string) string {
	base := os.Getenv(env)
	switch {
	case base != "":
	case runtime.GOOS == "windows":
		base = os.Getenv("APPDATA")
	default:
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// EnsurePaths creates the directories if missing.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath is the directory of the file session store.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "sessions")
}

// DatabasePath is the sqlite session store used when no path is configured.
func (p *Paths) DatabasePath() string {
	return filepath.Join(p.Data, appName+".db")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "config.json")
}

// ProjectConfigPath returns the path to the project config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, "."+appName, "config.json")
}
