// Package storage resolves the notepatch directories with XDG support.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "notepatch"

// Dirs holds the per-user notepatch directories.
type Dirs struct {
	Config string // config.yaml / config.toml
	Data   string // notes database, idempotency ledger
	State  string // logs, advisory locks
}

// ProjectDirs are the notepatch directories inside a working tree.
type ProjectDirs struct {
	Root   string // .notepatch/
	Config string // .notepatch/config.yaml (committed)
	Local  string // .notepatch/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() *Dirs {
	globalDirsOnce.Do(func() {
		globalDirs = &Dirs{
			Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
			Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
			State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
		}
	})
	return globalDirs
}

// NewDirs roots every directory under base. Used by tests and --home.
func NewDirs(base string) *Dirs {
	return &Dirs{
		Config: filepath.Join(base, "config"),
		Data:   filepath.Join(base, "data"),
		State:  filepath.Join(base, "state"),
	}
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for the given root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	root := filepath.Join(projectRoot, "."+appName)
	return &ProjectDirs{
		Root:   root,
		Config: filepath.Join(root, "config.yaml"),
		Local:  filepath.Join(root, "local"),
	}
}

func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

func (d *Dirs) StateDir(subpath ...string) string {
	return filepath.Join(append([]string{d.State}, subpath...)...)
}

// NotesDB is the default document store database.
func (d *Dirs) NotesDB() string {
	return d.DataDir("notes.db")
}

// LedgerDB is the default idempotency ledger database.
func (d *Dirs) LedgerDB() string {
	return d.DataDir("ledger.db")
}

// LockDir returns the directory for advisory file locks.
func (d *Dirs) LockDir() string {
	return d.StateDir("locks")
}

// EnsureAll creates every directory. Config is private to the user.
func (d *Dirs) EnsureAll() error {
	if err := os.MkdirAll(d.Config, 0700); err != nil {
		return err
	}
	for _, dir := range []string{d.Data, d.State, d.LockDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
