package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adalundhe/notepatch/core/storage"
)

func testManager(t *testing.T) (*Manager, *storage.Dirs) {
	t.Helper()
	dirs := storage.NewDirs(t.TempDir())
	if err := dirs.EnsureAll(); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	m := NewManager(dirs)
	m.SetProjectRoot(t.TempDir())
	return m, dirs
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine.RegexTimeoutDuration() != 50*time.Millisecond {
		t.Errorf("Engine.RegexTimeout: got %v, want 50ms", cfg.Engine.RegexTimeoutDuration())
	}
	if cfg.Engine.MaxOps != 50 {
		t.Errorf("Engine.MaxOps: got %d, want 50", cfg.Engine.MaxOps)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend: got %s, want sqlite", cfg.Store.Backend)
	}
	if !cfg.Ledger.Enabled {
		t.Error("Ledger.Enabled should be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestManagerGetResolvesPaths(t *testing.T) {
	m, dirs := testManager(t)

	cfg := m.Get()
	if cfg.Store.Path != dirs.NotesDB() {
		t.Errorf("Store.Path: got %s, want %s", cfg.Store.Path, dirs.NotesDB())
	}
	if cfg.Ledger.Path != dirs.LedgerDB() {
		t.Errorf("Ledger.Path: got %s, want %s", cfg.Ledger.Path, dirs.LedgerDB())
	}
}

func TestManagerLoadYAML(t *testing.T) {
	m, dirs := testManager(t)
	writeFile(t, dirs.ConfigDir("config.yaml"), `
engine:
  regex_timeout: 75ms
  max_ops: 10
log:
  level: debug
`)

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Engine.RegexTimeoutDuration() != 75*time.Millisecond {
		t.Errorf("RegexTimeout: got %v, want 75ms", cfg.Engine.RegexTimeoutDuration())
	}
	if cfg.Engine.MaxOps != 10 {
		t.Errorf("MaxOps: got %d, want 10", cfg.Engine.MaxOps)
	}
	if cfg.Engine.MaxContentLength != 100000 {
		t.Errorf("MaxContentLength should keep its default, got %d", cfg.Engine.MaxContentLength)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %s, want debug", cfg.Log.Level)
	}
}

func TestManagerLoadTOML(t *testing.T) {
	m, dirs := testManager(t)
	writeFile(t, dirs.ConfigDir("config.toml"), `
[server]
addr = "0.0.0.0:9000"

[ledger]
enabled = false
`)

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr: got %s, want 0.0.0.0:9000", cfg.Server.Addr)
	}
	if cfg.Ledger.Enabled {
		t.Error("Ledger.Enabled should be false")
	}
	if cfg.Server.MaxBodyBytes != 4<<20 {
		t.Errorf("MaxBodyBytes should keep its default, got %d", cfg.Server.MaxBodyBytes)
	}
}

func TestManagerLayerPrecedence(t *testing.T) {
	dirs := storage.NewDirs(t.TempDir())
	project := t.TempDir()

	writeFile(t, filepath.Join(project, ".notepatch", "config.yaml"), "engine:\n  max_ops: 5\n  preview_radius: 10\n")
	writeFile(t, dirs.ConfigDir("config.yaml"), "engine:\n  max_ops: 6\n")
	writeFile(t, filepath.Join(project, ".notepatch", "local", "config.yaml"), "engine:\n  max_ops: 7\n")
	explicit := filepath.Join(t.TempDir(), "override.toml")
	writeFile(t, explicit, "[log]\nformat = \"json\"\n")

	m := NewManager(dirs)
	m.SetProjectRoot(project)
	m.SetFile(explicit)
	t.Setenv("NOTEPATCH_ENGINE_MAX_OPS", "8")

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Engine.MaxOps != 8 {
		t.Errorf("MaxOps: got %d, want 8 from the environment", cfg.Engine.MaxOps)
	}
	if cfg.Engine.PreviewRadius != 10 {
		t.Errorf("PreviewRadius: got %d, want 10 from the project file", cfg.Engine.PreviewRadius)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format: got %s, want json", cfg.Log.Format)
	}
}

func TestManagerEnvironmentOverride(t *testing.T) {
	m, _ := testManager(t)

	t.Setenv("NOTEPATCH_STORE_BACKEND", "file")
	t.Setenv("NOTEPATCH_STORE_PATH", "/srv/notes")
	t.Setenv("NOTEPATCH_LEDGER_ENABLED", "false")
	t.Setenv("NOTEPATCH_LOG_LEVEL", "warn")

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Store.Backend != "file" || cfg.Store.Path != "/srv/notes" {
		t.Errorf("Store: got %+v", cfg.Store)
	}
	if cfg.Ledger.Enabled {
		t.Error("Ledger.Enabled should be false")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level: got %s, want warn", cfg.Log.Level)
	}
}

func TestManagerInvalidConfigKeepsPrevious(t *testing.T) {
	m, dirs := testManager(t)
	path := dirs.ConfigDir("config.yaml")
	writeFile(t, path, "engine:\n  max_ops: 9\n")
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	writeFile(t, path, "store:\n  backend: postgres\n")
	if err := m.Load(); err == nil {
		t.Fatal("expected unknown backend to fail validation")
	}
	if m.Get().Engine.MaxOps != 9 {
		t.Errorf("previous config should stay active, got MaxOps %d", m.Get().Engine.MaxOps)
	}

	t.Setenv("NOTEPATCH_ENGINE_MAX_OPS", "many")
	writeFile(t, path, "engine:\n  max_ops: 9\n")
	if err := m.Load(); err == nil {
		t.Fatal("expected malformed environment value to fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad duration", func(c *Config) { c.Engine.RegexTimeout = "soon" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"file without root", func(c *Config) { c.Store.Backend = "file"; c.Store.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEngineLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxOps = 3
	limits := cfg.Engine.Limits()
	if limits.MaxOps != 3 || limits.MaxPatternLength != 1000 {
		t.Errorf("Limits: got %+v", limits)
	}
}

func TestManagerOnChange(t *testing.T) {
	m, _ := testManager(t)

	called := false
	m.OnChange(func(cfg *Config) {
		called = true
	})

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !called {
		t.Error("OnChange callback should have been called")
	}
}

func TestManagerWatchReloads(t *testing.T) {
	m, dirs := testManager(t)
	path := dirs.ConfigDir("config.yaml")
	writeFile(t, path, "engine:\n  max_ops: 3\n")
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan int, 4)
	m.OnChange(func(cfg *Config) {
		changed <- cfg.Engine.MaxOps
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, path, "engine:\n  max_ops: 4\n")

	select {
	case got := <-changed:
		if got != 4 {
			t.Errorf("reloaded MaxOps: got %d, want 4", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestManagerClose(t *testing.T) {
	m, _ := testManager(t)

	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Double close should not fail: %v", err)
	}
}
