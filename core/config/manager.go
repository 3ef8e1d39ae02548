// Package config loads layered notepatch configuration from YAML or TOML
// files and the environment, and hot-reloads it on change.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/storage"
)

const envPrefix = "NOTEPATCH_"

// configNames are tried in order inside each config directory.
var configNames = []string{"config.yaml", "config.yml", "config.toml"}

type Manager struct {
	current      atomic.Pointer[Config]
	dirs         *storage.Dirs
	projectRoot  string
	explicitFile string
	logger       *slog.Logger
	watchers     []func(*Config)
	watcherMu    sync.RWMutex
	stopWatch    chan struct{}
	watchOnce    sync.Once
}

type Config struct {
	Engine EngineConfig `yaml:"engine" toml:"engine"`
	Store  StoreConfig  `yaml:"store" toml:"store"`
	Ledger LedgerConfig `yaml:"ledger" toml:"ledger"`
	Server ServerConfig `yaml:"server" toml:"server"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

type EngineConfig struct {
	RegexTimeout     string `yaml:"regex_timeout" toml:"regex_timeout"`
	RegexCacheSize   int    `yaml:"regex_cache_size" toml:"regex_cache_size"`
	PreviewRadius    int    `yaml:"preview_radius" toml:"preview_radius"`
	DiffContextLines int    `yaml:"diff_context_lines" toml:"diff_context_lines"`
	MaxOps           int    `yaml:"max_ops" toml:"max_ops"`
	MaxContentLength int    `yaml:"max_content_length" toml:"max_content_length"`
	MaxPatternLength int    `yaml:"max_pattern_length" toml:"max_pattern_length"`
	MaxFlagsLength   int    `yaml:"max_flags_length" toml:"max_flags_length"`
}

type StoreConfig struct {
	// Backend is one of sqlite, file or memory.
	Backend string `yaml:"backend" toml:"backend"`
	// Path is the SQLite database, or the notes root for the file backend.
	Path string `yaml:"path" toml:"path"`
}

type LedgerConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Path        string `yaml:"path" toml:"path"`
	NumCounters int64  `yaml:"num_counters" toml:"num_counters"`
	MaxCost     int64  `yaml:"max_cost" toml:"max_cost"`
	Retention   string `yaml:"retention" toml:"retention"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr" toml:"addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`
	ReadTimeout  string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout" toml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

func NewManager(dirs *storage.Dirs) *Manager {
	m := &Manager{
		dirs:        dirs,
		projectRoot: ".",
		logger:      slog.Default(),
		stopWatch:   make(chan struct{}),
	}
	cfg := DefaultConfig()
	cfg.resolvePaths(dirs)
	m.current.Store(cfg)
	return m
}

func DefaultConfig() *Config {
	limits := content.DefaultLimits()
	return &Config{
		Engine: EngineConfig{
			RegexTimeout:     content.DefaultRegexTimeout.String(),
			RegexCacheSize:   content.DefaultRegexCacheSize,
			PreviewRadius:    content.DefaultPreviewRadius,
			DiffContextLines: 3,
			MaxOps:           limits.MaxOps,
			MaxContentLength: limits.MaxContentLength,
			MaxPatternLength: limits.MaxPatternLength,
			MaxFlagsLength:   limits.MaxFlagsLength,
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Ledger: LedgerConfig{
			Enabled:     true,
			NumCounters: 1e5,
			MaxCost:     64 << 20,
			Retention:   "24h",
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8484",
			MaxBodyBytes: 4 << 20,
			ReadTimeout:  "30s",
			WriteTimeout: "30s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetProjectRoot changes where the project .notepatch directory is looked
// up. Defaults to the working directory.
func (m *Manager) SetProjectRoot(root string) {
	m.projectRoot = root
}

// SetFile adds an explicit config file, applied after every discovered
// layer and before the environment.
func (m *Manager) SetFile(path string) {
	m.explicitFile = path
}

func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Load rebuilds the configuration from defaults, then the project, user,
// local and explicit files, then the environment. An invalid result leaves
// the current configuration in place.
func (m *Manager) Load() error {
	cfg := DefaultConfig()
	project := storage.ResolveProjectDirs(m.projectRoot)

	layers := []struct {
		name string
		dir  string
	}{
		{"project", project.Root},
		{"user", m.dirs.Config},
		{"local", project.Local},
	}
	for _, layer := range layers {
		if err := loadFromDir(layer.dir, cfg); err != nil {
			return fmt.Errorf("%s config: %w", layer.name, err)
		}
	}

	if m.explicitFile != "" {
		if err := loadFile(m.explicitFile, cfg, true); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}

	if err := applyEnvironment(cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	cfg.resolvePaths(m.dirs)

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	m.notifyWatchers(cfg)
	return nil
}

func loadFromDir(dir string, cfg *Config) error {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return loadFile(path, cfg, false)
		}
	}
	return nil
}

// loadFile decodes path over cfg, so keys the file omits keep their value.
func loadFile(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !required {
		return nil
	}
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnvironment(cfg *Config) error {
	strs := map[string]*string{
		"ENGINE_REGEX_TIMEOUT": &cfg.Engine.RegexTimeout,
		"STORE_BACKEND":        &cfg.Store.Backend,
		"STORE_PATH":           &cfg.Store.Path,
		"LEDGER_PATH":          &cfg.Ledger.Path,
		"LEDGER_RETENTION":     &cfg.Ledger.Retention,
		"SERVER_ADDR":          &cfg.Server.Addr,
		"LOG_LEVEL":            &cfg.Log.Level,
		"LOG_FORMAT":           &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"ENGINE_MAX_OPS":            &cfg.Engine.MaxOps,
		"ENGINE_MAX_CONTENT_LENGTH": &cfg.Engine.MaxContentLength,
		"ENGINE_PREVIEW_RADIUS":     &cfg.Engine.PreviewRadius,
		"ENGINE_REGEX_CACHE_SIZE":   &cfg.Engine.RegexCacheSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv(envPrefix + "LEDGER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLEDGER_ENABLED: %w", envPrefix, err)
		}
		cfg.Ledger.Enabled = b
	}
	return nil
}

// resolvePaths fills empty storage paths from the resolved directories.
func (c *Config) resolvePaths(dirs *storage.Dirs) {
	if dirs == nil {
		return
	}
	if c.Store.Path == "" && c.Store.Backend == "sqlite" {
		c.Store.Path = dirs.NotesDB()
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = dirs.LedgerDB()
	}
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "file" && c.Store.Path == "" {
		return fmt.Errorf("store.path: required for the file backend")
	}

	for field, value := range map[string]string{
		"engine.regex_timeout": c.Engine.RegexTimeout,
		"ledger.retention":     c.Ledger.Retention,
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return fmt.Errorf("%s: invalid duration %q", field, value)
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// Limits converts the engine section into batch limits.
func (e EngineConfig) Limits() content.Limits {
	return content.Limits{
		MaxOps:           e.MaxOps,
		MaxContentLength: e.MaxContentLength,
		MaxPatternLength: e.MaxPatternLength,
		MaxFlagsLength:   e.MaxFlagsLength,
	}
}

func (e EngineConfig) RegexTimeoutDuration() time.Duration {
	return Duration(e.RegexTimeout, content.DefaultRegexTimeout)
}

// Duration parses s, returning fallback when s is empty or invalid.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", level)
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

func (m *Manager) Close() error {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
	})
	return nil
}
