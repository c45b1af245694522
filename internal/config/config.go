// Package config loads and validates the nitr server configuration file.
package config

import (
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/bindings/database"
	"github.com/atlanticdynamic/nitr/internal/script/bindings/fetch"
	"github.com/atlanticdynamic/nitr/internal/script/bindings/template"
	"github.com/atlanticdynamic/nitr/internal/script/lifecycle"
)

const (
	VersionLatest  = "v1"
	VersionUnknown = "unknown"
)

// Defaults applied to fields left empty in the file.
const (
	DefaultListenAddr   = ":8080"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
	DefaultDrainTimeout = 10 * time.Second
	DefaultMetricsPath  = "/metrics"
	DefaultDatabasePath = "nitr.db"
)

// Config is the root of the configuration file.
type Config struct {
	Version   string          `toml:"version"`
	Server    ServerConfig    `toml:"server"    env_interpolation:"yes"`
	Logging   LoggingConfig   `toml:"logging"   env_interpolation:"yes"`
	Scripts   ScriptsConfig   `toml:"scripts"   env_interpolation:"yes"`
	Database  DatabaseConfig  `toml:"database"  env_interpolation:"yes"`
	Templates TemplatesConfig `toml:"templates" env_interpolation:"yes"`
	Fetch     FetchConfig     `toml:"fetch"`
	Metrics   MetricsConfig   `toml:"metrics"   env_interpolation:"yes"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	ListenAddr   string   `toml:"listen_addr"   env_interpolation:"yes"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
	IdleTimeout  Duration `toml:"idle_timeout"`
	DrainTimeout Duration `toml:"drain_timeout"`
}

// ScriptsConfig selects the configuration and handler scripts and the runtime limits
// applied to them.
type ScriptsConfig struct {
	Config       string   `toml:"config"       env_interpolation:"yes"`
	Handler      string   `toml:"handler"      env_interpolation:"yes"`
	Reload       string   `toml:"reload"`
	Capabilities []string `toml:"capabilities"`
	Stdlibs      []string `toml:"stdlibs"`
	// MemoryLimit is the per-call heap growth ceiling in bytes, 0 for none.
	MemoryLimit uint64 `toml:"memory_limit"`
	// BodyLimit caps the request body bytes a handler may read, 0 for none.
	BodyLimit int64 `toml:"body_limit"`
}

type DatabaseConfig struct {
	Path        string   `toml:"path"         env_interpolation:"yes"`
	LockTimeout Duration `toml:"lock_timeout"`
}

type TemplatesConfig struct {
	Dir string `toml:"dir" env_interpolation:"yes"`
}

type FetchConfig struct {
	Timeout Duration `toml:"timeout"`
	Retries int      `toml:"retries"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"    env_interpolation:"yes"`
}

// applyDefaults fills every empty field with its default.
func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = VersionLatest
	}

	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	setDefault(&s.ReadTimeout, DefaultReadTimeout)
	setDefault(&s.WriteTimeout, DefaultWriteTimeout)
	setDefault(&s.IdleTimeout, DefaultIdleTimeout)
	setDefault(&s.DrainTimeout, DefaultDrainTimeout)

	c.Logging.applyDefaults()

	if c.Scripts.Reload == "" {
		c.Scripts.Reload = string(lifecycle.ReloadNever)
	}

	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	setDefault(&c.Database.LockTimeout, database.DefaultLockTimeout)

	if c.Templates.Dir == "" {
		c.Templates.Dir = template.DefaultDir
	}

	setDefault(&c.Fetch.Timeout, fetch.DefaultTimeout)

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func setDefault(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}
