package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/atlanticdynamic/nitr/internal/script/capability"
	"github.com/atlanticdynamic/nitr/internal/script/engine"
	"github.com/atlanticdynamic/nitr/internal/script/lifecycle"
)

// Validate checks every section and returns all problems joined.
func (c *Config) Validate() error {
	if c.Version == "" {
		c.Version = VersionUnknown
	}
	if c.Version != VersionLatest {
		return fmt.Errorf("%w: %s", ErrUnsupportedConfigVer, c.Version)
	}

	var errs []error
	errs = append(errs, c.Server.validate()...)
	errs = append(errs, c.Logging.Validate()...)
	errs = append(errs, c.Scripts.validate()...)

	if c.Database.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("database: lock_timeout must not be negative"))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("fetch: timeout must not be negative"))
	}
	if c.Fetch.Retries < 0 {
		errs = append(errs, fmt.Errorf("fetch: retries must not be negative"))
	}

	if c.Metrics.Enabled {
		switch {
		case !strings.HasPrefix(c.Metrics.Path, "/"):
			errs = append(errs, fmt.Errorf("metrics: path %q must start with /", c.Metrics.Path))
		case c.Metrics.Path == "/":
			errs = append(errs, fmt.Errorf("metrics: path must not be the root path"))
		}
	}

	return errors.Join(errs...)
}

func (s ServerConfig) validate() []error {
	var errs []error
	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("server: invalid listen_addr %q: %w", s.ListenAddr, err))
	}
	timeouts := []struct {
		name string
		d    Duration
	}{
		{"read_timeout", s.ReadTimeout},
		{"write_timeout", s.WriteTimeout},
		{"idle_timeout", s.IdleTimeout},
		{"drain_timeout", s.DrainTimeout},
	}
	for _, t := range timeouts {
		if t.d < 0 {
			errs = append(errs, fmt.Errorf("server: %s must not be negative", t.name))
		}
	}
	return errs
}

func (s ScriptsConfig) validate() []error {
	var errs []error

	mode, err := lifecycle.ParseReloadMode(s.Reload)
	if err != nil {
		errs = append(errs, fmt.Errorf("scripts: %w", err))
	}
	if mode == lifecycle.ReloadWatch && s.Handler == "" {
		errs = append(errs, fmt.Errorf("scripts: reload mode %q requires a handler script", mode))
	}

	if _, err := capability.Parse(s.Capabilities); err != nil {
		errs = append(errs, fmt.Errorf("scripts: %w", err))
	}

	for _, lib := range s.Stdlibs {
		if !engine.IsStdlib(lib) {
			errs = append(errs, fmt.Errorf("scripts: unknown standard library %q", lib))
		}
	}

	if s.BodyLimit < 0 {
		errs = append(errs, fmt.Errorf("scripts: body_limit must not be negative"))
	}
	return errs
}
