package config

import (
	"fmt"

	"github.com/atlanticdynamic/nitr/internal/script/capability"
	"github.com/atlanticdynamic/nitr/internal/script/host"
	"github.com/atlanticdynamic/nitr/internal/script/lifecycle"
)

// Capabilities returns the parsed capability set of the scripts section.
func (c *Config) Capabilities() (capability.Set, error) {
	return capability.Parse(c.Scripts.Capabilities)
}

// HostConfig converts the configuration into the settings of a script host.
func (c *Config) HostConfig() (host.Config, error) {
	caps, err := c.Capabilities()
	if err != nil {
		return host.Config{}, fmt.Errorf("scripts: %w", err)
	}
	mode, err := lifecycle.ParseReloadMode(c.Scripts.Reload)
	if err != nil {
		return host.Config{}, fmt.Errorf("scripts: %w", err)
	}

	return host.Config{
		ConfigPath:   c.Scripts.Config,
		HandlerPath:  c.Scripts.Handler,
		Capabilities: caps,
		ReloadMode:   mode,
		Stdlibs:      c.Scripts.Stdlibs,
		MemoryLimit:  c.Scripts.MemoryLimit,
		BodyLimit:    c.Scripts.BodyLimit,
		DatabasePath: c.Database.Path,
		LockTimeout:  c.Database.LockTimeout.AsDuration(),
		TemplateDir:  c.Templates.Dir,
		FetchTimeout: c.Fetch.Timeout.AsDuration(),
		FetchRetries: c.Fetch.Retries,
	}, nil
}
