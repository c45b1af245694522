package config

import (
	"fmt"
	"strings"

	"github.com/atlanticdynamic/nitr/internal/fancy"
	"github.com/atlanticdynamic/nitr/internal/script/capability"
	"github.com/charmbracelet/lipgloss/tree"
)

// String returns a pretty-printed tree representation of the config.
func (c *Config) String() string {
	return ConfigTree(c)
}

// ConfigTree renders cfg as a tree.
func ConfigTree(cfg *Config) string {
	t := fancy.Tree()
	t.Root(fancy.RootStyle.Render(fmt.Sprintf("nitr config (%s)", cfg.Version)))

	server := fancy.BranchNode("Server", cfg.Server.ListenAddr)
	server.Child(fmt.Sprintf("Read timeout: %s", cfg.Server.ReadTimeout))
	server.Child(fmt.Sprintf("Write timeout: %s", cfg.Server.WriteTimeout))
	server.Child(fmt.Sprintf("Idle timeout: %s", cfg.Server.IdleTimeout))
	server.Child(fmt.Sprintf("Drain timeout: %s", cfg.Server.DrainTimeout))
	t.Child(server)

	logging := fancy.BranchNode("Logging", "")
	logging.Child(fmt.Sprintf("Format: %s", cfg.Logging.Format))
	logging.Child(fmt.Sprintf("Level: %s", cfg.Logging.Level))
	logging.Child(fmt.Sprintf("Output: %s", cfg.Logging.Output))
	t.Child(logging)

	t.Child(scriptsTree(cfg))

	if caps, err := cfg.Capabilities(); err == nil {
		if caps.Has(capability.Database) {
			db := fancy.BranchNode("Database", "")
			db.Child(fmt.Sprintf("Path: %s", fancy.PathText(cfg.Database.Path)))
			db.Child(fmt.Sprintf("Lock timeout: %s", cfg.Database.LockTimeout))
			t.Child(db)
		}
		if caps.Has(capability.Template) {
			t.Child(fancy.BranchNode("Templates", "").
				Child(fmt.Sprintf("Dir: %s", fancy.PathText(cfg.Templates.Dir))))
		}
		if caps.Has(capability.Fetch) {
			fetch := fancy.BranchNode("Fetch", "")
			fetch.Child(fmt.Sprintf("Timeout: %s", cfg.Fetch.Timeout))
			fetch.Child(fmt.Sprintf("Retries: %d", cfg.Fetch.Retries))
			t.Child(fetch)
		}
	}

	metrics := fancy.BranchNode("Metrics", "disabled")
	if cfg.Metrics.Enabled {
		metrics = fancy.BranchNode("Metrics", cfg.Metrics.Path)
	}
	t.Child(metrics)

	return t.String()
}

func scriptsTree(cfg *Config) *tree.Tree {
	s := cfg.Scripts
	node := fancy.BranchNode("Scripts", fmt.Sprintf("(reload: %s)", s.Reload))

	config := s.Config
	if config == "" {
		config = "(none)"
	}
	handler := s.Handler
	if handler == "" {
		handler = "(none)"
	}
	node.Child(fmt.Sprintf("Config: %s", fancy.ScriptText(config)))
	node.Child(fmt.Sprintf("Handler: %s", fancy.ScriptText(handler)))

	caps := "none"
	if set, err := cfg.Capabilities(); err == nil && !set.IsNone() {
		names := make([]string, 0, set.Len())
		for _, c := range set.List() {
			names = append(names, fancy.CapabilityText(c.Name()))
		}
		caps = strings.Join(names, ", ")
	}
	node.Child(fmt.Sprintf("Capabilities: %s", caps))

	if len(s.Stdlibs) > 0 {
		node.Child(fmt.Sprintf("Stdlibs: %s", strings.Join(s.Stdlibs, ", ")))
	}
	if s.MemoryLimit > 0 {
		node.Child(fmt.Sprintf("Memory limit: %d bytes", s.MemoryLimit))
	}
	if s.BodyLimit > 0 {
		node.Child(fmt.Sprintf("Body limit: %d bytes", s.BodyLimit))
	}
	return node
}
