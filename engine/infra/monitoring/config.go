package monitoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/taskdeck/taskdeck/engine/infra/server/routes"
	"github.com/taskdeck/taskdeck/pkg/config"
)

// Config decides whether metrics are collected and where they are exported.
type Config struct {
	Enabled bool
	Path    string
}

// DefaultConfig is disabled and exports on /metrics once enabled.
func DefaultConfig() *Config {
	return &Config{Path: "/metrics"}
}

// ConfigFromApp maps the application monitoring section. An empty path keeps
// the default.
func ConfigFromApp(app *config.MonitoringConfig) *Config {
	cfg := DefaultConfig()
	if app == nil {
		return cfg
	}
	cfg.Enabled = app.Enabled
	if app.Path != "" {
		cfg.Path = app.Path
	}
	return cfg
}

// Validate rejects export paths that would collide with the API or the
// health probe.
func (c *Config) Validate() error {
	switch {
	case c.Path == "":
		return errors.New("monitoring: path is required")
	case !strings.HasPrefix(c.Path, "/"):
		return fmt.Errorf("monitoring: path %q must be absolute", c.Path)
	case strings.ContainsAny(c.Path, "?#"):
		return fmt.Errorf("monitoring: path %q must not carry a query", c.Path)
	case c.Path == routes.Health():
		return fmt.Errorf("monitoring: path %q is taken by the health check", c.Path)
	case c.Path == "/api" || strings.HasPrefix(c.Path, "/api/"):
		return fmt.Errorf("monitoring: path %q is inside the API", c.Path)
	}
	return nil
}
