package app

import (
	"sync"

	"ttrace/internal/config"
)

// loadConfig is swapped by tests.
var loadConfig = config.Load

// Options configures the top-level controller.
type Options struct {
	// ConfigPath points to the optional JSON config file.
	ConfigPath string
}

// App exposes high-level operations that the CLI/TUI can reuse.
type App struct {
	cfgPath string

	cfgOnce sync.Once
	cfg     config.Config
	cfgErr  error
}

// New constructs the shared controller facade.
func New(opts Options) *App {
	return &App{
		cfgPath: opts.ConfigPath,
	}
}

// ConfigPath returns the configured config file path (if any).
func (a *App) ConfigPath() string {
	return a.cfgPath
}

// Config resolves the configuration once and caches the result.
func (a *App) Config() (config.Config, error) {
	a.cfgOnce.Do(func() {
		a.cfg, a.cfgErr = loadConfig(a.cfgPath)
	})
	return a.cfg, a.cfgErr
}
