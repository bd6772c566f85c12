package app

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/labgrid/internal/archive"
	"github.com/vk/labgrid/internal/buildcache"
	"github.com/vk/labgrid/internal/environment"
	"github.com/vk/labgrid/internal/runstore"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *environment.Registry
	store    *runstore.Memory

	builder      buildcache.Builder
	archiveStore archive.Store
	httpServer   *http.Server
}

// Option customizes an App, mostly for tests.
type Option func(*App)

// WithBuilder replaces the git builder derived from the experiment.
func WithBuilder(b buildcache.Builder) Option {
	return func(a *App) { a.builder = b }
}

// WithRegistry replaces the registry of compiled-in environments.
func WithRegistry(r *environment.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithArchiveStore replaces the object storage client of the archive step.
func WithArchiveStore(s archive.Store) Option {
	return func(a *App) { a.archiveStore = s }
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and environment
// registry.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		store:  runstore.New(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.registry == nil {
		a.registry = environment.NewRegistry()
		for _, register := range coreEnvironments {
			register(a.registry)
		}
	}
	logger.Debug("Execution environments registered.", "kinds", a.registry.Kinds())
	return a
}

// Store returns the run states of the current invocation.
func (a *App) Store() *runstore.Memory {
	return a.store
}
