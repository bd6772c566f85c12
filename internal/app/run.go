package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/vk/labgrid/internal/buildcache"
	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/engine"
	"github.com/vk/labgrid/internal/environment"
	"github.com/vk/labgrid/internal/experiment"
)

// Run executes the configured steps of the experiment.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	spec, err := a.LoadExperiment(ctx)
	if err != nil {
		return fmt.Errorf("failed to load experiment: %w", err)
	}

	cache := buildcache.New(spec.RevisionCache, a.builderFor(spec))

	var env environment.Environment
	if needsEnvironment(a.config.Steps) {
		env, err = a.newEnvironment(ctx, spec)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := env.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("closing %s environment: %w", env.Kind(), cerr))
			}
		}()
	}

	opts := []engine.Option{engine.WithStore(a.store), engine.WithOutput(a.outW)}
	if a.archiveStore != nil {
		opts = append(opts, engine.WithArchiveStore(a.archiveStore))
	}
	eng, err := engine.New(spec, cache, env, opts...)
	if err != nil {
		return fmt.Errorf("invalid parser configuration: %w", err)
	}

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(ctx, a.config.HealthcheckPort)
		defer a.closeHealthCheckServer(ctx)
	}

	steps := a.config.Steps
	if len(steps) == 0 {
		steps = eng.Steps()
	}
	a.logger.Info("🚀 Starting experiment...", "experiment", spec.Name, "steps", steps)
	if err := eng.Run(ctx, steps...); err != nil {
		return err
	}
	a.logger.Info("🏁 Experiment finished.", "experiment", spec.Name)
	return nil
}

func (a *App) builderFor(spec *experiment.Spec) buildcache.Builder {
	if a.builder != nil {
		return a.builder
	}
	env := make([]string, 0, len(spec.Env))
	for _, k := range slices.Sorted(maps.Keys(spec.Env)) {
		env = append(env, k+"="+spec.Env[k])
	}
	return &buildcache.GitBuilder{Repo: spec.Repo, Command: spec.BuildCommand, Env: env}
}

func (a *App) newEnvironment(ctx context.Context, spec *experiment.Spec) (environment.Environment, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating the labgrid binary: %w", err)
	}
	if err := os.MkdirAll(spec.Dir, 0o755); err != nil {
		return nil, err
	}
	env, err := environment.New(ctx, a.registry, environment.Params{
		Config:     spec.Environment,
		Dir:        spec.Dir,
		Executable: exe,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Execution environment ready.", "kind", env.Kind())
	return env, nil
}

// needsEnvironment reports whether steps execute runs. No steps means all.
func needsEnvironment(steps []string) bool {
	return len(steps) == 0 || slices.Contains(steps, engine.StepStart)
}
