package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/environment"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/rundir"
)

// Start prepares a directory for every run and executes the runs that have
// no terminal status yet, using the builds left by the build step. Revisions
// without a finished build are built first. It returns once all submitted
// runs have finished.
//
// Runs of revisions that failed to build get a build_failed status; runs the
// environment refused get a dispatch_failed status. Neither stops the step.
func (e *Engine) Start(ctx context.Context) error {
	if e.env == nil {
		return errors.New("no execution environment")
	}
	logger := ctxlog.FromContext(ctx)

	builds, buildErr := e.lookupBuilds(ctx)
	var bf *BuildFailure
	if buildErr != nil && !errors.As(buildErr, &bf) {
		return buildErr
	}

	var pending []model.RunSpec
	skipped := 0
	for _, run := range e.spec.Runs {
		dir := rundir.New(run.Dir)
		state, err := dir.State()
		if err != nil {
			return err
		}
		if state.Terminal() {
			skipped++
			if err := e.store.Add(ctx, run.ID, state); err != nil {
				return err
			}
			continue
		}
		if err := e.store.Add(ctx, run.ID, model.StatePending); err != nil {
			return err
		}

		build, ok := builds.of(run.Algorithm.Revision)
		if !ok {
			spec := e.spec.RunSpec(run, "")
			if err := e.fail(ctx, dir, spec, model.StateBuildFailed, fmt.Errorf("revision %s was not built", run.Algorithm.Revision.Name())); err != nil {
				return err
			}
			continue
		}
		spec := e.spec.RunSpec(run, build.Path)
		if err := dir.Prepare(spec); err != nil {
			return fmt.Errorf("preparing %s: %w", run.ID, err)
		}
		pending = append(pending, spec)
	}
	logger.Info("Runs prepared.", "total", len(e.spec.Runs), "to_run", len(pending), "skipped", skipped)

	handles, err := e.submit(ctx, pending)
	if err != nil {
		return errors.Join(buildErr, err)
	}
	if err := e.wait(ctx, handles); err != nil {
		return errors.Join(buildErr, err)
	}
	return buildErr
}

// lookupBuilds returns the finished builds of all revisions, running the
// build step when some are missing.
func (e *Engine) lookupBuilds(ctx context.Context) (Builds, error) {
	builds := Builds{}
	for _, rev := range e.spec.Revisions {
		b, err := e.cache.Lookup(ctx, rev)
		if err != nil {
			ctxlog.FromContext(ctx).Info("Revision not built yet, building it first.", "revision", rev.Name(), "reason", err)
			return e.Build(ctx)
		}
		builds[rev.Key()] = b
	}
	return builds, nil
}

// fail writes a terminal status for a run that never executes.
func (e *Engine) fail(ctx context.Context, dir *rundir.RunDir, spec model.RunSpec, state model.State, reason error) error {
	if state == model.StateDispatchFailed {
		if err := e.store.Transition(ctx, spec.RunID, model.StateDispatched); err != nil {
			return err
		}
	}
	if err := dir.Prepare(spec); err != nil {
		return fmt.Errorf("preparing %s: %w", spec.RunID, err)
	}
	st := model.Failed(spec.RunID, state, reason)
	if err := dir.WriteStatus(st); err != nil {
		return err
	}
	return e.store.Record(ctx, st)
}

// submit hands every spec to the environment, a bounded number at a time.
func (e *Engine) submit(ctx context.Context, specs []model.RunSpec) ([]environment.Handle, error) {
	logger := ctxlog.FromContext(ctx)
	var (
		mu      sync.Mutex
		handles []environment.Handle
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.submitLimit)
	for _, spec := range specs {
		g.Go(func() error {
			h, err := e.env.Submit(gctx, spec)
			switch {
			case err == nil:
				if err := e.store.Transition(gctx, spec.RunID, model.StateDispatched); err != nil {
					return err
				}
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
				return nil
			case errors.Is(err, rundir.ErrClaimed):
				logger.Warn("Run directory is claimed by another process, skipping run.", "run", spec.RunID)
				return nil
			case gctx.Err() != nil:
				return gctx.Err()
			}
			logger.Error("Run could not be dispatched.", "run", spec.RunID, "error", err)
			return e.fail(gctx, rundir.New(spec.Dir), spec, model.StateDispatchFailed, err)
		})
	}
	if err := g.Wait(); err != nil {
		return handles, err
	}
	logger.Info("Runs submitted.", "count", len(handles), "environment", e.env.Kind())
	return handles, nil
}

// wait polls the outstanding handles until every run completed.
func (e *Engine) wait(ctx context.Context, handles []environment.Handle) error {
	logger := ctxlog.FromContext(ctx)
	outstanding := handles
	ticker := time.NewTicker(e.env.PollInterval())
	defer ticker.Stop()

	for len(outstanding) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		remaining := outstanding[:0]
		for _, h := range outstanding {
			done, err := e.observe(ctx, h)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("Polling run failed.", "run", h.RunID, "error", err)
			}
			if !done {
				remaining = append(remaining, h)
			}
		}
		if len(remaining) < len(outstanding) {
			snap := e.store.Snapshot(ctx)
			logger.Info("Progress.", "finished", snap.Total-snap.Pending(), "total", snap.Total)
		}
		outstanding = remaining
	}
	return nil
}

// observe polls one run and records its progress. It reports whether the run
// is done.
func (e *Engine) observe(ctx context.Context, h environment.Handle) (bool, error) {
	obs, err := e.env.Poll(ctx, h)
	if err != nil {
		return false, err
	}
	switch obs.Phase {
	case environment.PhaseRunning:
		state, err := e.store.State(ctx, h.RunID)
		if err != nil {
			return false, err
		}
		if state == model.StateDispatched {
			return false, e.store.Transition(ctx, h.RunID, model.StateRunning)
		}
	case environment.PhaseCompleted:
		if obs.Status == nil {
			return false, fmt.Errorf("run %s completed without status", h.RunID)
		}
		st := *obs.Status
		ctxlog.FromContext(ctx).Info("Run finished.", "run", h.RunID, "outcome", st.Outcome, "wall_clock", st.WallClock)
		return true, e.store.Record(ctx, st)
	}
	return false, nil
}
