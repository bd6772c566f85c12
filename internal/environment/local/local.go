// Package local executes runs on the current machine with a bounded pool of
// workers pulling from an unbounded queue.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/environment"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/rundir"
	"github.com/vk/labgrid/internal/runexec"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("local environment closed")

const defaultPollInterval = 200 * time.Millisecond

// Runner executes one run to completion.
type Runner interface {
	Execute(ctx context.Context, spec model.RunSpec) (model.Status, error)
}

type job struct {
	spec   model.RunSpec
	phase  environment.Phase
	status *model.Status
	ctx    context.Context
	cancel context.CancelFunc
}

// Environment is the local worker pool.
type Environment struct {
	runner       Runner
	pollInterval time.Duration
	logger       *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*job
	jobs   map[string]*job
	closed bool
}

// Register adds the local environment to r.
func Register(r *environment.Registry) {
	r.Register(config.EnvLocal, func(ctx context.Context, p environment.Params) (environment.Environment, error) {
		return New(p.Config.Processes, runexec.New(), WithPollInterval(p.Config.PollInterval), WithLogger(p.Logger)), nil
	})
}

// Option configures an Environment.
type Option func(*Environment)

// WithPollInterval overrides the poll interval; non-positive values are
// ignored.
func WithPollInterval(d time.Duration) Option {
	return func(e *Environment) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithLogger sets the logger used by the workers.
func WithLogger(l *slog.Logger) Option {
	return func(e *Environment) {
		if l != nil {
			e.logger = l
		}
	}
}

// New starts workers goroutines executing queued runs with runner. Zero
// workers means one per CPU.
func New(workers int, runner Runner, opts ...Option) *Environment {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	e := &Environment{
		runner:       runner,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
		jobs:         make(map[string]*job),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cond = sync.NewCond(&e.mu)
	e.ctx, e.stop = context.WithCancel(ctxlog.WithLogger(context.Background(), e.logger))

	e.logger.Debug("Starting local workers.", "count", workers)
	e.wg.Add(workers)
	for i := range workers {
		go e.worker(i)
	}
	return e
}

func (e *Environment) Kind() string { return config.EnvLocal }

func (e *Environment) PollInterval() time.Duration { return e.pollInterval }

// Submit claims the run directory and queues the run.
func (e *Environment) Submit(_ context.Context, spec model.RunSpec) (environment.Handle, error) {
	h := environment.Handle{RunID: spec.RunID, Dir: spec.Dir}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return h, ErrClosed
	}
	if j, ok := e.jobs[spec.RunID]; ok && j.phase != environment.PhaseCompleted {
		return h, nil
	}
	if err := rundir.New(spec.Dir).Claim(); err != nil {
		return h, fmt.Errorf("claiming %s: %w", spec.Dir, err)
	}

	j := &job{spec: spec, phase: environment.PhasePending}
	e.jobs[spec.RunID] = j
	e.queue = append(e.queue, j)
	e.cond.Signal()
	return h, nil
}

func (e *Environment) Poll(_ context.Context, h environment.Handle) (environment.Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[h.RunID]
	if !ok {
		return environment.Observation{}, fmt.Errorf("run %s was not submitted", h.RunID)
	}
	obs := environment.Observation{Phase: j.phase}
	if j.status != nil {
		st := *j.status
		obs.Status = &st
	}
	return obs, nil
}

// Cancel drops a queued run or terminates a running one.
func (e *Environment) Cancel(_ context.Context, h environment.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[h.RunID]
	if !ok {
		return nil
	}
	switch j.phase {
	case environment.PhasePending:
		for i, q := range e.queue {
			if q == j {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				break
			}
		}
		st := model.Status{
			RunID: j.spec.RunID, State: model.StateCompleted,
			Outcome: model.OutcomeFailure, Error: "canceled before start",
		}
		if err := rundir.New(j.spec.Dir).WriteStatus(st); err != nil {
			return err
		}
		e.complete(j, st)
	case environment.PhaseRunning:
		j.cancel()
	}
	return nil
}

// Close stops accepting runs, terminates running ones and waits for the
// workers to exit. Queued runs never start.
func (e *Environment) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, j := range e.queue {
		_ = rundir.New(j.spec.Dir).Release()
	}
	e.queue = nil
	e.cond.Broadcast()
	e.mu.Unlock()

	e.stop()
	e.wg.Wait()
	return nil
}

// complete must be called with e.mu held.
func (e *Environment) complete(j *job, st model.Status) {
	j.phase = environment.PhaseCompleted
	j.status = &st
	if err := rundir.New(j.spec.Dir).Release(); err != nil {
		e.logger.Warn("Could not release run directory.", "run", j.spec.RunID, "error", err)
	}
}

// next blocks until a job is available. It returns nil once the environment
// is closed.
func (e *Environment) next() *job {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) == 0 && !e.closed {
		e.cond.Wait()
	}
	if e.closed {
		return nil
	}
	j := e.queue[0]
	e.queue = e.queue[1:]
	j.phase = environment.PhaseRunning
	j.ctx, j.cancel = context.WithCancel(e.ctx)
	return j
}

func (e *Environment) worker(id int) {
	defer e.wg.Done()
	logger := e.logger.With("worker", id)
	logger.Debug("Worker started.")

	for j := e.next(); j != nil; j = e.next() {
		logger.Debug("Worker picked up run.", "run", j.spec.RunID)

		st, err := e.runner.Execute(j.ctx, j.spec)
		if err != nil {
			logger.Error("Run could not be executed.", "run", j.spec.RunID, "error", err)
			st = model.Status{
				RunID: j.spec.RunID, State: model.StateCompleted,
				Outcome: model.OutcomeFailure, Error: err.Error(),
			}
		}

		e.mu.Lock()
		j.cancel()
		e.complete(j, st)
		e.mu.Unlock()
	}
	logger.Debug("Worker finished.")
}
