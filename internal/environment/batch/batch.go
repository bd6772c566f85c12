// Package batch executes runs as jobs on a batch cluster.
//
// Each run becomes a job script that re-invokes "labgrid execute-run" on
// the run directory, which must live on a file system shared with the
// compute nodes. Submissions are recorded in a ledger so that re-invoking
// the start step never queues a run twice.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/environment"
	"github.com/vk/labgrid/internal/ledger"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/notify"
	"github.com/vk/labgrid/internal/rundir"
)

// ErrDispatchFailed is returned by Submit when every submission attempt
// failed.
var ErrDispatchFailed = errors.New("dispatch failed")

const (
	defaultPollInterval = 30 * time.Second
	defaultAttempts     = 3
	defaultRetryDelay   = 5 * time.Second
	defaultUnknownGrace = 10 * time.Minute
)

// Environment submits runs to a Scheduler.
type Environment struct {
	sched        Scheduler
	ledger       *ledger.Ledger
	listener     *notify.Listener
	cfg          config.Slurm
	executable   string
	pollInterval time.Duration
	logger       *slog.Logger
	sleep        func(context.Context, time.Duration) error
	now          func() time.Time

	mu           sync.Mutex
	unknownSince map[string]time.Time
}

// Register adds the Slurm environment to r.
func Register(r *environment.Registry) {
	r.Register(config.EnvSlurm, func(ctx context.Context, p environment.Params) (environment.Environment, error) {
		cfg := config.Slurm{}
		if p.Config.Slurm != nil {
			cfg = *p.Config.Slurm
		}
		l, err := ledger.Open(filepath.Join(p.Dir, ledger.FileName))
		if err != nil {
			return nil, err
		}
		env := New(NewSlurm(cfg.Remote), l, cfg, p.Executable, p.Config.PollInterval, p.Logger)
		if cfg.Notifier != nil {
			listener, err := notify.Listen(ctx, *cfg.Notifier)
			if err != nil {
				// Polling still works without callbacks.
				p.Logger.Warn("Completion notifier unavailable, relying on polling.", "error", err)
			} else {
				env.listener = listener
			}
		}
		return env, nil
	})
}

// New returns a batch environment. executable is the labgrid binary path
// as seen from the compute nodes; cfg.Binary overrides it when set.
func New(sched Scheduler, l *ledger.Ledger, cfg config.Slurm, executable string, pollInterval time.Duration, logger *slog.Logger) *Environment {
	if cfg.Binary != "" {
		executable = cfg.Binary
	}
	if cfg.MaxSubmitAttempts <= 0 {
		cfg.MaxSubmitAttempts = defaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.UnknownGrace <= 0 {
		cfg.UnknownGrace = defaultUnknownGrace
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Environment{
		sched:        sched,
		ledger:       l,
		cfg:          cfg,
		executable:   executable,
		pollInterval: pollInterval,
		logger:       logger,
		sleep:        sleepCtx,
		now:          time.Now,
		unknownSince: make(map[string]time.Time),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Environment) Kind() string { return config.EnvSlurm }

func (e *Environment) PollInterval() time.Duration { return e.pollInterval }

// Submit queues the run unless the ledger shows it is already queued.
func (e *Environment) Submit(ctx context.Context, spec model.RunSpec) (environment.Handle, error) {
	h := environment.Handle{RunID: spec.RunID, Dir: spec.Dir}
	logger := e.logger.With("run", spec.RunID)

	prev, err := e.ledger.Get(ctx, spec.RunID)
	if err != nil {
		return h, err
	}
	if prev != nil && prev.JobID != "" && !prev.Finished() {
		logger.Debug("Reusing queued job.", "job_id", prev.JobID)
		h.JobID = prev.JobID
		return h, nil
	}

	entry := ledger.Entry{RunID: spec.RunID, SubmissionID: uuid.NewString()}
	script, err := renderScript(e.cfg, e.executable, entry.SubmissionID, spec)
	if err != nil {
		return h, err
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxSubmitAttempts; attempt++ {
		entry.Attempts = attempt
		jobID, err := e.sched.Submit(ctx, script)
		if err == nil {
			entry.JobID = jobID
			entry.SchedulerState = "PENDING"
			entry.SubmittedAt = time.Now()
			if err := e.ledger.Put(ctx, entry); err != nil {
				return h, err
			}
			logger.Info("Run submitted.", "job_id", jobID, "attempt", attempt)
			h.JobID = jobID
			return h, nil
		}
		lastErr = err
		logger.Warn("Submission failed.", "attempt", attempt, "error", err)
		if attempt < e.cfg.MaxSubmitAttempts {
			if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
				return h, err
			}
		}
	}

	entry.LastError = lastErr.Error()
	if err := e.ledger.Put(ctx, entry); err != nil {
		logger.Warn("Could not record failed submission.", "error", err)
	}
	return h, fmt.Errorf("%w: %s after %d attempts: %v", ErrDispatchFailed, spec.RunID, e.cfg.MaxSubmitAttempts, lastErr)
}

// Poll reports the job's progress. A run counts as completed once its
// status summary is terminal, whether a callback or the scheduler reported
// the job finished.
func (e *Environment) Poll(ctx context.Context, h environment.Handle) (environment.Observation, error) {
	dir := rundir.New(h.Dir)

	if e.listener != nil {
		if _, ok := e.listener.Completed(h.RunID); ok {
			if st, err := dir.Status(); err == nil && st != nil && st.State.Terminal() {
				_ = e.ledger.UpdateState(ctx, h.RunID, "COMPLETED", true)
				return environment.Observation{Phase: environment.PhaseCompleted, Status: st}, nil
			}
		}
	}

	state, err := e.sched.State(ctx, h.JobID)
	if err != nil {
		return environment.Observation{}, err
	}
	if state != stateUnknown {
		e.forgetUnknown(h)
	}
	if isActive(state) {
		if err := e.ledger.UpdateState(ctx, h.RunID, state, false); err != nil {
			return environment.Observation{}, err
		}
		if isQueued(state) {
			return environment.Observation{Phase: environment.PhasePending}, nil
		}
		return environment.Observation{Phase: environment.PhaseRunning}, nil
	}

	st, err := dir.Status()
	if err != nil {
		return environment.Observation{}, err
	}
	if st != nil && st.State.Terminal() {
		if err := e.ledger.UpdateState(ctx, h.RunID, state, true); err != nil {
			return environment.Observation{}, err
		}
		return environment.Observation{Phase: environment.PhaseCompleted, Status: st}, nil
	}
	if state == stateUnknown && !e.unknownTooLong(h) {
		// Accounting may lag behind the queue; keep waiting for the status.
		return environment.Observation{Phase: environment.PhaseRunning}, nil
	}
	e.forgetUnknown(h)

	// The job ended without writing a terminal status, e.g. it was killed
	// by the scheduler.
	lost := lostStatus(h, state, st)
	if err := dir.WriteStatus(lost); err != nil {
		return environment.Observation{}, err
	}
	if err := e.ledger.UpdateState(ctx, h.RunID, state, true); err != nil {
		return environment.Observation{}, err
	}
	e.logger.Warn("Job ended without a run status.", "run", h.RunID, "job_id", h.JobID, "scheduler_state", state)
	return environment.Observation{Phase: environment.PhaseCompleted, Status: &lost}, nil
}

// unknownTooLong records when the scheduler first stopped knowing the job
// and reports whether that was longer than the grace period ago.
func (e *Environment) unknownTooLong(h environment.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	since, ok := e.unknownSince[h.RunID]
	if !ok {
		e.unknownSince[h.RunID] = now
		return false
	}
	return now.Sub(since) >= e.cfg.UnknownGrace
}

func (e *Environment) forgetUnknown(h environment.Handle) {
	e.mu.Lock()
	delete(e.unknownSince, h.RunID)
	e.mu.Unlock()
}

func lostStatus(h environment.Handle, state string, prev *model.Status) model.Status {
	st := model.Status{RunID: h.RunID, JobID: h.JobID}
	if prev != nil {
		st = *prev
		st.JobID = h.JobID
	}
	st.State = model.StateCompleted
	switch state {
	case "TIMEOUT", "DEADLINE":
		st.Outcome = model.OutcomeTimeout
	case "OUT_OF_MEMORY":
		st.Outcome = model.OutcomeOOM
	default:
		st.Outcome = model.OutcomeFailure
	}
	st.Error = "job ended in scheduler state " + state
	return st
}

func (e *Environment) Cancel(ctx context.Context, h environment.Handle) error {
	if h.JobID == "" {
		return nil
	}
	if err := e.sched.Cancel(ctx, h.JobID); err != nil {
		return err
	}
	return e.ledger.UpdateState(ctx, h.RunID, "CANCELLED", true)
}

func (e *Environment) Close() error {
	if e.listener != nil {
		e.listener.Close()
	}
	return e.ledger.Close()
}
