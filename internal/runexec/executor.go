// Package runexec executes a single run under resource limits.
//
// The target runs in its own process group inside the run directory with
// stdout and stderr captured to run.log and run.err. The wall-clock ceiling
// is enforced with a timer and the memory ceiling with a watchdog that
// samples the resident set size of the whole process group. Exceeding either
// sends SIGTERM to the group, followed by SIGKILL after a grace period.
//
// Failures of the target are recorded in status.json and never returned as
// errors; only failures to write the run directory are.
package runexec

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/rundir"
)

const (
	defaultKillGrace      = 5 * time.Second
	defaultSampleInterval = 100 * time.Millisecond
)

type killReason int

const (
	notKilled killReason = iota
	killedTimeout
	killedMemory
	killedCanceled
)

// Executor runs run specifications. The zero value is not usable; use New.
type Executor struct {
	killGrace      time.Duration
	sampleInterval time.Duration
	hostname       string
	now            func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithKillGrace sets the delay between SIGTERM and SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(e *Executor) { e.killGrace = d }
}

// WithSampleInterval sets how often the memory watchdog samples the group.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Executor) { e.sampleInterval = d }
}

// New returns an executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		killGrace:      defaultKillGrace,
		sampleInterval: defaultSampleInterval,
		now:            time.Now,
	}
	e.hostname, _ = os.Hostname()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs spec to completion and writes its status summary. Cancelling
// ctx terminates the target like an exceeded limit would.
func (e *Executor) Execute(ctx context.Context, spec model.RunSpec) (model.Status, error) {
	ctx, logger := ctxlog.With(ctx, "run", spec.RunID)
	dir := rundir.New(spec.Dir)
	if err := os.MkdirAll(dir.Path, 0o755); err != nil {
		return model.Status{}, fmt.Errorf("creating run dir: %w", err)
	}

	stdout, err := os.Create(dir.File(rundir.StdoutFile))
	if err != nil {
		return model.Status{}, err
	}
	defer stdout.Close()
	stderr, err := os.Create(dir.File(rundir.StderrFile))
	if err != nil {
		return model.Status{}, err
	}
	defer stderr.Close()

	st := model.Status{RunID: spec.RunID, Host: e.hostname, StartedAt: e.now().UTC()}

	if len(spec.Command) == 0 {
		return e.finish(dir, st, model.OutcomeFailure, errors.New("empty command"))
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = dir.Path
	cmd.Env = environ(spec.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	logger.Debug("Starting run.", "command", spec.Command)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(stderr, "failed to start %s: %v\n", spec.Command[0], err)
		return e.finish(dir, st, model.OutcomeFailure, fmt.Errorf("start: %w", err))
	}

	st.State = model.StateRunning
	if err := dir.WriteStatus(st); err != nil {
		logger.Warn("Could not record running state.", "error", err)
	}

	g := &group{pid: cmd.Process.Pid, grace: e.killGrace}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.supervise(ctx, spec.Limits, g, done)
	}()

	waitErr := cmd.Wait()
	close(done)
	wg.Wait()
	g.cleanup()

	st.FinishedAt = e.now().UTC()
	st.WallClock = time.Since(start).Seconds()
	st.PeakMemory = max(g.peakKiB(), maxRSSKiB(cmd.ProcessState))

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return e.finish(dir, st, model.OutcomeFailure, fmt.Errorf("wait: %w", waitErr))
	}
	if code := cmd.ProcessState.ExitCode(); code >= 0 {
		st.ExitCode = &code
	}
	st.Signal = signalName(cmd.ProcessState)

	outcome, reason := classify(spec, st, g.reason())
	logger.Debug("Run finished.", "outcome", outcome, "exit_code", cmd.ProcessState.ExitCode(), "wall_clock", st.WallClock, "peak_memory_kb", st.PeakMemory)
	return e.finish(dir, st, outcome, reason)
}

func (e *Executor) finish(dir *rundir.RunDir, st model.Status, outcome model.Outcome, reason error) (model.Status, error) {
	st.State = model.StateCompleted
	st.Outcome = outcome
	if reason != nil {
		st.Error = reason.Error()
	}
	if st.FinishedAt.IsZero() {
		st.FinishedAt = e.now().UTC()
	}
	if err := dir.WriteStatus(st); err != nil {
		return st, fmt.Errorf("writing status: %w", err)
	}
	return st, nil
}

// supervise enforces the limits until done is closed.
func (e *Executor) supervise(ctx context.Context, limits model.Limits, g *group, done <-chan struct{}) {
	var deadline <-chan time.Time
	if limits.WallClock > 0 {
		timer := time.NewTimer(limits.WallClock)
		defer timer.Stop()
		deadline = timer.C
	}

	var sample <-chan time.Time
	if limits.Memory > 0 && watchdogSupported {
		ticker := time.NewTicker(e.sampleInterval)
		defer ticker.Stop()
		sample = ticker.C
	}

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			g.kill(killedCanceled)
			ctx = context.Background()
		case <-deadline:
			g.kill(killedTimeout)
			deadline = nil
		case <-sample:
			rss, err := groupRSS(g.pid)
			if err != nil {
				continue
			}
			g.observe(rss)
			if rss > limits.Memory {
				g.kill(killedMemory)
				sample = nil
			}
		}
	}
}

// classify maps the way a run ended to an outcome. The reason is non-nil for
// every outcome but success.
func classify(spec model.RunSpec, st model.Status, killed killReason) (model.Outcome, error) {
	switch killed {
	case killedTimeout:
		return model.OutcomeTimeout, fmt.Errorf("wall-clock limit of %s exceeded", spec.Limits.WallClock)
	case killedMemory:
		return model.OutcomeOOM, fmt.Errorf("memory limit of %s exceeded", model.FormatMemory(spec.Limits.Memory))
	case killedCanceled:
		return model.OutcomeFailure, errors.New("canceled")
	}

	if st.ExitCode != nil {
		code := *st.ExitCode
		switch {
		case spec.IsTimeoutExit(code):
			return model.OutcomeTimeout, fmt.Errorf("driver reported timeout (exit code %d)", code)
		case spec.IsOOMExit(code):
			return model.OutcomeOOM, fmt.Errorf("driver reported out of memory (exit code %d)", code)
		}
	}
	// Without a watchdog the peak is only known after the fact.
	if spec.Limits.Memory > 0 && st.PeakMemory*1024 > spec.Limits.Memory {
		return model.OutcomeOOM, fmt.Errorf("memory limit of %s exceeded", model.FormatMemory(spec.Limits.Memory))
	}
	if st.Signal != "" {
		return model.OutcomeFailure, fmt.Errorf("terminated by %s", st.Signal)
	}
	if st.ExitCode != nil && *st.ExitCode != 0 {
		return model.OutcomeFailure, fmt.Errorf("exit code %d", *st.ExitCode)
	}
	return model.OutcomeSuccess, nil
}

func environ(extra map[string]string) []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// group tracks the process group of one run.
type group struct {
	pid   int
	grace time.Duration

	mu     sync.Mutex
	why    killReason
	peak   int64
	killed chan struct{}
}

func (g *group) kill(why killReason) {
	g.mu.Lock()
	if g.why != notKilled {
		g.mu.Unlock()
		return
	}
	g.why = why
	g.killed = make(chan struct{})
	killed := g.killed
	g.mu.Unlock()

	terminateGroup(g.pid)
	go func() {
		select {
		case <-time.After(g.grace):
			killGroup(g.pid)
		case <-killed:
		}
	}()
}

// cleanup kills whatever is left of a group that was asked to terminate.
func (g *group) cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.killed != nil {
		killGroup(g.pid)
		close(g.killed)
		g.killed = nil
	}
}

func (g *group) reason() killReason {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.why
}

func (g *group) observe(rss int64) {
	g.mu.Lock()
	g.peak = max(g.peak, rss)
	g.mu.Unlock()
}

func (g *group) peakKiB() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak / 1024
}
