package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/notify"
	"github.com/vk/labgrid/internal/rundir"
	"github.com/vk/labgrid/internal/runexec"
)

// jobIDEnv is set by the batch scheduler inside a job.
const jobIDEnv = "SLURM_JOB_ID"

// ExecuteRun executes the run prepared in cfg.RunDir on this host and
// announces its completion when a notifier is configured. Like every
// runtime failure, a failed, timed out or killed run is recorded in the
// status summary and is not an error here.
func ExecuteRun(ctx context.Context, outW io.Writer, cfg *ExecuteConfig) error {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx, logger = ctxlog.With(ctxlog.WithLogger(ctx, logger), "dir", cfg.RunDir)

	dir := rundir.New(cfg.RunDir)
	spec, err := dir.Spec()
	if err != nil {
		return fmt.Errorf("reading run description: %w", err)
	}

	st, err := runexec.New().Execute(ctx, spec)
	if err != nil {
		return err
	}
	if jobID := os.Getenv(jobIDEnv); jobID != "" {
		st.JobID = jobID
		if err := dir.WriteStatus(st); err != nil {
			return err
		}
	}
	logger.Info("Run finished.", "run", st.RunID, "outcome", st.Outcome, "wall_clock", st.WallClock)

	if cfg.Notifier == nil {
		return nil
	}
	ev := notify.Event{RunID: st.RunID, JobID: st.JobID, Outcome: string(st.Outcome)}
	if err := notify.Publish(ctx, *cfg.Notifier, ev); err != nil {
		// The submitting side falls back to polling the scheduler.
		logger.Warn("Could not publish run completion.", "error", err)
	}
	return nil
}
