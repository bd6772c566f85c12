package batch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Scheduler is a batch cluster's submission interface.
type Scheduler interface {
	// Submit queues a job script and returns the scheduler's job id.
	Submit(ctx context.Context, script []byte) (string, error)
	// State returns the scheduler's state of a job, e.g. "RUNNING" or
	// "COMPLETED", or "UNKNOWN" when the scheduler no longer knows the job.
	State(ctx context.Context, jobID string) (string, error)
	// Cancel removes a job.
	Cancel(ctx context.Context, jobID string) error
}

// CommandRunner runs a command with stdin and returns its combined output.
type CommandRunner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	return cmd.CombinedOutput()
}

// Slurm drives the Slurm command line tools, optionally on a remote login
// node through ssh.
type Slurm struct {
	// Remote is an ssh destination; empty runs the tools locally.
	Remote string
	Run    CommandRunner
}

// NewSlurm returns a Slurm scheduler executing real commands.
func NewSlurm(remote string) *Slurm {
	return &Slurm{Remote: remote, Run: runCommand}
}

func (s *Slurm) command(ctx context.Context, stdin []byte, name string, args ...string) (string, error) {
	if s.Remote != "" {
		args = append([]string{s.Remote, name}, args...)
		name = "ssh"
	}
	out, err := s.Run(ctx, stdin, name, args...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		return "", fmt.Errorf("%s: %v (output: %s)", name, err, text)
	}
	return text, nil
}

func (s *Slurm) Submit(ctx context.Context, script []byte) (string, error) {
	out, err := s.command(ctx, script, "sbatch", "--parsable")
	if err != nil {
		return "", err
	}
	return parseJobID(out)
}

// parseJobID accepts both the --parsable form "ID[;cluster]" and the human
// readable "Submitted batch job ID".
func parseJobID(out string) (string, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if f := strings.Fields(last); len(f) == 4 && strings.HasPrefix(last, "Submitted batch job") {
		return f[3], nil
	}
	id, _, _ := strings.Cut(last, ";")
	if id == "" || strings.ContainsAny(id, " \t") {
		return "", fmt.Errorf("unable to parse sbatch output: %q", out)
	}
	for _, r := range id {
		if (r < '0' || r > '9') && r != '_' {
			return "", fmt.Errorf("unable to parse sbatch output: %q", out)
		}
	}
	return id, nil
}

func (s *Slurm) State(ctx context.Context, jobID string) (string, error) {
	out, err := s.command(ctx, nil, "squeue", "-h", "-j", jobID, "-o", "%T")
	if err != nil {
		// squeue fails for ids that left the queue on some installations.
		out = ""
	}
	if state := firstField(out); state != "" {
		return state, nil
	}
	out, err = s.command(ctx, nil, "sacct", "-n", "-X", "-j", jobID, "-o", "State")
	if err != nil {
		return stateUnknown, nil
	}
	if state := firstField(out); state != "" {
		return strings.Trim(state, "+"), nil
	}
	return stateUnknown, nil
}

func firstField(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if f := strings.Fields(line); len(f) > 0 {
			return strings.ToUpper(f[0])
		}
	}
	return ""
}

func (s *Slurm) Cancel(ctx context.Context, jobID string) error {
	_, err := s.command(ctx, nil, "scancel", jobID)
	return err
}

const stateUnknown = "UNKNOWN"

// isActive reports whether the scheduler may still run the job.
func isActive(state string) bool {
	switch state {
	case "PENDING", "CONFIGURING", "RUNNING", "COMPLETING", "SUSPENDED", "REQUEUED", "RESIZING", "RESV_DEL_HOLD", "SPECIAL_EXIT":
		return true
	}
	return false
}

func isQueued(state string) bool {
	return state == "PENDING" || state == "CONFIGURING" || state == "REQUEUED"
}
