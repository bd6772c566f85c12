package local

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/environment"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/rundir"
	"github.com/vk/labgrid/internal/runexec"
	"github.com/vk/labgrid/internal/testutil"
)

func TestHelperProcess(t *testing.T) {
	testutil.RunSolver()
}

// waitAll polls every handle until it completes.
func waitAll(t *testing.T, env environment.Environment, handles []environment.Handle) []model.Status {
	t.Helper()
	out := make([]model.Status, len(handles))
	deadline := time.Now().Add(30 * time.Second)
	for i, h := range handles {
		for {
			obs, err := env.Poll(context.Background(), h)
			require.NoError(t, err)
			if obs.Phase == environment.PhaseCompleted {
				require.NotNil(t, obs.Status)
				out[i] = *obs.Status
				break
			}
			require.True(t, time.Now().Before(deadline), "run %s did not complete", h.RunID)
			time.Sleep(env.PollInterval())
		}
	}
	return out
}

func TestConcurrencyBound(t *testing.T) {
	const workers, runs = 2, 6
	logger, _ := testutil.NewLogger(t)
	env := New(workers, runexec.New(), WithPollInterval(10*time.Millisecond), WithLogger(logger))
	defer env.Close()

	root := t.TempDir()
	records := t.TempDir()
	var handles []environment.Handle
	for i := range runs {
		spec := model.RunSpec{
			RunID:   fmt.Sprintf("a/d/p%d", i),
			Dir:     filepath.Join(root, fmt.Sprint(i)),
			Command: testutil.SolverCommand("--sleep=150ms", "--record="+records),
			Env:     testutil.SolverEnvVars(),
		}
		h, err := env.Submit(context.Background(), spec)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	for _, st := range waitAll(t, env, handles) {
		assert.Equal(t, model.OutcomeSuccess, st.Outcome, st.Error)
	}

	recs := testutil.ReadRecords(t, records)
	require.Len(t, recs, runs)
	overlap := testutil.MaxOverlap(recs)
	assert.LessOrEqual(t, overlap, workers)
	assert.Equal(t, workers, overlap, "the pool should be saturated")

	for _, h := range handles {
		assert.False(t, rundir.New(h.Dir).Exists(".claim"), "claim of %s released", h.RunID)
	}
}

// blockingRunner holds runs until released and counts executions.
type blockingRunner struct {
	mu      sync.Mutex
	started map[string]int
	release chan struct{}
}

func (b *blockingRunner) Execute(ctx context.Context, spec model.RunSpec) (model.Status, error) {
	b.mu.Lock()
	b.started[spec.RunID]++
	b.mu.Unlock()
	select {
	case <-b.release:
		return model.Status{RunID: spec.RunID, State: model.StateCompleted, Outcome: model.OutcomeSuccess}, nil
	case <-ctx.Done():
		return model.Status{RunID: spec.RunID, State: model.StateCompleted, Outcome: model.OutcomeFailure, Error: "canceled"}, nil
	}
}

func TestSubmitIsIdempotentWhileQueued(t *testing.T) {
	r := &blockingRunner{started: map[string]int{}, release: make(chan struct{})}
	env := New(1, r, WithPollInterval(5*time.Millisecond))
	defer env.Close()

	spec := model.RunSpec{RunID: "x", Dir: filepath.Join(t.TempDir(), "x")}
	h1, err := env.Submit(context.Background(), spec)
	require.NoError(t, err)
	h2, err := env.Submit(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	close(r.release)
	waitAll(t, env, []environment.Handle{h1})
	assert.Equal(t, 1, r.started["x"])
}

func TestClaimedDirectoryIsRejected(t *testing.T) {
	env := New(1, &blockingRunner{started: map[string]int{}, release: make(chan struct{})})
	defer env.Close()

	dir := filepath.Join(t.TempDir(), "x")
	require.NoError(t, rundir.New(dir).Claim())
	_, err := env.Submit(context.Background(), model.RunSpec{RunID: "x", Dir: dir})
	assert.ErrorIs(t, err, rundir.ErrClaimed)
}

func TestCancel(t *testing.T) {
	r := &blockingRunner{started: map[string]int{}, release: make(chan struct{})}
	env := New(1, r, WithPollInterval(5*time.Millisecond))
	defer env.Close()

	root := t.TempDir()
	running, err := env.Submit(context.Background(), model.RunSpec{RunID: "a", Dir: filepath.Join(root, "a")})
	require.NoError(t, err)
	queued, err := env.Submit(context.Background(), model.RunSpec{RunID: "b", Dir: filepath.Join(root, "b")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		obs, _ := env.Poll(context.Background(), running)
		return obs.Phase == environment.PhaseRunning
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, env.Cancel(context.Background(), queued))
	require.NoError(t, env.Cancel(context.Background(), running))
	sts := waitAll(t, env, []environment.Handle{running, queued})

	assert.Equal(t, "canceled", sts[0].Error)
	assert.Equal(t, "canceled before start", sts[1].Error)
	assert.Zero(t, r.started["b"])

	onDisk, err := rundir.New(queued.Dir).Status()
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailure, onDisk.Outcome)
}

func TestClose(t *testing.T) {
	env := New(1, &blockingRunner{started: map[string]int{}, release: make(chan struct{})})
	_, err := env.Submit(context.Background(), model.RunSpec{RunID: "a", Dir: filepath.Join(t.TempDir(), "a")})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		assert.NoError(t, env.Close())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	_, err = env.Submit(context.Background(), model.RunSpec{RunID: "b", Dir: t.TempDir()})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, env.Close())
}

func TestRegister(t *testing.T) {
	r := environment.NewRegistry()
	Register(r)
	env, err := environment.New(context.Background(), r, environment.Params{
		Config: config.Environment{Kind: config.EnvLocal, Processes: 1, PollInterval: time.Second},
	})
	require.NoError(t, err)
	defer env.Close()
	assert.Equal(t, config.EnvLocal, env.Kind())
	assert.Equal(t, time.Second, env.PollInterval())
}
