package runstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/model"
)

func TestTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "a", ""))

	state, err := s.State(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, state)

	require.NoError(t, s.Transition(ctx, "a", model.StateDispatched))
	require.NoError(t, s.Transition(ctx, "a", model.StateDispatched), "repeating the current state is a no-op")
	require.NoError(t, s.Transition(ctx, "a", model.StateRunning))

	err = s.Transition(ctx, "a", model.StatePending)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.StateRunning, terr.From)
	assert.Equal(t, model.StatePending, terr.To)

	require.NoError(t, s.Transition(ctx, "a", model.StateCompleted))
	require.NoError(t, s.Transition(ctx, "a", model.StateParsed))
	require.NoError(t, s.Transition(ctx, "a", model.StateParsed), "parsing may be repeated")
}

func TestBuildFailedNeverDispatches(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "a", model.StatePending))
	require.NoError(t, s.Transition(ctx, "a", model.StateBuildFailed))
	assert.Error(t, s.Transition(ctx, "a", model.StateDispatched))
}

func TestRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "a", model.StateDispatched))

	st, err := s.Status(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, s.Record(ctx, model.Status{RunID: "a", State: model.StateCompleted, Outcome: model.OutcomeOOM}))
	st, err = s.Status(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOOM, st.Outcome)

	state, _ := s.State(ctx, "a")
	assert.Equal(t, model.StateCompleted, state)

	assert.Error(t, s.Record(ctx, model.Status{RunID: "a", State: model.StateRunning}))
	assert.ErrorIs(t, s.Record(ctx, model.Status{RunID: "b"}), ErrUnknownRun)
}

func TestSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "a", model.StatePending))
	require.NoError(t, s.Add(ctx, "b", model.StateDispatched))
	require.NoError(t, s.Add(ctx, "c", model.StateDispatched))
	require.NoError(t, s.Record(ctx, model.Status{RunID: "c", State: model.StateCompleted, Outcome: model.OutcomeSuccess}))

	snap := s.Snapshot(ctx)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.Pending())
	assert.Equal(t, 1, snap.States[model.StateCompleted])
	assert.Equal(t, 1, snap.Outcomes[model.OutcomeSuccess])
	assert.Equal(t, []string{"a", "b", "c"}, s.IDs())
}

func TestConcurrentUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()
	const n = 100
	for i := range n {
		require.NoError(t, s.Add(ctx, fmt.Sprint(i), model.StatePending))
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, s.Transition(ctx, id, model.StateDispatched))
			assert.NoError(t, s.Record(ctx, model.Status{RunID: id, State: model.StateCompleted, Outcome: model.OutcomeSuccess}))
			_ = s.Snapshot(ctx)
		}(fmt.Sprint(i))
	}
	wg.Wait()

	snap := s.Snapshot(ctx)
	assert.Equal(t, n, snap.States[model.StateCompleted])
	assert.Zero(t, snap.Pending())
}
