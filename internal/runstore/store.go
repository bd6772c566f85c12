// Package runstore tracks the mutable lifecycle state of the runs handled by
// one invocation.
//
// The store keeps state separate from the immutable experiment definition:
// the engine records transitions as runs are dispatched, observed and parsed,
// and the status endpoint reads a snapshot while that happens. It is
// ephemeral; the authoritative record of a run is its directory on disk, and
// the store is seeded from it when a step starts (see model.DeriveState).
//
// Every transition is checked against model.CanTransition.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/vk/labgrid/internal/model"
)

// ErrUnknownRun is returned for run ids the store was never told about.
var ErrUnknownRun = errors.New("unknown run")

// TransitionError reports an illegal state change.
type TransitionError struct {
	RunID    string
	From, To model.State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("run %s: illegal transition %s -> %s", e.RunID, e.From, e.To)
}

// Store is the interface for run state bookkeeping. Implementations must be
// safe for concurrent use.
type Store interface {
	// Add registers a run in the given state. Adding a known run resets it.
	Add(ctx context.Context, runID string, state model.State) error

	// Transition moves a run to state to, failing with *TransitionError when
	// the edge is not legal.
	Transition(ctx context.Context, runID string, to model.State) error

	// Record stores the latest status of a run and moves it to st.State.
	Record(ctx context.Context, st model.Status) error

	// State returns the current state of a run.
	State(ctx context.Context, runID string) (model.State, error)

	// Status returns the last recorded status, if any.
	Status(ctx context.Context, runID string) (*model.Status, error)

	// Snapshot summarizes the store.
	Snapshot(ctx context.Context) Snapshot
}

// Snapshot counts runs per state and completed runs per outcome.
type Snapshot struct {
	Total    int                   `json:"total"`
	States   map[model.State]int   `json:"states"`
	Outcomes map[model.Outcome]int `json:"outcomes"`
}

// Pending returns the number of runs that may still execute.
func (s Snapshot) Pending() int {
	n := 0
	for state, c := range s.States {
		if !state.Terminal() {
			n += c
		}
	}
	return n
}

// entry is the per-run record. Each entry has its own lock so updates of
// different runs never contend.
type entry struct {
	mu     sync.Mutex
	state  model.State
	status *model.Status
}

// Memory is the in-memory Store.
type Memory struct {
	runs sync.Map // run id -> *entry
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Add(_ context.Context, runID string, state model.State) error {
	if state == "" {
		state = model.StatePending
	}
	m.runs.Store(runID, &entry{state: state})
	return nil
}

func (m *Memory) load(runID string) (*entry, error) {
	v, ok := m.runs.Load(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return v.(*entry), nil
}

func (m *Memory) Transition(_ context.Context, runID string, to model.State) error {
	e, err := m.load(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == to && to != model.StateParsed {
		return nil
	}
	if !model.CanTransition(e.state, to) {
		return &TransitionError{RunID: runID, From: e.state, To: to}
	}
	e.state = to
	return nil
}

func (m *Memory) Record(_ context.Context, st model.Status) error {
	e, err := m.load(st.RunID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st.State != "" && st.State != e.state {
		if !model.CanTransition(e.state, st.State) {
			return &TransitionError{RunID: st.RunID, From: e.state, To: st.State}
		}
		e.state = st.State
	}
	e.status = &st
	return nil
}

func (m *Memory) State(_ context.Context, runID string) (model.State, error) {
	e, err := m.load(runID)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

func (m *Memory) Status(_ context.Context, runID string) (*model.Status, error) {
	e, err := m.load(runID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == nil {
		return nil, nil
	}
	st := *e.status
	return &st, nil
}

func (m *Memory) Snapshot(_ context.Context) Snapshot {
	s := Snapshot{States: map[model.State]int{}, Outcomes: map[model.Outcome]int{}}
	m.runs.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		s.Total++
		s.States[e.state]++
		if e.status != nil && e.status.Outcome != "" {
			s.Outcomes[e.status.Outcome]++
		}
		e.mu.Unlock()
		return true
	})
	return s
}

// IDs returns the registered run ids in sorted order.
func (m *Memory) IDs() []string {
	ids := map[string]struct{}{}
	m.runs.Range(func(k, _ any) bool {
		ids[k.(string)] = struct{}{}
		return true
	})
	return slices.Sorted(maps.Keys(ids))
}
