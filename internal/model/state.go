// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the per-run lifecycle:
//
//	Pending -> (BuildFailed | Dispatched) -> Running -> Completed -> Parsed
//	Dispatched -> DispatchFailed
//
// Every run follows its own machine; there is no ordering between runs.
package model

import "time"

// State is a run's lifecycle state.
type State string

const (
	StatePending        State = "pending"
	StateBuildFailed    State = "build_failed"
	StateDispatched     State = "dispatched"
	StateDispatchFailed State = "dispatch_failed"
	StateRunning        State = "running"
	StateCompleted      State = "completed"
	StateParsed         State = "parsed"
)

// Terminal reports whether no further execution will happen for the run.
// Every terminal state is eligible for parsing.
func (s State) Terminal() bool {
	switch s {
	case StateBuildFailed, StateDispatchFailed, StateCompleted, StateParsed:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StatePending:    {StateBuildFailed, StateDispatched},
	StateDispatched: {StateRunning, StateDispatchFailed, StateCompleted},
	StateRunning:    {StateCompleted},
	StateCompleted:  {StateParsed},
	// Parsing is idempotent and may be repeated for any terminal state.
	StateBuildFailed:    {StateParsed},
	StateDispatchFailed: {StateParsed},
	StateParsed:         {StateParsed},
}

// CanTransition reports whether from -> to is a legal edge. Dispatched ->
// Completed is allowed because a remote run may finish between two polls.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome classifies how a completed run ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
	OutcomeOOM     Outcome = "oom"
)

// Status is the machine-readable summary written to status.json.
type Status struct {
	RunID      string    `json:"run_id"`
	State      State     `json:"state"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Signal     string    `json:"signal,omitempty"`
	WallClock  float64   `json:"wall_clock_time"`
	PeakMemory int64     `json:"peak_memory_kb"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Host       string    `json:"host,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Failed returns a terminal status in state s that never executed.
func Failed(runID string, s State, err error) Status {
	st := Status{RunID: runID, State: s}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// DeriveState recovers a run's state from its on-disk artifacts: the status
// summary (nil when absent) and whether a properties file exists.
func DeriveState(st *Status, parsed bool) State {
	if st == nil {
		return StatePending
	}
	if parsed && st.State.Terminal() {
		return StateParsed
	}
	if st.State == "" {
		return StatePending
	}
	return st.State
}
