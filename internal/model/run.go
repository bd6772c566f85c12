// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines tasks, runs and the serialized run specification handed
// to execution environments.
package model

import (
	"path"
	"slices"
)

// Task is one benchmark input instance.
type Task struct {
	Domain  string
	Problem string
	// Files are the input files passed to the driver, in order.
	Files []string
}

// Name returns the "domain:problem" selector that identifies the task.
func (t Task) Name() string {
	return t.Domain + ":" + t.Problem
}

// Run is one execution of an algorithm on a task.
type Run struct {
	ID        string
	Algorithm Algorithm
	// AlgorithmName is the report label of Algorithm within its experiment.
	AlgorithmName string
	Task          Task
	Dir           string
	Limits        Limits
}

// RunID derives the identifier of the run of algorithm on task. It depends
// only on names.
func RunID(algorithm string, task Task) string {
	return path.Join(algorithm, task.Domain, task.Problem)
}

// Key is a short hash of the run id, safe for scheduler job names.
func (r Run) Key() string {
	return Hash(r.ID)
}

// RunSpec is the machine-readable job description written to run.json. It
// holds everything needed to execute the run without the experiment
// definition, which lets a remote node execute it from the run directory.
type RunSpec struct {
	RunID            string            `json:"run_id"`
	Algorithm        string            `json:"algorithm"`
	Revision         string            `json:"revision"`
	Config           string            `json:"config"`
	Domain           string            `json:"domain"`
	Problem          string            `json:"problem"`
	Dir              string            `json:"dir"`
	Command          []string          `json:"command"`
	Env              map[string]string `json:"env,omitempty"`
	Limits           Limits            `json:"limits"`
	OOMExitCodes     []int             `json:"oom_exit_codes,omitempty"`
	TimeoutExitCodes []int             `json:"timeout_exit_codes,omitempty"`
}

// IsOOMExit reports whether code is one of the driver's out-of-memory codes.
func (s RunSpec) IsOOMExit(code int) bool {
	return slices.Contains(s.OOMExitCodes, code)
}

// IsTimeoutExit reports whether code is one of the driver's timeout codes.
func (s RunSpec) IsTimeoutExit(code int) bool {
	return slices.Contains(s.TimeoutExitCodes, code)
}
