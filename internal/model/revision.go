// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the code-under-test side of the grid: revisions, algorithm
// configurations and the algorithms formed by pairing them.
package model

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Revision is a specific version of the code under test together with the
// options it is built with.
type Revision struct {
	ID           string
	Nick         string
	BuildOptions []string
}

// NewRevision returns a revision that owns a private copy of opts.
func NewRevision(id, nick string, opts ...string) Revision {
	return Revision{ID: id, Nick: nick, BuildOptions: slices.Clone(opts)}
}

// Key is the content address of the revision's build: a short hash of its
// identifier and build options.
func (r Revision) Key() string {
	opts := r.BuildOptions
	if len(opts) == 0 {
		opts = nil
	}
	return Hash(r.ID, opts)
}

// Name is the human-readable label of the revision. Build options are part
// of the name so that two builds of one commit never share a label.
func (r Revision) Name() string {
	name := r.Nick
	if name == "" {
		name = r.ID
	}
	if len(r.BuildOptions) > 0 {
		name += "-" + strings.Join(r.BuildOptions, "-")
	}
	return name
}

// SameIdentity reports whether r and o denote the same build.
func (r Revision) SameIdentity(o Revision) bool {
	return r.ID == o.ID && slices.Equal(r.BuildOptions, o.BuildOptions)
}

func (r Revision) String() string {
	return r.Name()
}

// AlgorithmConfig is a named way of invoking the code under test.
type AlgorithmConfig struct {
	Nick          string
	Args          []string
	DriverOptions []string
	// Limits overrides the experiment-wide limits where non-zero.
	Limits Limits
}

// NewAlgorithmConfig returns a config that owns private copies of its slices.
func NewAlgorithmConfig(nick string, args, driverOptions []string) AlgorithmConfig {
	return AlgorithmConfig{
		Nick:          nick,
		Args:          slices.Clone(args),
		DriverOptions: slices.Clone(driverOptions),
	}
}

// Algorithm pairs a revision with a configuration.
type Algorithm struct {
	Revision Revision
	Config   AlgorithmConfig
}

// Name is the report label of the algorithm, "<revision>-<config>".
func (a Algorithm) Name() string {
	return a.Revision.Name() + "-" + a.Config.Nick
}

// Hash returns a short hash of the JSON encoding of its inputs, so that
// distinct argument lists never share an encoding.
func Hash(args ...any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = fmt.Appendf(nil, "%#v", args)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:6])
}
