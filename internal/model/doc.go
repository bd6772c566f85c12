// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model holds the immutable description of an experiment grid and the
// lifecycle vocabulary shared by every other package.
//
// # Core Concepts
//
//   - Revision: one identifiable version of the code under test, plus the
//     build options it must be compiled with. Two revisions with the same
//     identifier but different build options are different builds.
//
//   - AlgorithmConfig: a nickname plus the command-line arguments and driver
//     options that define one way of invoking the code under test.
//
//   - Algorithm: a (Revision, AlgorithmConfig) pair. Its name is the label
//     used in every report column.
//
//   - Task: one benchmark input instance (domain + problem).
//
//   - Run: one execution of (Algorithm, Task). Runs are identified by a
//     string derived from names only, never from list positions, so that
//     re-expanding a reordered grid yields the same identifiers.
//
//   - RunSpec and Status: what is written into a run directory before and
//     after execution. They are the contract between the engine and any
//     execution environment, local or remote.
package model
