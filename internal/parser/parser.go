// Package parser extracts attribute records from finished run directories.
//
// A Pipeline is an ordered, immutable list of parsers. Parsing a run starts
// from an empty record that the RunInfo parser seeds from run.json, so the
// result never depends on an earlier properties.json and re-parsing yields
// byte-identical output. A failing parser is logged and skipped; the
// remaining parsers still run.
package parser

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/properties"
	"github.com/vk/labgrid/internal/rundir"
)

// ErrNotTerminal is returned for runs that may still execute.
var ErrNotTerminal = errors.New("run is not in a terminal state")

// UnexplainedErrors lists problems found while parsing a run.
const UnexplainedErrors = "unexplained_errors"

// Parser adds attributes to the record of one run.
type Parser interface {
	Name() string
	Parse(ctx context.Context, dir *rundir.RunDir, rec properties.Record) error
}

// ParseFunc is the signature of a parser function.
type ParseFunc func(ctx context.Context, dir *rundir.RunDir, rec properties.Record) error

type funcParser struct {
	name string
	fn   ParseFunc
}

func (f funcParser) Name() string { return f.name }

func (f funcParser) Parse(ctx context.Context, dir *rundir.RunDir, rec properties.Record) error {
	return f.fn(ctx, dir, rec)
}

// Func adapts a function to a Parser.
func Func(name string, fn ParseFunc) Parser {
	return funcParser{name: name, fn: fn}
}

// Pipeline is an ordered list of parsers. The zero value is an empty
// pipeline.
type Pipeline struct {
	parsers []Parser
}

// New returns a pipeline running parsers in order.
func New(parsers ...Parser) Pipeline {
	return Pipeline{parsers: slices.Clone(parsers)}
}

// With returns a new pipeline with p appended. The receiver is unchanged.
func (p Pipeline) With(parser Parser) Pipeline {
	return Pipeline{parsers: append(slices.Clip(p.parsers), parser)}
}

// Names returns the parser names in order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p.parsers))
	for i, ps := range p.parsers {
		names[i] = ps.Name()
	}
	return names
}

// Parse runs the pipeline on dir and writes properties.json. The directory
// is claimed for the duration so two passes never write the same record.
func (p Pipeline) Parse(ctx context.Context, dir *rundir.RunDir) (properties.Record, error) {
	state, err := dir.State()
	if err != nil {
		return nil, err
	}
	if !state.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotTerminal, dir.Path, state)
	}
	if err := dir.Claim(); err != nil {
		return nil, err
	}
	defer dir.Release()

	rec := p.Run(ctx, dir)
	if err := properties.Write(dir, rec); err != nil {
		return nil, fmt.Errorf("writing properties of %s: %w", dir.Path, err)
	}
	return rec, nil
}

// Run applies the parsers to a fresh record without writing it.
func (p Pipeline) Run(ctx context.Context, dir *rundir.RunDir) properties.Record {
	logger := ctxlog.FromContext(ctx)
	rec := properties.Record{}
	for _, ps := range p.parsers {
		if err := ps.Parse(ctx, dir, rec); err != nil {
			logger.Warn("Parser failed.", "parser", ps.Name(), "dir", dir.Path, "error", err)
		}
	}
	if _, ok := rec[UnexplainedErrors]; !ok {
		rec[UnexplainedErrors] = []string{}
	}
	return rec
}
