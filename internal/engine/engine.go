// Package engine runs the named steps of an experiment.
//
// The engine is stateless between invocations: every step reads what earlier
// steps left in the experiment and evaluation directories and writes its own
// artifacts next to them. Steps run strictly in the order requested; runs
// within a step do not. A step invoked again skips work whose artifacts
// already exist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/vk/labgrid/internal/archive"
	"github.com/vk/labgrid/internal/buildcache"
	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/environment"
	"github.com/vk/labgrid/internal/experiment"
	"github.com/vk/labgrid/internal/parser"
	"github.com/vk/labgrid/internal/runstore"
)

// Step names.
const (
	StepBuild   = "build"
	StepStart   = "start"
	StepParse   = "parse"
	StepFetch   = "fetch"
	StepReport  = "report"
	StepArchive = "archive"
)

const defaultSubmitLimit = 16

// Engine executes the steps of one experiment.
type Engine struct {
	spec     *experiment.Spec
	cache    *buildcache.Cache
	env      environment.Environment
	store    runstore.Store
	pipeline parser.Pipeline

	out          io.Writer
	archiveStore archive.Store
	submitLimit  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore makes the engine record run states in s, e.g. to share them
// with a status endpoint.
func WithStore(s runstore.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithOutput prints the text rendering of the report to w.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) { e.out = w }
}

// WithArchiveStore replaces the object storage client built from the
// archive configuration.
func WithArchiveStore(s archive.Store) Option {
	return func(e *Engine) { e.archiveStore = s }
}

// WithSubmitLimit bounds the number of concurrent submissions.
func WithSubmitLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.submitLimit = n
		}
	}
}

// New returns an engine for spec. env may be nil when no step executes runs.
func New(spec *experiment.Spec, cache *buildcache.Cache, env environment.Environment, opts ...Option) (*Engine, error) {
	pipeline, err := parser.Default(spec.Patterns)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		spec:        spec,
		cache:       cache,
		env:         env,
		store:       runstore.New(),
		pipeline:    pipeline,
		submitLimit: defaultSubmitLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store returns the run state store.
func (e *Engine) Store() runstore.Store {
	return e.store
}

// Steps returns the steps run when none are named.
func (e *Engine) Steps() []string {
	steps := []string{StepBuild, StepStart, StepParse, StepFetch, StepReport}
	if e.spec.Archive != nil {
		steps = append(steps, StepArchive)
	}
	return steps
}

func (e *Engine) step(name string) func(context.Context) error {
	switch name {
	case StepBuild:
		return func(ctx context.Context) error {
			_, err := e.Build(ctx)
			return err
		}
	case StepStart:
		return e.Start
	case StepParse:
		return e.Parse
	case StepFetch:
		return func(ctx context.Context) error {
			_, err := e.Fetch(ctx)
			return err
		}
	case StepReport:
		return func(ctx context.Context) error {
			_, err := e.Report(ctx)
			return err
		}
	case StepArchive:
		return e.Archive
	}
	return nil
}

// Run executes the named steps in order, or all of Steps when none are
// named. A build failure does not stop the following steps; it is returned
// together with any other failure at the end. Any other error stops the
// invocation.
func (e *Engine) Run(ctx context.Context, steps ...string) error {
	if len(steps) == 0 {
		steps = e.Steps()
	}
	for _, name := range steps {
		if e.step(name) == nil {
			known := []string{StepBuild, StepStart, StepParse, StepFetch, StepReport, StepArchive}
			return fmt.Errorf("unknown step %q (known: %s)", name, strings.Join(known, ", "))
		}
	}

	logger := ctxlog.FromContext(ctx).With("experiment", e.spec.Name)
	ctx = ctxlog.WithLogger(ctx, logger)
	var deferred []error
	for _, name := range steps {
		logger.Info("Step started.", "step", name)
		err := e.step(name)(ctx)
		var bf *BuildFailure
		switch {
		case err == nil:
			logger.Info("Step finished.", "step", name)
		case errors.As(err, &bf):
			logger.Warn("Step finished with build failures.", "step", name, "revisions", bf.Revisions)
			if !slices.ContainsFunc(deferred, func(d error) bool { return errors.As(d, new(*BuildFailure)) }) {
				deferred = append(deferred, err)
			}
		default:
			return errors.Join(append(deferred, fmt.Errorf("step %s: %w", name, err))...)
		}
	}
	return errors.Join(deferred...)
}
