// Package environment defines where runs execute.
//
// An Environment accepts run specifications, reports their progress when
// polled and yields the terminal status once a run is done. Implementations
// live in sub-packages (local worker pool, batch cluster) and are selected
// once per invocation through a Registry, keyed by the experiment's
// environment kind.
package environment

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/model"
)

// Environment executes runs. Implementations must be safe for concurrent use.
type Environment interface {
	// Kind names the environment, e.g. "local" or "slurm".
	Kind() string
	// Submit hands a prepared run directory to the environment. It returns
	// once the run is queued, not when it finished.
	Submit(ctx context.Context, spec model.RunSpec) (Handle, error)
	// Poll reports the progress of a submitted run.
	Poll(ctx context.Context, h Handle) (Observation, error)
	// Cancel stops a submitted run. Cancelling a finished run is a no-op.
	Cancel(ctx context.Context, h Handle) error
	// PollInterval is how long callers should wait between polls.
	PollInterval() time.Duration
	// Close releases the environment. Runs still queued are abandoned.
	Close() error
}

// Handle identifies a submitted run.
type Handle struct {
	RunID string
	Dir   string
	// JobID is the scheduler's identifier, empty for local runs.
	JobID string
}

// Phase is the coarse progress of a submitted run.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
)

// Observation is the result of one poll. Status is set when the phase is
// completed.
type Observation struct {
	Phase  Phase
	Status *model.Status
}

// Params is everything a factory may need to construct an environment.
type Params struct {
	Config config.Environment
	// Dir is the experiment directory; environments may keep state there.
	Dir string
	// Executable is the labgrid binary used to execute runs remotely.
	Executable string
	Logger     *slog.Logger
}

// Factory constructs an environment.
type Factory func(ctx context.Context, p Params) (Environment, error)

// Registry maps environment kinds to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds the factory for kind. Registering a kind twice panics.
func (r *Registry) Register(kind string, f Factory) {
	if _, exists := r.factories[kind]; exists {
		panic(fmt.Sprintf("environment %q already registered", kind))
	}
	r.factories[kind] = f
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	return slices.Sorted(maps.Keys(r.factories))
}

// New constructs the environment selected by p.Config.Kind.
func New(ctx context.Context, r *Registry, p Params) (Environment, error) {
	f, ok := r.factories[p.Config.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q (known: %v)", p.Config.Kind, r.Kinds())
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return f(ctx, p)
}
