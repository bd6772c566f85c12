// Package experiment turns a loaded configuration model into a validated,
// immutable experiment specification.
package experiment

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/grid"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/suite"
)

// Spec is a validated experiment. It is never modified after Build returns.
type Spec struct {
	Name string
	// Dir holds the run directories and step artifacts.
	Dir string
	// EvalDir holds the combined properties and the reports.
	EvalDir       string
	Repo          string
	RevisionCache string
	BenchmarksDir string
	Driver        string
	BuildCommand  []string
	Env           map[string]string

	Revisions []model.Revision
	Configs   []model.AlgorithmConfig
	Tasks     []model.Task
	Runs      []model.Run

	Limits           model.Limits
	OOMExitCodes     []int
	TimeoutExitCodes []int

	Environment  config.Environment
	Patterns     []config.Pattern
	Derived      []config.Derived
	DomainGroups map[string][]string
	Report       config.Report
	Archive      *config.Archive
}

// RunsDir is the directory holding one sub-directory per run.
func (s *Spec) RunsDir() string {
	return filepath.Join(s.Dir, "runs")
}

// Run returns the run with the given id.
func (s *Spec) Run(id string) (model.Run, bool) {
	i := slices.IndexFunc(s.Runs, func(r model.Run) bool { return r.ID == id })
	if i < 0 {
		return model.Run{}, false
	}
	return s.Runs[i], true
}

// RunSpec returns the job description of run for a build of its revision
// located at buildPath. The driver is resolved inside the build unless it
// is an absolute path.
func (s *Spec) RunSpec(run model.Run, buildPath string) model.RunSpec {
	driver := s.Driver
	if !filepath.IsAbs(driver) {
		driver = filepath.Join(buildPath, driver)
	}
	cmd := []string{driver}
	cmd = append(cmd, run.Algorithm.Config.DriverOptions...)
	cmd = append(cmd, run.Task.Files...)
	cmd = append(cmd, run.Algorithm.Config.Args...)

	return model.RunSpec{
		RunID:            run.ID,
		Algorithm:        run.AlgorithmName,
		Revision:         run.Algorithm.Revision.Name(),
		Config:           run.Algorithm.Config.Nick,
		Domain:           run.Task.Domain,
		Problem:          run.Task.Problem,
		Dir:              run.Dir,
		Command:          cmd,
		Env:              s.Env,
		Limits:           run.Limits,
		OOMExitCodes:     s.OOMExitCodes,
		TimeoutExitCodes: s.TimeoutExitCodes,
	}
}

// Builder accumulates an experiment description and validates it in Build.
type Builder struct {
	exp  config.Experiment
	base string
}

// NewBuilder starts from exp. Relative paths are resolved against baseDir.
func NewBuilder(exp config.Experiment, baseDir string) *Builder {
	return &Builder{exp: exp, base: baseDir}
}

// FromModel starts from a loaded configuration model.
func FromModel(m *config.Model) *Builder {
	var exp config.Experiment
	if m.Experiment != nil {
		exp = *m.Experiment
	}
	return NewBuilder(exp, filepath.Dir(m.Path))
}

// AddRevision appends a revision to the experiment.
func (b *Builder) AddRevision(id, nick string, buildOptions ...string) *Builder {
	b.exp.Revisions = append(slices.Clip(b.exp.Revisions), config.Revision{ID: id, Nick: nick, BuildOptions: buildOptions})
	return b
}

// AddConfig appends an algorithm configuration to the experiment.
func (b *Builder) AddConfig(nick string, args []string, driverOptions ...string) *Builder {
	b.exp.Configs = append(slices.Clip(b.exp.Configs), config.AlgorithmConfig{Nick: nick, Args: args, DriverOptions: driverOptions})
	return b
}

// Processes overrides the number of local worker processes.
func (b *Builder) Processes(n int) *Builder {
	if n > 0 {
		b.exp.Environment.Processes = n
	}
	return b
}

// Build validates the description, expands the benchmark suite and the run
// grid, and returns the resulting Spec.
func (b *Builder) Build() (*Spec, error) {
	exp := b.exp
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if exp.Name == "" {
		fail("experiment name is required")
	}
	if exp.Driver == "" {
		fail("driver is required")
	}
	if len(exp.Revisions) == 0 {
		fail("at least one revision is required")
	}
	if len(exp.Configs) == 0 {
		fail("at least one config is required")
	}
	if len(exp.Suite) == 0 {
		fail("suite is empty")
	}

	revisions := make([]model.Revision, 0, len(exp.Revisions))
	revNames := map[string]bool{}
	for _, r := range exp.Revisions {
		if r.ID == "" {
			fail("revision without id")
			continue
		}
		rev := model.NewRevision(r.ID, r.Nick, r.BuildOptions...)
		if revNames[rev.Name()] {
			fail("duplicate revision %s", rev.Name())
		}
		revNames[rev.Name()] = true
		revisions = append(revisions, rev)
	}

	configs := make([]model.AlgorithmConfig, 0, len(exp.Configs))
	nicks := map[string]bool{}
	for _, c := range exp.Configs {
		if c.Nick == "" {
			fail("config without nick")
			continue
		}
		if nicks[c.Nick] {
			fail("duplicate config nick %q", c.Nick)
		}
		nicks[c.Nick] = true
		cfg := model.NewAlgorithmConfig(c.Nick, c.Args, c.DriverOptions)
		cfg.Limits = c.Limits
		configs = append(configs, cfg)
	}

	errs = append(errs, validatePatterns(exp.Patterns)...)
	errs = append(errs, validateDerived(exp.Derived)...)
	errs = append(errs, validateEnvironment(exp.Environment)...)
	errs = append(errs, validateReport(exp.Report)...)
	if exp.Archive != nil && (exp.Archive.Endpoint == "" || exp.Archive.Bucket == "") {
		fail("archive needs an endpoint and a bucket")
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	spec := &Spec{
		Name:             exp.Name,
		Dir:              b.path(exp.Dir, filepath.Join("data", exp.Name)),
		Repo:             b.path(exp.Repo, ""),
		BenchmarksDir:    b.path(exp.BenchmarksDir, "benchmarks"),
		Driver:           exp.Driver,
		BuildCommand:     slices.Clone(exp.BuildCommand),
		Env:              exp.Env,
		Revisions:        revisions,
		Configs:          configs,
		Limits:           exp.Limits,
		OOMExitCodes:     slices.Clone(exp.OOMExitCodes),
		TimeoutExitCodes: slices.Clone(exp.TimeoutExitCodes),
		Environment:      exp.Environment,
		Patterns:         slices.Clone(exp.Patterns),
		Derived:          slices.Clone(exp.Derived),
		DomainGroups:     exp.DomainGroups,
		Report:           exp.Report,
		Archive:          exp.Archive,
	}
	spec.EvalDir = spec.Dir + "-eval"
	spec.RevisionCache = b.path(exp.RevisionCache, filepath.Join(filepath.Dir(spec.Dir), "revision-cache"))
	if spec.Environment.Kind == "" {
		spec.Environment.Kind = config.EnvLocal
	}

	expander := &suite.Expander{
		BenchmarksDir: spec.BenchmarksDir,
		Extension:     exp.ProblemExtension,
		Suites:        exp.Suites,
	}
	tasks, err := expander.Expand(exp.Suite)
	if err != nil {
		return nil, fmt.Errorf("expanding suite: %w", err)
	}
	spec.Tasks = tasks

	runs, err := grid.Expand(revisions, configs, tasks, spec.RunsDir(), exp.Limits)
	if err != nil {
		return nil, err
	}
	spec.Runs = runs
	return spec, nil
}

func (b *Builder) path(p, def string) string {
	if p == "" {
		p = def
	}
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.base, p)
}

func validatePatterns(patterns []config.Pattern) []error {
	var errs []error
	seen := map[string]bool{}
	for _, p := range patterns {
		if p.Attribute == "" {
			errs = append(errs, errors.New("pattern without attribute"))
			continue
		}
		if seen[p.Attribute] {
			errs = append(errs, fmt.Errorf("duplicate pattern for attribute %q", p.Attribute))
		}
		seen[p.Attribute] = true
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			errs = append(errs, fmt.Errorf("pattern %q: %w", p.Attribute, err))
		} else if re.NumSubexp() < 1 {
			errs = append(errs, fmt.Errorf("pattern %q: regex needs a capture group", p.Attribute))
		}
		switch p.Type {
		case "", "int", "float", "string":
		default:
			errs = append(errs, fmt.Errorf("pattern %q: unknown type %q", p.Attribute, p.Type))
		}
		switch p.File {
		case "", "run.log", "run.err":
		default:
			errs = append(errs, fmt.Errorf("pattern %q: file must be run.log or run.err", p.Attribute))
		}
	}
	return errs
}

func validateDerived(derived []config.Derived) []error {
	var errs []error
	for _, d := range derived {
		switch d.Kind {
		case config.DerivedEvaluationsPerTime:
		case config.DerivedRatio, config.DerivedDifference:
			if d.A == "" || d.B == "" {
				errs = append(errs, fmt.Errorf("derived %q: %s needs a and b", d.Name, d.Kind))
			}
		default:
			errs = append(errs, fmt.Errorf("derived %q: unknown kind %q", d.Name, d.Kind))
		}
	}
	return errs
}

func validateEnvironment(env config.Environment) []error {
	var errs []error
	switch env.Kind {
	case "", config.EnvLocal:
	case config.EnvSlurm:
		if env.Slurm == nil {
			errs = append(errs, errors.New("slurm environment without settings"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", env.Kind))
	}
	if env.Processes < 0 {
		errs = append(errs, errors.New("processes must not be negative"))
	}
	if env.PollInterval < 0 || env.PollInterval > 24*time.Hour {
		errs = append(errs, fmt.Errorf("poll interval %s out of range", env.PollInterval))
	}
	return errs
}

func validateReport(r config.Report) []error {
	var errs []error
	for _, f := range r.Formats {
		switch f {
		case "md", "html", "txt", "json":
		default:
			errs = append(errs, fmt.Errorf("unknown report format %q", f))
		}
	}
	for _, c := range r.Comparisons {
		if c.A == "" || c.B == "" {
			errs = append(errs, errors.New("comparison needs two algorithms"))
		}
	}
	for _, s := range r.Scatter {
		if s.Attribute == "" || s.X == "" || s.Y == "" {
			errs = append(errs, errors.New("scatter needs an attribute and two algorithms"))
		}
		switch s.Format {
		case "", "png", "svg", "pdf":
		default:
			errs = append(errs, fmt.Errorf("scatter %q: unknown format %q", s.Attribute, s.Format))
		}
	}
	if a := r.Aggregate; a != nil {
		for _, red := range a.Reductions {
			switch red {
			case "count", "sum", "mean", "geometric_mean", "min", "max":
			default:
				errs = append(errs, fmt.Errorf("unknown reduction %q", red))
			}
		}
	}
	return errs
}
