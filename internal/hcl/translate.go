package hcl

import (
	"fmt"

	"github.com/vk/labgrid/internal/config"
)

// translateExperiment converts the HCL-specific experiment schema into the
// agnostic model.
func translateExperiment(b *experimentBlock) (*config.Experiment, error) {
	exp := &config.Experiment{
		Name:             b.Name,
		Dir:              b.Dir,
		Repo:             b.Repo,
		RevisionCache:    b.RevisionCache,
		BenchmarksDir:    b.BenchmarksDir,
		ProblemExtension: b.ProblemExtension,
		Driver:           b.Driver,
		BuildCommand:     b.BuildCommand,
		Env:              b.Env,
		Suite:            b.Suite,
		OOMExitCodes:     b.OOMExitCodes,
		TimeoutExitCodes: b.TimeoutExitCodes,
		Suites:           map[string][]string{},
		DomainGroups:     map[string][]string{},
	}

	var err error
	if exp.Limits, err = translateLimits(b.Limits); err != nil {
		return nil, fmt.Errorf("experiment limits: %w", err)
	}

	for _, r := range b.Revisions {
		exp.Revisions = append(exp.Revisions, config.Revision{ID: r.ID, Nick: r.Nick, BuildOptions: r.BuildOptions})
	}
	for _, c := range b.Configs {
		limits, err := translateLimits(c.Limits)
		if err != nil {
			return nil, fmt.Errorf("config %q limits: %w", c.Nick, err)
		}
		exp.Configs = append(exp.Configs, config.AlgorithmConfig{
			Nick:          c.Nick,
			Args:          c.Args,
			DriverOptions: c.DriverOptions,
			Limits:        limits,
		})
	}
	for _, s := range b.Suites {
		exp.Suites[s.Name] = s.Selectors
	}
	for _, g := range b.DomainGroups {
		exp.DomainGroups[g.Name] = g.Domains
	}
	for _, p := range b.Patterns {
		exp.Patterns = append(exp.Patterns, config.Pattern{
			Attribute: p.Attribute,
			Regex:     p.Regex,
			Type:      p.Type,
			File:      p.File,
			All:       p.All,
			Required:  p.Required,
		})
	}
	for _, d := range b.Derived {
		exp.Derived = append(exp.Derived, config.Derived{Name: d.Name, Kind: d.Kind, A: d.A, B: d.B})
	}

	if exp.Environment, err = translateEnvironment(b.Environment); err != nil {
		return nil, err
	}
	exp.Report = translateReport(b.Report)
	if a := b.Archive; a != nil {
		exp.Archive = &config.Archive{
			Endpoint:  a.Endpoint,
			Bucket:    a.Bucket,
			Prefix:    a.Prefix,
			AccessKey: a.AccessKey,
			SecretKey: a.SecretKey,
			Region:    a.Region,
			UseSSL:    a.UseSSL,
		}
	}
	return exp, nil
}

func translateEnvironment(b *environmentBlock) (config.Environment, error) {
	if b == nil {
		return config.Environment{Kind: config.EnvLocal}, nil
	}
	poll, err := durationValue(b.PollInterval, "poll_interval")
	if err != nil {
		return config.Environment{}, err
	}
	env := config.Environment{Kind: b.Kind, Processes: b.Processes, PollInterval: poll}
	if b.Kind != config.EnvSlurm {
		return env, nil
	}

	delay, err := durationValue(b.RetryDelay, "retry_delay")
	if err != nil {
		return config.Environment{}, err
	}
	grace, err := durationValue(b.UnknownGrace, "unknown_grace")
	if err != nil {
		return config.Environment{}, err
	}
	env.Slurm = &config.Slurm{
		Partition:         b.Partition,
		QOS:               b.QOS,
		MemoryPerCPU:      b.MemoryPerCPU,
		Email:             b.Email,
		Export:            b.Export,
		Setup:             b.Setup,
		Remote:            b.Remote,
		Binary:            b.Binary,
		MaxSubmitAttempts: b.MaxSubmitAttempts,
		RetryDelay:        delay,
		UnknownGrace:      grace,
	}
	if n := b.Notifier; n != nil {
		env.Slurm.Notifier = &config.Notifier{
			URL:       n.URL,
			Path:      n.Path,
			Namespace: n.Namespace,
			Event:     n.Event,
			Insecure:  n.Insecure,
		}
	}
	return env, nil
}

func translateReport(b *reportBlock) config.Report {
	if b == nil {
		return config.Report{}
	}
	r := config.Report{
		Attributes: b.Attributes,
		Formats:    b.Formats,
		Rename:     b.Rename,
	}
	for _, c := range b.Compare {
		r.Comparisons = append(r.Comparisons, config.Comparison{A: c.A, B: c.B, Label: c.Label})
	}
	for _, s := range b.Scatter {
		r.Scatter = append(r.Scatter, config.Scatter{
			Attribute: s.Attribute,
			X:         s.X,
			Y:         s.Y,
			LogScale:  s.LogScale,
			Format:    s.Format,
		})
	}
	if a := b.Aggregate; a != nil {
		r.Aggregate = &config.Aggregate{GroupBy: a.GroupBy, Reductions: a.Reductions, Attributes: a.Attributes}
	}
	return r
}
