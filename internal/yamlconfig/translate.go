package yamlconfig

import (
	"fmt"

	"github.com/vk/labgrid/internal/config"
)

func (e *experiment) translate() (*config.Experiment, error) {
	exp := &config.Experiment{
		Name:             e.Name,
		Dir:              e.Dir,
		Repo:             e.Repo,
		RevisionCache:    e.RevisionCache,
		BenchmarksDir:    e.BenchmarksDir,
		ProblemExtension: e.ProblemExtension,
		Driver:           e.Driver,
		BuildCommand:     e.BuildCommand,
		Env:              e.Env,
		Suite:            e.Suite,
		Suites:           e.Suites,
		OOMExitCodes:     e.OOMExitCodes,
		TimeoutExitCodes: e.TimeoutExitCodes,
		Patterns:         e.Patterns,
		Derived:          e.Derived,
		DomainGroups:     e.DomainGroups,
		Report: config.Report{
			Attributes:  e.Report.Attributes,
			Formats:     e.Report.Formats,
			Rename:      e.Report.Rename,
			Comparisons: e.Report.Comparisons,
		},
	}

	for _, sc := range e.Report.Scatter {
		exp.Report.Scatter = append(exp.Report.Scatter, config.Scatter(sc))
	}
	if a := e.Report.Aggregate; a != nil {
		agg := config.Aggregate(*a)
		exp.Report.Aggregate = &agg
	}

	var err error
	if exp.Limits, err = e.Limits.translate(); err != nil {
		return nil, fmt.Errorf("experiment limits: %w", err)
	}
	for _, r := range e.Revisions {
		exp.Revisions = append(exp.Revisions, config.Revision(r))
	}
	for _, c := range e.Configs {
		l, err := c.Limits.translate()
		if err != nil {
			return nil, fmt.Errorf("config %q limits: %w", c.Nick, err)
		}
		exp.Configs = append(exp.Configs, config.AlgorithmConfig{
			Nick:          c.Nick,
			Args:          c.Args,
			DriverOptions: c.DriverOptions,
			Limits:        l,
		})
	}

	if exp.Environment, err = e.translateEnvironment(); err != nil {
		return nil, err
	}
	if a := e.Archive; a != nil {
		exp.Archive = &config.Archive{
			Endpoint:  a.Endpoint,
			Bucket:    a.Bucket,
			Prefix:    a.Prefix,
			AccessKey: a.AccessKey.value,
			SecretKey: a.SecretKey.value,
			Region:    a.Region,
			UseSSL:    a.UseSSL,
		}
	}
	return exp, nil
}

func (e *experiment) translateEnvironment() (config.Environment, error) {
	src := e.Environment
	if src == nil {
		return config.Environment{Kind: config.EnvLocal}, nil
	}
	poll, err := src.PollInterval.duration("poll_interval")
	if err != nil {
		return config.Environment{}, err
	}
	env := config.Environment{Kind: src.Kind, Processes: src.Processes, PollInterval: poll}
	if src.Kind != config.EnvSlurm {
		return env, nil
	}
	delay, err := src.RetryDelay.duration("retry_delay")
	if err != nil {
		return config.Environment{}, err
	}
	grace, err := src.UnknownGrace.duration("unknown_grace")
	if err != nil {
		return config.Environment{}, err
	}
	env.Slurm = &config.Slurm{
		Partition:         src.Partition,
		QOS:               src.QOS,
		MemoryPerCPU:      src.MemoryPerCPU,
		Email:             src.Email,
		Export:            src.Export,
		Setup:             src.Setup,
		Remote:            src.Remote,
		Binary:            src.Binary,
		MaxSubmitAttempts: src.MaxSubmitAttempts,
		RetryDelay:        delay,
		UnknownGrace:      grace,
		Notifier:          src.Notifier,
	}
	return env, nil
}
