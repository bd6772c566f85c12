// Package config defines the format-agnostic model of an experiment file,
// along with the Loader interface implemented by the format-specific
// packages (internal/hcl, internal/yamlconfig).
//
// The `config.Model` is the single input of `experiment.Builder`. It is a
// plain description with no validation beyond what each format enforces
// syntactically; semantic checks happen when the experiment is built.
package config
