// Package yamlconfig provides a YAML implementation of the config.Loader
// interface. It accepts the same experiment description as the HCL loader.
package yamlconfig

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/ctxlog"
	"gopkg.in/yaml.v3"
)

// Loader is the YAML-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new YAML configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses the experiment file at path. Unknown keys are rejected.
// Values may reference the process environment as ${NAME}.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("YAML loader started.", "path", path)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var doc document
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Experiment == nil {
		return nil, fmt.Errorf("%s: missing experiment", path)
	}

	exp, err := doc.Experiment.translate()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Debug("YAML loading complete.", "experiment", exp.Name, "revisions", len(exp.Revisions), "configs", len(exp.Configs))
	return &config.Model{Path: path, Experiment: exp}, nil
}
