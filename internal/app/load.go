package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/experiment"
	"github.com/vk/labgrid/internal/hcl"
	"github.com/vk/labgrid/internal/yamlconfig"
)

// loaderFor picks the configuration loader by file extension.
func loaderFor(path string) (config.Loader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return hcl.NewLoader(), nil
	case ".yaml", ".yml":
		return yamlconfig.NewLoader(), nil
	}
	return nil, fmt.Errorf("unsupported experiment file %s: expected .hcl, .yaml or .yml", path)
}

// LoadExperiment reads the experiment file and validates it.
func (a *App) LoadExperiment(ctx context.Context) (*experiment.Spec, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading experiment...", "path", a.config.ExperimentPath)

	loader, err := loaderFor(a.config.ExperimentPath)
	if err != nil {
		return nil, err
	}
	m, err := loader.Load(ctx, a.config.ExperimentPath)
	if err != nil {
		return nil, err
	}
	spec, err := experiment.FromModel(m).Processes(a.config.WorkerCount).Build()
	if err != nil {
		return nil, fmt.Errorf("invalid experiment %s: %w", a.config.ExperimentPath, err)
	}

	logger.Info("Experiment loaded successfully.",
		"experiment", spec.Name, "revisions", len(spec.Revisions), "configs", len(spec.Configs),
		"tasks", len(spec.Tasks), "runs", len(spec.Runs))
	return spec, nil
}
