package app

import (
	"errors"

	"github.com/vk/labgrid/internal/config"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ExperimentPath string // .hcl, .yaml or .yml
	Steps          []string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// WorkerCount overrides the number of local worker processes when set.
	WorkerCount int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ExperimentPath == "" {
		return nil, errors.New("ExperimentPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}

// ExecuteConfig configures the execution of a single prepared run on a
// compute node.
type ExecuteConfig struct {
	RunDir   string
	Notifier *config.Notifier

	LogFormat string
	LogLevel  string
}
