package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/labgrid/internal/app"
	"github.com/vk/labgrid/internal/config"
)

// ExecuteRunCommand is the subcommand batch jobs invoke on compute nodes.
const ExecuteRunCommand = "execute-run"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(msg string) error {
	return &ExitError{Code: 2, Message: msg}
}

func validateLogging(format, level string) error {
	switch format {
	case "text", "json", "auto":
	default:
		return usageError("invalid log-format: must be 'text', 'json' or 'auto'")
	}
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	return nil
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("labgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
labgrid - Build, run and evaluate a grid of algorithm experiments.

Usage:
  labgrid [options] EXPERIMENT_FILE [STEP...]
  labgrid execute-run [options] RUN_DIR

Arguments:
  EXPERIMENT_FILE
    Path to an experiment file (.hcl, .yaml or .yml).
  STEP
    One of build, start, parse, fetch, report, archive. Without steps,
    all steps run in that order; archive only when configured.

Options:
`)
		flagSet.PrintDefaults()
	}

	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check and status server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "auto", "Log output format. Options: 'text', 'json' or 'auto'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 0, "Number of local worker processes. 0 keeps the experiment's setting.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError(err.Error())
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No experiment file provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	logLevel := strings.ToLower(*logLevelFlag)
	if err := validateLogging(logFormat, logLevel); err != nil {
		return nil, false, err
	}
	if *workersFlag < 0 {
		return nil, false, usageError("invalid workers: must not be negative")
	}
	slog.Debug("CLI parameter validation complete.")

	cfg, err := app.NewConfig(app.Config{
		ExperimentPath:  flagSet.Arg(0),
		Steps:           flagSet.Args()[1:],
		HealthcheckPort: *healthPortFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		WorkerCount:     *workersFlag,
	})
	if err != nil {
		return nil, false, usageError(err.Error())
	}

	slog.Debug("CLI parser finished successfully.", "config", cfg)
	return cfg, false, nil
}

// ParseExecuteRun processes the arguments following the execute-run
// subcommand.
func ParseExecuteRun(args []string, output io.Writer) (*app.ExecuteConfig, bool, error) {
	flagSet := flag.NewFlagSet("labgrid "+ExecuteRunCommand, flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Usage:
  labgrid execute-run [options] RUN_DIR

Executes the run prepared in RUN_DIR and writes its status summary there.

Options:
`)
		flagSet.PrintDefaults()
	}

	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text', 'json' or 'auto'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	notifyURL := flagSet.String("notify-url", "", "socket.io server announcing the completion. Empty disables it.")
	notifyPath := flagSet.String("notify-path", "", "socket.io path on the notify server.")
	notifyNamespace := flagSet.String("notify-namespace", "", "socket.io namespace on the notify server.")
	notifyEvent := flagSet.String("notify-event", "", "Event name of the completion.")
	notifyInsecure := flagSet.Bool("notify-insecure", false, "Skip TLS certificate verification of the notify server.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError(err.Error())
	}
	if flagSet.NArg() != 1 {
		return nil, false, usageError("execute-run needs exactly one run directory")
	}

	logFormat := strings.ToLower(*logFormatFlag)
	logLevel := strings.ToLower(*logLevelFlag)
	if err := validateLogging(logFormat, logLevel); err != nil {
		return nil, false, err
	}

	cfg := &app.ExecuteConfig{
		RunDir:    flagSet.Arg(0),
		LogFormat: logFormat,
		LogLevel:  logLevel,
	}
	if *notifyURL != "" {
		cfg.Notifier = &config.Notifier{
			URL:       *notifyURL,
			Path:      *notifyPath,
			Namespace: *notifyNamespace,
			Event:     *notifyEvent,
			Insecure:  *notifyInsecure,
		}
	}
	return cfg, false, nil
}
