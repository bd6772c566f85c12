// Package app contains the core application logic. It wires a loaded
// experiment to the build cache, the execution environment and the step
// engine, and owns the process-level concerns around them (logging, the
// health and status server), decoupled from any specific entrypoint like a
// CLI.
package app
