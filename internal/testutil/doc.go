// Package testutil holds shared helpers for tests: a thread-safe log buffer,
// benchmark fixtures, and a fake solver executed by re-running the test
// binary as a helper process.
package testutil
