// Package rundir owns the on-disk layout of a single run directory. Every
// step communicates with the next through these files only, which is what
// makes each step independently re-invocable.
package rundir

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vk/labgrid/internal/model"
)

// Files inside a run directory.
const (
	SpecFile       = "run.json"
	StdoutFile     = "run.log"
	StderrFile     = "run.err"
	StatusFile     = "status.json"
	PropertiesFile = "properties.json"
	claimFile      = ".claim"
)

// ErrClaimed is returned by Claim when another executor owns the directory.
var ErrClaimed = errors.New("run directory already claimed")

// RunDir is a handle on one run directory.
type RunDir struct {
	Path string
}

// New returns a handle for the directory at path. Nothing is created.
func New(path string) *RunDir {
	return &RunDir{Path: path}
}

// File returns the absolute path of name inside the run directory.
func (d *RunDir) File(name string) string {
	return filepath.Join(d.Path, name)
}

// Exists reports whether name exists inside the run directory.
func (d *RunDir) Exists(name string) bool {
	_, err := os.Stat(d.File(name))
	return err == nil
}

// ReadFile returns the contents of name. A missing file yields nil, nil.
func (d *RunDir) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(d.File(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Prepare creates the directory and writes the run specification.
func (d *RunDir) Prepare(spec model.RunSpec) error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	return d.writeJSON(SpecFile, spec)
}

// Spec reads run.json.
func (d *RunDir) Spec() (model.RunSpec, error) {
	var spec model.RunSpec
	data, err := os.ReadFile(d.File(SpecFile))
	if err != nil {
		return spec, fmt.Errorf("reading run spec: %w", err)
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("decoding %s: %w", d.File(SpecFile), err)
	}
	return spec, nil
}

// Status reads status.json. It returns nil, nil when the run has not
// produced a status yet.
func (d *RunDir) Status() (*model.Status, error) {
	data, err := d.ReadFile(StatusFile)
	if err != nil || data == nil {
		return nil, err
	}
	var st model.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", d.File(StatusFile), err)
	}
	return &st, nil
}

// WriteStatus atomically replaces status.json.
func (d *RunDir) WriteStatus(st model.Status) error {
	return d.writeJSON(StatusFile, st)
}

// State derives the lifecycle state of the run from its artifacts.
func (d *RunDir) State() (model.State, error) {
	st, err := d.Status()
	if err != nil {
		return "", err
	}
	return model.DeriveState(st, d.Exists(PropertiesFile)), nil
}

// Claim marks the directory as owned by the caller. It fails with
// ErrClaimed if another claim is already in place.
func (d *RunDir) Claim() error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(d.File(claimFile), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ErrClaimed
	}
	if err != nil {
		return err
	}
	return f.Close()
}

// Release drops a claim taken with Claim.
func (d *RunDir) Release() error {
	err := os.Remove(d.File(claimFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (d *RunDir) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(d.File(name), append(data, '\n'))
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
