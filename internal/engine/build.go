package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vk/labgrid/internal/buildcache"
	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/rundir"
)

// BuildsFile summarizes the last build step in the experiment directory.
const BuildsFile = "builds.json"

// BuildFailure lists the revisions that could not be built. Runs of those
// revisions end in the build_failed state; all other runs proceed.
type BuildFailure struct {
	Revisions []string
	Err       error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("build failed for %s", strings.Join(e.Revisions, ", "))
}

func (e *BuildFailure) Unwrap() error {
	return e.Err
}

type buildRecord struct {
	Revision string `json:"revision"`
	Commit   string `json:"commit,omitempty"`
	Path     string `json:"path,omitempty"`
	Cached   bool   `json:"cached"`
	Error    string `json:"error,omitempty"`
}

// Builds maps revision keys to finished builds.
type Builds map[string]buildcache.Build

// Build builds every revision of the experiment in parallel, at most once
// each, and writes builds.json. Failed revisions are reported as a
// *BuildFailure after all builds finished.
func (e *Engine) Build(ctx context.Context) (Builds, error) {
	logger := ctxlog.FromContext(ctx)
	builds := Builds{}
	records := make([]buildRecord, len(e.spec.Revisions))
	failure := &BuildFailure{}
	var mu sync.Mutex

	var g errgroup.Group
	for i, rev := range e.spec.Revisions {
		g.Go(func() error {
			b, err := e.cache.GetOrBuild(ctx, rev)
			rec := buildRecord{Revision: rev.Name(), Commit: b.Commit, Path: b.Path, Cached: b.Cached}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error("Build failed.", "revision", rev.Name(), "error", err)
				rec.Error = err.Error()
				failure.Revisions = append(failure.Revisions, rev.Name())
				failure.Err = errors.Join(failure.Err, err)
			} else {
				builds[rev.Key()] = b
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.spec.Dir, 0o755); err != nil {
		return nil, err
	}
	if err := rundir.WriteFileAtomic(filepath.Join(e.spec.Dir, BuildsFile), append(data, '\n')); err != nil {
		return nil, fmt.Errorf("writing %s: %w", BuildsFile, err)
	}
	logger.Info("Builds ready.", "built", len(builds), "failed", len(failure.Revisions))

	if len(failure.Revisions) > 0 {
		// Experiment order, not completion order.
		var ordered []string
		for _, rev := range e.spec.Revisions {
			if _, ok := builds[rev.Key()]; !ok {
				ordered = append(ordered, rev.Name())
			}
		}
		failure.Revisions = ordered
		return builds, failure
	}
	return builds, nil
}

func (b Builds) of(rev model.Revision) (buildcache.Build, bool) {
	build, ok := b[rev.Key()]
	return build, ok
}
