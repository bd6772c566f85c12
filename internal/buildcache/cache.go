// Package buildcache builds every revision of the code under test at most
// once and shares the resulting artifact directory between all runs that
// reference it.
//
// Builds are content-addressed by the revision identity. A build happens in a
// temporary sibling directory that is renamed into place only after the done
// marker has been written, so an interrupted build never looks finished.
package buildcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/model"
	"golang.org/x/sync/singleflight"
)

// DoneMarker is the file that marks a completed build directory.
const DoneMarker = ".labgrid-built"

// ErrNotBuilt is returned by Lookup for revisions without a finished build.
var ErrNotBuilt = errors.New("revision not built")

// Builder produces the artifacts of a revision inside dir. dir exists and is
// empty when Build is called.
type Builder interface {
	Build(ctx context.Context, rev model.Revision, dir string) error
}

// Resolver is implemented by builders that can pin a symbolic revision
// (a branch or tag) to an immutable identifier.
type Resolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// Build is a finished build of a revision.
type Build struct {
	Revision model.Revision
	// Commit is the resolved identifier the artifacts were built from.
	Commit string
	Path   string
	// Cached is true when no build was necessary.
	Cached bool
}

type result struct {
	build Build
	err   error
}

// Cache stores builds below a single directory.
type Cache struct {
	dir     string
	builder Builder

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]result
}

// New returns a cache rooted at dir.
func New(dir string, builder Builder) *Cache {
	return &Cache{dir: dir, builder: builder, memo: make(map[string]result)}
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// GetOrBuild returns the build of rev, building it first if needed.
// Concurrent calls for the same revision share a single build, and the
// outcome, failures included, is remembered for the lifetime of the cache.
// Revisions that resolve to the same commit and build options share one
// cache entry and one build.
func (c *Cache) GetOrBuild(ctx context.Context, rev model.Revision) (Build, error) {
	r := c.once(ctx, "rev:"+rev.Key(), func() result {
		commit, err := c.resolve(ctx, rev)
		if err != nil {
			return result{err: err}
		}
		path := c.path(rev, commit)
		return c.once(ctx, "path:"+path, func() result {
			b, err := c.build(ctx, rev, commit, path)
			return result{build: b, err: err}
		})
	})
	if r.err != nil {
		return Build{}, r.err
	}
	b := r.build
	b.Revision = rev
	return b, nil
}

// once runs fn at most once per key. The memo is consulted inside the
// flight so that a caller arriving after a finished flight never repeats it.
func (c *Cache) once(ctx context.Context, key string, fn func() result) result {
	v, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		r, ok := c.memo[key]
		c.mu.Unlock()
		if ok {
			return r, nil
		}
		r = fn()
		// Cancellation is not a property of the revision.
		if ctx.Err() == nil {
			c.mu.Lock()
			c.memo[key] = r
			c.mu.Unlock()
		}
		return r, nil
	})
	return v.(result)
}

// Lookup returns the existing build of rev without building. It returns
// ErrNotBuilt when the revision has no finished build.
func (c *Cache) Lookup(ctx context.Context, rev model.Revision) (Build, error) {
	commit, err := c.resolve(ctx, rev)
	if err != nil {
		return Build{}, err
	}
	path := c.path(rev, commit)
	if _, err := os.Stat(filepath.Join(path, DoneMarker)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Build{}, fmt.Errorf("%s: %w", rev.Name(), ErrNotBuilt)
		}
		return Build{}, err
	}
	return Build{Revision: rev, Commit: commit, Path: path, Cached: true}, nil
}

func (c *Cache) build(ctx context.Context, rev model.Revision, commit, path string) (Build, error) {
	ctx, logger := ctxlog.With(ctx, "revision", rev.Name())

	b := Build{Revision: rev, Commit: commit, Path: path}

	if _, err := os.Stat(filepath.Join(b.Path, DoneMarker)); err == nil {
		logger.Debug("Build found in cache.", "path", b.Path)
		b.Cached = true
		return b, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return Build{}, fmt.Errorf("creating build cache: %w", err)
	}
	tmp, err := os.MkdirTemp(c.dir, ".tmp-"+filepath.Base(b.Path)+"-")
	if err != nil {
		return Build{}, fmt.Errorf("creating build dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	logger.Info("Building revision.", "commit", commit)
	if err := c.builder.Build(ctx, rev, tmp); err != nil {
		return Build{}, fmt.Errorf("building %s: %w", rev.Name(), err)
	}
	if err := os.WriteFile(filepath.Join(tmp, DoneMarker), []byte(commit+"\n"), 0o644); err != nil {
		return Build{}, err
	}

	// A directory without marker is the leftover of an older, broken cache.
	if err := os.RemoveAll(b.Path); err != nil {
		return Build{}, err
	}
	if err := os.Rename(tmp, b.Path); err != nil {
		return Build{}, fmt.Errorf("publishing build: %w", err)
	}
	logger.Info("Revision built.", "path", b.Path)
	return b, nil
}

func (c *Cache) resolve(ctx context.Context, rev model.Revision) (string, error) {
	r, ok := c.builder.(Resolver)
	if !ok {
		return rev.ID, nil
	}
	commit, err := r.Resolve(ctx, rev.ID)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rev.ID, err)
	}
	return commit, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (c *Cache) path(rev model.Revision, commit string) string {
	resolved := model.NewRevision(commit, "", rev.BuildOptions...)
	return filepath.Join(c.dir, unsafeChars.ReplaceAllString(commit, "_")+"-"+resolved.Key())
}
