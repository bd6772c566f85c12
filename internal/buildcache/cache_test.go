package buildcache

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/model"
)

type countingBuilder struct {
	calls atomic.Int32
	delay time.Duration
	fail  map[string]bool
}

func (b *countingBuilder) Build(_ context.Context, rev model.Revision, dir string) error {
	b.calls.Add(1)
	time.Sleep(b.delay)
	if b.fail[rev.ID] {
		return errors.New("compiler exploded")
	}
	return os.WriteFile(filepath.Join(dir, "driver"), []byte(rev.ID), 0o755)
}

func TestGetOrBuild_ConcurrentRequestsBuildOnce(t *testing.T) {
	builder := &countingBuilder{delay: 50 * time.Millisecond}
	cache := New(t.TempDir(), builder)
	rev := model.NewRevision("abc", "", "release")

	var wg sync.WaitGroup
	paths := make([]string, 16)
	for i := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := cache.GetOrBuild(context.Background(), rev)
			assert.NoError(t, err)
			paths[i] = b.Path
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builder.calls.Load())
	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
	assert.FileExists(t, filepath.Join(paths[0], DoneMarker))
	assert.FileExists(t, filepath.Join(paths[0], "driver"))
}

func TestGetOrBuild_BuildOptionsAreDistinctBuilds(t *testing.T) {
	builder := &countingBuilder{}
	cache := New(t.TempDir(), builder)

	release, err := cache.GetOrBuild(context.Background(), model.NewRevision("abc", "", "release"))
	require.NoError(t, err)
	debug, err := cache.GetOrBuild(context.Background(), model.NewRevision("abc", "", "debug"))
	require.NoError(t, err)

	assert.NotEqual(t, release.Path, debug.Path)
	assert.Equal(t, int32(2), builder.calls.Load())
}

// taggingBuilder resolves every tag in tags to its commit.
type taggingBuilder struct {
	countingBuilder
	tags map[string]string
}

func (b *taggingBuilder) Resolve(_ context.Context, id string) (string, error) {
	if commit, ok := b.tags[id]; ok {
		return commit, nil
	}
	return id, nil
}

func TestGetOrBuild_TagsOfOneCommitShareABuild(t *testing.T) {
	builder := &taggingBuilder{
		countingBuilder: countingBuilder{delay: 50 * time.Millisecond},
		tags:            map[string]string{"base-tag": "deadbeef", "v1-tag": "deadbeef"},
	}
	cache := New(t.TempDir(), builder)

	revs := []model.Revision{model.NewRevision("base-tag", ""), model.NewRevision("v1-tag", "")}
	builds := make([]Build, len(revs))
	var wg sync.WaitGroup
	for i, rev := range revs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := cache.GetOrBuild(context.Background(), rev)
			assert.NoError(t, err)
			builds[i] = b
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builder.calls.Load())
	assert.Equal(t, builds[0].Path, builds[1].Path)
	for i, b := range builds {
		assert.Equal(t, "deadbeef", b.Commit)
		assert.Equal(t, revs[i].ID, b.Revision.ID, "each caller gets its own revision back")
	}
	assert.FileExists(t, filepath.Join(builds[0].Path, DoneMarker))
}

func TestGetOrBuild_LateCallersReuseRememberedFailure(t *testing.T) {
	builder := &countingBuilder{delay: 20 * time.Millisecond, fail: map[string]bool{"bad": true}}
	cache := New(t.TempDir(), builder)
	rev := model.NewRevision("bad", "")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			_, err := cache.GetOrBuild(context.Background(), rev)
			assert.ErrorContains(t, err, "compiler exploded")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builder.calls.Load())
}

func TestGetOrBuild_ReusesFinishedBuildAcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	rev := model.NewRevision("abc", "")

	first := &countingBuilder{}
	_, err := New(dir, first).GetOrBuild(context.Background(), rev)
	require.NoError(t, err)

	second := &countingBuilder{}
	b, err := New(dir, second).GetOrBuild(context.Background(), rev)
	require.NoError(t, err)
	assert.True(t, b.Cached)
	assert.Zero(t, second.calls.Load())
}

func TestGetOrBuild_FailureIsRememberedAndIsolated(t *testing.T) {
	builder := &countingBuilder{fail: map[string]bool{"bad": true}}
	cache := New(t.TempDir(), builder)

	_, err := cache.GetOrBuild(context.Background(), model.NewRevision("bad", ""))
	require.ErrorContains(t, err, "compiler exploded")
	_, err = cache.GetOrBuild(context.Background(), model.NewRevision("bad", ""))
	require.Error(t, err)
	assert.Equal(t, int32(1), builder.calls.Load(), "failure is memoized")

	_, err = cache.GetOrBuild(context.Background(), model.NewRevision("good", ""))
	require.NoError(t, err)

	entries, err := os.ReadDir(cache.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed build leaves no directory behind")
}

func TestLookup(t *testing.T) {
	cache := New(t.TempDir(), &countingBuilder{})
	rev := model.NewRevision("abc", "")

	_, err := cache.Lookup(context.Background(), rev)
	assert.ErrorIs(t, err, ErrNotBuilt)

	built, err := cache.GetOrBuild(context.Background(), rev)
	require.NoError(t, err)

	found, err := cache.Lookup(context.Background(), rev)
	require.NoError(t, err)
	assert.Equal(t, built.Path, found.Path)
}

func TestLookup_IgnoresUnfinishedDirectory(t *testing.T) {
	dir := t.TempDir()
	cache := New(dir, &countingBuilder{})
	rev := model.NewRevision("abc", "")

	// Simulate a crash after the directory was published without a marker.
	require.NoError(t, os.MkdirAll(cache.path(rev, rev.ID), 0o755))
	_, err := cache.Lookup(context.Background(), rev)
	assert.ErrorIs(t, err, ErrNotBuilt)

	_, err = cache.GetOrBuild(context.Background(), rev)
	require.NoError(t, err)
	_, err = cache.Lookup(context.Background(), rev)
	assert.NoError(t, err)
}

func TestGitBuilder(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not installed")
	}

	repo := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	script := "#!/bin/sh\necho \"$@\" > built-with\n"
	require.NoError(t, os.WriteFile(filepath.Join(repo, "build.sh"), []byte(script), 0o755))
	run("add", "build.sh")
	run("commit", "-q", "-m", "init")
	run("tag", "v1")

	builder := &GitBuilder{Repo: repo, Command: []string{"./build.sh"}}
	commit, err := builder.Resolve(context.Background(), "v1")
	require.NoError(t, err)
	assert.Len(t, commit, 40)

	cache := New(t.TempDir(), builder)
	b, err := cache.GetOrBuild(context.Background(), model.NewRevision("v1", "", "release"))
	require.NoError(t, err)
	assert.Equal(t, commit, b.Commit)

	data, err := os.ReadFile(filepath.Join(b.Path, "built-with"))
	require.NoError(t, err)
	assert.Equal(t, "release\n", string(data))

	_, err = builder.Resolve(context.Background(), "no-such-branch")
	assert.Error(t, err)
}
