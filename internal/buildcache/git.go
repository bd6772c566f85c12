package buildcache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vk/labgrid/internal/model"
)

// BuildLog is the file inside a build directory holding the build output.
const BuildLog = "build.log"

// GitBuilder exports a revision from a git repository and runs a build
// command in the exported tree. The revision's build options are appended to
// the command, e.g. "./build.py release".
type GitBuilder struct {
	Repo    string
	Command []string
	Env     []string
}

// Resolve returns the full commit hash of id.
func (g *GitBuilder) Resolve(ctx context.Context, id string) (string, error) {
	out, err := g.git(ctx, "rev-parse", "--verify", "--quiet", id+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("unknown revision %q in %s: %w", id, g.Repo, err)
	}
	return strings.TrimSpace(out), nil
}

// Build implements Builder.
func (g *GitBuilder) Build(ctx context.Context, rev model.Revision, dir string) error {
	commit, err := g.Resolve(ctx, rev.ID)
	if err != nil {
		return err
	}
	if err := g.export(ctx, commit, dir); err != nil {
		return err
	}
	if len(g.Command) == 0 {
		return nil
	}

	logFile, err := os.Create(filepath.Join(dir, BuildLog))
	if err != nil {
		return err
	}
	defer logFile.Close()

	args := append(append([]string{}, g.Command[1:]...), rev.BuildOptions...)
	cmd := exec.CommandContext(ctx, g.Command[0], args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), g.Env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build command %q failed (see %s): %w", strings.Join(g.Command, " "), filepath.Join(dir, BuildLog), err)
	}
	return nil
}

// export writes the tree of commit into dir with "git archive | tar -x".
func (g *GitBuilder) export(ctx context.Context, commit, dir string) error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	archive := exec.CommandContext(ctx, "git", "-C", g.Repo, "archive", "--format=tar", commit)
	untar := exec.CommandContext(ctx, "tar", "-x", "-C", dir)
	var archiveErr, untarErr bytes.Buffer
	archive.Stdout, archive.Stderr = pw, &archiveErr
	untar.Stdin, untar.Stderr = pr, &untarErr

	if err := untar.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("starting tar: %w", err)
	}
	pr.Close()
	err = archive.Run()
	pw.Close()
	untarWait := untar.Wait()
	if err != nil {
		return fmt.Errorf("git archive %s: %w: %s", commit, err, strings.TrimSpace(archiveErr.String()))
	}
	if untarWait != nil {
		return fmt.Errorf("extracting %s: %w: %s", commit, untarWait, strings.TrimSpace(untarErr.String()))
	}
	return nil
}

func (g *GitBuilder) git(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.Repo}, args...)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
