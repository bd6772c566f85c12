// Package suite expands benchmark selectors into tasks.
//
// A selector is either a domain name ("gripper"), which selects every problem
// of that domain, a single problem ("gripper:prob01.pddl"), or the name of a
// suite. Suites are named lists of selectors and may reference each other.
package suite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/labgrid/internal/fsutil"
	"github.com/vk/labgrid/internal/model"
)

// DefaultExtension is the problem file extension used when none is set.
const DefaultExtension = ".pddl"

// Builtin suites, available unless shadowed by a suite of the same name.
var Builtin = map[string][]string{
	"test": {"depot:p01.pddl", "gripper:prob01.pddl"},
}

// ErrUnknownDomain is returned for selectors naming a missing domain.
var ErrUnknownDomain = errors.New("unknown domain")

// Expander resolves selectors against a benchmarks directory that holds one
// sub-directory per domain.
type Expander struct {
	BenchmarksDir string
	Extension     string
	Suites        map[string][]string
}

// Expand resolves selectors into tasks, in selector order. A task selected
// more than once is kept at its first position.
func (e *Expander) Expand(selectors []string) ([]model.Task, error) {
	var (
		tasks []model.Task
		seen  = map[string]bool{}
	)
	add := func(t model.Task) {
		if !seen[t.Name()] {
			seen[t.Name()] = true
			tasks = append(tasks, t)
		}
	}
	if err := e.expand(selectors, nil, add); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (e *Expander) expand(selectors, stack []string, add func(model.Task)) error {
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if members, ok := e.suite(sel); ok {
			for _, s := range stack {
				if s == sel {
					return fmt.Errorf("suite %q includes itself", sel)
				}
			}
			if err := e.expand(members, append(stack, sel), add); err != nil {
				return err
			}
			continue
		}
		domain, problem, single := strings.Cut(sel, ":")
		if single {
			task, err := e.Task(domain, problem)
			if err != nil {
				return err
			}
			add(task)
			continue
		}
		problems, err := e.Problems(domain)
		if err != nil {
			return err
		}
		for _, p := range problems {
			task, err := e.Task(domain, p)
			if err != nil {
				return err
			}
			add(task)
		}
	}
	return nil
}

func (e *Expander) suite(name string) ([]string, bool) {
	if s, ok := e.Suites[name]; ok {
		return s, true
	}
	s, ok := Builtin[name]
	return s, ok
}

func (e *Expander) ext() string {
	if e.Extension == "" {
		return DefaultExtension
	}
	return e.Extension
}

// Problems lists the problem files of domain, sorted. Domain description
// files are not problems.
func (e *Expander) Problems(domain string) ([]string, error) {
	dir := filepath.Join(e.BenchmarksDir, domain)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	files, err := fsutil.FindFilesByExtension(dir, e.ext())
	if err != nil {
		return nil, fmt.Errorf("listing domain %s: %w", domain, err)
	}
	problems := files[:0]
	for _, f := range files {
		if !strings.Contains(filepath.Base(f), "domain") {
			problems = append(problems, f)
		}
	}
	return problems, nil
}

// Task resolves a single problem of domain, locating its domain file.
func (e *Expander) Task(domain, problem string) (model.Task, error) {
	dir := filepath.Join(e.BenchmarksDir, domain)
	problemFile := filepath.Join(dir, filepath.FromSlash(problem))
	if _, err := os.Stat(problemFile); err != nil {
		if _, derr := os.Stat(dir); derr != nil {
			return model.Task{}, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
		}
		return model.Task{}, fmt.Errorf("problem %s:%s: %w", domain, problem, err)
	}
	files := []string{problemFile}
	if df := findDomainFile(dir, problem, e.ext()); df != "" {
		files = []string{df, problemFile}
	}
	return model.Task{Domain: domain, Problem: problem, Files: files}, nil
}

// findDomainFile looks for a per-problem domain file first and falls back to
// the shared domain file of the directory.
func findDomainFile(dir, problem, ext string) string {
	base := filepath.Base(problem)
	stem := strings.TrimSuffix(base, ext)
	candidates := []string{
		"domain_" + base,
		"domain-" + base,
		stem + "-domain" + ext,
		"domain" + ext,
	}
	for _, c := range candidates {
		path := filepath.Join(dir, filepath.Dir(filepath.FromSlash(problem)), c)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}
	return ""
}
