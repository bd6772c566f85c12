// Package grid expands revisions, configurations and tasks into the runs of
// an experiment.
package grid

import (
	"fmt"
	"path/filepath"

	"github.com/vk/labgrid/internal/model"
)

// Expand returns the cross product of revisions, configs and tasks as runs,
// revision-major, then config, then task. Run ids depend on names only, so
// reordering the inputs never changes the id of an existing run.
//
// Each run gets limits, overridden by its config's non-zero limits, and a
// directory below runsDir named after its id.
func Expand(revisions []model.Revision, configs []model.AlgorithmConfig, tasks []model.Task, runsDir string, limits model.Limits) ([]model.Run, error) {
	if len(revisions) == 0 || len(configs) == 0 || len(tasks) == 0 {
		return nil, nil
	}

	taskNames := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if taskNames[t.Name()] {
			return nil, fmt.Errorf("duplicate task %s", t.Name())
		}
		taskNames[t.Name()] = true
	}

	single := len(revisions) == 1 && revisions[0].Nick == ""
	algoNames := make(map[string]bool, len(revisions)*len(configs))
	runs := make([]model.Run, 0, len(revisions)*len(configs)*len(tasks))

	for _, rev := range revisions {
		for _, cfg := range configs {
			algo := model.Algorithm{Revision: rev, Config: cfg}
			name := AlgorithmName(algo, single)
			if algoNames[name] {
				return nil, fmt.Errorf("duplicate algorithm %s", name)
			}
			algoNames[name] = true

			for _, task := range tasks {
				id := model.RunID(name, task)
				runs = append(runs, model.Run{
					ID:            id,
					Algorithm:     algo,
					AlgorithmName: name,
					Task:          task,
					Dir:           filepath.Join(runsDir, filepath.FromSlash(id)),
					Limits:        limits.Merge(cfg.Limits),
				})
			}
		}
	}
	return runs, nil
}

// AlgorithmName is the label of a in reports. An experiment with a single
// unnamed revision labels algorithms by config nick alone.
func AlgorithmName(a model.Algorithm, singleUnnamedRevision bool) string {
	if singleUnnamedRevision && len(a.Revision.BuildOptions) == 0 {
		return a.Config.Nick
	}
	return a.Name()
}

// Revisions returns the distinct revisions referenced by runs, in first-seen
// order.
func Revisions(runs []model.Run) []model.Revision {
	var out []model.Revision
	seen := map[string]bool{}
	for _, r := range runs {
		key := r.Algorithm.Revision.Key()
		if !seen[key] {
			seen[key] = true
			out = append(out, r.Algorithm.Revision)
		}
	}
	return out
}
