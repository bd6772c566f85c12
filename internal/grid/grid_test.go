package grid

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/model"
)

func fixture() ([]model.Revision, []model.AlgorithmConfig, []model.Task) {
	revs := []model.Revision{model.NewRevision("aaa", "base"), model.NewRevision("bbb", "v1")}
	cfgs := []model.AlgorithmConfig{
		model.NewAlgorithmConfig("hm1", []string{"--search", "astar(hm(m=1))"}, nil),
		model.NewAlgorithmConfig("hm2", []string{"--search", "astar(hm(m=2))"}, nil),
	}
	var tasks []model.Task
	for i := range 3 {
		tasks = append(tasks, model.Task{Domain: "gripper", Problem: fmt.Sprintf("prob0%d.pddl", i+1)})
	}
	return revs, cfgs, tasks
}

func ids(runs []model.Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}

func TestExpand_CardinalityAndOrder(t *testing.T) {
	revs, cfgs, tasks := fixture()
	runs, err := Expand(revs, cfgs, tasks, "/exp/runs", model.Limits{WallClock: time.Minute})
	require.NoError(t, err)
	require.Len(t, runs, 12)

	assert.Equal(t, "base-hm1/gripper/prob01.pddl", runs[0].ID)
	assert.Equal(t, "base-hm1/gripper/prob03.pddl", runs[2].ID)
	assert.Equal(t, "base-hm2/gripper/prob01.pddl", runs[3].ID)
	assert.Equal(t, "v1-hm1/gripper/prob01.pddl", runs[6].ID)
	assert.Equal(t, filepath.Join("/exp/runs", "base-hm1", "gripper", "prob01.pddl"), runs[0].Dir)
	assert.Equal(t, "base-hm1", runs[0].AlgorithmName)

	seen := map[string]bool{}
	for _, r := range runs {
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestExpand_IDsIndependentOfOrder(t *testing.T) {
	revs, cfgs, tasks := fixture()
	a, err := Expand(revs, cfgs, tasks, "runs", model.Limits{})
	require.NoError(t, err)

	revs[0], revs[1] = revs[1], revs[0]
	tasks[0], tasks[2] = tasks[2], tasks[0]
	b, err := Expand(revs, cfgs, tasks, "runs", model.Limits{})
	require.NoError(t, err)

	assert.ElementsMatch(t, ids(a), ids(b))
	assert.NotEqual(t, ids(a), ids(b), "order follows the inputs")

	again, err := Expand(revs, cfgs, tasks, "runs", model.Limits{})
	require.NoError(t, err)
	assert.Equal(t, ids(b), ids(again), "expansion is deterministic")
}

func TestExpand_LimitsOverride(t *testing.T) {
	revs, cfgs, tasks := fixture()
	cfgs[1].Limits = model.Limits{Memory: 1 << 30}
	runs, err := Expand(revs[:1], cfgs, tasks[:1], "runs", model.Limits{WallClock: time.Minute, Memory: 2 << 30})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.Limits{WallClock: time.Minute, Memory: 2 << 30}, runs[0].Limits)
	assert.Equal(t, model.Limits{WallClock: time.Minute, Memory: 1 << 30}, runs[1].Limits)
}

func TestExpand_SingleUnnamedRevisionUsesConfigNick(t *testing.T) {
	_, cfgs, tasks := fixture()
	runs, err := Expand([]model.Revision{model.NewRevision("main", "")}, cfgs, tasks[:1], "runs", model.Limits{})
	require.NoError(t, err)
	assert.Equal(t, []string{"hm1/gripper/prob01.pddl", "hm2/gripper/prob01.pddl"}, ids(runs))
}

func TestExpand_RejectsDuplicates(t *testing.T) {
	revs, cfgs, tasks := fixture()

	_, err := Expand(revs, append(cfgs, cfgs[0]), tasks, "runs", model.Limits{})
	assert.ErrorContains(t, err, "duplicate algorithm base-hm1")

	_, err = Expand(revs, cfgs, append(tasks, tasks[1]), "runs", model.Limits{})
	assert.ErrorContains(t, err, "duplicate task gripper:prob02.pddl")
}

func TestRevisions_Distinct(t *testing.T) {
	revs, cfgs, tasks := fixture()
	runs, err := Expand(revs, cfgs, tasks, "runs", model.Limits{})
	require.NoError(t, err)
	assert.Equal(t, revs, Revisions(runs))
}
