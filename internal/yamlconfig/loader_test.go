package yamlconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/model"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_Experiment(t *testing.T) {
	t.Setenv("LABGRID_TEST_SECRET", "s3cr3t")
	path := writeFile(t, `
experiment:
  name: hm
  benchmarks_dir: /benchmarks
  driver: fast-downward.py
  suite: [test]
  limits:
    wall_clock: 300
    memory: 3584M
  revisions:
    - id: abc123
      nick: base
      build_options: [release]
  configs:
    - nick: hm1
      args: ["--search", "astar(hm(m=1))"]
      limits:
        wall_clock: 1m
  environment:
    kind: slurm
    partition: infai_2
    retry_delay: 1.5
    unknown_grace: 2m
    notifier:
      url: http://localhost:3000
      event: done
  patterns:
    - attribute: expansions
      regex: 'Expanded (\d+) state'
      type: int
  report:
    attributes: [coverage]
    compare:
      - {a: base-release-hm1, b: other-hm1, label: Diff}
    scatter:
      - {attribute: expansions, x: base-release-hm1, y: other-hm1, log_scale: true}
    aggregate:
      group_by: domain
      reductions: [sum, geometric_mean]
  archive:
    endpoint: localhost:9000
    bucket: exp
    secret_key: ${LABGRID_TEST_SECRET}
`)

	m, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	exp := m.Experiment

	assert.Equal(t, "hm", exp.Name)
	assert.Equal(t, model.Limits{WallClock: 5 * time.Minute, Memory: 3584 << 20}, exp.Limits)
	require.Len(t, exp.Revisions, 1)
	assert.Equal(t, config.Revision{ID: "abc123", Nick: "base", BuildOptions: []string{"release"}}, exp.Revisions[0])
	require.Len(t, exp.Configs, 1)
	assert.Equal(t, time.Minute, exp.Configs[0].Limits.WallClock)

	require.NotNil(t, exp.Environment.Slurm)
	assert.Equal(t, 1500*time.Millisecond, exp.Environment.Slurm.RetryDelay)
	assert.Equal(t, 2*time.Minute, exp.Environment.Slurm.UnknownGrace)
	assert.Equal(t, "done", exp.Environment.Slurm.Notifier.Event)

	assert.Equal(t, `Expanded (\d+) state`, exp.Patterns[0].Regex)
	assert.Equal(t, []config.Comparison{{A: "base-release-hm1", B: "other-hm1", Label: "Diff"}}, exp.Report.Comparisons)
	require.Len(t, exp.Report.Scatter, 1)
	assert.True(t, exp.Report.Scatter[0].LogScale)
	require.NotNil(t, exp.Report.Aggregate)
	assert.Equal(t, "domain", exp.Report.Aggregate.GroupBy)
	assert.Equal(t, "s3cr3t", exp.Archive.SecretKey)
}

func TestLoader_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":       "other: 1\n",
		"unknown key": "experiment:\n  name: x\n  colour: red\n",
		"bad memory":  "experiment:\n  name: x\n  limits:\n    memory: lots\n",
		"bad yaml":    "experiment: [\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader().Load(context.Background(), writeFile(t, src))
			assert.Error(t, err)
		})
	}
}
