package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/properties"
	"github.com/vk/labgrid/internal/rundir"
	"github.com/vk/labgrid/internal/testutil"
)

const solverLog = `Solution found.
Expanded 42 state(s).
Evaluated 84 state(s).
Search time: 0.042s
Total time: 0.142s
`

// finishedRun writes a run directory as the executor would leave it.
func finishedRun(t *testing.T, st model.Status, stdout string) *rundir.RunDir {
	t.Helper()
	dir := rundir.New(filepath.Join(t.TempDir(), "run"))
	require.NoError(t, dir.Prepare(model.RunSpec{
		RunID: "base-hm1/gripper/prob01.pddl", Algorithm: "base-hm1", Revision: "base", Config: "hm1",
		Domain: "gripper", Problem: "prob01.pddl", Dir: dir.Path,
	}))
	st.RunID = "base-hm1/gripper/prob01.pddl"
	require.NoError(t, dir.WriteStatus(st))
	require.NoError(t, os.WriteFile(dir.File(rundir.StdoutFile), []byte(stdout), 0o644))
	return dir
}

func success() model.Status {
	code := 0
	return model.Status{State: model.StateCompleted, Outcome: model.OutcomeSuccess, ExitCode: &code, WallClock: 0.25, PeakMemory: 2048}
}

func patterns() []config.Pattern {
	return []config.Pattern{
		{Attribute: "expansions", Regex: `Expanded (\d+) state`, Required: true},
		{Attribute: "search_time", Regex: `Search time: (.+)s`, Type: "float"},
		{Attribute: "times", Regex: `time: (.+)s`, Type: "float", All: true},
		{Attribute: "cost", Regex: `Plan cost: (\d+)`, Required: true},
		{Attribute: "warning", Regex: `(warning.*)`, Type: "string", File: rundir.StderrFile},
	}
}

func testContext(t *testing.T) (context.Context, *testutil.SafeBuffer) {
	logger, logs := testutil.NewLogger(t)
	return ctxlog.WithLogger(context.Background(), logger), logs
}

func TestDefaultPipeline(t *testing.T) {
	ctx, logs := testContext(t)
	p, err := Default(patterns())
	require.NoError(t, err)
	dir := finishedRun(t, success(), solverLog)

	rec, err := p.Parse(ctx, dir)
	require.NoError(t, err)

	want := properties.Record{
		"run_id":          "base-hm1/gripper/prob01.pddl",
		"algorithm":       "base-hm1",
		"revision":        "base",
		"config":          "hm1",
		"domain":          "gripper",
		"problem":         "prob01.pddl",
		"run_dir":         "runs/base-hm1/gripper/prob01.pddl",
		"outcome":         "success",
		"exit_code":       0,
		"wall_clock_time": 0.25,
		"peak_memory":     int64(2048),
		"coverage":        1,
		"expansions":      42,
		"search_time":     0.042,
		"times":           []any{0.042, 0.142},
		"cost":            nil,
		UnexplainedErrors: []string{"missing required attribute cost"},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, logs.String(), `required attribute \"cost\" not found in run.log`)

	onDisk, err := properties.Read(dir)
	require.NoError(t, err)
	assert.True(t, onDisk.Has("expansions"))
	assert.False(t, onDisk.Has("cost"))
	_, present := onDisk["cost"]
	assert.True(t, present, "missing required attributes are stored as null")
}

func TestParseIsIdempotent(t *testing.T) {
	ctx, _ := testContext(t)
	p, err := Default(patterns())
	require.NoError(t, err)
	dir := finishedRun(t, success(), solverLog)

	_, err = p.Parse(ctx, dir)
	require.NoError(t, err)
	first, err := os.ReadFile(dir.File(rundir.PropertiesFile))
	require.NoError(t, err)

	_, err = p.Parse(ctx, dir)
	require.NoError(t, err)
	second, err := os.ReadFile(dir.File(rundir.PropertiesFile))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	state, err := dir.State()
	require.NoError(t, err)
	assert.Equal(t, model.StateParsed, state)
}

func TestParseRequiresTerminalRun(t *testing.T) {
	ctx, _ := testContext(t)
	dir := finishedRun(t, model.Status{State: model.StateRunning}, "")
	_, err := New(RunInfo()).Parse(ctx, dir)
	assert.ErrorIs(t, err, ErrNotTerminal)
	assert.False(t, dir.Exists(rundir.PropertiesFile))
}

func TestParseRespectsClaim(t *testing.T) {
	ctx, _ := testContext(t)
	dir := finishedRun(t, success(), solverLog)
	require.NoError(t, dir.Claim())
	_, err := New(RunInfo()).Parse(ctx, dir)
	assert.ErrorIs(t, err, rundir.ErrClaimed)
}

func TestStatusParser(t *testing.T) {
	ctx, _ := testContext(t)
	code := 12
	cases := []struct {
		name        string
		status      model.Status
		outcome     string
		coverage    int
		unexplained []string
	}{
		{"oom", model.Status{State: model.StateCompleted, Outcome: model.OutcomeOOM, Error: "memory limit of 64M exceeded"}, "oom", 0, nil},
		{"failure", model.Status{State: model.StateCompleted, Outcome: model.OutcomeFailure, ExitCode: &code, Error: "exit code 12"}, "failure", 0, []string{"failure: exit code 12"}},
		{"build failed", model.Status{State: model.StateBuildFailed, Error: "build of abc failed"}, "build_failed", 0, []string{"build_failed: build of abc failed"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := finishedRun(t, tc.status, "")
			rec := New(StatusParser(), Coverage()).Run(ctx, dir)
			assert.Equal(t, tc.outcome, rec["outcome"])
			assert.Equal(t, tc.coverage, rec["coverage"])
			if tc.unexplained == nil {
				assert.Empty(t, rec.Strings(UnexplainedErrors))
			} else {
				assert.Equal(t, tc.unexplained, rec.Strings(UnexplainedErrors))
			}
			_, hasTime := rec["wall_clock_time"]
			assert.Equal(t, tc.status.State == model.StateCompleted, hasTime)
			assert.NotContains(t, rec, "state")
		})
	}
}

func TestFailingParserDoesNotStopPipeline(t *testing.T) {
	ctx, logs := testContext(t)
	dir := finishedRun(t, success(), solverLog)
	p := New(Func("broken", func(context.Context, *rundir.RunDir, properties.Record) error {
		return errors.New("boom")
	})).With(Func("custom", func(_ context.Context, _ *rundir.RunDir, rec properties.Record) error {
		rec["custom"] = "yes"
		return nil
	}))

	rec := p.Run(ctx, dir)
	assert.Equal(t, "yes", rec["custom"])
	assert.Contains(t, logs.String(), "parser=broken")
}

func TestWithDoesNotModifyReceiver(t *testing.T) {
	base := New(RunInfo(), StatusParser())
	a := base.With(Coverage())
	b := base.With(Func("other", nil))

	assert.Equal(t, []string{"run-info", "status"}, base.Names())
	assert.Equal(t, []string{"run-info", "status", "coverage"}, a.Names())
	assert.Equal(t, []string{"run-info", "status", "other"}, b.Names())
}

func TestNewPattern(t *testing.T) {
	p, err := NewPattern(config.Pattern{Attribute: "x", Regex: `x=(\d+)`})
	require.NoError(t, err)
	assert.Equal(t, TypeInt, p.Type)
	assert.Equal(t, rundir.StdoutFile, p.File)

	_, err = NewPattern(config.Pattern{Attribute: "x", Regex: `x=\d+`})
	assert.ErrorContains(t, err, "capture group")
	_, err = NewPattern(config.Pattern{Attribute: "x", Regex: `(x)`, Type: "bool"})
	assert.ErrorContains(t, err, `unknown type "bool"`)

	_, err = Default([]config.Pattern{{Attribute: "a", Regex: "("}, {Attribute: "b", Regex: "b"}})
	assert.ErrorContains(t, err, `pattern "a"`)
	assert.ErrorContains(t, err, `pattern "b"`)
}

func TestPatternConversionError(t *testing.T) {
	ctx, _ := testContext(t)
	dir := finishedRun(t, success(), "cost: abc\ncost: 7\n")
	p, err := NewPattern(config.Pattern{Attribute: "cost", Regex: `cost: (\w+)`})
	require.NoError(t, err)

	rec := properties.Record{}
	err = p.Parse(ctx, dir, rec)
	assert.Error(t, err)
	assert.Equal(t, 7, rec["cost"], "the first convertible match wins")
}

func TestPatternRejectsNonFiniteFloats(t *testing.T) {
	ctx, logs := testContext(t)
	dir := finishedRun(t, success(), "Expanded 3 state(s).\nSearch time: infs\nh value: nan\n")
	p, err := Default([]config.Pattern{
		{Attribute: "expansions", Regex: `Expanded (\d+) state`},
		{Attribute: "search_time", Regex: `Search time: (.+)s`, Type: "float"},
		{Attribute: "h", Regex: `h value: (.+)`, Type: "float"},
	})
	require.NoError(t, err)

	rec, err := p.Parse(ctx, dir)
	require.NoError(t, err)
	assert.NotContains(t, rec, "search_time")
	assert.NotContains(t, rec, "h")
	assert.Equal(t, 3, rec["expansions"])
	assert.Contains(t, logs.String(), "non-finite value")

	written, err := properties.Read(dir)
	require.NoError(t, err)
	assert.False(t, written.Has("search_time"))
}
