package batch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	stdin string
	argv  string
}

// scripted answers commands by their argv.
func scripted(outputs map[string]string, calls *[]call) CommandRunner {
	return func(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		argv := strings.Join(append([]string{name}, args...), " ")
		*calls = append(*calls, call{stdin: string(stdin), argv: argv})
		out, ok := outputs[argv]
		if !ok {
			return []byte("error: unexpected"), errors.New("exit status 1")
		}
		return []byte(out), nil
	}
}

func TestSlurmSubmit(t *testing.T) {
	var calls []call
	s := &Slurm{Run: scripted(map[string]string{"sbatch --parsable": "4242;cluster\n"}, &calls)}

	id, err := s.Submit(context.Background(), []byte("#!/bin/bash\n"))
	require.NoError(t, err)
	assert.Equal(t, "4242", id)
	require.Len(t, calls, 1)
	assert.Equal(t, "#!/bin/bash\n", calls[0].stdin)
}

func TestSlurmRemote(t *testing.T) {
	var calls []call
	s := &Slurm{Remote: "login.cluster", Run: scripted(map[string]string{
		"ssh login.cluster sbatch --parsable": "7",
		"ssh login.cluster scancel 7":         "",
	}, &calls)}

	id, err := s.Submit(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "7", id)
	require.NoError(t, s.Cancel(context.Background(), id))
}

func TestSlurmState(t *testing.T) {
	var calls []call
	s := &Slurm{Run: scripted(map[string]string{
		"squeue -h -j 1 -o %T":      "RUNNING\n",
		"squeue -h -j 2 -o %T":      "",
		"sacct -n -X -j 2 -o State": "  COMPLETED  \n",
		"squeue -h -j 3 -o %T":      "",
		"sacct -n -X -j 3 -o State": "CANCELLED+ by 1000\n",
		"squeue -h -j 4 -o %T":      "",
		"sacct -n -X -j 4 -o State": "",
	}, &calls)}

	for id, want := range map[string]string{"1": "RUNNING", "2": "COMPLETED", "3": "CANCELLED", "4": stateUnknown, "5": stateUnknown} {
		got, err := s.State(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "job %s", id)
	}
}

func TestSlurmSubmitError(t *testing.T) {
	var calls []call
	s := &Slurm{Run: scripted(nil, &calls)}
	_, err := s.Submit(context.Background(), nil)
	assert.ErrorContains(t, err, "sbatch: exit status 1 (output: error: unexpected)")
}

func TestParseJobID(t *testing.T) {
	for out, want := range map[string]string{
		"123":                         "123",
		"123;cluster":                 "123",
		"Submitted batch job 2723147": "2723147",
		"warning: x\n99":              "99",
		"123_4":                       "123_4",
	} {
		got, err := parseJobID(out)
		require.NoError(t, err, out)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "sbatch: error", "12a"} {
		_, err := parseJobID(bad)
		assert.Error(t, err, bad)
	}
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "/a/b-c_d.e", shellQuote("/a/b-c_d.e"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "'a b'", shellQuote("a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestIsActive(t *testing.T) {
	assert.True(t, isActive("PENDING"))
	assert.True(t, isActive("RUNNING"))
	assert.False(t, isActive("COMPLETED"))
	assert.False(t, isActive(stateUnknown))
	assert.True(t, isQueued("PENDING"))
	assert.False(t, isQueued("RUNNING"))
}
