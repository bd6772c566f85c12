package cli

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/app"
	"github.com/vk/labgrid/internal/config"
)

func TestParse(t *testing.T) {
	cfg, exit, err := Parse([]string{"-log-level", "DEBUG", "-workers", "4", "-healthcheck-port", "8080", "exp.hcl", "build", "start"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, exit)

	want := &app.Config{
		ExperimentPath:  "exp.hcl",
		Steps:           []string{"build", "start"},
		LogFormat:       "auto",
		LogLevel:        "debug",
		HealthcheckPort: 8080,
		WorkerCount:     4,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_NoStepsMeansAll(t *testing.T) {
	cfg, _, err := Parse([]string{"exp.yaml"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Empty(t, cfg.Steps)
}

func TestParse_HelpAndUsage(t *testing.T) {
	for _, args := range [][]string{{"-h"}, {}} {
		var out bytes.Buffer
		cfg, exit, err := Parse(args, &out)
		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"-nope", "exp.hcl"}, "flag provided but not defined: -nope"},
		{"log format", []string{"-log-format", "xml", "exp.hcl"}, "invalid log-format"},
		{"log level", []string{"-log-level", "trace", "exp.hcl"}, "invalid log-level"},
		{"workers", []string{"-workers", "-1", "exp.hcl"}, "invalid workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.args, &bytes.Buffer{})
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tt.want)
		})
	}
}

func TestParseExecuteRun(t *testing.T) {
	cfg, exit, err := ParseExecuteRun([]string{
		"-notify-url", "http://head:3000", "-notify-namespace", "/runs", "-notify-insecure", "/exp/runs/a",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, "/exp/runs/a", cfg.RunDir)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, &config.Notifier{URL: "http://head:3000", Namespace: "/runs", Insecure: true}, cfg.Notifier)

	cfg, _, err = ParseExecuteRun([]string{"/exp/runs/a"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Nil(t, cfg.Notifier)

	_, _, err = ParseExecuteRun(nil, &bytes.Buffer{})
	assert.ErrorContains(t, err, "exactly one run directory")
}
