package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inRepoRoot runs the test from the module root so the checked-in
// etc/ci files resolve.
func inRepoRoot(t *testing.T) {
	t.Helper()
	t.Chdir(filepath.Join("..", ".."))
}

func TestRunServoDecision(t *testing.T) {
	inRepoRoot(t)
	t.Setenv("DECISION_LOG_LEVEL", "error")

	var out bytes.Buffer
	err := run(t.Context(), &out, []string{"-config", "etc/ci/decision.yaml", "-backend", "memory", "-parallelism", "2"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "building for Linux x86_64 in dev mode + unit tests: "), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "building for Linux x86_64 in release mode: "), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "tidy: "), lines[2])
}

func TestRunDryRun(t *testing.T) {
	inRepoRoot(t)
	t.Setenv("DECISION_LOG_LEVEL", "error")

	var out bytes.Buffer
	require.NoError(t, run(t.Context(), &out, []string{"-config", "etc/ci/decision.yaml", "-dry-run"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "Servo: tidy\tbuild-x86_64-linux"), lines[2])
	assert.True(t, strings.HasSuffix(lines[2], "\t20m"), lines[2])
}

func TestRunConfigurationError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.dockerfile"), []byte("FROM ubuntu\n"), 0o644))
	tasks := filepath.Join(dir, "decision.hcl")
	require.NoError(t, os.WriteFile(tasks, []byte(`
task "tidy" {
  command              = ["./mach test-tidy"]
  dockerfile           = "build"
  max_run_time_minutes = 20
  cache                = { cargo-registry-cache = "/root/.cargo/registry" }
}
`), 0o644))
	cfgPath := filepath.Join(dir, "decision.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
project:
  name: Servo
  route_prefix: project.servo.servo
  worker_type: servo-docker-worker
dockerfiles:
  dir: `+dir+`
backend: memory
log:
  level: error
`), 0o644))

	var out bytes.Buffer
	err := run(t.Context(), &out, []string{"-config", cfgPath, tasks})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, exitErr.Message, `task "tidy"`)
	assert.Contains(t, exitErr.Message, "cargo-registry-cache")
	assert.Empty(t, out.String())
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"-frobnicate"}, "frobnicate"},
		{"bad backend", []string{"-backend", "carrier-pigeon"}, `invalid -backend "carrier-pigeon"`},
		{"negative parallelism", []string{"-parallelism", "-1"}, "-parallelism"},
		{"two task files", []string{"a.hcl", "b.hcl"}, "unexpected arguments"},
		{"task file twice", []string{"-tasks", "a.hcl", "b.hcl"}, "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(t.Context(), &out, tt.args)

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tt.want)
		})
	}
}

func TestRunHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(t.Context(), &out, []string{"-h"}))
	assert.Contains(t, out.String(), "Usage:")
	assert.Contains(t, out.String(), "-dry-run")
}
