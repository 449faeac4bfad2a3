package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/levelflow/internal/executor"
	"github.com/vk/levelflow/internal/testutil"
)

const pairPipeline = `
locals {
  root  = "%TMP%"
  names = ["a", "b"]
}

workflow "wf" {
  base_dir = "${local.root}/work"
  n_procs  = 2

  step "identity" "input" {
    iterable "name" {
      values = local.names
    }
  }

  step "merge" "pair" {
    arguments {
      in1  = [step.identity.input.output.name]
      in2  = ["x"]
      axis = "hstack"
    }
  }
}

workflow "other" {
  base_dir = "${local.root}/other"

  step "identity" "only" {
    arguments {
      value = "v"
    }
  }
}
`

// setupApp writes the pipeline into a temporary directory and creates an
// App with the core modules.
func setupApp(t *testing.T, cfg Config) (*App, *testutil.SafeBuffer, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.hcl")
	src := strings.ReplaceAll(pairPipeline, testutil.TmpPlaceholder, dir)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	cfg.Paths = []string{path}
	cfg.LogLevel = "debug"
	appCfg, err := NewConfig(cfg)
	require.NoError(t, err)

	loader, err := NewLoader(appCfg)
	require.NoError(t, err)

	logs := &testutil.SafeBuffer{}
	a, err := NewApp(logs, appCfg, loader)
	require.NoError(t, err)

	t.Cleanup(func() {
		if os.Getenv("LF_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return a, logs, dir
}

func TestNewConfig(t *testing.T) {
	_, err := NewConfig(Config{})
	assert.ErrorContains(t, err, "at least one pipeline path is required")

	_, err = NewConfig(Config{Paths: []string{"x"}, Workers: -1})
	assert.ErrorContains(t, err, "workers must not be negative")

	cfg, err := NewConfig(Config{Paths: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, CommandRun, cfg.Command)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, "WARN", level.String())

	_, err = ParseLevel("verbose")
	assert.ErrorContains(t, err, `invalid log-level "verbose"`)
}

func TestApp_Run(t *testing.T) {
	// --- Arrange ---
	a, logs, dir := setupApp(t, Config{})

	// --- Act ---
	err := a.Run(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "work", "wf", GraphFile))
	assert.FileExists(t, filepath.Join(dir, "work", "wf", "_name_a", "pair", executor.ResultFile))
	assert.FileExists(t, filepath.Join(dir, "work", "wf", "_name_b", "pair", executor.ResultFile))
	assert.FileExists(t, filepath.Join(dir, "other", "other", "only", executor.ResultFile))

	out := logs.String()
	assert.Contains(t, out, "🚀 Starting workflow")
	assert.Contains(t, out, "run_id=")
	assert.Less(t, strings.Index(out, "workflow=wf"), strings.Index(out, "workflow=other"), "workflows run in declaration order")
}

func TestApp_RunSelectedWorkflow(t *testing.T) {
	a, _, dir := setupApp(t, Config{Workflows: []string{"other"}})

	require.NoError(t, a.Run(context.Background()))
	assert.NoDirExists(t, filepath.Join(dir, "work"))
	assert.DirExists(t, filepath.Join(dir, "other", "other"))
}

func TestApp_UnknownWorkflow(t *testing.T) {
	a, _, _ := setupApp(t, Config{Workflows: []string{"missing"}})

	err := a.Run(context.Background())
	assert.ErrorContains(t, err, `unknown workflow "missing"`)
}

func TestApp_Validate(t *testing.T) {
	a, _, dir := setupApp(t, Config{Command: CommandValidate})
	out := &bytes.Buffer{}

	require.NoError(t, a.Execute(context.Background(), out))
	assert.Equal(t, "wf: 2 steps, 4 nodes, n_procs 2\nother: 1 steps, 1 nodes, n_procs 0\n", out.String())
	assert.NoDirExists(t, filepath.Join(dir, "work"), "validate must not create node directories")
}

func TestApp_Graph(t *testing.T) {
	a, _, _ := setupApp(t, Config{Command: CommandGraph, Workflows: []string{"wf"}})
	out := &bytes.Buffer{}

	require.NoError(t, a.Execute(context.Background(), out))
	dot := out.String()
	assert.Contains(t, dot, `digraph "wf" {`)
	assert.Contains(t, dot, `"step.identity.input[_name_a]" -> "step.merge.pair[_name_a]";`)
	assert.NotContains(t, dot, `"step.identity.input[_name_a]" -> "step.merge.pair[_name_b]";`)
}

func TestApp_HealthMux(t *testing.T) {
	// --- Arrange ---
	a, _, _ := setupApp(t, Config{})
	require.NoError(t, a.Run(context.Background()))
	mux := a.healthMux()

	// --- Act ---
	health := httptest.NewRecorder()
	mux.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	metrics := httptest.NewRecorder()
	mux.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	// --- Assert ---
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "OK\n", health.Body.String())
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `levelflow_workflow_runs_total{status="done",workflow="wf"} 1`)
	assert.Contains(t, metrics.Body.String(), "go_goroutines")
}

func TestApp_TraceFile(t *testing.T) {
	traceFile := filepath.Join(t.TempDir(), "trace.json")
	a, _, _ := setupApp(t, Config{TraceFile: traceFile})

	require.NoError(t, a.Run(context.Background()))
	data, err := os.ReadFile(traceFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "workflow wf")
	assert.Contains(t, string(data), "node step.merge.pair[_name_a]")
}

func TestNewLoader_VarFile(t *testing.T) {
	dir := t.TempDir()
	vars := filepath.Join(dir, "vars.yaml")
	require.NoError(t, os.WriteFile(vars, []byte("names: [a, b, c]\n"), 0o644))
	a, _, _ := setupApp(t, Config{VarFile: vars, Command: CommandValidate, Workflows: []string{"wf"}})
	out := &bytes.Buffer{}

	require.NoError(t, a.Execute(context.Background(), out))
	assert.Equal(t, "wf: 2 steps, 6 nodes, n_procs 2\n", out.String())

	_, err := NewLoader(&Config{VarFile: filepath.Join(dir, "missing.yaml")})
	assert.ErrorContains(t, err, "failed to read variables file")
}
