// Package testutil runs small workflows end to end for tests: it writes
// pipeline files into a temporary directory, loads them with in-memory
// manifests, builds every workflow graph and executes it.
package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/dag"
	"github.com/vk/levelflow/internal/executor"
	lfhcl "github.com/vk/levelflow/internal/hcl"
	"github.com/vk/levelflow/internal/registry"
)

// TmpPlaceholder is replaced by the test's temporary directory in every
// pipeline file.
const TmpPlaceholder = "%TMP%"

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Case describes one end to end run.
type Case struct {
	// Pipeline maps relative file names to pipeline HCL.
	Pipeline map[string]string
	// Manifests maps relative file names to runner manifests.
	Manifests map[string]string
	Modules   []registry.Module
	Options   executor.Options
	// Dir reuses an existing temporary directory, e.g. for a second run.
	Dir string
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	Dir       string
	Model     *config.Model
	Graphs    map[string]*dag.Graph
}

// Run executes every workflow of the case in declaration order using a
// background context.
func Run(t *testing.T, c Case) *HarnessResult {
	t.Helper()
	return RunWithContext(context.Background(), t, c)
}

// RunWithContext is Run with a caller supplied context.
func RunWithContext(ctx context.Context, t *testing.T, c Case) *HarnessResult {
	t.Helper()

	dir := c.Dir
	if dir == "" {
		dir = t.TempDir()
	}
	pipelineDir := filepath.Join(dir, "pipeline")
	require.NoError(t, os.MkdirAll(pipelineDir, 0o755))
	for name, content := range c.Pipeline {
		path := filepath.Join(pipelineDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		content = strings.ReplaceAll(content, TmpPlaceholder, dir)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	manifests := fstest.MapFS{}
	for name, content := range c.Manifests {
		manifests[name] = &fstest.MapFile{Data: []byte(content)}
	}

	logBuffer := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx = ctxlog.WithLogger(ctx, logger)

	res := &HarnessResult{Dir: dir, Graphs: map[string]*dag.Graph{}}
	res.Err = run(ctx, c, manifests, pipelineDir, res)
	res.LogOutput = logBuffer.String()

	if os.Getenv("LF_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), res.LogOutput)
	}
	return res
}

func run(ctx context.Context, c Case, manifests fstest.MapFS, pipelineDir string, res *HarnessResult) error {
	loader := lfhcl.NewLoader(lfhcl.WithManifests(manifests))
	model, converter, err := loader.Load(ctx, pipelineDir)
	if err != nil {
		return err
	}
	res.Model = model

	r := registry.New()
	for _, m := range c.Modules {
		m.Register(r)
	}
	r.PopulateDefinitionsFromModel(model)
	if err := r.ValidateRegistry(ctx); err != nil {
		return err
	}

	evalCtx := lfhcl.NewEvalContext(model.Locals)
	for _, wf := range model.Workflows {
		graph, err := dag.Build(ctx, wf, r, evalCtx)
		if err != nil {
			return err
		}
		res.Graphs[wf.Name] = graph
		if err := executor.New(graph, r, converter, evalCtx, c.Options).Run(ctx); err != nil {
			return err
		}
	}
	return nil
}
