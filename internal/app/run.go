package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/dag"
	"github.com/vk/levelflow/internal/executor"
	"github.com/vk/levelflow/internal/tracing"
)

// GraphFile is written into every workflow directory before it runs.
const GraphFile = "graph.dot"

// workflows returns the configured subset of workflows in declaration order.
func (a *App) workflows() ([]*config.Workflow, error) {
	if len(a.cfg.Workflows) == 0 {
		return a.model.Workflows, nil
	}
	selected := make(map[string]bool, len(a.cfg.Workflows))
	for _, name := range a.cfg.Workflows {
		if a.model.Workflow(name) == nil {
			return nil, fmt.Errorf("unknown workflow %q", name)
		}
		selected[name] = true
	}
	var out []*config.Workflow
	for _, wf := range a.model.Workflows {
		if selected[wf.Name] {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (a *App) build(ctx context.Context, wf *config.Workflow) (*dag.Graph, error) {
	graph, err := dag.Build(ctx, wf, a.registry, a.evalCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph of workflow %q: %w", wf.Name, err)
	}
	return graph, nil
}

// writeGraphFile stores the flat graph next to the workflow's node
// directories.
func writeGraphFile(graph *dag.Graph) (string, error) {
	dir := filepath.Join(graph.Workflow.BaseDir, graph.Workflow.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workflow directory: %w", err)
	}
	path := filepath.Join(dir, GraphFile)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create graph file: %w", err)
	}
	if err := graph.WriteDOT(f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write graph file: %w", err)
	}
	return path, f.Close()
}

// Run builds and executes the selected workflows one after another. The
// first failing workflow stops the run.
func (a *App) Run(ctx context.Context) error {
	runID := uuid.NewString()
	ctx, logger := ctxlog.With(ctxlog.WithLogger(ctx, a.logger), "run_id", runID)
	logger.Debug("App.Run method started.")

	if a.cfg.HealthcheckPort > 0 {
		a.startHealthcheckServer(ctx, a.cfg.HealthcheckPort)
		defer a.closeHealthcheckServer(ctx)
	}

	if a.cfg.TraceFile != "" {
		shutdown, err := tracing.Init(ServiceName, Version, a.cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("failed to initialise tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to flush traces.", "error", err)
			}
		}()
	}

	wfs, err := a.workflows()
	if err != nil {
		return err
	}
	if len(wfs) == 0 {
		logger.Warn("No workflows found, execution not required.")
		return nil
	}

	for _, wf := range wfs {
		graph, err := a.build(ctx, wf)
		if err != nil {
			return err
		}
		path, err := writeGraphFile(graph)
		if err != nil {
			return err
		}
		logger.Debug("Graph written.", "workflow", wf.Name, "path", path)

		exec := executor.New(graph, a.registry, a.converter, a.evalCtx, executor.Options{
			Workers: a.cfg.Workers,
			RunID:   runID,
			Rerun:   a.cfg.Rerun,
			Metrics: a.metrics,
		})
		logger.Info("🚀 Starting workflow", "workflow", wf.Name, "nodes", len(graph.Nodes), "workers", exec.Workers())
		if err := exec.Run(ctx); err != nil {
			return fmt.Errorf("workflow %q: %w", wf.Name, err)
		}
		logger.Info("🏁 Workflow finished", "workflow", wf.Name)
	}
	return nil
}

// Graph writes the flat graph of every selected workflow to w.
func (a *App) Graph(ctx context.Context, w io.Writer) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	wfs, err := a.workflows()
	if err != nil {
		return err
	}
	for _, wf := range wfs {
		graph, err := a.build(ctx, wf)
		if err != nil {
			return err
		}
		if err := graph.WriteDOT(w); err != nil {
			return err
		}
	}
	return nil
}

// Validate builds every selected workflow without running it and reports
// the expanded node count of each.
func (a *App) Validate(ctx context.Context, w io.Writer) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	wfs, err := a.workflows()
	if err != nil {
		return err
	}
	for _, wf := range wfs {
		graph, err := a.build(ctx, wf)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d steps, %d nodes, n_procs %d\n", wf.Name, len(wf.Steps), len(graph.Nodes), wf.NProcs)
	}
	return nil
}
