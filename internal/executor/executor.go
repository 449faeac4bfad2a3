// Package executor runs an expanded workflow graph with a bounded pool of
// workers. Each node gets its own working directory, an evaluation context
// holding the outputs of its dependency instances, and a result cache.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/dag"
	"github.com/vk/levelflow/internal/metrics"
	"github.com/vk/levelflow/internal/registry"
	"github.com/vk/levelflow/internal/tracing"
)

// Options tune a single run.
type Options struct {
	// Workers overrides the workflow's n_procs when positive.
	Workers int
	// RunID tags logs and spans of this run.
	RunID string
	// Rerun ignores cached results.
	Rerun   bool
	Metrics *metrics.Metrics
}

// Executor runs one workflow graph.
type Executor struct {
	Graph      *dag.Graph
	numWorkers int
	registry   *registry.Registry
	converter  config.Converter
	rootCtx    *hcl.EvalContext
	opts       Options
	wg         sync.WaitGroup
}

// New creates an executor. rootCtx supplies locals and functions to every
// node's evaluation context.
func New(graph *dag.Graph, r *registry.Registry, converter config.Converter, rootCtx *hcl.EvalContext, opts Options) *Executor {
	workers := opts.Workers
	if workers <= 0 && graph.Workflow != nil {
		workers = graph.Workflow.NProcs
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if rootCtx == nil {
		rootCtx = &hcl.EvalContext{}
	}
	return &Executor{
		Graph:      graph,
		numWorkers: workers,
		registry:   r,
		converter:  converter,
		rootCtx:    rootCtx,
		opts:       opts,
	}
}

// Workers returns the size of the worker pool.
func (e *Executor) Workers() int {
	return e.numWorkers
}

// workflowDir is the directory holding every node directory of the run.
func (e *Executor) workflowDir() string {
	return filepath.Join(e.Graph.Workflow.BaseDir, e.Graph.Workflow.Name)
}

// Run executes the entire graph concurrently and returns an error if any node fails.
// It respects the cancellation signal from the provided context.
func (e *Executor) Run(ctx context.Context) (err error) {
	wfName := e.Graph.Workflow.Name
	ctx, logger := ctxlog.With(ctx, "workflow", wfName, "run_id", e.opts.RunID)

	ctx, span := tracing.StartSpan(ctx, "workflow "+wfName, map[string]string{
		"workflow": wfName,
		"run_id":   e.opts.RunID,
	})
	defer func() {
		tracing.EndSpan(span, err)
		e.opts.Metrics.ObserveRun(wfName, err)
	}()

	if err := os.MkdirAll(e.workflowDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create workflow directory: %w", err)
	}

	nodes := e.Graph.Ordered()
	if len(nodes) == 0 {
		logger.Warn("Workflow has no nodes.")
		return nil
	}

	readyChan := make(chan *dag.Node, len(nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Debug("Initializing executor, finding root nodes...")
	rootNodeCount := 0
	for _, node := range nodes {
		if node.PendingDeps() == 0 {
			logger.Debug("Found root node.", "node_id", node.ID)
			readyChan <- node
			rootNodeCount++
		}
	}
	logger.Debug("Found all root nodes.", "count", rootNodeCount)

	e.wg.Add(len(nodes))

	logger.Debug("Starting worker pool.", "workers", e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		go e.worker(runCtx, readyChan, cancel, i)
	}

	logger.Debug("Waiting for all nodes to complete...")
	e.wg.Wait()
	close(readyChan)

	var failedNodes []string
	var rootCauseError error
	for _, node := range nodes {
		if node.State() != dag.Failed {
			continue
		}
		logger.Debug("Node did not complete.", "node_id", node.ID, "error", node.Error)
		// A "skipped" error is a symptom, not a cause.
		if node.Error != nil && !errors.Is(node.Error, errSkipped) && !errors.Is(node.Error, context.Canceled) {
			failedNodes = append(failedNodes, node.ID)
			if rootCauseError == nil {
				rootCauseError = node.Error
			}
		}
	}

	if rootCauseError != nil {
		return fmt.Errorf("execution failed for %s: %w", strings.Join(failedNodes, ", "), rootCauseError)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Results returns the outputs of every completed node keyed by node ID.
func (e *Executor) Results() map[string]*dag.Node {
	out := make(map[string]*dag.Node)
	for id, node := range e.Graph.Nodes {
		if node.State() == dag.Done {
			out[id] = node
		}
	}
	return out
}
