package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/dag"
	"github.com/vk/levelflow/internal/metrics"
)

var errSkipped = errors.New("skipped")

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *dag.Node, cancel context.CancelFunc, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "worker_id", workerID)

	for node := range readyChan {
		workerLogger := logger.With("worker_id", workerID, "node_id", node.ID)

		if ctx.Err() != nil {
			node.Skip(func() {
				workerLogger.Warn("Context canceled, skipping node execution.")
				node.SetState(dag.Failed)
				node.Error = ctx.Err()
				e.observe(node, metrics.StatusSkipped, 0)
				e.wg.Done()
			})
			e.skipDependents(ctx, node)
			continue
		}

		workerLogger.Debug("Worker picked up node for execution.")
		node.SetState(dag.Running)
		e.opts.Metrics.WorkerBusy(1)
		start := time.Now()
		err := e.runStepNode(ctx, node)
		e.opts.Metrics.WorkerBusy(-1)

		if err != nil {
			workerLogger.Error("Node execution failed.", "error", err)
			node.SetState(dag.Failed)
			node.Error = err
			e.observe(node, metrics.StatusFailed, time.Since(start))
			cancel()
			e.skipDependents(ctx, node)
			e.wg.Done()
			continue
		}

		workerLogger.Debug("Node execution succeeded.")
		node.SetState(dag.Done)
		if node.Cached {
			e.observe(node, metrics.StatusCached, 0)
		} else {
			e.observe(node, metrics.StatusDone, time.Since(start))
		}

		for _, dependent := range node.SortedDependents() {
			if dependent.ResolveDependency() {
				workerLogger.Debug("Unlocking dependent node.", "dependent_id", dependent.ID)
				readyChan <- dependent
			}
		}

		e.wg.Done()
	}
	logger.Debug("Worker finished.", "worker_id", workerID)
}

// skipDependents recursively marks all downstream nodes as failed and decrements the WaitGroup.
func (e *Executor) skipDependents(ctx context.Context, node *dag.Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range node.SortedDependents() {
		skipped := dependent.Skip(func() {
			logger.Warn("Skipping dependent node due to upstream failure.", "node_id", dependent.ID, "dependency", node.ID)
			dependent.SetState(dag.Failed)
			dependent.Error = fmt.Errorf("%w due to upstream failure of '%s'", errSkipped, node.ID)
			e.observe(dependent, metrics.StatusSkipped, 0)
			e.wg.Done()
		})
		if skipped {
			e.skipDependents(ctx, dependent)
		}
	}
}

func (e *Executor) observe(node *dag.Node, status string, elapsed time.Duration) {
	e.opts.Metrics.ObserveNode(e.Graph.Workflow.Name, node.StepConfig.RunnerType, status, elapsed)
}
