package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/levelflow/internal/dag"
)

// AssertNodeDone checks that the node with the given ID exists in the
// workflow's graph and completed successfully.
func AssertNodeDone(t *testing.T, result *HarnessResult, workflow, nodeID string) *dag.Node {
	t.Helper()

	graph, ok := result.Graphs[workflow]
	require.True(t, ok, "workflow %q was not built", workflow)
	node, ok := graph.Nodes[nodeID]
	require.True(t, ok, "node %q not found in workflow %q", nodeID, workflow)
	require.Equal(t, dag.Done, node.State(), "node %q did not complete: %v", nodeID, node.Error)
	return node
}
