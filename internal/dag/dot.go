package dag

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteDOT writes the flat graph, one vertex per node instance, in
// Graphviz DOT format. Output is deterministic.
func (g *Graph) WriteDOT(w io.Writer) error {
	var sb strings.Builder
	name := "workflow"
	if g.Workflow != nil {
		name = g.Workflow.Name
	}

	fmt.Fprintf(&sb, "digraph %s {\n", strconv.Quote(name))
	fmt.Fprintf(&sb, "  label=%s;\n", strconv.Quote(name))

	nodes := g.Ordered()
	for _, n := range nodes {
		label := n.Name
		if suffix := n.Suffix(); suffix != "" {
			label += "\n" + suffix
		}
		label += "\n(" + n.StepConfig.RunnerType + ")"
		fmt.Fprintf(&sb, "  %s [label=%s];\n", strconv.Quote(n.ID), strconv.Quote(label))
	}
	for _, n := range nodes {
		for _, dep := range n.SortedDependents() {
			fmt.Fprintf(&sb, "  %s -> %s;\n", strconv.Quote(n.ID), strconv.Quote(dep.ID))
		}
	}
	sb.WriteString("}\n")

	_, err := io.WriteString(w, sb.String())
	return err
}
