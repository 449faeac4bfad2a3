// Package dag turns a workflow into the graph of node instances that the
// executor runs. It resolves explicit and implicit step dependencies,
// expands iterables into one instance per parameter combination, rejects
// cycles and exports the flat graph in DOT format.
package dag
