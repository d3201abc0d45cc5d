// Package ir holds the mutable computation-graph representation the
// transformation passes operate on: an arena of operator nodes, a canonical
// name-to-value table, producer/consumer edge indices, initializer storage
// and the pinned graph input/output lists.
//
// Nodes are addressed by stable integer indices that are never reused for
// the lifetime of a graph, so passes can hold indices across deferred
// deletions. All topology mutation goes through the rewiring operations
// (ReplaceInput, DetachOutputs, RemoveNode, AddNode, FinalizeReplacement);
// editing node fields directly desynchronizes the edge indices.
//
// Resolve validates the structural invariants, rebuilds the edge indices
// from the node definitions and runs forward type/shape propagation. Passes
// are expected to leave the graph resolvable after every committed rewrite.
package ir
