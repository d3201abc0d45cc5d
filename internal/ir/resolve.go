package ir

import (
	"errors"
	"fmt"
)

// Sentinel errors for structural validation.
var (
	// ErrDanglingValue is returned when a consumed value has no producer and
	// is neither a graph input nor an initializer.
	ErrDanglingValue = errors.New("dangling value reference")
	// ErrDuplicateProducer is returned when two nodes claim the same output
	// value.
	ErrDuplicateProducer = errors.New("value produced by more than one node")
	// ErrDeadOutput is returned when a pinned graph output resolves to no
	// live value.
	ErrDeadOutput = errors.New("graph output resolves to no live value")
)

// Resolve validates the graph's structural invariants, rebuilds the edge
// indices from the node definitions, prunes orphaned value references and
// runs forward type/shape propagation. Nested subgraphs are resolved
// depth-first; values they capture from the enclosing scope are exempt from
// the dangling-read check.
func (g *Graph) Resolve() error {
	g.producers = make(map[string]NodeIndex)
	g.consumers = make(map[string][]NodeIndex)

	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, out := range n.Outputs {
			if out == nil || out.Name == "" {
				continue
			}
			if prev, ok := g.producers[out.Name]; ok {
				return fmt.Errorf("%w: %q claimed by %q and %q",
					ErrDuplicateProducer, out.Name, g.NodeAt(prev).Name, n.Name)
			}
			g.producers[out.Name] = n.index
			g.values[out.Name] = out
		}
	}
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, in := range n.Inputs {
			if in == nil || in.Name == "" {
				continue
			}
			g.consumers[in.Name] = append(g.consumers[in.Name], n.index)
			g.values[in.Name] = in
		}
	}

	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, in := range n.Inputs {
			if in == nil || in.Name == "" {
				continue
			}
			if _, produced := g.producers[in.Name]; produced {
				continue
			}
			if g.IsGraphInput(in.Name) || g.IsInitializer(in.Name) {
				continue
			}
			if g.nested {
				// Assume an outer-scope capture.
				continue
			}
			return fmt.Errorf("%w: node %q reads %q", ErrDanglingValue, n.Name, in.Name)
		}
	}

	for _, out := range g.outputs {
		if _, produced := g.producers[out.Name]; produced {
			continue
		}
		if g.IsGraphInput(out.Name) || g.IsInitializer(out.Name) {
			continue
		}
		return fmt.Errorf("%w: %q", ErrDeadOutput, out.Name)
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}

	g.pruneOrphanValues()

	for _, idx := range order {
		g.inferNode(g.NodeAt(idx))
	}

	for _, n := range g.Nodes() {
		for _, sub := range n.Subgraphs() {
			if err := sub.Resolve(); err != nil {
				return fmt.Errorf("subgraph of node %q: %w", n.Name, err)
			}
		}
	}
	return nil
}

// pruneOrphanValues drops value-table entries that no node, boundary list or
// initializer references anymore. Rewrites leave such orphans behind when
// they bypass intermediate values.
func (g *Graph) pruneOrphanValues() {
	for name := range g.values {
		if _, ok := g.producers[name]; ok {
			continue
		}
		if len(g.consumers[name]) > 0 {
			continue
		}
		if g.IsGraphInput(name) || g.IsGraphOutput(name) || g.IsInitializer(name) {
			continue
		}
		delete(g.values, name)
	}
}
