package ir

import (
	"errors"
	"fmt"
)

// Sentinel errors for rewiring-contract violations.
var (
	// ErrNodeAttached is returned when removing a node that still has
	// attached output edges.
	ErrNodeAttached = errors.New("node still has attached output edges")
	// ErrNodeRemoved is returned when operating on a node that is no longer
	// in its graph's arena.
	ErrNodeRemoved = errors.New("node has been removed")
	// ErrNoConsumers is returned by MustConsumers when a value expected to
	// have fan-out has none. Reference-counting passes treat this as a
	// programming-contract assertion.
	ErrNoConsumers = errors.New("value has no consumers")
)

// AddNode creates a node, appends it to the arena and registers its edges.
// The caller must ensure that all input values already exist in the graph
// and that every output value name is fresh (unproduced).
func (g *Graph) AddNode(name, opType, doc string, inputs, outputs []*Value, attrs []*Attribute, domain string) *Node {
	n := &Node{
		index:   NodeIndex(len(g.nodes)),
		Name:    name,
		OpType:  opType,
		Domain:  domain,
		Doc:     doc,
		Inputs:  append([]*Value(nil), inputs...),
		Outputs: append([]*Value(nil), outputs...),
	}
	g.nodes = append(g.nodes, n)

	for _, in := range n.Inputs {
		if in == nil || in.Name == "" {
			continue
		}
		g.values[in.Name] = in
		g.consumers[in.Name] = append(g.consumers[in.Name], n.index)
	}
	for _, out := range n.Outputs {
		if out == nil || out.Name == "" {
			continue
		}
		g.values[out.Name] = out
		g.producers[out.Name] = n.index
	}
	for _, a := range attrs {
		n.SetAttr(a)
	}
	return n
}

// Producer returns the node producing the named value. Graph inputs and
// initializers have no producing node.
func (g *Graph) Producer(name string) (*Node, bool) {
	idx, ok := g.producers[name]
	if !ok {
		return nil, false
	}
	n := g.NodeAt(idx)
	if n == nil {
		return nil, false
	}
	return n, true
}

// Consumers returns the distinct nodes consuming the named value, in first
// edge order. A node consuming the value through several input slots appears
// once.
func (g *Graph) Consumers(name string) []*Node {
	idxs := g.consumers[name]
	if len(idxs) == 0 {
		return nil
	}
	seen := make(map[NodeIndex]bool, len(idxs))
	out := make([]*Node, 0, len(idxs))
	for _, idx := range idxs {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		if n := g.NodeAt(idx); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// ConsumerCount returns the number of distinct nodes consuming the value.
func (g *Graph) ConsumerCount(name string) int {
	return len(g.Consumers(name))
}

// EdgeCount returns the number of consuming input slots reading the value.
// A node reading the value through two slots counts twice.
func (g *Graph) EdgeCount(name string) int {
	return len(g.consumers[name])
}

// MustConsumers returns the value's consumers, failing fast when there are
// none. Passes that do reference counting on a value known to be consumed
// call this instead of Consumers.
func (g *Graph) MustConsumers(name string) ([]*Node, error) {
	nodes := g.Consumers(name)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoConsumers, name)
	}
	return nodes, nil
}

// ReplaceInput rewires exactly one input slot of a node to a new value,
// updating the consumer index on both sides. No other edge is touched.
func (g *Graph) ReplaceInput(n *Node, i int, v *Value) {
	old := n.Inputs[i]
	if old != nil && old.Name != "" {
		g.dropConsumerEdge(old.Name, n.index)
	}
	n.Inputs[i] = v
	if v != nil && v.Name != "" {
		g.values[v.Name] = v
		g.consumers[v.Name] = append(g.consumers[v.Name], n.index)
	}
}

// DetachOutputs severs all edges where the node is a producer without
// deleting the node. Required before removal when ownership of the node's
// output values moves elsewhere.
func (g *Graph) DetachOutputs(n *Node) {
	for _, out := range n.Outputs {
		if out == nil || out.Name == "" {
			continue
		}
		if idx, ok := g.producers[out.Name]; ok && idx == n.index {
			delete(g.producers, out.Name)
		}
	}
}

// RemoveNode removes the node at idx from the arena, unregistering its
// input edges and its producer registrations. It fails if the node still
// has attached output edges: a value the node produces that is consumed or
// pinned as a graph output. The arena slot is left vacant; indices are not
// reused.
func (g *Graph) RemoveNode(idx NodeIndex) error {
	n := g.NodeAt(idx)
	if n == nil {
		return fmt.Errorf("%w: index %d", ErrNodeRemoved, idx)
	}

	for _, out := range n.Outputs {
		if out == nil || out.Name == "" {
			continue
		}
		owner, ok := g.producers[out.Name]
		if !ok || owner != idx {
			continue
		}
		if len(g.consumers[out.Name]) > 0 {
			return fmt.Errorf("%w: node %q still produces consumed value %q", ErrNodeAttached, n.Name, out.Name)
		}
		if g.IsGraphOutput(out.Name) {
			return fmt.Errorf("%w: node %q still produces graph output %q", ErrNodeAttached, n.Name, out.Name)
		}
	}

	for _, in := range n.Inputs {
		if in != nil && in.Name != "" {
			g.dropConsumerEdge(in.Name, idx)
		}
	}
	for _, out := range n.Outputs {
		if out == nil || out.Name == "" {
			continue
		}
		if owner, ok := g.producers[out.Name]; ok && owner == idx {
			delete(g.producers, out.Name)
		}
	}

	g.nodes[idx] = nil
	n.index = InvalidNodeIndex
	return nil
}

// FinalizeReplacement transfers oldNode's output values and their edges to
// newNode, preserving value identity so graph-output pinning stays intact,
// then removes oldNode. newNode is typically created with no outputs.
func (g *Graph) FinalizeReplacement(newNode, oldNode *Node) error {
	if oldNode.index == InvalidNodeIndex {
		return fmt.Errorf("%w: %q", ErrNodeRemoved, oldNode.Name)
	}
	for _, out := range oldNode.Outputs {
		newNode.Outputs = append(newNode.Outputs, out)
		if out != nil && out.Name != "" {
			g.producers[out.Name] = newNode.index
		}
	}
	oldNode.Outputs = nil
	return g.RemoveNode(oldNode.index)
}

// RewireConsumers redirects every consumer of oldV (except the nodes in
// skip) to read newV instead, slot by slot.
func (g *Graph) RewireConsumers(oldV, newV *Value, skip ...*Node) {
	skipSet := make(map[NodeIndex]bool, len(skip))
	for _, n := range skip {
		skipSet[n.index] = true
	}
	for _, consumer := range g.Consumers(oldV.Name) {
		if skipSet[consumer.index] {
			continue
		}
		for i, in := range consumer.Inputs {
			if in != nil && in.Name == oldV.Name {
				g.ReplaceInput(consumer, i, newV)
			}
		}
	}
}

// dropConsumerEdge removes one occurrence of idx from the value's consumer
// list.
func (g *Graph) dropConsumerEdge(name string, idx NodeIndex) {
	edges := g.consumers[name]
	for i, e := range edges {
		if e == idx {
			g.consumers[name] = append(edges[:i], edges[i+1:]...)
			if len(g.consumers[name]) == 0 {
				delete(g.consumers, name)
			}
			return
		}
	}
}
