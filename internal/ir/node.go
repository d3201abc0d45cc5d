package ir

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// NodeIndex addresses a node in the graph arena. Indices are stable for the
// lifetime of the graph and never reused after removal.
type NodeIndex int

// InvalidNodeIndex marks a node that has been removed from its graph.
const InvalidNodeIndex NodeIndex = -1

// Node is an operator instance: a type name with a namespace domain, ordered
// input and output value references, named attributes, and an opaque
// execution-provider affinity tag.
//
// Topology fields (Inputs, Outputs) must only be changed through the graph's
// rewiring operations.
type Node struct {
	index NodeIndex

	Name     string
	OpType   string
	Domain   string
	Doc      string
	Inputs   []*Value
	Outputs  []*Value
	Provider string

	attrs *orderedmap.OrderedMap[string, *Attribute]
}

// Index returns the node's arena index, or InvalidNodeIndex after removal.
func (n *Node) Index() NodeIndex { return n.index }

// SetAttr sets or replaces an attribute, keeping insertion order stable.
func (n *Node) SetAttr(a *Attribute) {
	if n.attrs == nil {
		n.attrs = orderedmap.New[string, *Attribute]()
	}
	n.attrs.Set(a.Name, a)
}

// Attr returns the named attribute.
func (n *Node) Attr(name string) (*Attribute, bool) {
	if n.attrs == nil {
		return nil, false
	}
	return n.attrs.Get(name)
}

// DeleteAttr removes the named attribute if present.
func (n *Node) DeleteAttr(name string) {
	if n.attrs != nil {
		n.attrs.Delete(name)
	}
}

// Attrs returns the node's attributes in insertion order.
func (n *Node) Attrs() []*Attribute {
	if n.attrs == nil {
		return nil
	}
	out := make([]*Attribute, 0, n.attrs.Len())
	for pair := n.attrs.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// AttrInt returns the named int attribute, or def when absent.
func (n *Node) AttrInt(name string, def int64) int64 {
	if a, ok := n.Attr(name); ok && a.Kind == AttrInt {
		return a.I
	}
	return def
}

// AttrFloat returns the named float attribute, or def when absent.
func (n *Node) AttrFloat(name string, def float32) float32 {
	if a, ok := n.Attr(name); ok && a.Kind == AttrFloat {
		return a.F
	}
	return def
}

// AttrInts returns the named int-array attribute.
func (n *Node) AttrInts(name string) ([]int64, bool) {
	if a, ok := n.Attr(name); ok && a.Kind == AttrInts {
		return a.Ints, true
	}
	return nil, false
}

// AttrString returns the named string attribute, or def when absent.
func (n *Node) AttrString(name, def string) string {
	if a, ok := n.Attr(name); ok && a.Kind == AttrString {
		return a.S
	}
	return def
}

// Subgraphs returns the nested subgraphs held in the node's attributes, in
// attribute insertion order. Branch and loop bodies live here.
func (n *Node) Subgraphs() []*Graph {
	if n.attrs == nil {
		return nil
	}
	var subs []*Graph
	for pair := n.attrs.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Kind == AttrGraph && pair.Value.G != nil {
			subs = append(subs, pair.Value.G)
		}
	}
	return subs
}

// InputNames returns the node's input value names in order. Optional inputs
// that are not connected appear as empty strings.
func (n *Node) InputNames() []string {
	names := make([]string, len(n.Inputs))
	for i, v := range n.Inputs {
		if v != nil {
			names[i] = v.Name
		}
	}
	return names
}

// OutputNames returns the node's output value names in order.
func (n *Node) OutputNames() []string {
	names := make([]string, len(n.Outputs))
	for i, v := range n.Outputs {
		if v != nil {
			names[i] = v.Name
		}
	}
	return names
}

func (n *Node) cloneInto(g *Graph) *Node {
	c := &Node{
		index:    n.index,
		Name:     n.Name,
		OpType:   n.OpType,
		Domain:   n.Domain,
		Doc:      n.Doc,
		Provider: n.Provider,
	}
	c.Inputs = make([]*Value, len(n.Inputs))
	for i, v := range n.Inputs {
		if v != nil {
			c.Inputs[i] = g.GetOrCreateValue(v.Name)
		}
	}
	c.Outputs = make([]*Value, len(n.Outputs))
	for i, v := range n.Outputs {
		if v != nil {
			c.Outputs[i] = g.GetOrCreateValue(v.Name)
		}
	}
	for _, a := range n.Attrs() {
		c.SetAttr(a.Clone())
	}
	return c
}
