package ir

import (
	"fmt"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

// Graph is the mutable computation graph. Nodes live in an arena addressed
// by stable indices; values live in a canonical name-keyed table; the
// producer and consumer indices are maintained by the rewiring operations
// and rebuilt from scratch by Resolve.
type Graph struct {
	Name            string
	Doc             string
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	OpsetImports    map[string]int64

	nodes []*Node

	values map[string]*Value

	inits     map[string]*tensor.RawTensor
	initOrder []string

	inputs    []*Value
	outputs   []*Value
	inputSet  map[string]bool
	outputSet map[string]bool

	producers map[string]NodeIndex
	consumers map[string][]NodeIndex

	reserved map[string]bool
	nameSeq  int

	// nested marks subgraphs held in node attributes; their nodes may read
	// values captured from the enclosing scope, which relaxes dangling-read
	// validation in Resolve.
	nested bool
}

// DefaultOpsetVersion is assumed for graphs constructed in memory without an
// explicit operator-set import.
const DefaultOpsetVersion = 13

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:         name,
		OpsetImports: map[string]int64{"": DefaultOpsetVersion},
		values:       make(map[string]*Value),
		inits:        make(map[string]*tensor.RawTensor),
		inputSet:     make(map[string]bool),
		outputSet:    make(map[string]bool),
		producers:    make(map[string]NodeIndex),
		consumers:    make(map[string][]NodeIndex),
		reserved:     make(map[string]bool),
	}
}

// Nested reports whether this graph is a subgraph held in a node attribute.
func (g *Graph) Nested() bool { return g.nested }

// GetOrCreateValue returns the canonical value reference for name, creating
// an untyped, unshaped one if the graph has not seen the name yet.
func (g *Graph) GetOrCreateValue(name string) *Value {
	if v, ok := g.values[name]; ok {
		return v
	}
	v := &Value{Name: name}
	g.values[name] = v
	return v
}

// ValueRef returns the canonical value reference for name.
func (g *Graph) ValueRef(name string) (*Value, bool) {
	v, ok := g.values[name]
	return v, ok
}

// NewValue registers a value with the given type and shape and returns it.
// If the name is already registered, the existing reference is retyped.
func (g *Graph) NewValue(name string, dtype tensor.DataType, shape Shape) *Value {
	v := g.GetOrCreateValue(name)
	v.Type = dtype
	v.Shape = shape
	return v
}

// AddInitializer binds a constant tensor to the named value, registering the
// value with the tensor's type and shape.
func (g *Graph) AddInitializer(name string, t *tensor.RawTensor) *Value {
	if _, exists := g.inits[name]; !exists {
		g.initOrder = append(g.initOrder, name)
	}
	g.inits[name] = t
	shape := make(Shape, len(t.Shape()))
	for i, d := range t.Shape() {
		shape[i] = DimOf(int64(d))
	}
	return g.NewValue(name, t.DType(), shape)
}

// Initializer returns the constant tensor bound to name.
func (g *Graph) Initializer(name string) (*tensor.RawTensor, bool) {
	t, ok := g.inits[name]
	return t, ok
}

// IsInitializer reports whether name is bound to a constant tensor.
func (g *Graph) IsInitializer(name string) bool {
	_, ok := g.inits[name]
	return ok
}

// RemoveInitializer unbinds the constant tensor from name. The value
// reference itself stays registered.
func (g *Graph) RemoveInitializer(name string) {
	if _, ok := g.inits[name]; !ok {
		return
	}
	delete(g.inits, name)
	for i, n := range g.initOrder {
		if n == name {
			g.initOrder = append(g.initOrder[:i], g.initOrder[i+1:]...)
			break
		}
	}
}

// InitializerNames returns the initializer names in declaration order.
func (g *Graph) InitializerNames() []string {
	return append([]string(nil), g.initOrder...)
}

// Inputs returns the ordered graph input list.
func (g *Graph) Inputs() []*Value { return g.inputs }

// Outputs returns the ordered graph output list.
func (g *Graph) Outputs() []*Value { return g.outputs }

// AddInput appends a value to the graph input list.
func (g *Graph) AddInput(v *Value) {
	g.values[v.Name] = v
	g.inputs = append(g.inputs, v)
	g.inputSet[v.Name] = true
}

// AddOutput appends a value to the graph output list.
func (g *Graph) AddOutput(v *Value) {
	g.values[v.Name] = v
	g.outputs = append(g.outputs, v)
	g.outputSet[v.Name] = true
}

// SetInputs replaces the graph input list.
func (g *Graph) SetInputs(vs []*Value) {
	g.inputs = nil
	g.inputSet = make(map[string]bool)
	for _, v := range vs {
		g.AddInput(v)
	}
}

// SetOutputs replaces the graph output list.
func (g *Graph) SetOutputs(vs []*Value) {
	g.outputs = nil
	g.outputSet = make(map[string]bool)
	for _, v := range vs {
		g.AddOutput(v)
	}
}

// IsGraphInput reports whether name is pinned in the graph input list.
func (g *Graph) IsGraphInput(name string) bool { return g.inputSet[name] }

// IsGraphOutput reports whether name is pinned in the graph output list.
func (g *Graph) IsGraphOutput(name string) bool { return g.outputSet[name] }

// NodeAt returns the node at the given arena index, or nil if the index is
// out of range or the node has been removed.
func (g *Graph) NodeAt(idx NodeIndex) *Node {
	if idx < 0 || int(idx) >= len(g.nodes) {
		return nil
	}
	return g.nodes[idx]
}

// Nodes returns the live nodes in arena order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// NumNodes returns the number of live nodes.
func (g *Graph) NumNodes() int {
	count := 0
	for _, n := range g.nodes {
		if n != nil {
			count++
		}
	}
	return count
}

// GenerateNodeName returns a node name derived from base that no live node
// currently uses. The name is reserved against further generation.
func (g *Graph) GenerateNodeName(base string) string {
	name := base
	for g.nodeNameTaken(name) || g.reserved[name] {
		g.nameSeq++
		name = fmt.Sprintf("%s_%d", base, g.nameSeq)
	}
	g.reserved[name] = true
	return name
}

// GenerateValueName returns a value name derived from base that is not
// registered in the value table. The name is reserved against further
// generation.
func (g *Graph) GenerateValueName(base string) string {
	name := base
	for g.valueNameTaken(name) || g.reserved[name] {
		g.nameSeq++
		name = fmt.Sprintf("%s_%d", base, g.nameSeq)
	}
	g.reserved[name] = true
	return name
}

func (g *Graph) nodeNameTaken(name string) bool {
	if name == "" {
		return false
	}
	for _, n := range g.nodes {
		if n != nil && n.Name == name {
			return true
		}
	}
	return false
}

func (g *Graph) valueNameTaken(name string) bool {
	if _, ok := g.values[name]; ok {
		return true
	}
	_, ok := g.inits[name]
	return ok
}

// Clone deep-copies the graph: values, nodes (preserving arena indices),
// initializer tensors, boundary lists, edge indices and nested subgraphs.
func (g *Graph) Clone() *Graph {
	c := NewGraph(g.Name)
	c.Doc = g.Doc
	c.IRVersion = g.IRVersion
	c.ProducerName = g.ProducerName
	c.ProducerVersion = g.ProducerVersion
	c.nested = g.nested
	c.nameSeq = g.nameSeq
	c.OpsetImports = make(map[string]int64, len(g.OpsetImports))
	for domain, version := range g.OpsetImports {
		c.OpsetImports[domain] = version
	}

	for name, v := range g.values {
		c.values[name] = v.clone()
	}
	for _, name := range g.initOrder {
		c.initOrder = append(c.initOrder, name)
		c.inits[name] = g.inits[name].Clone()
	}

	c.nodes = make([]*Node, len(g.nodes))
	for i, n := range g.nodes {
		if n != nil {
			c.nodes[i] = n.cloneInto(c)
		}
	}

	for _, v := range g.inputs {
		c.AddInput(c.GetOrCreateValue(v.Name))
	}
	for _, v := range g.outputs {
		c.AddOutput(c.GetOrCreateValue(v.Name))
	}

	for name, idx := range g.producers {
		c.producers[name] = idx
	}
	for name, idxs := range g.consumers {
		c.consumers[name] = append([]NodeIndex(nil), idxs...)
	}
	for name := range g.reserved {
		c.reserved[name] = true
	}
	return c
}
