package ir

import "github.com/mrshu/onnxruntime/internal/tensor"

// AttrKind discriminates attribute payloads.
type AttrKind int

// Attribute payload kinds.
const (
	AttrUndefined AttrKind = iota
	AttrFloat
	AttrInt
	AttrString
	AttrTensor
	AttrGraph
	AttrFloats
	AttrInts
	AttrStrings
)

// Attribute is a named typed literal attached to a node: scalars, arrays,
// constant tensors, or an owned nested subgraph.
type Attribute struct {
	Name string
	Kind AttrKind

	F       float32
	I       int64
	S       string
	T       *tensor.RawTensor
	G       *Graph
	Floats  []float32
	Ints    []int64
	Strings []string
}

// FloatAttr builds a float attribute.
func FloatAttr(name string, v float32) *Attribute {
	return &Attribute{Name: name, Kind: AttrFloat, F: v}
}

// IntAttr builds an int attribute.
func IntAttr(name string, v int64) *Attribute {
	return &Attribute{Name: name, Kind: AttrInt, I: v}
}

// StringAttr builds a string attribute.
func StringAttr(name, v string) *Attribute {
	return &Attribute{Name: name, Kind: AttrString, S: v}
}

// IntsAttr builds an int-array attribute.
func IntsAttr(name string, v ...int64) *Attribute {
	return &Attribute{Name: name, Kind: AttrInts, Ints: v}
}

// FloatsAttr builds a float-array attribute.
func FloatsAttr(name string, v ...float32) *Attribute {
	return &Attribute{Name: name, Kind: AttrFloats, Floats: v}
}

// StringsAttr builds a string-array attribute.
func StringsAttr(name string, v ...string) *Attribute {
	return &Attribute{Name: name, Kind: AttrStrings, Strings: v}
}

// TensorAttr builds a constant-tensor attribute.
func TensorAttr(name string, t *tensor.RawTensor) *Attribute {
	return &Attribute{Name: name, Kind: AttrTensor, T: t}
}

// GraphAttr builds a nested-subgraph attribute. The subgraph is owned by the
// attribute and marked as nested, which relaxes dangling-read validation for
// values captured from the enclosing scope.
func GraphAttr(name string, g *Graph) *Attribute {
	if g != nil {
		g.nested = true
	}
	return &Attribute{Name: name, Kind: AttrGraph, G: g}
}

// Clone deep-copies the attribute, including tensor payloads and subgraphs.
func (a *Attribute) Clone() *Attribute {
	c := &Attribute{Name: a.Name, Kind: a.Kind, F: a.F, I: a.I, S: a.S}
	if a.T != nil {
		c.T = a.T.Clone()
	}
	if a.G != nil {
		c.G = a.G.Clone()
	}
	if a.Floats != nil {
		c.Floats = append([]float32(nil), a.Floats...)
	}
	if a.Ints != nil {
		c.Ints = append([]int64(nil), a.Ints...)
	}
	if a.Strings != nil {
		c.Strings = append([]string(nil), a.Strings...)
	}
	return c
}
