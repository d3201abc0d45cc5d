package gradient

import "github.com/mrshu/onnxruntime/internal/ir"

// NodeDef is a declarative description of one backward node. Rules return
// NodeDefs instead of mutating the graph directly so the builder controls
// naming, edge registration and opset imports in one place.
//
// Inputs and Outputs are value names. An empty output name leaves that
// output slot unwired, which is how multi-output gradient kernels drop
// gradients nobody requested.
type NodeDef struct {
	OpType  string
	Domain  string
	Name    string // optional; the builder derives one from OpType when empty
	Inputs  []string
	Outputs []string
	Attrs   []*ir.Attribute
}

// GradientDef is the backward subgraph for one forward node, in emission
// order.
type GradientDef []NodeDef
