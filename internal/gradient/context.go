package gradient

import (
	"fmt"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/tensor"
)

// Context hands a gradient rule its forward node together with the naming
// and bookkeeping of the surrounding adjoint construction. Input/output
// accessors return value names ready to be placed in NodeDefs; an empty
// string means "not present" or "not needed".
type Context struct {
	b    *GradientGraphBuilder
	node *ir.Node
	gi   map[int]string
}

// Node returns the forward node being differentiated.
func (c *Context) Node() *ir.Node { return c.node }

// I returns the name of forward input i, or "" when absent.
func (c *Context) I(i int) string {
	if i < 0 || i >= len(c.node.Inputs) || c.node.Inputs[i] == nil {
		return ""
	}
	return c.node.Inputs[i].Name
}

// O returns the name of forward output i, or "" when absent.
func (c *Context) O(i int) string {
	if i < 0 || i >= len(c.node.Outputs) || c.node.Outputs[i] == nil {
		return ""
	}
	return c.node.Outputs[i].Name
}

// GO returns the gradient name of forward output i, or "" when no gradient
// flows into that output. By the time a rule runs, every available output
// gradient has a single producer (or is an output-gradient seed).
func (c *Context) GO(i int) string {
	if i < 0 || i >= len(c.node.Outputs) || c.node.Outputs[i] == nil {
		return ""
	}
	name := c.node.Outputs[i].Name
	if name == "" || !c.b.gradAvailable(name) {
		return ""
	}
	return GradientName(name)
}

// GI returns the value name a rule must produce to contribute the gradient
// of forward input i, registering the contribution with the accumulator.
// When the input fans out to several gradient-carrying consumers the name is
// a numbered partial that a later Sum node folds into the canonical gradient
// name. Returns "" when input i needs no gradient; rules wire that as an
// unconnected output slot.
func (c *Context) GI(i int) string {
	if i < 0 || i >= len(c.node.Inputs) || c.node.Inputs[i] == nil {
		return ""
	}
	if name, done := c.gi[i]; done {
		return name
	}
	v := c.node.Inputs[i]
	if !c.b.valueNeedsGrad(v) {
		c.gi[i] = ""
		return ""
	}
	grad := GradientName(v.Name)
	name := grad
	if c.b.expected[v.Name] > 1 {
		name = fmt.Sprintf("%s_%d", grad, len(c.b.contribs[v.Name]))
	}
	c.b.contribs[v.Name] = append(c.b.contribs[v.Name], name)
	c.gi[i] = name
	return name
}

// NeedsInputGrad reports whether a gradient for forward input i is wanted:
// the input is a requested value or feeds back toward one. Structural slots
// (shape and axes arguments) never need gradients.
func (c *Context) NeedsInputGrad(i int) bool {
	if i < 0 || i >= len(c.node.Inputs) || c.node.Inputs[i] == nil {
		return false
	}
	if stopSlot(c.node.OpType, i) {
		return false
	}
	return c.b.valueNeedsGrad(c.node.Inputs[i])
}

// InputShape returns the recorded shape of forward input i, or nil.
func (c *Context) InputShape(i int) ir.Shape {
	if i < 0 || i >= len(c.node.Inputs) || c.node.Inputs[i] == nil {
		return nil
	}
	return c.node.Inputs[i].Shape
}

// OutputShape returns the recorded shape of forward output i, or nil.
func (c *Context) OutputShape(i int) ir.Shape {
	if i < 0 || i >= len(c.node.Outputs) || c.node.Outputs[i] == nil {
		return nil
	}
	return c.node.Outputs[i].Shape
}

// InputType returns the element type of forward input i.
func (c *Context) InputType(i int) tensor.DataType {
	if i < 0 || i >= len(c.node.Inputs) || c.node.Inputs[i] == nil {
		return tensor.Undefined
	}
	return c.node.Inputs[i].Type
}

// InvertibleLayerNormGrad reports whether layer-normalization gradients
// should reconstruct the input from the output instead of saving it.
func (c *Context) InvertibleLayerNormGrad() bool {
	return c.b.opts.UseInvertibleLayerNormGrad
}

// IA returns a fresh intermediate value name scoped to the forward node, so
// two rules materializing the same helper pattern never collide.
func (c *Context) IA(suffix string) string {
	base := c.node.Name
	if base == "" {
		base = c.node.OpType
	}
	return c.b.g.GenerateValueName(base + "_" + suffix)
}
