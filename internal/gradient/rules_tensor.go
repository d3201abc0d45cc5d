package gradient

import (
	"fmt"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/tensor"
)

// gradTranspose applies the inverse permutation. A transpose without a perm
// attribute reverses all axes and is its own inverse, so the gradient node
// also carries no perm.
func gradTranspose(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	nd := NodeDef{OpType: "Transpose", Inputs: []string{gy}, Outputs: []string{c.GI(0)}}
	if perm, ok := c.Node().AttrInts("perm"); ok {
		inverse := make([]int64, len(perm))
		for i, p := range perm {
			if p < 0 || p >= int64(len(perm)) {
				return nil, fmt.Errorf("gradient for Transpose node %q: perm entry %d out of range", c.Node().Name, p)
			}
			inverse[p] = int64(i)
		}
		nd.Attrs = []*ir.Attribute{ir.IntsAttr("perm", inverse...)}
	}
	return GradientDef{nd}, nil
}

// gradCast casts the gradient back to the input's element type.
func gradCast(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	from := c.InputType(0)
	if from == tensor.Undefined {
		return nil, fmt.Errorf("gradient for Cast node %q: input element type unknown", c.Node().Name)
	}
	return GradientDef{{
		OpType:  "Cast",
		Inputs:  []string{gy},
		Outputs: []string{c.GI(0)},
		Attrs:   []*ir.Attribute{ir.IntAttr("to", int64(from.ONNXCode()))},
	}}, nil
}

// gradReshape restores the input's form by reshaping the gradient against
// the input's runtime shape.
func gradReshape(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	shapeName := c.IA(c.I(0) + "_shape")
	return GradientDef{
		{OpType: "Shape", Inputs: []string{c.I(0)}, Outputs: []string{shapeName}},
		{OpType: "Reshape", Inputs: []string{gy, shapeName}, Outputs: []string{c.GI(0)}},
	}, nil
}
