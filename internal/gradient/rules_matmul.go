package gradient

import (
	"fmt"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/providers"
)

func gradMatMul(c *Context) (GradientDef, error) {
	return matMulGradient(c, false, false, 1.0)
}

// gradFusedMatMul differentiates through the fused operator's own transpose
// flags and scale, so a graph that went through matmul-transpose fusion
// still produces correct adjoints.
func gradFusedMatMul(c *Context) (GradientDef, error) {
	n := c.Node()
	return matMulGradient(c,
		n.AttrInt("transA", 0) != 0,
		n.AttrInt("transB", 0) != 0,
		n.AttrFloat("alpha", 1.0))
}

// matMulGradient emits both operand gradients of Y = alpha*op(A)op(B) as
// FusedMatMul nodes, one per case of the forward transpose flags:
//
//	transA transB    dA                     dB
//	0      0         dY B^T                 A^T dY
//	0      1         dY B                   dY^T A
//	1      0         B dY^T                 A dY
//	1      1         B^T dY^T               dY^T A^T
//
// Stacked (batched) operands additionally reduce the gradient over the
// broadcast batch axes and reshape it back to the operand's form.
func matMulGradient(c *Context, transA, transB bool, alpha float32) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	n := c.Node()
	aShape, bShape := c.InputShape(0), c.InputShape(1)
	if aShape == nil || bShape == nil {
		return nil, fmt.Errorf("matrix gradient for node %q requires known operand shapes", n.Name)
	}
	if aShape.Rank() < 2 || bShape.Rank() < 2 {
		return nil, fmt.Errorf("matrix gradient for node %q requires operands of rank >= 2, got %d and %d",
			n.Name, aShape.Rank(), bShape.Rank())
	}

	batchA := aShape[:aShape.Rank()-2]
	batchB := bShape[:bShape.Rank()-2]
	aAxes, bAxes := ComputeBroadcastBackwardAxes(batchA, batchB, n.Name, c.b.logger)

	var def GradientDef
	if c.NeedsInputGrad(0) {
		var nd NodeDef
		switch {
		case !transA && !transB:
			nd = fusedMatMulDef(gy, c.I(1), false, true, alpha)
		case !transA && transB:
			nd = fusedMatMulDef(gy, c.I(1), false, false, alpha)
		case transA && !transB:
			nd = fusedMatMulDef(c.I(1), gy, false, true, alpha)
		default:
			nd = fusedMatMulDef(c.I(1), gy, true, true, alpha)
		}
		nodes, err := c.matMulOperandGrad(nd, c.I(0), c.GI(0), aAxes, "PreReduceGrad0", "ReduceGrad0")
		if err != nil {
			return nil, err
		}
		def = append(def, nodes...)
	}
	if c.NeedsInputGrad(1) {
		var nd NodeDef
		switch {
		case !transA && !transB:
			nd = fusedMatMulDef(c.I(0), gy, true, false, alpha)
		case !transA && transB:
			nd = fusedMatMulDef(gy, c.I(0), true, false, alpha)
		case transA && !transB:
			nd = fusedMatMulDef(c.I(0), gy, false, false, alpha)
		default:
			nd = fusedMatMulDef(gy, c.I(0), true, true, alpha)
		}
		nodes, err := c.matMulOperandGrad(nd, c.I(1), c.GI(1), bAxes, "PreReduceGrad1", "ReduceGrad1")
		if err != nil {
			return nil, err
		}
		def = append(def, nodes...)
	}
	return def, nil
}

// matMulOperandGrad wires one operand's gradient node to its target name,
// inserting the batch-axis reduction and reshape when the operand was
// broadcast.
func (c *Context) matMulOperandGrad(nd NodeDef, operand, target string, axes []int64, preName, reduceName string) (GradientDef, error) {
	if len(axes) == 0 {
		nd.Outputs = []string{target}
		return GradientDef{nd}, nil
	}
	pre := c.IA(preName)
	nd.Outputs = []string{pre}
	reduced := c.IA(reduceName)
	sumDef, err := c.addReduceSum(pre, reduced, axes, true)
	if err != nil {
		return nil, err
	}
	shapeName := c.IA(operand + "_shape")
	def := append(GradientDef{nd}, sumDef...)
	return append(def,
		NodeDef{OpType: "Shape", Inputs: []string{operand}, Outputs: []string{shapeName}},
		NodeDef{OpType: "Reshape", Inputs: []string{reduced, shapeName}, Outputs: []string{target}},
	), nil
}

func fusedMatMulDef(a, b string, transA, transB bool, alpha float32) NodeDef {
	ta, tb := int64(0), int64(0)
	if transA {
		ta = 1
	}
	if transB {
		tb = 1
	}
	return NodeDef{
		OpType: "FusedMatMul",
		Domain: providers.MicrosoftDomain,
		Inputs: []string{a, b},
		Attrs: []*ir.Attribute{
			ir.FloatAttr("alpha", alpha),
			ir.IntAttr("transA", ta),
			ir.IntAttr("transB", tb),
		},
	}
}
