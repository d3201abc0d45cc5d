package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/providers"
	"github.com/mrshu/onnxruntime/internal/tensor"
)

// transposedMatMulGraph builds the canonical fusion candidate:
//
//	input0 [2,3,4] -> Transpose(perm=[0,2,1]) -> t_out [2,4,3]
//	MatMul(t_out, input1 [2,3,5]) -> out
func transposedMatMulGraph(t *testing.T) *ir.Graph {
	t.Helper()
	g := ir.NewGraph("fuse_left")
	in0 := g.NewValue("input0", tensor.Float32, ir.ShapeOf(2, 3, 4))
	in1 := g.NewValue("input1", tensor.Float32, ir.ShapeOf(2, 3, 5))
	tOut := g.NewValue("t_out", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.SetInputs([]*ir.Value{in0, in1})
	g.SetOutputs([]*ir.Value{out})

	g.AddNode("trans", "Transpose", "", []*ir.Value{in0}, []*ir.Value{tOut},
		[]*ir.Attribute{ir.IntsAttr("perm", 0, 2, 1)}, "")
	g.AddNode("matmul", "MatMul", "", []*ir.Value{tOut, in1}, []*ir.Value{out}, nil, "")
	require.NoError(t, g.Resolve())
	return g
}

func countOps(g *ir.Graph, opType string) int {
	count := 0
	for _, n := range g.Nodes() {
		if n.OpType == opType {
			count++
		}
	}
	return count
}

func singleOp(t *testing.T, g *ir.Graph, opType string) *ir.Node {
	t.Helper()
	var found *ir.Node
	for _, n := range g.Nodes() {
		if n.OpType == opType {
			require.Nil(t, found, "expected a single %s node", opType)
			found = n
		}
	}
	require.NotNil(t, found, "expected a %s node", opType)
	return found
}

func TestFusionLeftOperand(t *testing.T) {
	g := transposedMatMulGraph(t)
	pass := NewMatMulTransposeFusion(nil, nil)

	modified, err := pass.Apply(g)
	require.NoError(t, err)
	assert.True(t, modified)

	assert.Equal(t, 0, countOps(g, "Transpose"))
	assert.Equal(t, 0, countOps(g, "MatMul"))
	fused := singleOp(t, g, "FusedMatMul")
	assert.Equal(t, providers.MicrosoftDomain, fused.Domain)
	assert.Equal(t, int64(1), fused.AttrInt("transA", 0))
	assert.Equal(t, int64(0), fused.AttrInt("transB", 0))
	assert.Equal(t, float32(1), fused.AttrFloat("alpha", 0))

	// The fused node reads the pre-transpose value and takes over the output.
	assert.Equal(t, "input0", fused.Inputs[0].Name)
	assert.Equal(t, "input1", fused.Inputs[1].Name)
	assert.Equal(t, "out", fused.Outputs[0].Name)
	p, ok := g.Producer("out")
	require.True(t, ok)
	assert.Same(t, fused, p)
	assert.Equal(t, int64(1), g.OpsetImports[providers.MicrosoftDomain])

	require.NoError(t, g.Resolve())
	assert.True(t, fused.Outputs[0].Shape.Equal(ir.ShapeOf(2, 4, 5)))
}

func TestFusionBothOperands(t *testing.T) {
	g := ir.NewGraph("fuse_both")
	a := g.NewValue("a", tensor.Float32, ir.ShapeOf(3, 2))
	b := g.NewValue("b", tensor.Float32, ir.ShapeOf(4, 3))
	ta := g.NewValue("ta", tensor.Float32, nil)
	tb := g.NewValue("tb", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.SetInputs([]*ir.Value{a, b})
	g.SetOutputs([]*ir.Value{out})

	g.AddNode("trans_a", "Transpose", "", []*ir.Value{a}, []*ir.Value{ta},
		[]*ir.Attribute{ir.IntsAttr("perm", 1, 0)}, "")
	g.AddNode("trans_b", "Transpose", "", []*ir.Value{b}, []*ir.Value{tb},
		[]*ir.Attribute{ir.IntsAttr("perm", 1, 0)}, "")
	g.AddNode("matmul", "MatMul", "", []*ir.Value{ta, tb}, []*ir.Value{out}, nil, "")
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.True(t, modified)

	// Both transposes fold into a single rewrite.
	assert.Equal(t, 1, g.NumNodes())
	fused := singleOp(t, g, "FusedMatMul")
	assert.Equal(t, int64(1), fused.AttrInt("transA", 0))
	assert.Equal(t, int64(1), fused.AttrInt("transB", 0))
	assert.Equal(t, "a", fused.Inputs[0].Name)
	assert.Equal(t, "b", fused.Inputs[1].Name)

	require.NoError(t, g.Resolve())
	assert.True(t, fused.Outputs[0].Shape.Equal(ir.ShapeOf(2, 4)))
}

func TestFusionSharedTranspose(t *testing.T) {
	g := ir.NewGraph("fuse_shared")
	x := g.NewValue("x", tensor.Float32, ir.ShapeOf(3, 3))
	tOut := g.NewValue("t_out", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.SetInputs([]*ir.Value{x})
	g.SetOutputs([]*ir.Value{out})

	g.AddNode("trans", "Transpose", "", []*ir.Value{x}, []*ir.Value{tOut},
		[]*ir.Attribute{ir.IntsAttr("perm", 1, 0)}, "")
	g.AddNode("matmul", "MatMul", "", []*ir.Value{tOut, tOut}, []*ir.Value{out}, nil, "")
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.True(t, modified)

	// One transpose feeding both slots is absorbed on both sides and removed
	// exactly once.
	assert.Equal(t, 1, g.NumNodes())
	fused := singleOp(t, g, "FusedMatMul")
	assert.Equal(t, int64(1), fused.AttrInt("transA", 0))
	assert.Equal(t, int64(1), fused.AttrInt("transB", 0))
	assert.Equal(t, "x", fused.Inputs[0].Name)
	assert.Equal(t, "x", fused.Inputs[1].Name)
	require.NoError(t, g.Resolve())
}

func TestFusionImplicitPerm(t *testing.T) {
	// Rank 2 with no perm attribute: the implicit full reversal swaps the
	// last two axes, so the transpose qualifies.
	g := ir.NewGraph("fuse_implicit")
	a := g.NewValue("a", tensor.Float32, ir.ShapeOf(3, 2))
	b := g.NewValue("b", tensor.Float32, ir.ShapeOf(3, 4))
	ta := g.NewValue("ta", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.SetInputs([]*ir.Value{a, b})
	g.SetOutputs([]*ir.Value{out})

	g.AddNode("trans", "Transpose", "", []*ir.Value{a}, []*ir.Value{ta}, nil, "")
	g.AddNode("matmul", "MatMul", "", []*ir.Value{ta, b}, []*ir.Value{out}, nil, "")
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.True(t, modified)
	fused := singleOp(t, g, "FusedMatMul")
	assert.Equal(t, int64(1), fused.AttrInt("transA", 0))
}

func TestFusionImplicitPermHigherRank(t *testing.T) {
	// Rank 3 with no perm attribute reverses every axis, which is more than
	// a trailing swap. No fusion.
	g := ir.NewGraph("no_fuse_implicit")
	a := g.NewValue("a", tensor.Float32, ir.ShapeOf(2, 3, 4))
	b := g.NewValue("b", tensor.Float32, ir.ShapeOf(4, 3, 5))
	ta := g.NewValue("ta", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.SetInputs([]*ir.Value{a, b})
	g.SetOutputs([]*ir.Value{out})

	g.AddNode("trans", "Transpose", "", []*ir.Value{a}, []*ir.Value{ta}, nil, "")
	g.AddNode("matmul", "MatMul", "", []*ir.Value{ta, b}, []*ir.Value{out}, nil, "")
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.False(t, modified)
	assert.Equal(t, 1, countOps(g, "Transpose"))
}

func TestFusionImplicitPermUnknownRank(t *testing.T) {
	g := ir.NewGraph("no_fuse_unknown")
	a := g.NewValue("a", tensor.Float32, nil)
	b := g.NewValue("b", tensor.Float32, nil)
	ta := g.NewValue("ta", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.SetInputs([]*ir.Value{a, b})
	g.SetOutputs([]*ir.Value{out})

	g.AddNode("trans", "Transpose", "", []*ir.Value{a}, []*ir.Value{ta}, nil, "")
	g.AddNode("matmul", "MatMul", "", []*ir.Value{ta, b}, []*ir.Value{out}, nil, "")
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.False(t, modified, "implicit permutation needs a known input rank")
}

func TestFusionSkipsNonSwapPerm(t *testing.T) {
	g := ir.NewGraph("no_fuse_perm")
	a := g.NewValue("a", tensor.Float32, ir.ShapeOf(2, 3, 4))
	b := g.NewValue("b", tensor.Float32, ir.ShapeOf(4, 3, 5))
	ta := g.NewValue("ta", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.SetInputs([]*ir.Value{a, b})
	g.SetOutputs([]*ir.Value{out})

	g.AddNode("trans", "Transpose", "", []*ir.Value{a}, []*ir.Value{ta},
		[]*ir.Attribute{ir.IntsAttr("perm", 2, 1, 0)}, "")
	g.AddNode("matmul", "MatMul", "", []*ir.Value{ta, b}, []*ir.Value{out}, nil, "")
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.False(t, modified)
	assert.Equal(t, 1, countOps(g, "MatMul"))
}

func TestFusionSkipsFanOut(t *testing.T) {
	g := transposedMatMulGraph(t)
	// A second consumer on the transpose output blocks absorption.
	tOut, ok := g.ValueRef("t_out")
	require.True(t, ok)
	side := g.NewValue("side", tensor.Float32, nil)
	g.AddNode("relu", "Relu", "", []*ir.Value{tOut}, []*ir.Value{side}, nil, "")
	g.AddOutput(side)
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.False(t, modified)
	assert.Equal(t, 1, countOps(g, "Transpose"))
	assert.Equal(t, 1, countOps(g, "MatMul"))
}

func TestFusionSkipsGraphOutputTranspose(t *testing.T) {
	g := transposedMatMulGraph(t)
	tOut, ok := g.ValueRef("t_out")
	require.True(t, ok)
	g.AddOutput(tOut)
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.False(t, modified, "a pinned transpose output must survive")
	assert.Equal(t, 1, countOps(g, "Transpose"))
}

func TestFusionRefusionComposesFlags(t *testing.T) {
	// A FusedMatMul whose left operand is transposed again: the new flag
	// composes with the existing one and cancels it.
	g := ir.NewGraph("refuse")
	a := g.NewValue("a", tensor.Float32, ir.ShapeOf(2, 3))
	b := g.NewValue("b", tensor.Float32, ir.ShapeOf(3, 4))
	ta := g.NewValue("ta", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.SetInputs([]*ir.Value{a, b})
	g.SetOutputs([]*ir.Value{out})
	g.OpsetImports[providers.MicrosoftDomain] = 1

	g.AddNode("trans", "Transpose", "", []*ir.Value{a}, []*ir.Value{ta},
		[]*ir.Attribute{ir.IntsAttr("perm", 1, 0)}, "")
	g.AddNode("fused", "FusedMatMul", "", []*ir.Value{ta, b}, []*ir.Value{out},
		[]*ir.Attribute{
			ir.IntAttr("transA", 1),
			ir.IntAttr("transB", 0),
			ir.FloatAttr("alpha", 2.5),
		}, providers.MicrosoftDomain)
	require.NoError(t, g.Resolve())

	pass := NewMatMulTransposeFusion(nil, nil)
	modified, err := pass.Apply(g)
	require.NoError(t, err)
	assert.True(t, modified)

	fused := singleOp(t, g, "FusedMatMul")
	assert.Equal(t, int64(0), fused.AttrInt("transA", 1), "transpose flags cancel")
	assert.Equal(t, int64(0), fused.AttrInt("transB", 1))
	assert.Equal(t, float32(2.5), fused.AttrFloat("alpha", 0), "alpha carries over")
	assert.Equal(t, "a", fused.Inputs[0].Name)

	// Nothing left to absorb: a second run is a no-op.
	modified, err = pass.Apply(g)
	require.NoError(t, err)
	assert.False(t, modified)
}

func TestFusionCastInterchange(t *testing.T) {
	// x -> Transpose -> Cast -> MatMul: the cast is pushed above the
	// transpose, then the transpose is absorbed into the matmul.
	g := ir.NewGraph("cast_interchange")
	x := g.NewValue("x", tensor.Float32, ir.ShapeOf(4, 3))
	w := g.NewValue("w", tensor.Float16, ir.ShapeOf(4, 5))
	tOut := g.NewValue("t_out", tensor.Float32, nil)
	cOut := g.NewValue("c_out", tensor.Float16, nil)
	out := g.NewValue("out", tensor.Float16, nil)
	g.SetInputs([]*ir.Value{x, w})
	g.SetOutputs([]*ir.Value{out})

	g.AddNode("trans", "Transpose", "", []*ir.Value{x}, []*ir.Value{tOut},
		[]*ir.Attribute{ir.IntsAttr("perm", 1, 0)}, "")
	g.AddNode("cast", "Cast", "", []*ir.Value{tOut}, []*ir.Value{cOut},
		[]*ir.Attribute{ir.IntAttr("to", int64(tensor.Float16.ONNXCode()))}, "")
	g.AddNode("matmul", "MatMul", "", []*ir.Value{cOut, w}, []*ir.Value{out}, nil, "")
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.True(t, modified)

	assert.Equal(t, 2, g.NumNodes())
	assert.Equal(t, 0, countOps(g, "Transpose"))
	cast := singleOp(t, g, "Cast")
	fused := singleOp(t, g, "FusedMatMul")

	// The hoisted cast reads the pre-transpose value and keeps the target
	// element type at the pre-transpose shape.
	assert.Equal(t, "x", cast.Inputs[0].Name)
	hoisted := cast.Outputs[0]
	assert.Equal(t, tensor.Float16, hoisted.Type)
	assert.True(t, hoisted.Shape.Equal(ir.ShapeOf(4, 3)))

	assert.Same(t, hoisted, fused.Inputs[0])
	assert.Equal(t, int64(1), fused.AttrInt("transA", 0))
	assert.Equal(t, int64(0), fused.AttrInt("transB", 0))
	assert.Equal(t, "out", fused.Outputs[0].Name)

	require.NoError(t, g.Resolve())
	assert.True(t, fused.Outputs[0].Shape.Equal(ir.ShapeOf(3, 5)))
}

func TestFusionCastInterchangeOnlyWhenNoDirectMatch(t *testing.T) {
	// The left operand already carries a direct transpose; the right's
	// cast-transpose chain must stay untouched in the same rewrite.
	g := ir.NewGraph("direct_wins")
	a := g.NewValue("a", tensor.Float32, ir.ShapeOf(3, 2))
	b := g.NewValue("b", tensor.Float16, ir.ShapeOf(4, 3))
	ta := g.NewValue("ta", tensor.Float32, nil)
	tb := g.NewValue("tb", tensor.Float16, nil)
	cb := g.NewValue("cb", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.SetInputs([]*ir.Value{a, b})
	g.SetOutputs([]*ir.Value{out})

	g.AddNode("trans_a", "Transpose", "", []*ir.Value{a}, []*ir.Value{ta},
		[]*ir.Attribute{ir.IntsAttr("perm", 1, 0)}, "")
	g.AddNode("trans_b", "Transpose", "", []*ir.Value{b}, []*ir.Value{tb},
		[]*ir.Attribute{ir.IntsAttr("perm", 1, 0)}, "")
	g.AddNode("cast_b", "Cast", "", []*ir.Value{tb}, []*ir.Value{cb},
		[]*ir.Attribute{ir.IntAttr("to", int64(tensor.Float32.ONNXCode()))}, "")
	g.AddNode("matmul", "MatMul", "", []*ir.Value{ta, cb}, []*ir.Value{out}, nil, "")
	require.NoError(t, g.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.True(t, modified)

	fused := singleOp(t, g, "FusedMatMul")
	assert.Equal(t, int64(1), fused.AttrInt("transA", 0))
	assert.Equal(t, int64(0), fused.AttrInt("transB", 0), "right chain untouched")
	assert.Equal(t, "a", fused.Inputs[0].Name)
	assert.Equal(t, "cb", fused.Inputs[1].Name)
	assert.Equal(t, 1, countOps(g, "Transpose"))
	assert.Equal(t, 1, countOps(g, "Cast"))
	require.NoError(t, g.Resolve())
}

func TestFusionProviderMismatch(t *testing.T) {
	g := transposedMatMulGraph(t)
	trans := singleOp(t, g, "Transpose")
	trans.Provider = "CUDAExecutionProvider"

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(g)
	require.NoError(t, err)
	assert.False(t, modified, "transpose and matmul sit on different providers")
}

func TestFusionCompatibleProviderFilter(t *testing.T) {
	g := transposedMatMulGraph(t)
	pass := NewMatMulTransposeFusion(nil, []string{"CUDAExecutionProvider"})

	modified, err := pass.Apply(g)
	require.NoError(t, err)
	assert.False(t, modified, "unassigned nodes resolve to CPU, which is filtered out")

	pass = NewMatMulTransposeFusion(nil, []string{providers.CPU})
	modified, err = pass.Apply(g)
	require.NoError(t, err)
	assert.True(t, modified)
}

func TestFusionRegistryGate(t *testing.T) {
	g := transposedMatMulGraph(t)
	// A registry whose CPU provider lacks the fused operator blocks the
	// rewrite entirely.
	reg := providers.NewRegistry()
	reg.Register(providers.NewProvider(providers.CPU,
		providers.OpSchema{OpType: "MatMul", SinceVersion: 1},
		providers.OpSchema{OpType: "Transpose", SinceVersion: 1},
	))

	modified, err := NewMatMulTransposeFusion(reg, nil).Apply(g)
	require.NoError(t, err)
	assert.False(t, modified)
	assert.Equal(t, 1, countOps(g, "MatMul"))
}

func TestFusionInsideSubgraph(t *testing.T) {
	outer := ir.NewGraph("outer")
	cond := outer.NewValue("cond", tensor.Bool, ir.ShapeOf())
	y := outer.NewValue("y", tensor.Float32, nil)
	outer.SetInputs([]*ir.Value{cond})
	outer.SetOutputs([]*ir.Value{y})

	body := ir.NewGraph("body")
	bodyA := body.NewValue("ba", tensor.Float32, ir.ShapeOf(3, 2))
	bodyB := body.NewValue("bb", tensor.Float32, ir.ShapeOf(3, 4))
	bodyT := body.NewValue("bt", tensor.Float32, nil)
	bodyOut := body.NewValue("bo", tensor.Float32, nil)
	body.SetInputs([]*ir.Value{bodyA, bodyB})
	body.SetOutputs([]*ir.Value{bodyOut})
	body.AddNode("t", "Transpose", "", []*ir.Value{bodyA}, []*ir.Value{bodyT},
		[]*ir.Attribute{ir.IntsAttr("perm", 1, 0)}, "")
	body.AddNode("mm", "MatMul", "", []*ir.Value{bodyT, bodyB}, []*ir.Value{bodyOut}, nil, "")

	outer.AddNode("if", "If", "", []*ir.Value{cond}, []*ir.Value{y},
		[]*ir.Attribute{ir.GraphAttr("then_branch", body), ir.GraphAttr("else_branch", body.Clone())}, "")
	require.NoError(t, outer.Resolve())

	modified, err := NewMatMulTransposeFusion(nil, nil).Apply(outer)
	require.NoError(t, err)
	assert.True(t, modified)

	ifNode := singleOp(t, outer, "If")
	for _, sub := range ifNode.Subgraphs() {
		assert.Equal(t, 0, countOps(sub, "Transpose"))
		assert.Equal(t, 1, countOps(sub, "FusedMatMul"))
	}
	require.NoError(t, outer.Resolve())
}
