package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

func TestResolveDetectsDanglingValue(t *testing.T) {
	g := NewGraph("bad")
	ghost := g.GetOrCreateValue("ghost")
	y := g.NewValue("y", tensor.Float32, nil)
	g.SetOutputs([]*Value{y})
	g.AddNode("r", "Relu", "", []*Value{ghost}, []*Value{y}, nil, "")

	err := g.Resolve()
	assert.ErrorIs(t, err, ErrDanglingValue)
}

func TestResolveAllowsOuterScopeCaptureInSubgraph(t *testing.T) {
	sub := NewGraph("body")
	captured := sub.GetOrCreateValue("outer_value")
	sy := sub.NewValue("sy", tensor.Float32, nil)
	sub.SetOutputs([]*Value{sy})
	sub.AddNode("inner", "Relu", "", []*Value{captured}, []*Value{sy}, nil, "")

	g := NewGraph("outer")
	x := g.NewValue("x", tensor.Float32, nil)
	y := g.NewValue("y", tensor.Float32, nil)
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y})
	g.AddNode("if", "If", "", []*Value{x}, []*Value{y}, []*Attribute{GraphAttr("then_branch", sub)}, "")

	require.NoError(t, g.Resolve())
}

func TestResolveDetectsDuplicateProducer(t *testing.T) {
	g := NewGraph("dup")
	x := g.NewValue("x", tensor.Float32, nil)
	y := g.NewValue("y", tensor.Float32, nil)
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y})
	g.AddNode("r1", "Relu", "", []*Value{x}, []*Value{y}, nil, "")
	g.AddNode("r2", "Sigmoid", "", []*Value{x}, []*Value{y}, nil, "")

	err := g.Resolve()
	assert.ErrorIs(t, err, ErrDuplicateProducer)
}

func TestResolveDetectsDeadOutput(t *testing.T) {
	g := NewGraph("dead")
	x := g.NewValue("x", tensor.Float32, nil)
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{g.GetOrCreateValue("nowhere")})

	err := g.Resolve()
	assert.ErrorIs(t, err, ErrDeadOutput)
}

func TestTopologicalOrderDetectsCycle(t *testing.T) {
	g := NewGraph("cycle")
	a := g.NewValue("a", tensor.Float32, nil)
	b := g.NewValue("b", tensor.Float32, nil)
	g.AddNode("n1", "Relu", "", []*Value{a}, []*Value{b}, nil, "")
	g.AddNode("n2", "Relu", "", []*Value{b}, []*Value{a}, nil, "")

	_, err := g.TopologicalOrder()
	assert.ErrorIs(t, err, ErrCycle)
}

func TestTopologicalOrderProducersFirst(t *testing.T) {
	g := NewGraph("order")
	x := g.NewValue("x", tensor.Float32, nil)
	h1 := g.NewValue("h1", tensor.Float32, nil)
	h2 := g.NewValue("h2", tensor.Float32, nil)
	y := g.NewValue("y", tensor.Float32, nil)
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y})

	// Registered out of dependency order on purpose.
	last := g.AddNode("last", "Add", "", []*Value{h1, h2}, []*Value{y}, nil, "")
	mid := g.AddNode("mid", "Relu", "", []*Value{h1}, []*Value{h2}, nil, "")
	first := g.AddNode("first", "Sigmoid", "", []*Value{x}, []*Value{h1}, nil, "")

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := make(map[NodeIndex]int, 3)
	for i, idx := range order {
		pos[idx] = i
	}
	assert.Less(t, pos[first.Index()], pos[mid.Index()])
	assert.Less(t, pos[mid.Index()], pos[last.Index()])
}

func TestResolvePrunesOrphanValues(t *testing.T) {
	g := NewGraph("orphan")
	x := g.NewValue("x", tensor.Float32, nil)
	y := g.NewValue("y", tensor.Float32, nil)
	g.NewValue("left_behind", tensor.Float32, nil)
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y})
	g.AddNode("r", "Relu", "", []*Value{x}, []*Value{y}, nil, "")

	require.NoError(t, g.Resolve())
	_, ok := g.ValueRef("left_behind")
	assert.False(t, ok)
	_, ok = g.ValueRef("x")
	assert.True(t, ok)
}

func TestInferMatMulShapes(t *testing.T) {
	g := NewGraph("mm")
	a := g.NewValue("a", tensor.Float32, ShapeOf(2, 3, 4))
	b := g.NewValue("b", tensor.Float32, ShapeOf(4, 5))
	y := g.GetOrCreateValue("y")
	g.SetInputs([]*Value{a, b})
	g.SetOutputs([]*Value{y})
	g.AddNode("mm", "MatMul", "", []*Value{a, b}, []*Value{y}, nil, "")

	require.NoError(t, g.Resolve())
	assert.Equal(t, tensor.Float32, y.Type)
	assert.True(t, y.Shape.Equal(ShapeOf(2, 3, 5)), "got %v", y.Shape)
}

func TestInferFusedMatMulRespectsTransposeFlags(t *testing.T) {
	g := NewGraph("fmm")
	a := g.NewValue("a", tensor.Float32, ShapeOf(4, 3))
	b := g.NewValue("b", tensor.Float32, ShapeOf(4, 5))
	y := g.GetOrCreateValue("y")
	g.SetInputs([]*Value{a, b})
	g.SetOutputs([]*Value{y})
	g.AddNode("fmm", "FusedMatMul", "", []*Value{a, b}, []*Value{y},
		[]*Attribute{IntAttr("transA", 1), IntAttr("transB", 0)}, "com.microsoft")

	require.NoError(t, g.Resolve())
	assert.True(t, y.Shape.Equal(ShapeOf(3, 5)), "got %v", y.Shape)
}

func TestInferTransposeWithAndWithoutPerm(t *testing.T) {
	g := NewGraph("tr")
	x := g.NewValue("x", tensor.Float32, ShapeOf(2, 3, 4))
	y1 := g.GetOrCreateValue("y1")
	y2 := g.GetOrCreateValue("y2")
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y1, y2})
	g.AddNode("t1", "Transpose", "", []*Value{x}, []*Value{y1},
		[]*Attribute{IntsAttr("perm", 0, 2, 1)}, "")
	g.AddNode("t2", "Transpose", "", []*Value{x}, []*Value{y2}, nil, "")

	require.NoError(t, g.Resolve())
	assert.True(t, y1.Shape.Equal(ShapeOf(2, 4, 3)), "explicit perm: got %v", y1.Shape)
	assert.True(t, y2.Shape.Equal(ShapeOf(4, 3, 2)), "implicit full reversal: got %v", y2.Shape)
}

func TestInferCast(t *testing.T) {
	g := NewGraph("cast")
	x := g.NewValue("x", tensor.Float16, ShapeOf(2, 2))
	y := g.GetOrCreateValue("y")
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y})
	g.AddNode("c", "Cast", "", []*Value{x}, []*Value{y},
		[]*Attribute{IntAttr("to", int64(tensor.Float32.ONNXCode()))}, "")

	require.NoError(t, g.Resolve())
	assert.Equal(t, tensor.Float32, y.Type)
	assert.True(t, y.Shape.Equal(ShapeOf(2, 2)))
}

func TestInferBroadcastWithSymbolicDims(t *testing.T) {
	g := NewGraph("sym")
	a := g.NewValue("a", tensor.Float32, Shape{DimNamed("batch"), DimOf(1), DimOf(4)})
	b := g.NewValue("b", tensor.Float32, ShapeOf(3, 4))
	y := g.GetOrCreateValue("y")
	g.SetInputs([]*Value{a, b})
	g.SetOutputs([]*Value{y})
	g.AddNode("add", "Add", "", []*Value{a, b}, []*Value{y}, nil, "")

	require.NoError(t, g.Resolve())
	require.Equal(t, 3, y.Rank())
	assert.Equal(t, "batch", y.Shape[0].Param)
	assert.Equal(t, int64(3), y.Shape[1].Value)
	assert.Equal(t, int64(4), y.Shape[2].Value)
}

func TestInferReshapeAndReduceSum(t *testing.T) {
	g := NewGraph("shaping")
	x := g.NewValue("x", tensor.Float32, ShapeOf(2, 3, 4))
	spec, err := tensor.NewRawFromInt64(tensor.Shape{2}, []int64{6, -1})
	require.NoError(t, err)
	g.AddInitializer("spec", spec)
	axes, err := tensor.NewRawFromInt64(tensor.Shape{1}, []int64{1})
	require.NoError(t, err)
	g.AddInitializer("axes", axes)

	reshaped := g.GetOrCreateValue("reshaped")
	reduced := g.GetOrCreateValue("reduced")
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{reshaped, reduced})
	g.AddNode("rs", "Reshape", "", []*Value{x, g.GetOrCreateValue("spec")}, []*Value{reshaped}, nil, "")
	g.AddNode("red", "ReduceSum", "", []*Value{x, g.GetOrCreateValue("axes")}, []*Value{reduced},
		[]*Attribute{IntAttr("keepdims", 0)}, "")

	require.NoError(t, g.Resolve())
	assert.True(t, reshaped.Shape.Equal(ShapeOf(6, 4)), "got %v", reshaped.Shape)
	assert.True(t, reduced.Shape.Equal(ShapeOf(2, 4)), "got %v", reduced.Shape)
}
