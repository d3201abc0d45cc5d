package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

// chainGraph builds x -> Transpose -> t_out -> MatMul(t_out, w) -> y.
func chainGraph(t *testing.T) (*Graph, *Node, *Node) {
	t.Helper()
	g := NewGraph("chain")
	x := g.NewValue("x", tensor.Float32, ShapeOf(3, 2))
	w := g.NewValue("w", tensor.Float32, ShapeOf(3, 4))
	tOut := g.NewValue("t_out", tensor.Float32, ShapeOf(2, 3))
	y := g.NewValue("y", tensor.Float32, nil)

	g.SetInputs([]*Value{x, w})
	g.SetOutputs([]*Value{y})

	tr := g.AddNode("tr", "Transpose", "", []*Value{x}, []*Value{tOut}, nil, "")
	mm := g.AddNode("mm", "MatMul", "", []*Value{tOut, w}, []*Value{y}, nil, "")
	return g, tr, mm
}

func TestProducerConsumers(t *testing.T) {
	g, tr, mm := chainGraph(t)

	p, ok := g.Producer("t_out")
	require.True(t, ok)
	assert.Same(t, tr, p)

	_, ok = g.Producer("x")
	assert.False(t, ok, "graph inputs have no producing node")

	consumers := g.Consumers("t_out")
	require.Len(t, consumers, 1)
	assert.Same(t, mm, consumers[0])
	assert.Equal(t, 1, g.ConsumerCount("t_out"))
	assert.Equal(t, 0, g.ConsumerCount("y"))

	_, err := g.MustConsumers("y")
	assert.ErrorIs(t, err, ErrNoConsumers)
}

func TestConsumersDedupesSlots(t *testing.T) {
	g := NewGraph("square")
	x := g.NewValue("x", tensor.Float32, nil)
	y := g.NewValue("y", tensor.Float32, nil)
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y})
	mul := g.AddNode("sq", "Mul", "", []*Value{x, x}, []*Value{y}, nil, "")

	consumers := g.Consumers("x")
	require.Len(t, consumers, 1, "a node consuming a value twice counts once")
	assert.Same(t, mul, consumers[0])
}

func TestReplaceInput(t *testing.T) {
	g, tr, mm := chainGraph(t)
	x, _ := g.ValueRef("x")

	g.ReplaceInput(mm, 0, x)

	assert.Equal(t, "x", mm.Inputs[0].Name)
	assert.Equal(t, 0, g.ConsumerCount("t_out"))
	// x now feeds both the transpose and the matmul.
	assert.Equal(t, 2, g.ConsumerCount("x"))
	_ = tr
}

func TestRemoveNodeRequiresDetachedOutputs(t *testing.T) {
	g, tr, mm := chainGraph(t)

	err := g.RemoveNode(tr.Index())
	assert.ErrorIs(t, err, ErrNodeAttached, "t_out still consumed by the matmul")

	x, _ := g.ValueRef("x")
	g.ReplaceInput(mm, 0, x)
	require.NoError(t, g.RemoveNode(tr.Index()))

	assert.Equal(t, InvalidNodeIndex, tr.Index())
	assert.Nil(t, g.NodeAt(0))
	assert.Equal(t, 1, g.NumNodes())
	_, ok := g.Producer("t_out")
	assert.False(t, ok)

	err = g.RemoveNode(5)
	assert.ErrorIs(t, err, ErrNodeRemoved)
}

func TestRemoveNodeProtectsGraphOutputs(t *testing.T) {
	g, _, mm := chainGraph(t)
	err := g.RemoveNode(mm.Index())
	assert.ErrorIs(t, err, ErrNodeAttached, "y is a pinned graph output")
}

func TestFinalizeReplacement(t *testing.T) {
	g, tr, mm := chainGraph(t)
	x, _ := g.ValueRef("x")
	w, _ := g.ValueRef("w")

	// Stand-in fused replacement: same operands, takes over y.
	fused := g.AddNode("fused", "FusedMatMul", "", []*Value{x, w}, nil, nil, "com.microsoft")
	require.NoError(t, g.FinalizeReplacement(fused, mm))

	require.Len(t, fused.Outputs, 1)
	assert.Equal(t, "y", fused.Outputs[0].Name)
	p, ok := g.Producer("y")
	require.True(t, ok)
	assert.Same(t, fused, p)
	assert.Equal(t, InvalidNodeIndex, mm.Index())
	assert.True(t, g.IsGraphOutput("y"), "graph output pinning preserved")

	// The transpose is now consumer-free and removable.
	assert.Equal(t, 0, g.ConsumerCount("t_out"))
	require.NoError(t, g.RemoveNode(tr.Index()))
	require.NoError(t, g.Resolve())
}

func TestRewireConsumers(t *testing.T) {
	g := NewGraph("fanout")
	x := g.NewValue("x", tensor.Float32, nil)
	mid := g.NewValue("mid", tensor.Float32, nil)
	a := g.NewValue("a", tensor.Float32, nil)
	b := g.NewValue("b", tensor.Float32, nil)
	repl := g.NewValue("repl", tensor.Float32, nil)
	g.SetInputs([]*Value{x, repl})
	g.SetOutputs([]*Value{a, b})

	g.AddNode("id", "Identity", "", []*Value{x}, []*Value{mid}, nil, "")
	ra := g.AddNode("ra", "Relu", "", []*Value{mid}, []*Value{a}, nil, "")
	rb := g.AddNode("rb", "Relu", "", []*Value{mid}, []*Value{b}, nil, "")

	g.RewireConsumers(mid, repl, ra)

	assert.Equal(t, "mid", ra.Inputs[0].Name, "skipped node keeps its input")
	assert.Equal(t, "repl", rb.Inputs[0].Name)
	assert.Equal(t, 1, g.ConsumerCount("mid"))
	assert.Equal(t, 1, g.ConsumerCount("repl"))
}
