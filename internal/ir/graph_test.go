package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

func TestGetOrCreateValue(t *testing.T) {
	g := NewGraph("test")

	a := g.GetOrCreateValue("a")
	b := g.GetOrCreateValue("a")
	assert.Same(t, a, b, "same name must yield the same canonical reference")

	v, ok := g.ValueRef("a")
	require.True(t, ok)
	assert.Same(t, a, v)

	_, ok = g.ValueRef("missing")
	assert.False(t, ok)
}

func TestAddInitializer(t *testing.T) {
	g := NewGraph("test")

	w, err := tensor.NewRawFromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	v := g.AddInitializer("w", w)
	assert.Equal(t, tensor.Float32, v.Type)
	assert.True(t, v.Shape.Equal(ShapeOf(2, 3)))
	assert.True(t, g.IsInitializer("w"))
	assert.Equal(t, []string{"w"}, g.InitializerNames())

	g.RemoveInitializer("w")
	assert.False(t, g.IsInitializer("w"))
	assert.Empty(t, g.InitializerNames())
	_, ok := g.ValueRef("w")
	assert.True(t, ok, "value reference survives initializer removal")
}

func TestBoundarySets(t *testing.T) {
	g := NewGraph("test")
	x := g.NewValue("x", tensor.Float32, ShapeOf(2))
	y := g.NewValue("y", tensor.Float32, ShapeOf(2))

	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y})

	assert.True(t, g.IsGraphInput("x"))
	assert.False(t, g.IsGraphInput("y"))
	assert.True(t, g.IsGraphOutput("y"))

	g.SetInputs(nil)
	assert.False(t, g.IsGraphInput("x"))
}

func TestGenerateNames(t *testing.T) {
	g := NewGraph("test")
	g.NewValue("fused", tensor.Float32, nil)

	first := g.GenerateValueName("fused")
	second := g.GenerateValueName("fused")
	assert.NotEqual(t, "fused", first)
	assert.NotEqual(t, first, second)

	x := g.NewValue("x", tensor.Float32, nil)
	out := g.NewValue("out", tensor.Float32, nil)
	g.AddNode("relu", "Relu", "", []*Value{x}, []*Value{out}, nil, "")

	name := g.GenerateNodeName("relu")
	assert.NotEqual(t, "relu", name)
	fresh := g.GenerateNodeName("mul")
	assert.Equal(t, "mul", fresh)
}

func TestGraphClone(t *testing.T) {
	g := NewGraph("orig")
	w, err := tensor.NewRawFromFloat32(tensor.Shape{2}, []float32{1, 2})
	require.NoError(t, err)
	g.AddInitializer("w", w)

	x := g.NewValue("x", tensor.Float32, ShapeOf(2))
	y := g.NewValue("y", tensor.Float32, ShapeOf(2))
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y})
	n := g.AddNode("add", "Add", "", []*Value{x, g.GetOrCreateValue("w")}, []*Value{y}, nil, "")
	n.SetAttr(IntAttr("marker", 7))

	c := g.Clone()

	// Same structure.
	require.Equal(t, 1, c.NumNodes())
	cn := c.Nodes()[0]
	assert.Equal(t, "Add", cn.OpType)
	assert.Equal(t, int64(7), cn.AttrInt("marker", 0))
	assert.True(t, c.IsGraphInput("x"))
	assert.True(t, c.IsGraphOutput("y"))
	p, ok := c.Producer("y")
	require.True(t, ok)
	assert.Equal(t, cn.Index(), p.Index())

	// Fully detached: mutating the clone leaves the original alone.
	cv, ok := c.ValueRef("x")
	require.True(t, ok)
	assert.NotSame(t, x, cv)
	cv.Shape = ShapeOf(99)
	assert.True(t, x.Shape.Equal(ShapeOf(2)))

	ct, ok := c.Initializer("w")
	require.True(t, ok)
	ct.AsFloat32()[0] = 42
	assert.Equal(t, float32(1), w.AsFloat32()[0])
}

func TestCloneNestedSubgraph(t *testing.T) {
	sub := NewGraph("body")
	sx := sub.NewValue("sx", tensor.Float32, nil)
	sy := sub.NewValue("sy", tensor.Float32, nil)
	sub.SetInputs([]*Value{sx})
	sub.SetOutputs([]*Value{sy})
	sub.AddNode("inner", "Relu", "", []*Value{sx}, []*Value{sy}, nil, "")

	g := NewGraph("outer")
	x := g.NewValue("x", tensor.Float32, nil)
	y := g.NewValue("y", tensor.Float32, nil)
	g.SetInputs([]*Value{x})
	g.SetOutputs([]*Value{y})
	loop := g.AddNode("loop", "Loop", "", []*Value{x}, []*Value{y}, []*Attribute{GraphAttr("body", sub)}, "")

	assert.True(t, sub.Nested())

	c := g.Clone()
	cloned := c.NodeAt(loop.Index())
	require.NotNil(t, cloned)
	subs := cloned.Subgraphs()
	require.Len(t, subs, 1)
	assert.NotSame(t, sub, subs[0])
	assert.True(t, subs[0].Nested())
	assert.Equal(t, 1, subs[0].NumNodes())
}
