package gradient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mrshu/onnxruntime/internal/ir"
)

func TestBroadcastAxesEqualShapes(t *testing.T) {
	aAxes, bAxes := ComputeBroadcastBackwardAxes(ir.ShapeOf(2, 3, 4), ir.ShapeOf(2, 3, 4), "n", nil)
	assert.Empty(t, aAxes)
	assert.Empty(t, bAxes)
}

func TestBroadcastAxesOneDims(t *testing.T) {
	aAxes, bAxes := ComputeBroadcastBackwardAxes(ir.ShapeOf(2, 1, 4), ir.ShapeOf(2, 3, 4), "n", nil)
	assert.Equal(t, []int64{1}, aAxes)
	assert.Empty(t, bAxes)

	// Both operands broadcast, on different axes.
	aAxes, bAxes = ComputeBroadcastBackwardAxes(ir.ShapeOf(5, 1), ir.ShapeOf(1, 3), "n", nil)
	assert.Equal(t, []int64{1}, aAxes)
	assert.Equal(t, []int64{0}, bAxes)
}

func TestBroadcastAxesRankMismatch(t *testing.T) {
	// The shorter operand is summed over the leading axes it lacks.
	aAxes, bAxes := ComputeBroadcastBackwardAxes(ir.ShapeOf(2, 3, 4), ir.ShapeOf(3, 4), "n", nil)
	assert.Empty(t, aAxes)
	assert.Equal(t, []int64{0}, bAxes)
}

func TestBroadcastAxesScalarOperand(t *testing.T) {
	aAxes, bAxes := ComputeBroadcastBackwardAxes(ir.Shape{}, ir.ShapeOf(2, 3), "n", nil)
	assert.Equal(t, []int64{1, 0}, aAxes)
	assert.Empty(t, bAxes)
}

func TestBroadcastAxesDescendingOrder(t *testing.T) {
	aAxes, bAxes := ComputeBroadcastBackwardAxes(ir.ShapeOf(1, 1), ir.ShapeOf(2, 2), "n", nil)
	assert.Equal(t, []int64{1, 0}, aAxes)
	assert.Empty(t, bAxes)
}

func TestBroadcastAxesSymbolic(t *testing.T) {
	batch := ir.DimNamed("batch")

	// Matching symbols reduce nothing.
	aAxes, bAxes := ComputeBroadcastBackwardAxes(
		ir.Shape{batch, ir.DimOf(3)}, ir.Shape{batch, ir.DimOf(3)}, "n", nil)
	assert.Empty(t, aAxes)
	assert.Empty(t, bAxes)

	// A concrete 1 against a symbol is the broadcast side.
	aAxes, bAxes = ComputeBroadcastBackwardAxes(
		ir.Shape{ir.DimOf(1), ir.DimOf(3)}, ir.Shape{batch, ir.DimOf(3)}, "n", nil)
	assert.Equal(t, []int64{0}, aAxes)
	assert.Empty(t, bAxes)

	// Mismatched symbols are trusted to agree at runtime.
	aAxes, bAxes = ComputeBroadcastBackwardAxes(
		ir.Shape{ir.DimNamed("m")}, ir.Shape{batch}, "n", nil)
	assert.Empty(t, aAxes)
	assert.Empty(t, bAxes)

	// A concrete dimension other than 1 against a symbol cannot be resolved
	// statically and reduces nothing.
	aAxes, bAxes = ComputeBroadcastBackwardAxes(
		ir.Shape{ir.DimOf(4)}, ir.Shape{batch}, "n", nil)
	assert.Empty(t, aAxes)
	assert.Empty(t, bAxes)
}
