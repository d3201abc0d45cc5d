package gradient

import (
	"fmt"
	"log/slog"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/tensor"
)

// ComputeBroadcastBackwardAxes determines, for each operand of a
// broadcasting binary operator, the result axes its gradient must be
// summed over to recover the operand's shape. Dimensions are compared
// right-aligned; a concrete 1 against a larger dimension marks a reduction
// axis, leading axes missing from the shorter operand are reduced entirely,
// and symbolic dimensions are trusted to match at runtime (a mismatch only
// warns, mirroring the relaxed broadcast contract). Axes come back in
// descending order.
func ComputeBroadcastBackwardAxes(aDims, bDims ir.Shape, nodeName string, logger *slog.Logger) (aAxes, bAxes []int64) {
	ndim := aDims.Rank()
	if bDims.Rank() > ndim {
		ndim = bDims.Rank()
	}
	i := aDims.Rank() - 1
	j := bDims.Rank() - 1
	k := ndim - 1

	for ; i >= 0 && j >= 0; k-- {
		a, b := aDims[i], bDims[j]
		switch {
		case a.Known() && b.Known():
			if a.Value != b.Value {
				if a.Value == 1 {
					aAxes = append(aAxes, int64(k))
				}
				if b.Value == 1 {
					bAxes = append(bAxes, int64(k))
				}
			}
		case a.Param != "" && b.Param != "":
			if a.Param != b.Param && logger != nil {
				logger.Warn("symbolic dimensions expected to match for broadcast gradient",
					"node", nodeName, "a", aDims.String(), "b", bDims.String())
			}
		case a.Param != "" && b.Known():
			if b.Value != 1 {
				if logger != nil {
					logger.Warn("symbolic broadcasting expects the concrete dimension to be 1",
						"node", nodeName, "a", aDims.String(), "b", bDims.String())
				}
			} else {
				bAxes = append(bAxes, int64(k))
			}
		case a.Known() && b.Param != "":
			if a.Value != 1 {
				if logger != nil {
					logger.Warn("symbolic broadcasting expects the concrete dimension to be 1",
						"node", nodeName, "a", aDims.String(), "b", bDims.String())
				}
			} else {
				aAxes = append(aAxes, int64(k))
			}
		}
		i--
		j--
	}

	if i < 0 {
		for ; k >= 0; k-- {
			aAxes = append(aAxes, int64(k))
		}
	} else {
		for ; k >= 0; k-- {
			bAxes = append(bAxes, int64(k))
		}
	}
	return aAxes, bAxes
}

// reduceForBroadcast emits the nodes summing inputGrad (shaped gradShape)
// over axes so it matches target's shape, writing the result to outputGrad.
// A single ReduceSum suffices when the reduced shape already equals the
// target; otherwise the reduction keeps dims and a Reshape against the
// target's runtime shape restores the exact form.
func (c *Context) reduceForBroadcast(inputGrad string, gradShape ir.Shape, target string, targetShape ir.Shape, outputGrad string, axes []int64) (GradientDef, error) {
	if gradShape == nil {
		return nil, fmt.Errorf("broadcast reduction of %q onto %q: gradient shape unknown", inputGrad, target)
	}
	keepDims := gradShape.Rank() == targetShape.Rank()

	axisSet := make(map[int64]bool, len(axes))
	for _, a := range axes {
		axisSet[a] = true
	}
	reduced := make(ir.Shape, 0, gradShape.Rank())
	for i, d := range gradShape {
		if axisSet[int64(i)] {
			if keepDims {
				reduced = append(reduced, ir.DimOf(1))
			}
			continue
		}
		reduced = append(reduced, d)
	}

	if targetShape.Equal(reduced) {
		return c.addReduceSum(inputGrad, outputGrad, axes, keepDims)
	}

	partial := c.IA("ReduceSum_" + inputGrad + "_for_" + target)
	def, err := c.addReduceSum(inputGrad, partial, axes, true)
	if err != nil {
		return nil, err
	}
	shapeName := c.IA(target + "_shape")
	def = append(def,
		NodeDef{OpType: "Shape", Inputs: []string{target}, Outputs: []string{shapeName}},
		NodeDef{OpType: "Reshape", Inputs: []string{partial, shapeName}, Outputs: []string{outputGrad}},
	)
	return def, nil
}

// addReduceSum emits a ReduceSum over the given axes. The axes ride along
// as an int64 initializer, matching the opset-13 operator signature.
func (c *Context) addReduceSum(in, out string, axes []int64, keepDims bool) (GradientDef, error) {
	axesName := c.IA("ReduceAxes_for_" + out)
	t, err := tensor.NewRawFromInt64(tensor.Shape{len(axes)}, axes)
	if err != nil {
		return nil, fmt.Errorf("materializing reduction axes for %q: %w", out, err)
	}
	c.b.g.AddInitializer(axesName, t)

	kd := int64(0)
	if keepDims {
		kd = 1
	}
	return GradientDef{{
		OpType:  "ReduceSum",
		Inputs:  []string{in, axesName},
		Outputs: []string{out},
		Attrs:   []*ir.Attribute{ir.IntAttr("keepdims", kd)},
	}}, nil
}
