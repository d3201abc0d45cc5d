package ir

import "github.com/mrshu/onnxruntime/internal/tensor"

// inferNode propagates element types and shapes from a node's inputs to its
// outputs. Best-effort: unknown operators and underspecified inputs leave
// the outputs untouched rather than failing.
func (g *Graph) inferNode(n *Node) {
	switch n.OpType {
	case "MatMul":
		inferMatMul(n, false, false)
	case "FusedMatMul":
		inferMatMul(n, n.AttrInt("transA", 0) != 0, n.AttrInt("transB", 0) != 0)
	case "Transpose":
		inferTranspose(n)
	case "Cast":
		inferCast(n)
	case "Add", "Sub", "Mul", "Div", "Pow":
		inferBroadcastBinary(n)
	case "Sum":
		inferSum(n)
	case "Identity", "Relu", "Sigmoid", "Tanh", "Neg", "Exp", "Log", "Sqrt",
		"Softmax", "LogSoftmax":
		inferSameAsInput(n)
	case "ReluGrad", "SigmoidGrad", "TanhGrad", "SoftmaxGrad", "LogSoftmaxGrad",
		"LayerNormalizationGrad", "InvertibleLayerNormalizationGrad":
		// Gradient kernels mirror the incoming gradient on their primary
		// output; secondary outputs (scale and bias gradients) are left to
		// runtime shapes.
		inferSameAsInput(n)
	case "LayerNormalization":
		// Only the primary output mirrors the input; the saved mean and
		// inverse-stddev outputs are runtime details.
		inferSameAsInput(n)
	case "Shape":
		inferShapeOp(n)
	case "Reshape":
		g.inferReshape(n)
	case "ReduceSum":
		g.inferReduceSum(n)
	case "Constant":
		inferConstant(n)
	case "YieldOp":
		inferYield(n)
	}
}

func firstDefined(values []*Value) (tensor.DataType, Shape) {
	for _, v := range values {
		if v != nil && v.Type != tensor.Undefined {
			return v.Type, v.Shape
		}
	}
	return tensor.Undefined, nil
}

func inferSameAsInput(n *Node) {
	if len(n.Inputs) == 0 || len(n.Outputs) == 0 || n.Inputs[0] == nil || n.Outputs[0] == nil {
		return
	}
	in := n.Inputs[0]
	out := n.Outputs[0]
	if in.Type != tensor.Undefined {
		out.Type = in.Type
	}
	if in.Shape != nil {
		out.Shape = in.Shape.Clone()
	}
}

func inferMatMul(n *Node, transA, transB bool) {
	if len(n.Inputs) < 2 || len(n.Outputs) == 0 {
		return
	}
	a, b := n.Inputs[0], n.Inputs[1]
	if a == nil || b == nil {
		return
	}
	out := n.Outputs[0]
	if a.Type != tensor.Undefined {
		out.Type = a.Type
	} else if b.Type != tensor.Undefined {
		out.Type = b.Type
	}
	if a.Shape == nil || b.Shape == nil || a.Rank() < 2 || b.Rank() < 2 {
		return
	}

	ra, rb := a.Rank(), b.Rank()
	m := a.Shape[ra-2]
	if transA {
		m = a.Shape[ra-1]
	}
	nn := b.Shape[rb-1]
	if transB {
		nn = b.Shape[rb-2]
	}

	batch, ok := broadcastDims(a.Shape[:ra-2], b.Shape[:rb-2])
	if !ok {
		return
	}
	shape := make(Shape, 0, len(batch)+2)
	shape = append(shape, batch...)
	shape = append(shape, m, nn)
	out.Shape = shape
}

func inferTranspose(n *Node) {
	if len(n.Inputs) == 0 || len(n.Outputs) == 0 || n.Inputs[0] == nil {
		return
	}
	in := n.Inputs[0]
	out := n.Outputs[0]
	if in.Type != tensor.Undefined {
		out.Type = in.Type
	}
	if in.Shape == nil {
		return
	}
	rank := in.Rank()
	perm, ok := n.AttrInts("perm")
	if !ok {
		perm = make([]int64, rank)
		for i := range perm {
			perm[i] = int64(rank - 1 - i)
		}
	}
	if len(perm) != rank {
		return
	}
	shape := make(Shape, rank)
	for i, p := range perm {
		if p < 0 || int(p) >= rank {
			return
		}
		shape[i] = in.Shape[p]
	}
	out.Shape = shape
}

func inferCast(n *Node) {
	if len(n.Inputs) == 0 || len(n.Outputs) == 0 || n.Inputs[0] == nil {
		return
	}
	in := n.Inputs[0]
	out := n.Outputs[0]
	if to, ok := tensor.FromONNXCode(int32(n.AttrInt("to", 0))); ok {
		out.Type = to
	}
	if in.Shape != nil {
		out.Shape = in.Shape.Clone()
	}
}

func inferBroadcastBinary(n *Node) {
	if len(n.Inputs) < 2 || len(n.Outputs) == 0 {
		return
	}
	a, b := n.Inputs[0], n.Inputs[1]
	if a == nil || b == nil {
		return
	}
	out := n.Outputs[0]
	if t, _ := firstDefined(n.Inputs[:2]); t != tensor.Undefined {
		out.Type = t
	}
	if a.Shape == nil || b.Shape == nil {
		return
	}
	if shape, ok := broadcastDims(a.Shape, b.Shape); ok {
		out.Shape = shape
	}
}

func inferSum(n *Node) {
	if len(n.Inputs) == 0 || len(n.Outputs) == 0 {
		return
	}
	out := n.Outputs[0]
	if t, _ := firstDefined(n.Inputs); t != tensor.Undefined {
		out.Type = t
	}
	if n.Inputs[0] == nil || n.Inputs[0].Shape == nil {
		return
	}
	shape := n.Inputs[0].Shape
	acc := shape.Clone()
	for _, in := range n.Inputs[1:] {
		if in == nil || in.Shape == nil {
			return
		}
		next, ok := broadcastDims(acc, in.Shape)
		if !ok {
			return
		}
		acc = next
	}
	out.Shape = acc
}

func inferShapeOp(n *Node) {
	if len(n.Inputs) == 0 || len(n.Outputs) == 0 || n.Inputs[0] == nil {
		return
	}
	out := n.Outputs[0]
	out.Type = tensor.Int64
	if n.Inputs[0].Shape != nil {
		out.Shape = ShapeOf(int64(n.Inputs[0].Rank()))
	}
}

func (g *Graph) inferReshape(n *Node) {
	if len(n.Inputs) < 2 || len(n.Outputs) == 0 || n.Inputs[0] == nil || n.Inputs[1] == nil {
		return
	}
	in := n.Inputs[0]
	out := n.Outputs[0]
	if in.Type != tensor.Undefined {
		out.Type = in.Type
	}
	spec, ok := g.Initializer(n.Inputs[1].Name)
	if !ok || spec.DType() != tensor.Int64 {
		return
	}
	target := spec.AsInt64()

	shape := make(Shape, len(target))
	inferAt := -1
	for i, d := range target {
		switch {
		case d == -1:
			if inferAt >= 0 {
				return
			}
			inferAt = i
			shape[i] = DimUnknown()
		case d == 0:
			// Copy the corresponding input dimension.
			if in.Shape == nil || i >= in.Rank() {
				return
			}
			shape[i] = in.Shape[i]
		default:
			shape[i] = DimOf(d)
		}
	}

	if inferAt >= 0 {
		if inDims, concrete := in.Shape.Concrete(); concrete {
			total := int64(1)
			for _, d := range inDims {
				total *= d
			}
			known := int64(1)
			resolvable := true
			for i, dm := range shape {
				if i == inferAt {
					continue
				}
				if !dm.Known() {
					resolvable = false
					break
				}
				known *= dm.Value
			}
			if resolvable && known != 0 {
				shape[inferAt] = DimOf(total / known)
			}
		}
	}
	out.Shape = shape
}

func (g *Graph) inferReduceSum(n *Node) {
	if len(n.Inputs) == 0 || len(n.Outputs) == 0 || n.Inputs[0] == nil {
		return
	}
	in := n.Inputs[0]
	out := n.Outputs[0]
	if in.Type != tensor.Undefined {
		out.Type = in.Type
	}
	if in.Shape == nil {
		return
	}
	rank := in.Rank()

	var axes []int64
	if len(n.Inputs) > 1 && n.Inputs[1] != nil && n.Inputs[1].Name != "" {
		spec, ok := g.Initializer(n.Inputs[1].Name)
		if !ok || spec.DType() != tensor.Int64 {
			return
		}
		axes = spec.AsInt64()
	} else if attrAxes, ok := n.AttrInts("axes"); ok {
		axes = attrAxes
	}

	reduce := make(map[int]bool, rank)
	if len(axes) == 0 {
		for i := 0; i < rank; i++ {
			reduce[i] = true
		}
	} else {
		for _, a := range axes {
			if a < 0 {
				a += int64(rank)
			}
			if a < 0 || a >= int64(rank) {
				return
			}
			reduce[int(a)] = true
		}
	}

	keepDims := n.AttrInt("keepdims", 1) != 0
	shape := make(Shape, 0, rank)
	for i, d := range in.Shape {
		if reduce[i] {
			if keepDims {
				shape = append(shape, DimOf(1))
			}
			continue
		}
		shape = append(shape, d)
	}
	out.Shape = shape
}

func inferConstant(n *Node) {
	if len(n.Outputs) == 0 {
		return
	}
	a, ok := n.Attr("value")
	if !ok || a.Kind != AttrTensor || a.T == nil {
		return
	}
	out := n.Outputs[0]
	out.Type = a.T.DType()
	shape := make(Shape, len(a.T.Shape()))
	for i, d := range a.T.Shape() {
		shape[i] = DimOf(int64(d))
	}
	out.Shape = shape
}

func inferYield(n *Node) {
	for i, out := range n.Outputs {
		if out == nil || i >= len(n.Inputs) || n.Inputs[i] == nil {
			continue
		}
		in := n.Inputs[i]
		if in.Type != tensor.Undefined {
			out.Type = in.Type
		}
		if in.Shape != nil {
			out.Shape = in.Shape.Clone()
		}
	}
}

// broadcastDims applies the broadcasting rules to two dimension lists,
// right-aligned. Symbolic dimensions agree when their names match; a known
// dimension greater than one dominates an unknown one.
func broadcastDims(a, b Shape) (Shape, bool) {
	maxLen := max(len(a), len(b))
	result := make(Shape, maxLen)
	for i := 0; i < maxLen; i++ {
		var da, db Dim
		hasA, hasB := false, false
		if idx := len(a) - 1 - i; idx >= 0 {
			da, hasA = a[idx], true
		}
		if idx := len(b) - 1 - i; idx >= 0 {
			db, hasB = b[idx], true
		}
		pos := maxLen - 1 - i

		switch {
		case !hasA:
			result[pos] = db
		case !hasB:
			result[pos] = da
		case da.Known() && db.Known():
			switch {
			case da.Value == db.Value:
				result[pos] = da
			case da.Value == 1:
				result[pos] = db
			case db.Value == 1:
				result[pos] = da
			default:
				return nil, false
			}
		case da.Known():
			if da.Value > 1 {
				result[pos] = da
			} else {
				result[pos] = DimUnknown()
			}
		case db.Known():
			if db.Value > 1 {
				result[pos] = db
			} else {
				result[pos] = DimUnknown()
			}
		default:
			if da.Equal(db) {
				result[pos] = da
			} else {
				result[pos] = DimUnknown()
			}
		}
	}
	return result, true
}
