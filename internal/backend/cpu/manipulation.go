package cpu

import (
	"fmt"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

// Transpose permutes the dimensions of x. A nil perm reverses them.
func Transpose(x *tensor.RawTensor, perm []int64) (*tensor.RawTensor, error) {
	shape := x.Shape()
	rank := len(shape)

	if perm == nil {
		perm = make([]int64, rank)
		for i := range perm {
			perm[i] = int64(rank - 1 - i)
		}
	}
	if len(perm) != rank {
		return nil, fmt.Errorf("transpose: perm %v does not cover rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	for _, p := range perm {
		if p < 0 || int(p) >= rank || seen[p] {
			return nil, fmt.Errorf("transpose: perm %v is not a permutation of rank %d", perm, rank)
		}
		seen[p] = true
	}

	outShape := make(tensor.Shape, rank)
	for i, p := range perm {
		outShape[i] = shape[p]
	}
	out, err := tensor.NewRaw(outShape, x.DType())
	if err != nil {
		return nil, fmt.Errorf("transpose: %w", err)
	}

	// gather[i] is the input stride of the axis that output dimension i
	// reads from; the copy is dtype-agnostic, one element at a time.
	inStrides := shape.ComputeStrides()
	gather := make([]int, rank)
	for i, p := range perm {
		gather[i] = inStrides[p]
	}
	outStrides := outShape.ComputeStrides()

	size := x.DType().Size()
	src, dst := x.Data(), out.Data()
	for i := 0; i < x.NumElements(); i++ {
		off := flatOffset(i, outStrides, gather)
		copy(dst[i*size:(i+1)*size], src[off*size:(off+1)*size])
	}
	return out, nil
}

// Reshape reinterprets x's data with a new shape. A target entry of 0
// copies the input dimension at the same position; one entry may be -1 and
// is inferred from the element count.
func Reshape(x *tensor.RawTensor, target []int64) (*tensor.RawTensor, error) {
	newShape := make(tensor.Shape, len(target))
	infer := -1
	known := 1
	for i, d := range target {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape: more than one -1 in target %v", target)
			}
			infer = i
		case d == 0:
			if i >= len(x.Shape()) {
				return nil, fmt.Errorf("reshape: target %v copies input dimension %d, but input is %v", target, i, x.Shape())
			}
			newShape[i] = x.Shape()[i]
			known *= newShape[i]
		case d < 0:
			return nil, fmt.Errorf("reshape: invalid target dimension %d", d)
		default:
			newShape[i] = int(d)
			known *= newShape[i]
		}
	}
	if infer >= 0 {
		if known == 0 || x.NumElements()%known != 0 {
			return nil, fmt.Errorf("reshape: cannot infer -1 in %v for %d elements", target, x.NumElements())
		}
		newShape[infer] = x.NumElements() / known
	}
	if newShape.NumElements() != x.NumElements() {
		return nil, fmt.Errorf("reshape: cannot reshape %v into %v", x.Shape(), newShape)
	}
	return tensor.NewRawFromBytes(newShape, x.DType(), x.Data())
}

// Cast converts x to the given element type through a float64 intermediate.
func Cast(x *tensor.RawTensor, to tensor.DataType) (*tensor.RawTensor, error) {
	if to == x.DType() {
		return x.Clone(), nil
	}
	values, err := x.Float64Values()
	if err != nil {
		return nil, fmt.Errorf("cast: %w", err)
	}
	out, err := tensor.FromFloat64Values(x.Shape(), to, values)
	if err != nil {
		return nil, fmt.Errorf("cast: %w", err)
	}
	return out, nil
}

// ShapeOf returns x's dimensions as a 1-D int64 tensor.
func ShapeOf(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	shape := x.Shape()
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	return tensor.NewRawFromInt64(tensor.Shape{len(shape)}, dims)
}
