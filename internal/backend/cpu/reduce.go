package cpu

import (
	"fmt"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

// ReduceSum sums x over the given axes. Negative axes count from the back;
// an empty axes list reduces every dimension. With keepdims the reduced
// dimensions stay as size 1, otherwise they are dropped.
func ReduceSum(x *tensor.RawTensor, axes []int64, keepdims bool) (*tensor.RawTensor, error) {
	shape := x.Shape()
	rank := len(shape)

	reduced := make([]bool, rank)
	if len(axes) == 0 {
		for i := range reduced {
			reduced[i] = true
		}
	}
	for _, a := range axes {
		ax := int(a)
		if ax < 0 {
			ax += rank
		}
		if ax < 0 || ax >= rank {
			return nil, fmt.Errorf("reducesum: axis %d out of range for shape %v", a, shape)
		}
		reduced[ax] = true
	}

	// Accumulate into the keepdims layout; squeeze afterwards if asked.
	kept := make(tensor.Shape, rank)
	for i, d := range shape {
		if reduced[i] {
			kept[i] = 1
		} else {
			kept[i] = d
		}
	}
	out, err := tensor.NewRaw(kept, x.DType())
	if err != nil {
		return nil, fmt.Errorf("reducesum: %w", err)
	}

	inStrides := shape.ComputeStrides()
	contrib := broadcastStrides(kept, shape)

	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), out.AsFloat32()
		for i := range src {
			dst[flatOffset(i, inStrides, contrib)] += src[i]
		}
	case tensor.Float64:
		src, dst := x.AsFloat64(), out.AsFloat64()
		for i := range src {
			dst[flatOffset(i, inStrides, contrib)] += src[i]
		}
	default:
		return nil, fmt.Errorf("reducesum: unsupported dtype %s", x.DType())
	}

	if keepdims {
		return out, nil
	}
	squeezed := make(tensor.Shape, 0, rank)
	for i, d := range shape {
		if !reduced[i] {
			squeezed = append(squeezed, d)
		}
	}
	return tensor.NewRawFromBytes(squeezed, x.DType(), out.Data())
}
