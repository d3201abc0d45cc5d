package cpu

import (
	"errors"
	"fmt"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

// broadcastStrides returns, for each dimension of outShape, the element
// stride into a tensor of inShape. Dimensions that inShape broadcasts over
// (size 1, or missing on the left) get stride 0.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	strides := make([]int, len(outShape))
	orig := inShape.ComputeStrides()
	offset := len(outShape) - len(inShape)
	for i := range outShape {
		inIdx := i - offset
		switch {
		case inIdx < 0:
			strides[i] = 0
		case inShape[inIdx] == 1:
			strides[i] = 0
		default:
			strides[i] = orig[inIdx]
		}
	}
	return strides
}

// flatOffset maps a linear index over the output layout to the element
// offset in an input, decomposing via outStrides and re-accumulating with
// the input's broadcast-adjusted strides.
func flatOffset(outIdx int, outStrides, inStrides []int) int {
	off := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		off += coord * inStrides[i]
	}
	return off
}

func zipOp[T float32 | float64](dst, a, b []T, outShape, aShape, bShape tensor.Shape, f func(T, T) T) {
	sa := broadcastStrides(aShape, outShape)
	sb := broadcastStrides(bShape, outShape)
	so := outShape.ComputeStrides()
	for i := range dst {
		dst[i] = f(a[flatOffset(i, so, sa)], b[flatOffset(i, so, sb)])
	}
}

func broadcastBinary(op string, a, b *tensor.RawTensor, f32 func(float32, float32) float32, f64 func(float64, float64) float64) (*tensor.RawTensor, error) {
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("%s: dtype mismatch %s vs %s", op, a.DType(), b.DType())
	}
	outShape, _, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := tensor.NewRaw(outShape, a.DType())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch a.DType() {
	case tensor.Float32:
		zipOp(out.AsFloat32(), a.AsFloat32(), b.AsFloat32(), outShape, a.Shape(), b.Shape(), f32)
	case tensor.Float64:
		zipOp(out.AsFloat64(), a.AsFloat64(), b.AsFloat64(), outShape, a.Shape(), b.Shape(), f64)
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %s", op, a.DType())
	}
	return out, nil
}

func mapUnary(op string, x *tensor.RawTensor, f32 func(float32) float32, f64 func(float64) float64) (*tensor.RawTensor, error) {
	out, err := tensor.NewRaw(x.Shape(), x.DType())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), out.AsFloat32()
		for i, v := range src {
			dst[i] = f32(v)
		}
	case tensor.Float64:
		src, dst := x.AsFloat64(), out.AsFloat64()
		for i, v := range src {
			dst[i] = f64(v)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %s", op, x.DType())
	}
	return out, nil
}

// Add computes a + b with numpy broadcasting.
func Add(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return broadcastBinary("add", a, b,
		func(x, y float32) float32 { return x + y },
		func(x, y float64) float64 { return x + y })
}

// Sub computes a - b with numpy broadcasting.
func Sub(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return broadcastBinary("sub", a, b,
		func(x, y float32) float32 { return x - y },
		func(x, y float64) float64 { return x - y })
}

// Mul computes a * b element-wise with numpy broadcasting.
func Mul(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return broadcastBinary("mul", a, b,
		func(x, y float32) float32 { return x * y },
		func(x, y float64) float64 { return x * y })
}

// Div computes a / b element-wise with numpy broadcasting.
func Div(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return broadcastBinary("div", a, b,
		func(x, y float32) float32 { return x / y },
		func(x, y float64) float64 { return x / y })
}

// Neg computes -x element-wise.
func Neg(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return mapUnary("neg", x,
		func(v float32) float32 { return -v },
		func(v float64) float64 { return -v })
}

// Sum adds any number of tensors, broadcasting pairwise left to right.
func Sum(inputs ...*tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(inputs) == 0 {
		return nil, errors.New("sum: no inputs")
	}
	acc := inputs[0].Clone()
	for _, x := range inputs[1:] {
		next, err := Add(acc, x)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}
