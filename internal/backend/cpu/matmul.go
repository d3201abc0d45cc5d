package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

// MatMul multiplies two tensors with numpy matmul semantics: 1-D operands
// are promoted to matrices, leading batch dimensions broadcast against each
// other, and the trailing two dimensions are contracted.
func MatMul(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return matmul(a, b, false, false, 1)
}

// FusedMatMul multiplies a and b, optionally reading either stored operand
// as its transpose, and scales the product by alpha. Operands must be at
// least 2-D; batch dimensions broadcast as in MatMul.
func FusedMatMul(a, b *tensor.RawTensor, transA, transB bool, alpha float32) (*tensor.RawTensor, error) {
	if len(a.Shape()) < 2 || len(b.Shape()) < 2 {
		return nil, fmt.Errorf("fusedmatmul: operands must be at least 2-D, got %v @ %v", a.Shape(), b.Shape())
	}
	return matmul(a, b, transA, transB, alpha)
}

func matmul(a, b *tensor.RawTensor, transA, transB bool, alpha float32) (*tensor.RawTensor, error) {
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("matmul: dtype mismatch %s vs %s", a.DType(), b.DType())
	}
	aShape := a.Shape()
	bShape := b.Shape()
	if len(aShape) == 0 || len(bShape) == 0 {
		return nil, fmt.Errorf("matmul: scalar operand in %v @ %v", aShape, bShape)
	}

	// numpy vector promotion: a 1-D left operand becomes a single row, a
	// 1-D right operand a single column, and the padded dimension is
	// dropped from the result.
	dropRow, dropCol := false, false
	if len(aShape) == 1 {
		aShape = tensor.Shape{1, aShape[0]}
		dropRow = true
	}
	if len(bShape) == 1 {
		bShape = tensor.Shape{bShape[0], 1}
		dropCol = true
	}

	aR, aC := aShape[len(aShape)-2], aShape[len(aShape)-1]
	bR, bC := bShape[len(bShape)-2], bShape[len(bShape)-1]
	m, k := aR, aC
	if transA {
		m, k = aC, aR
	}
	kb, n := bR, bC
	if transB {
		kb, n = bC, bR
	}
	if k != kb {
		return nil, fmt.Errorf("matmul: inner dimension mismatch %v @ %v", a.Shape(), b.Shape())
	}

	batch, _, err := tensor.BroadcastShapes(aShape[:len(aShape)-2], bShape[:len(bShape)-2])
	if err != nil {
		return nil, fmt.Errorf("matmul: batch dimensions incompatible: %w", err)
	}

	outShape := append(batch.Clone(), m, n)
	out, err := tensor.NewRaw(outShape, a.DType())
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}

	// Strides here count whole matrices, not elements.
	batchStrides := batch.ComputeStrides()
	stridesA := broadcastStrides(aShape[:len(aShape)-2], batch)
	stridesB := broadcastStrides(bShape[:len(bShape)-2], batch)
	sizeA, sizeB, sizeC := aR*aC, bR*bC, m*n

	tA, tB := blas.NoTrans, blas.NoTrans
	if transA {
		tA = blas.Trans
	}
	if transB {
		tB = blas.Trans
	}

	switch a.DType() {
	case tensor.Float32:
		da, db, dc := a.AsFloat32(), b.AsFloat32(), out.AsFloat32()
		for i := 0; i < batch.NumElements(); i++ {
			offA := flatOffset(i, batchStrides, stridesA) * sizeA
			offB := flatOffset(i, batchStrides, stridesB) * sizeB
			ga := blas32.General{Rows: aR, Cols: aC, Stride: aC, Data: da[offA : offA+sizeA]}
			gb := blas32.General{Rows: bR, Cols: bC, Stride: bC, Data: db[offB : offB+sizeB]}
			gc := blas32.General{Rows: m, Cols: n, Stride: n, Data: dc[i*sizeC : (i+1)*sizeC]}
			blas32.Gemm(tA, tB, alpha, ga, gb, 0, gc)
		}
	case tensor.Float64:
		da, db, dc := a.AsFloat64(), b.AsFloat64(), out.AsFloat64()
		for i := 0; i < batch.NumElements(); i++ {
			offA := flatOffset(i, batchStrides, stridesA) * sizeA
			offB := flatOffset(i, batchStrides, stridesB) * sizeB
			ga := blas64.General{Rows: aR, Cols: aC, Stride: aC, Data: da[offA : offA+sizeA]}
			gb := blas64.General{Rows: bR, Cols: bC, Stride: bC, Data: db[offB : offB+sizeB]}
			gc := blas64.General{Rows: m, Cols: n, Stride: n, Data: dc[i*sizeC : (i+1)*sizeC]}
			blas64.Gemm(tA, tB, float64(alpha), ga, gb, 0, gc)
		}
	default:
		return nil, fmt.Errorf("matmul: unsupported dtype %s", a.DType())
	}

	if dropRow || dropCol {
		final := batch.Clone()
		if !dropRow {
			final = append(final, m)
		}
		if !dropCol {
			final = append(final, n)
		}
		return tensor.NewRawFromBytes(final, out.DType(), out.Data())
	}
	return out, nil
}
