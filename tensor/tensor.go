// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense host tensors that graph initializers
// and the reference evaluator work with.
//
// # Overview
//
// A RawTensor is a byte buffer plus shape and element type. This package
// provides:
//   - RawTensor construction from typed slices or raw bytes
//   - Typed views (AsFloat32, AsInt64, ...) over the buffer
//   - NumPy-style broadcast shape computation
//   - float16/bfloat16 decoding for serialized weights
//
// # Basic Usage
//
//	w, err := tensor.NewRawFromFloat32(tensor.Shape{3, 4}, weights)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	g.AddInitializer("w", w)
package tensor

import (
	"github.com/mrshu/onnxruntime/internal/tensor"
)

// RawTensor is a dense host tensor.
type RawTensor = tensor.RawTensor

// Shape represents the concrete dimensions of a tensor.
// Example: Shape{2, 3, 4} is a 3-D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// DataType represents the element type of a tensor.
type DataType = tensor.DataType

// Element type constants.
const (
	Undefined DataType = tensor.Undefined
	Float32   DataType = tensor.Float32
	Float64   DataType = tensor.Float64
	Float16   DataType = tensor.Float16
	BFloat16  DataType = tensor.BFloat16
	Int8      DataType = tensor.Int8
	Int16     DataType = tensor.Int16
	Int32     DataType = tensor.Int32
	Int64     DataType = tensor.Int64
	Uint8     DataType = tensor.Uint8
	Uint16    DataType = tensor.Uint16
	Uint32    DataType = tensor.Uint32
	Uint64    DataType = tensor.Uint64
	Bool      DataType = tensor.Bool
)

// NewRaw creates a zero-initialized tensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// NewRawFromBytes creates a tensor copying the given raw buffer.
func NewRawFromBytes(shape Shape, dtype DataType, raw []byte) (*RawTensor, error) {
	return tensor.NewRawFromBytes(shape, dtype, raw)
}

// NewRawFromFloat32 creates a Float32 tensor from a value slice.
func NewRawFromFloat32(shape Shape, values []float32) (*RawTensor, error) {
	return tensor.NewRawFromFloat32(shape, values)
}

// NewRawFromInt64 creates an Int64 tensor from a value slice.
func NewRawFromInt64(shape Shape, values []int64) (*RawTensor, error) {
	return tensor.NewRawFromInt64(shape, values)
}

// FromFloat64Values encodes float64 values into a tensor of the requested
// element type, rounding as the type requires.
func FromFloat64Values(shape Shape, dtype DataType, values []float64) (*RawTensor, error) {
	return tensor.FromFloat64Values(shape, dtype, values)
}

// BroadcastShapes applies NumPy broadcasting rules to two shapes. It
// returns the broadcast shape, whether any stretching is needed, and an
// error if the shapes are incompatible.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}
