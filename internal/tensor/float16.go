package tensor

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Float16BitsToFloat32 converts an IEEE 754 half-precision bit pattern to float32.
func Float16BitsToFloat32(bits uint16) float32 {
	return float16.Frombits(bits).Float32()
}

// Float32ToFloat16Bits converts a float32 to its IEEE 754 half-precision bit
// pattern with round-to-nearest-even.
func Float32ToFloat16Bits(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// BFloat16BitsToFloat32 converts a bfloat16 bit pattern to float32.
// bfloat16 is the upper half of the float32 representation.
func BFloat16BitsToFloat32(bits uint16) float32 {
	return math.Float32frombits(uint32(bits) << 16)
}

// Float32ToBFloat16Bits truncates a float32 to a bfloat16 bit pattern.
func Float32ToBFloat16Bits(f float32) uint16 {
	return uint16(math.Float32bits(f) >> 16)
}

// Float64Values decodes the tensor's elements to float64, whatever the
// element type. Useful for numeric comparison and type conversion.
func (r *RawTensor) Float64Values() ([]float64, error) {
	n := r.NumElements()
	out := make([]float64, n)
	switch r.dtype {
	case Float32:
		for i, v := range r.AsFloat32() {
			out[i] = float64(v)
		}
	case Float64:
		copy(out, r.AsFloat64())
	case Float16:
		for i, bits := range r.AsUint16() {
			out[i] = float64(Float16BitsToFloat32(bits))
		}
	case BFloat16:
		for i, bits := range r.AsUint16() {
			out[i] = float64(BFloat16BitsToFloat32(bits))
		}
	case Int32:
		for i, v := range r.AsInt32() {
			out[i] = float64(v)
		}
	case Int64:
		for i, v := range r.AsInt64() {
			out[i] = float64(v)
		}
	case Uint8:
		for i, v := range r.AsUint8() {
			out[i] = float64(v)
		}
	case Uint16:
		for i, v := range r.AsUint16() {
			out[i] = float64(v)
		}
	case Bool:
		for i, v := range r.AsBool() {
			if v {
				out[i] = 1
			}
		}
	default:
		return nil, fmt.Errorf("cannot decode dtype %s to float64", r.dtype)
	}
	return out, nil
}

// FromFloat64Values encodes float64 values into a fresh RawTensor of the
// requested element type, rounding as the type requires.
func FromFloat64Values(shape Shape, dtype DataType, values []float64) (*RawTensor, error) {
	t, err := NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	if len(values) != t.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %v (want %d)", len(values), shape, t.NumElements())
	}
	switch dtype {
	case Float32:
		dst := t.AsFloat32()
		for i, v := range values {
			dst[i] = float32(v)
		}
	case Float64:
		copy(t.AsFloat64(), values)
	case Float16:
		dst := t.AsUint16()
		for i, v := range values {
			dst[i] = Float32ToFloat16Bits(float32(v))
		}
	case BFloat16:
		dst := t.AsUint16()
		for i, v := range values {
			dst[i] = Float32ToBFloat16Bits(float32(v))
		}
	case Int32:
		dst := t.AsInt32()
		for i, v := range values {
			dst[i] = int32(v)
		}
	case Int64:
		dst := t.AsInt64()
		for i, v := range values {
			dst[i] = int64(v)
		}
	case Uint8:
		dst := t.AsUint8()
		for i, v := range values {
			dst[i] = uint8(v)
		}
	case Bool:
		dst := t.AsBool()
		for i, v := range values {
			dst[i] = v != 0
		}
	default:
		return nil, fmt.Errorf("cannot encode float64 values as dtype %s", dtype)
	}
	return t, nil
}
