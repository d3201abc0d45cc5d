package cpu

import (
	"math"

	"github.com/mrshu/onnxruntime/internal/tensor"
)

// Relu computes max(x, 0) element-wise.
func Relu(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return mapUnary("relu", x,
		func(v float32) float32 { return max(v, 0) },
		func(v float64) float64 { return max(v, 0) })
}

// Sigmoid computes 1/(1+exp(-x)) element-wise.
func Sigmoid(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return mapUnary("sigmoid", x,
		func(v float32) float32 { return float32(1 / (1 + math.Exp(-float64(v)))) },
		func(v float64) float64 { return 1 / (1 + math.Exp(-v)) })
}

// Tanh computes the hyperbolic tangent element-wise.
func Tanh(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return mapUnary("tanh", x,
		func(v float32) float32 { return float32(math.Tanh(float64(v))) },
		func(v float64) float64 { return math.Tanh(v) })
}

// ReluGrad masks the incoming gradient where the forward value was not
// positive. The second operand may be the rectifier's input or its output;
// both have the same sign pattern.
func ReluGrad(dy, v *tensor.RawTensor) (*tensor.RawTensor, error) {
	return broadcastBinary("relugrad", dy, v,
		func(g, x float32) float32 {
			if x > 0 {
				return g
			}
			return 0
		},
		func(g, x float64) float64 {
			if x > 0 {
				return g
			}
			return 0
		})
}

// SigmoidGrad computes dy * y * (1 - y) from the incoming gradient and the
// forward output.
func SigmoidGrad(dy, y *tensor.RawTensor) (*tensor.RawTensor, error) {
	return broadcastBinary("sigmoidgrad", dy, y,
		func(g, v float32) float32 { return g * v * (1 - v) },
		func(g, v float64) float64 { return g * v * (1 - v) })
}

// TanhGrad computes dy * (1 - y*y) from the incoming gradient and the
// forward output.
func TanhGrad(dy, y *tensor.RawTensor) (*tensor.RawTensor, error) {
	return broadcastBinary("tanhgrad", dy, y,
		func(g, v float32) float32 { return g * (1 - v*v) },
		func(g, v float64) float64 { return g * (1 - v*v) })
}
