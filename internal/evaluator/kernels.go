package evaluator

import (
	"errors"
	"fmt"

	"github.com/mrshu/onnxruntime/internal/backend/cpu"
	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/providers"
	"github.com/mrshu/onnxruntime/internal/tensor"
)

// kernel computes one node's outputs from its inputs in the environment.
type kernel func(*execution, *ir.Node) error

type opKey struct {
	Type   string
	Domain string
}

var kernels = map[opKey]kernel{
	{"Identity", ""}: func(ex *execution, n *ir.Node) error {
		x, err := ex.input(n, 0)
		if err != nil {
			return err
		}
		ex.set(n, 0, x.Clone())
		return nil
	},
	{"Add", ""}: binaryKernel(cpu.Add),
	{"Sub", ""}: binaryKernel(cpu.Sub),
	{"Mul", ""}: binaryKernel(cpu.Mul),
	{"Div", ""}: binaryKernel(cpu.Div),
	{"Neg", ""}: unaryKernel(cpu.Neg),
	{"Sum", ""}: func(ex *execution, n *ir.Node) error {
		inputs := make([]*tensor.RawTensor, len(n.Inputs))
		for i := range n.Inputs {
			t, err := ex.input(n, i)
			if err != nil {
				return err
			}
			inputs[i] = t
		}
		out, err := cpu.Sum(inputs...)
		if err != nil {
			return err
		}
		ex.set(n, 0, out)
		return nil
	},
	{"Relu", ""}:    unaryKernel(cpu.Relu),
	{"Sigmoid", ""}: unaryKernel(cpu.Sigmoid),
	{"Tanh", ""}:    unaryKernel(cpu.Tanh),
	{"MatMul", ""}:  binaryKernel(cpu.MatMul),
	{"Transpose", ""}: func(ex *execution, n *ir.Node) error {
		x, err := ex.input(n, 0)
		if err != nil {
			return err
		}
		perm, _ := n.AttrInts("perm")
		out, err := cpu.Transpose(x, perm)
		if err != nil {
			return err
		}
		ex.set(n, 0, out)
		return nil
	},
	{"Cast", ""}: func(ex *execution, n *ir.Node) error {
		x, err := ex.input(n, 0)
		if err != nil {
			return err
		}
		code := n.AttrInt("to", 0)
		to, ok := tensor.FromONNXCode(int32(code))
		if !ok {
			return fmt.Errorf("unsupported cast target code %d", code)
		}
		out, err := cpu.Cast(x, to)
		if err != nil {
			return err
		}
		ex.set(n, 0, out)
		return nil
	},
	{"Reshape", ""}: func(ex *execution, n *ir.Node) error {
		x, err := ex.input(n, 0)
		if err != nil {
			return err
		}
		target, err := ex.input(n, 1)
		if err != nil {
			return err
		}
		if target.DType() != tensor.Int64 {
			return fmt.Errorf("reshape target must be int64, got %s", target.DType())
		}
		out, err := cpu.Reshape(x, target.AsInt64())
		if err != nil {
			return err
		}
		ex.set(n, 0, out)
		return nil
	},
	{"Shape", ""}: func(ex *execution, n *ir.Node) error {
		x, err := ex.input(n, 0)
		if err != nil {
			return err
		}
		out, err := cpu.ShapeOf(x)
		if err != nil {
			return err
		}
		ex.set(n, 0, out)
		return nil
	},
	{"ReduceSum", ""}: func(ex *execution, n *ir.Node) error {
		x, err := ex.input(n, 0)
		if err != nil {
			return err
		}
		axesTensor, err := ex.optionalInput(n, 1)
		if err != nil {
			return err
		}
		var axes []int64
		if axesTensor != nil {
			if axesTensor.DType() != tensor.Int64 {
				return fmt.Errorf("axes must be int64, got %s", axesTensor.DType())
			}
			axes = axesTensor.AsInt64()
		}
		if len(axes) == 0 && n.AttrInt("noop_with_empty_axes", 0) != 0 {
			ex.set(n, 0, x.Clone())
			return nil
		}
		out, err := cpu.ReduceSum(x, axes, n.AttrInt("keepdims", 1) != 0)
		if err != nil {
			return err
		}
		ex.set(n, 0, out)
		return nil
	},
	{"Constant", ""}: func(ex *execution, n *ir.Node) error {
		a, ok := n.Attr("value")
		if !ok || a.Kind != ir.AttrTensor || a.T == nil {
			return errors.New("constant node has no tensor value")
		}
		ex.set(n, 0, a.T.Clone())
		return nil
	},
	{"FusedMatMul", providers.MicrosoftDomain}: func(ex *execution, n *ir.Node) error {
		a, err := ex.input(n, 0)
		if err != nil {
			return err
		}
		b, err := ex.input(n, 1)
		if err != nil {
			return err
		}
		out, err := cpu.FusedMatMul(a, b,
			n.AttrInt("transA", 0) != 0,
			n.AttrInt("transB", 0) != 0,
			n.AttrFloat("alpha", 1))
		if err != nil {
			return err
		}
		ex.set(n, 0, out)
		return nil
	},
	{"ReluGrad", providers.MicrosoftDomain}:    binaryKernel(cpu.ReluGrad),
	{"SigmoidGrad", providers.MicrosoftDomain}: binaryKernel(cpu.SigmoidGrad),
	{"TanhGrad", providers.MicrosoftDomain}:    binaryKernel(cpu.TanhGrad),

	// The yield node marks the forward/backward boundary; its outputs are
	// the seed gradients and must arrive as feeds.
	{"YieldOp", providers.MicrosoftDomain}: func(ex *execution, n *ir.Node) error {
		for _, o := range n.Outputs {
			if o == nil || o.Name == "" {
				continue
			}
			if _, ok := ex.env[o.Name]; !ok {
				return fmt.Errorf("seed gradient %q must be fed", o.Name)
			}
		}
		return nil
	},
}

func binaryKernel(f func(a, b *tensor.RawTensor) (*tensor.RawTensor, error)) kernel {
	return func(ex *execution, n *ir.Node) error {
		a, err := ex.input(n, 0)
		if err != nil {
			return err
		}
		b, err := ex.input(n, 1)
		if err != nil {
			return err
		}
		out, err := f(a, b)
		if err != nil {
			return err
		}
		ex.set(n, 0, out)
		return nil
	}
}

func unaryKernel(f func(*tensor.RawTensor) (*tensor.RawTensor, error)) kernel {
	return func(ex *execution, n *ir.Node) error {
		x, err := ex.input(n, 0)
		if err != nil {
			return err
		}
		out, err := f(x)
		if err != nil {
			return err
		}
		ex.set(n, 0, out)
		return nil
	}
}
