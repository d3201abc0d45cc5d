package gradient

import (
	"fmt"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/providers"
)

// The activation gradients are extension-domain kernels computing the
// derivative from the forward output, so the input tensor never needs to be
// kept alive for the backward pass.

func gradRelu(c *Context) (GradientDef, error) {
	return activationGradient(c, "ReluGrad")
}

func gradSigmoid(c *Context) (GradientDef, error) {
	return activationGradient(c, "SigmoidGrad")
}

func gradTanh(c *Context) (GradientDef, error) {
	return activationGradient(c, "TanhGrad")
}

func activationGradient(c *Context, opType string) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	return GradientDef{{
		OpType:  opType,
		Domain:  providers.MicrosoftDomain,
		Inputs:  []string{gy, c.O(0)},
		Outputs: []string{c.GI(0)},
	}}, nil
}

func gradSoftmax(c *Context) (GradientDef, error) {
	return softmaxGradient(c, "SoftmaxGrad")
}

func gradLogSoftmax(c *Context) (GradientDef, error) {
	return softmaxGradient(c, "LogSoftmaxGrad")
}

func softmaxGradient(c *Context, opType string) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	return GradientDef{{
		OpType:  opType,
		Domain:  providers.MicrosoftDomain,
		Inputs:  []string{gy, c.O(0)},
		Outputs: []string{c.GI(0)},
		Attrs:   []*ir.Attribute{ir.IntAttr("axis", c.Node().AttrInt("axis", -1))},
	}}, nil
}

// gradLayerNormalization differentiates through the saved mean and inverse
// standard deviation, producing the input, scale and bias gradients in one
// kernel. The invertible variant recomputes the normalized input from the
// forward output instead of reading it, which requires the bias operand.
func gradLayerNormalization(c *Context) (GradientDef, error) {
	n := c.Node()
	gy := c.GO(0)
	if gy == "" {
		return nil, fmt.Errorf("gradient for LayerNormalization node %q requires the primary output gradient", n.Name)
	}
	if len(n.Outputs) < 3 || n.Outputs[1] == nil || n.Outputs[2] == nil {
		return nil, fmt.Errorf("gradient for LayerNormalization node %q requires the saved mean and inverse standard deviation outputs", n.Name)
	}
	axis := n.AttrInt("axis", -1)
	hasBias := len(n.Inputs) > 2 && n.Inputs[2] != nil && n.Inputs[2].Name != ""

	outputs := []string{c.GI(0), c.GI(1)}
	if hasBias {
		outputs = append(outputs, c.GI(2))
	}

	if c.InvertibleLayerNormGrad() && hasBias {
		return GradientDef{{
			OpType:  "InvertibleLayerNormalizationGrad",
			Domain:  providers.MicrosoftDomain,
			Inputs:  []string{gy, c.O(0), c.I(1), c.I(2), c.O(2)},
			Outputs: outputs,
			Attrs:   []*ir.Attribute{ir.IntAttr("axis", axis)},
		}}, nil
	}
	return GradientDef{{
		OpType:  "LayerNormalizationGrad",
		Domain:  providers.MicrosoftDomain,
		Inputs:  []string{gy, c.I(0), c.I(1), c.O(1), c.O(2)},
		Outputs: outputs,
		Attrs:   []*ir.Attribute{ir.IntAttr("axis", axis)},
	}}, nil
}
