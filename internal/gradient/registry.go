package gradient

import "github.com/mrshu/onnxruntime/internal/providers"

// Rule produces the backward subgraph for one forward node. The context
// carries the node, its gradient naming and the builder's bookkeeping; a
// rule that cannot build a valid gradient returns a descriptive error.
type Rule func(c *Context) (GradientDef, error)

type opKey struct {
	opType string
	domain string
}

// defaultRules is the built-in derivative table, keyed by operator type and
// domain.
func defaultRules() map[opKey]Rule {
	return map[opKey]Rule{
		{"Add", ""}:                gradAdd,
		{"Sub", ""}:                gradSub,
		{"Mul", ""}:                gradMul,
		{"Div", ""}:                gradDiv,
		{"Sum", ""}:                gradSum,
		{"Neg", ""}:                gradNeg,
		{"Exp", ""}:                gradExp,
		{"Log", ""}:                gradLog,
		{"Identity", ""}:           gradIdentity,
		{"MatMul", ""}:             gradMatMul,
		{"Relu", ""}:               gradRelu,
		{"Sigmoid", ""}:            gradSigmoid,
		{"Tanh", ""}:               gradTanh,
		{"Softmax", ""}:            gradSoftmax,
		{"LogSoftmax", ""}:         gradLogSoftmax,
		{"LayerNormalization", ""}: gradLayerNormalization,
		{"Transpose", ""}:          gradTranspose,
		{"Cast", ""}:               gradCast,
		{"Reshape", ""}:            gradReshape,

		{"FusedMatMul", providers.MicrosoftDomain}: gradFusedMatMul,
	}
}
