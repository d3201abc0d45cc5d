package gradient

import "fmt"

// requireGO returns the gradient flowing into the node's primary output,
// which adjoint ordering guarantees exists for every single-output node on
// a useful path.
func requireGO(c *Context) (string, error) {
	gy := c.GO(0)
	if gy == "" {
		return "", fmt.Errorf("no gradient flows into output %q of node %q", c.O(0), c.Node().Name)
	}
	return gy, nil
}

func gradAdd(c *Context) (GradientDef, error) {
	return addSubGradient(c, false)
}

func gradSub(c *Context) (GradientDef, error) {
	return addSubGradient(c, true)
}

// addSubGradient passes the output gradient through to both operands,
// negating the subtrahend side, and sums it back over any broadcast axes.
func addSubGradient(c *Context, negateB bool) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	aShape, bShape := c.InputShape(0), c.InputShape(1)
	if aShape == nil || bShape == nil {
		return nil, fmt.Errorf("broadcast gradient for %s node %q requires known operand shapes", c.Node().OpType, c.Node().Name)
	}
	aAxes, bAxes := ComputeBroadcastBackwardAxes(aShape, bShape, c.Node().Name, c.b.logger)
	outShape := c.OutputShape(0)

	var def GradientDef
	if c.NeedsInputGrad(0) {
		if len(aAxes) == 0 {
			def = append(def, NodeDef{OpType: "Identity", Inputs: []string{gy}, Outputs: []string{c.GI(0)}})
		} else {
			nodes, err := c.reduceForBroadcast(gy, outShape, c.I(0), aShape, c.GI(0), aAxes)
			if err != nil {
				return nil, err
			}
			def = append(def, nodes...)
		}
	}
	if c.NeedsInputGrad(1) {
		if len(bAxes) == 0 {
			op := "Identity"
			if negateB {
				op = "Neg"
			}
			def = append(def, NodeDef{OpType: op, Inputs: []string{gy}, Outputs: []string{c.GI(1)}})
		} else {
			src := gy
			if negateB {
				neg := c.IA("negated_output_grad")
				def = append(def, NodeDef{OpType: "Neg", Inputs: []string{gy}, Outputs: []string{neg}})
				src = neg
			}
			nodes, err := c.reduceForBroadcast(src, outShape, c.I(1), bShape, c.GI(1), bAxes)
			if err != nil {
				return nil, err
			}
			def = append(def, nodes...)
		}
	}
	return def, nil
}

// gradMul scales the output gradient by the opposite operand on each side.
func gradMul(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	aShape, bShape := c.InputShape(0), c.InputShape(1)
	if aShape == nil || bShape == nil {
		return nil, fmt.Errorf("broadcast gradient for Mul node %q requires known operand shapes", c.Node().Name)
	}
	aAxes, bAxes := ComputeBroadcastBackwardAxes(aShape, bShape, c.Node().Name, c.b.logger)
	outShape := c.OutputShape(0)

	var def GradientDef
	if c.NeedsInputGrad(0) {
		if len(aAxes) == 0 {
			def = append(def, NodeDef{OpType: "Mul", Inputs: []string{gy, c.I(1)}, Outputs: []string{c.GI(0)}})
		} else {
			pre := c.IA("PreReduceGrad0")
			def = append(def, NodeDef{OpType: "Mul", Inputs: []string{gy, c.I(1)}, Outputs: []string{pre}})
			nodes, err := c.reduceForBroadcast(pre, outShape, c.I(0), aShape, c.GI(0), aAxes)
			if err != nil {
				return nil, err
			}
			def = append(def, nodes...)
		}
	}
	if c.NeedsInputGrad(1) {
		if len(bAxes) == 0 {
			def = append(def, NodeDef{OpType: "Mul", Inputs: []string{gy, c.I(0)}, Outputs: []string{c.GI(1)}})
		} else {
			pre := c.IA("PreReduceGrad1")
			def = append(def, NodeDef{OpType: "Mul", Inputs: []string{gy, c.I(0)}, Outputs: []string{pre}})
			nodes, err := c.reduceForBroadcast(pre, outShape, c.I(1), bShape, c.GI(1), bAxes)
			if err != nil {
				return nil, err
			}
			def = append(def, nodes...)
		}
	}
	return def, nil
}

// gradDiv: d(a/b)/da = dy/b and d(a/b)/db = -dy*a/b^2, each summed back
// over its broadcast axes.
func gradDiv(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	aShape, bShape := c.InputShape(0), c.InputShape(1)
	if aShape == nil || bShape == nil {
		return nil, fmt.Errorf("broadcast gradient for Div node %q requires known operand shapes", c.Node().Name)
	}
	aAxes, bAxes := ComputeBroadcastBackwardAxes(aShape, bShape, c.Node().Name, c.b.logger)
	outShape := c.OutputShape(0)

	var def GradientDef
	if c.NeedsInputGrad(0) {
		if len(aAxes) == 0 {
			def = append(def, NodeDef{OpType: "Div", Inputs: []string{gy, c.I(1)}, Outputs: []string{c.GI(0)}})
		} else {
			pre := c.IA("PreReduceGrad0")
			def = append(def, NodeDef{OpType: "Div", Inputs: []string{gy, c.I(1)}, Outputs: []string{pre}})
			nodes, err := c.reduceForBroadcast(pre, outShape, c.I(0), aShape, c.GI(0), aAxes)
			if err != nil {
				return nil, err
			}
			def = append(def, nodes...)
		}
	}
	if c.NeedsInputGrad(1) {
		gradTimesA := c.IA("grad_times_a")
		bSquared := c.IA("b_squared")
		quotient := c.IA("quotient")
		def = append(def,
			NodeDef{OpType: "Mul", Inputs: []string{gy, c.I(0)}, Outputs: []string{gradTimesA}},
			NodeDef{OpType: "Mul", Inputs: []string{c.I(1), c.I(1)}, Outputs: []string{bSquared}},
			NodeDef{OpType: "Div", Inputs: []string{gradTimesA, bSquared}, Outputs: []string{quotient}},
		)
		if len(bAxes) == 0 {
			def = append(def, NodeDef{OpType: "Neg", Inputs: []string{quotient}, Outputs: []string{c.GI(1)}})
		} else {
			neg := c.IA("negated_quotient")
			def = append(def, NodeDef{OpType: "Neg", Inputs: []string{quotient}, Outputs: []string{neg}})
			nodes, err := c.reduceForBroadcast(neg, outShape, c.I(1), bShape, c.GI(1), bAxes)
			if err != nil {
				return nil, err
			}
			def = append(def, nodes...)
		}
	}
	return def, nil
}

// gradSum routes the output gradient to every operand, reducing each onto
// its own shape.
func gradSum(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	outShape := c.OutputShape(0)

	var def GradientDef
	for i := range c.Node().Inputs {
		if !c.NeedsInputGrad(i) {
			continue
		}
		inShape := c.InputShape(i)
		if inShape == nil {
			return nil, fmt.Errorf("broadcast gradient for Sum node %q requires a known shape for input %d", c.Node().Name, i)
		}
		if outShape == nil {
			return nil, fmt.Errorf("broadcast gradient for Sum node %q requires a known output shape", c.Node().Name)
		}
		axes, _ := ComputeBroadcastBackwardAxes(inShape, outShape, c.Node().Name, c.b.logger)
		if len(axes) == 0 {
			def = append(def, NodeDef{OpType: "Identity", Inputs: []string{gy}, Outputs: []string{c.GI(i)}})
			continue
		}
		nodes, err := c.reduceForBroadcast(gy, outShape, c.I(i), inShape, c.GI(i), axes)
		if err != nil {
			return nil, err
		}
		def = append(def, nodes...)
	}
	return def, nil
}

func gradNeg(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	return GradientDef{{OpType: "Neg", Inputs: []string{gy}, Outputs: []string{c.GI(0)}}}, nil
}

// gradExp reuses the forward output: d(exp x)/dx = exp x.
func gradExp(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	return GradientDef{{OpType: "Mul", Inputs: []string{gy, c.O(0)}, Outputs: []string{c.GI(0)}}}, nil
}

// gradLog: d(log x)/dx = 1/x.
func gradLog(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	return GradientDef{{OpType: "Div", Inputs: []string{gy, c.I(0)}, Outputs: []string{c.GI(0)}}}, nil
}

func gradIdentity(c *Context) (GradientDef, error) {
	gy, err := requireGO(c)
	if err != nil {
		return nil, err
	}
	return GradientDef{{OpType: "Identity", Inputs: []string{gy}, Outputs: []string{c.GI(0)}}}, nil
}
