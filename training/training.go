// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package training turns a forward model into a gradient graph for
// reverse-mode training: trainable initializers become inputs, the adjoint
// of every differentiable node is appended, and a yield node hands the
// forward outputs to the caller in exchange for seed gradients.
//
// Example:
//
//	builder, err := training.NewBuilder(g, training.Config{
//	    TrainableNames: []string{"w1", "w2"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := builder.Build([][]int64{{32, 128}}); err != nil {
//	    log.Fatal(err)
//	}
//	gradGraph := builder.GradientGraph()
//
// The gradient graph's outputs are the requested user-input gradients in
// input order, then the trainable gradients in declaration order; Info
// describes the full boundary contract.
package training

import (
	"github.com/mrshu/onnxruntime/graph"
	"github.com/mrshu/onnxruntime/internal/gradient"
	"github.com/mrshu/onnxruntime/internal/onnx"
)

// Config selects what to differentiate and how.
type Config = gradient.Config

// TrainingGraphInfo describes the boundary contract of a built gradient
// graph.
type TrainingGraphInfo = gradient.TrainingGraphInfo

// Builder produces gradient graphs from a forward model. One Builder can
// produce differently shape-specialized graphs from the same model.
type Builder = gradient.Builder

// NewBuilder validates the configuration against the forward graph and
// prepares a Builder. The graph must be resolved.
func NewBuilder(g *graph.Graph, cfg Config) (*Builder, error) {
	return gradient.NewBuilder(g, cfg)
}

// BuildGradientModel is the serialized-model convenience path: it decodes
// an ONNX model, builds its gradient graph with the given concrete
// user-input shapes, and returns the serialized gradient model together
// with the boundary contract.
func BuildGradientModel(modelBytes []byte, cfg Config, inputShapes [][]int64) ([]byte, TrainingGraphInfo, error) {
	m, err := onnx.Parse(modelBytes)
	if err != nil {
		return nil, TrainingGraphInfo{}, err
	}
	g, err := onnx.ToGraph(m)
	if err != nil {
		return nil, TrainingGraphInfo{}, err
	}
	builder, err := gradient.NewBuilder(g, cfg)
	if err != nil {
		return nil, TrainingGraphInfo{}, err
	}
	if err := builder.Build(inputShapes); err != nil {
		return nil, TrainingGraphInfo{}, err
	}
	out, err := onnx.FromGraph(builder.GradientGraph())
	if err != nil {
		return nil, TrainingGraphInfo{}, err
	}
	return onnx.Serialize(out), builder.Info(), nil
}
