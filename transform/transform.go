// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package transform applies the optimizing graph rewrites: identity
// elimination, transpose composition, and the transpose/matmul fusions.
// Passes run level by level to a fixed point, and every committed rewrite
// leaves the graph valid.
//
// Example:
//
//	changed, err := transform.Optimize(g, transform.Level2)
package transform

import (
	"log/slog"

	"github.com/mrshu/onnxruntime/graph"
	"github.com/mrshu/onnxruntime/internal/providers"
	"github.com/mrshu/onnxruntime/internal/transform"
)

// Level selects how aggressive the pass pipeline is.
type Level = transform.Level

// Pass levels.
const (
	// Level1 runs basic rewrites on standard operators.
	Level1 = transform.Level1
	// Level2 adds fusions that introduce extension-domain operators.
	Level2 = transform.Level2
	// Level3 adds provider-specific layout rewrites.
	Level3 = transform.Level3

	MaxLevel = transform.MaxLevel
)

// Manager owns a registered set of passes and drives them to fixed points.
type Manager = transform.Manager

// Transformer is a single graph-rewriting pass.
type Transformer = transform.Transformer

// Manager options.
var (
	WithMaxSteps = transform.WithMaxSteps
	WithLogger   = transform.WithLogger
)

// NewManager creates an empty pass manager.
func NewManager(opts ...transform.Option) *Manager {
	return transform.NewManager(opts...)
}

// Optimize runs the default pass pipeline on g up to and including the
// given level, with fusions gated to operators the CPU provider supports.
// It reports whether any pass changed the graph.
func Optimize(g *graph.Graph, level Level) (bool, error) {
	return OptimizeWithLogger(g, level, nil)
}

// OptimizeWithLogger is Optimize with pass diagnostics routed to logger.
func OptimizeWithLogger(g *graph.Graph, level Level, logger *slog.Logger) (bool, error) {
	var opts []transform.Option
	if logger != nil {
		opts = append(opts, transform.WithLogger(logger))
	}
	m := transform.NewDefaultManager(providers.Default(), nil, opts...)
	changed := false
	for l := Level1; l <= level; l++ {
		c, err := m.ApplyLevel(g, l)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	return changed, nil
}
