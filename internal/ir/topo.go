package ir

import (
	"errors"
	"fmt"
)

// ErrCycle is returned when the graph contains a dependency cycle.
var ErrCycle = errors.New("graph contains a cycle")

// TopologicalOrder returns the live node indices ordered so that every
// producer appears before all of its consumers. The order is deterministic:
// the walk visits nodes in ascending arena index, depth-first over input
// dependencies. Passes capture the order once per invocation; nodes created
// during a pass are picked up by the next pipeline iteration.
func (g *Graph) TopologicalOrder() ([]NodeIndex, error) {
	const (
		white = 0 // unvisited
		grey  = 1 // on the visit stack
		black = 2 // done
	)
	state := make(map[NodeIndex]int, len(g.nodes))
	order := make([]NodeIndex, 0, len(g.nodes))

	var visit func(idx NodeIndex) error
	visit = func(idx NodeIndex) error {
		switch state[idx] {
		case black:
			return nil
		case grey:
			n := g.NodeAt(idx)
			return fmt.Errorf("%w: through node %q (%s)", ErrCycle, n.Name, n.OpType)
		}
		state[idx] = grey

		n := g.NodeAt(idx)
		for _, in := range n.Inputs {
			if in == nil || in.Name == "" {
				continue
			}
			if producer, ok := g.producers[in.Name]; ok && g.NodeAt(producer) != nil {
				if err := visit(producer); err != nil {
					return err
				}
			}
		}

		state[idx] = black
		order = append(order, idx)
		return nil
	}

	for i, n := range g.nodes {
		if n == nil {
			continue
		}
		if err := visit(NodeIndex(i)); err != nil {
			return nil, err
		}
	}
	return order, nil
}
