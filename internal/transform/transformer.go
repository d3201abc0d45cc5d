// Package transform rewrites computation graphs: an ordered pipeline of
// leveled passes, each detecting a structural pattern and replacing it with
// a cheaper equivalent. Passes recurse into nested subgraphs so rewrites
// apply at every nesting depth.
package transform

import (
	"github.com/emirpasic/gods/v2/lists/doublylinkedlist"

	"github.com/mrshu/onnxruntime/internal/ir"
)

// Level orders passes into groups applied one after another. Lower levels
// hold conservative, always-safe rewrites; higher levels introduce extension
// domain operators.
type Level int

// Pass levels.
const (
	Level1 Level = iota + 1 // basic rewrites on standard operators
	Level2                  // fusions introducing extension-domain operators
	Level3                  // provider-specific layout rewrites

	MaxLevel = Level3
)

func (l Level) String() string {
	switch l {
	case Level1:
		return "level1"
	case Level2:
		return "level2"
	case Level3:
		return "level3"
	default:
		return "unknown"
	}
}

// Transformer is a single graph-rewriting pass. Apply reports whether it
// modified the graph; pattern mismatches are silent skips, not errors.
// On error the pass must leave the graph valid up to the last committed
// rewrite.
type Transformer interface {
	Name() string
	Level() Level
	Apply(g *ir.Graph) (bool, error)
}

// ApplyToSubgraphs runs fn over every subgraph nested in g's node
// attributes, depth-first, before the caller processes its own scope.
func ApplyToSubgraphs(g *ir.Graph, fn func(*ir.Graph) (bool, error)) (bool, error) {
	modified := false
	for _, n := range g.Nodes() {
		for _, sub := range n.Subgraphs() {
			subModified, err := fn(sub)
			if err != nil {
				return modified, err
			}
			modified = modified || subModified
		}
	}
	return modified, nil
}

// removalQueue defers node removal to the end of a topological walk.
// Removals discovered later are queued at the front and processed first,
// so a node is only removed after every node depending on it is gone.
type removalQueue struct {
	list *doublylinkedlist.List[ir.NodeIndex]
}

func newRemovalQueue() *removalQueue {
	return &removalQueue{list: doublylinkedlist.New[ir.NodeIndex]()}
}

// PushFront schedules a node for removal ahead of previously queued ones.
func (q *removalQueue) PushFront(idx ir.NodeIndex) {
	q.list.Prepend(idx)
}

// Size returns the number of queued removals.
func (q *removalQueue) Size() int {
	return q.list.Size()
}

// Drain removes the queued nodes in queue order. Removal failures surface
// immediately: a node still wired into the graph at drain time means the
// pass queued it while consumers remained.
func (q *removalQueue) Drain(g *ir.Graph) error {
	for _, idx := range q.list.Values() {
		if err := g.RemoveNode(idx); err != nil {
			return err
		}
	}
	q.list.Clear()
	return nil
}
