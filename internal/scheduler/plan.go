// Package scheduler turns a validated dependency graph into ordered execution
// batches and drives them against the runtime with bounded concurrency.
package scheduler

import "github.com/tsegert/convoy/internal/graph"

// Direction selects the traversal order for a plan.
type Direction int

const (
	// Up orders levels so every service starts after its dependencies.
	Up Direction = iota
	// Down reverses the levels so a service stops before its dependencies.
	Down
)

// Batch is an ordered sequence of levels. Levels run strictly in sequence;
// services within a level are mutually independent and may run concurrently.
type Batch [][]string

// Plan computes the batch for a direction. The graph is already validated
// acyclic, so layering cannot fail.
func Plan(g *graph.Graph, dir Direction) Batch {
	levels := g.Levels()
	if dir == Up {
		return Batch(levels)
	}

	reversed := make(Batch, 0, len(levels))
	for i := len(levels) - 1; i >= 0; i-- {
		reversed = append(reversed, levels[i])
	}
	return reversed
}
