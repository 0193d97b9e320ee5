// Package trustgraph answers beneficiary-trust queries over a directed graph
// of known sender to receiver relationships.
//
// The graph is built once from configuration and never mutated, so lookups
// need no locking.
package trustgraph

import "fmt"

const (
	// DefaultTrust is the weight of an edge configured without a score.
	DefaultTrust = 0.5
	// PartialTrust is reported for a known receiver with no direct edge.
	PartialTrust = 0.2
)

// Edge is a directed relationship with a trust weight in [0,1].
type Edge struct {
	From  string
	To    string
	Trust float64
}

// Result is the outcome of a beneficiary check.
type Result struct {
	Untrusted  bool
	TrustScore float64
	Reason     string
}

// Graph is an immutable directed trust graph.
type Graph struct {
	nodes map[string]struct{}
	out   map[string]map[string]float64
	edges int
}

// New builds a graph. Every edge endpoint becomes a node; a repeated
// from/to pair overwrites the earlier weight.
func New(edges []Edge) *Graph {
	g := &Graph{
		nodes: make(map[string]struct{}),
		out:   make(map[string]map[string]float64),
	}
	for _, e := range edges {
		g.nodes[e.From] = struct{}{}
		g.nodes[e.To] = struct{}{}

		targets, ok := g.out[e.From]
		if !ok {
			targets = make(map[string]float64)
			g.out[e.From] = targets
		}
		if _, dup := targets[e.To]; !dup {
			g.edges++
		}
		targets[e.To] = e.Trust
	}
	return g
}

// Check classifies a sender to receiver payment.
//
// An unknown receiver is untrusted with score 0. A direct edge is trusted
// with the edge weight. A known receiver without a direct edge from sender
// is untrusted with PartialTrust.
func (g *Graph) Check(sender, receiver string) Result {
	if !g.HasNode(receiver) {
		return Result{
			Untrusted:  true,
			TrustScore: 0,
			Reason:     fmt.Sprintf("Unknown beneficiary: '%s' not in trust network (isolated node)", receiver),
		}
	}
	if w, ok := g.Weight(sender, receiver); ok {
		return Result{TrustScore: w}
	}
	return Result{
		Untrusted:  true,
		TrustScore: PartialTrust,
		Reason:     fmt.Sprintf("No direct trust relationship between %s and %s", sender, receiver),
	}
}

// HasNode reports whether id appears as any edge endpoint.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Weight returns the direct edge weight from sender to receiver.
func (g *Graph) Weight(sender, receiver string) (float64, bool) {
	w, ok := g.out[sender][receiver]
	return w, ok
}

// NodeCount is the number of distinct accounts in the graph.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount is the number of distinct directed edges.
func (g *Graph) EdgeCount() int { return g.edges }
