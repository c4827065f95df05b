package engine

import "github.com/flowgraph/attractor/internal/model"

// maxAttemptsFor computes 1 + (node.max_retries if set else
// graph.default_max_retry, default 50), per spec §4.3.
func maxAttemptsFor(g *model.Graph, n *model.Node) int {
	if v, ok := n.MaxRetries(); ok {
		return 1 + v
	}
	return 1 + g.DefaultMaxRetry()
}
