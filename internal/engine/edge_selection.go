package engine

import (
	"sort"
	"strings"

	"github.com/flowgraph/attractor/internal/cond"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

// selectNextEdge implements the five-step edge-selection priority from
// spec §4.6.
func selectNextEdge(g *model.Graph, from string, out *runtime.Outcome, ctx *runtime.Context) *model.Edge {
	edges := g.Outgoing(from)
	if len(edges) == 0 {
		return nil
	}

	// Step 1: conditional match.
	var condMatched []*model.Edge
	for _, e := range edges {
		c := strings.TrimSpace(e.Condition())
		if c == "" {
			continue
		}
		if cond.Evaluate(c, out, ctx) {
			condMatched = append(condMatched, e)
		}
	}
	if len(condMatched) > 0 {
		return bestEdge(condMatched)
	}

	// Step 2: preferred label.
	if out != nil && strings.TrimSpace(out.PreferredLabel) != "" {
		want := cond.NormalizeLabel(out.PreferredLabel)
		inOrder := append([]*model.Edge(nil), edges...)
		sort.SliceStable(inOrder, func(i, j int) bool { return inOrder[i].Order < inOrder[j].Order })
		for _, e := range inOrder {
			if cond.NormalizeLabel(e.Label()) == want {
				return e
			}
		}
	}

	// Step 3: suggested next ids, in order.
	if out != nil {
		for _, suggested := range out.SuggestedNextIDs {
			for _, e := range edges {
				if e.To == suggested {
					return e
				}
			}
		}
	}

	// Step 4: unconditional weight/lexical.
	var uncond []*model.Edge
	for _, e := range edges {
		if strings.TrimSpace(e.Condition()) == "" {
			uncond = append(uncond, e)
		}
	}
	if len(uncond) > 0 {
		return bestEdge(uncond)
	}

	// Step 5: fallback — progress over precision. Only when the outcome is
	// not FAIL; a FAIL outcome with no matching edge is NoFailEdge instead.
	if out != nil && out.Status != runtime.StatusFail {
		return bestEdge(append([]*model.Edge(nil), edges...))
	}
	return nil
}

// bestEdge picks by weight descending, then target id ascending, then
// declaration order ascending as a final stable tiebreak.
func bestEdge(edges []*model.Edge) *model.Edge {
	sort.SliceStable(edges, func(i, j int) bool {
		wi, wj := edges[i].Weight(), edges[j].Weight()
		if wi != wj {
			return wi > wj
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Order < edges[j].Order
	})
	return edges[0]
}
