// Package validate applies the fixed rule set to a parsed graph before the
// engine is allowed to run it.
package validate

import (
	"fmt"
	"strings"

	"github.com/flowgraph/attractor/internal/cond"
	"github.com/flowgraph/attractor/internal/model"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// Diagnostic is a single validation finding. Fix is an optional
// human-readable suggestion shown by `attractor validate`.
type Diagnostic struct {
	Rule     string
	Severity Severity
	Message  string
	NodeID   string
	Edge     *[2]string
	Fix      string
}

func (d Diagnostic) String() string {
	loc := ""
	if d.NodeID != "" {
		loc = fmt.Sprintf(" (node: %s)", d.NodeID)
	}
	if d.Edge != nil {
		loc = fmt.Sprintf(" (edge: %s -> %s)", d.Edge[0], d.Edge[1])
	}
	return fmt.Sprintf("[%s] %s: %s%s", d.Severity, d.Rule, d.Message, loc)
}

// Error is returned by OrRaise when at least one ERROR diagnostic exists.
type Error struct {
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	var lines []string
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			lines = append(lines, d.String())
		}
	}
	return fmt.Sprintf("validation failed with %d error(s):\n%s", len(lines), strings.Join(lines, "\n"))
}

var rules = []func(*model.Graph) []Diagnostic{
	ruleStartNode,
	ruleTerminalNode,
	ruleStartNoIncoming,
	ruleTerminalNoOutgoing,
	ruleReachability,
	ruleEdgeEndpointsExist,
	ruleConditionSyntax,
	rulePromptOnLLMNodes,
	ruleOnlyConditionalEdgesMayDeadEnd,
	ruleManagerActionsSchema,
	ruleToolAttrsSchema,
	ruleFidelitySchema,
}

// Run applies every rule once and returns all diagnostics.
func Run(g *model.Graph) []Diagnostic {
	var out []Diagnostic
	for _, rule := range rules {
		out = append(out, rule(g)...)
	}
	return out
}

// OrRaise runs validation and returns an error if any ERROR-severity
// diagnostic exists — the engine refuses to start in that case.
func OrRaise(g *model.Graph) ([]Diagnostic, error) {
	diags := Run(g)
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	if len(errs) > 0 {
		return diags, &Error{Diagnostics: errs}
	}
	return diags, nil
}

func startNodes(g *model.Graph) []*model.Node {
	var out []*model.Node
	for _, n := range g.Nodes {
		if model.IsStart(n) {
			out = append(out, n)
		}
	}
	return out
}

func terminalNodes(g *model.Graph) []*model.Node {
	var out []*model.Node
	for _, n := range g.Nodes {
		if model.IsTerminal(n) {
			out = append(out, n)
		}
	}
	return out
}

func ruleStartNode(g *model.Graph) []Diagnostic {
	starts := startNodes(g)
	switch len(starts) {
	case 0:
		return []Diagnostic{{
			Rule: "start_node", Severity: SeverityError,
			Message: "graph must have exactly one start node (shape=Mdiamond or id=start)",
			Fix:     "add a node with shape=Mdiamond, e.g. start [shape=Mdiamond]",
		}}
	case 1:
		return nil
	default:
		ids := make([]string, 0, len(starts))
		for _, n := range starts {
			ids = append(ids, n.ID)
		}
		return []Diagnostic{{
			Rule: "start_node", Severity: SeverityError,
			Message: fmt.Sprintf("graph has %d start nodes but must have exactly one", len(starts)),
			Fix:     fmt.Sprintf("keep one Mdiamond among %s and change the others to shape=box", strings.Join(ids, ", ")),
		}}
	}
}

func ruleTerminalNode(g *model.Graph) []Diagnostic {
	if len(terminalNodes(g)) == 0 {
		return []Diagnostic{{
			Rule: "terminal_node", Severity: SeverityError,
			Message: "graph must have at least one terminal node (shape=Msquare or id in {exit,end,done})",
			Fix:     "add a node with shape=Msquare, e.g. done [shape=Msquare]",
		}}
	}
	return nil
}

func ruleStartNoIncoming(g *model.Graph) []Diagnostic {
	starts := startNodes(g)
	if len(starts) != 1 {
		return nil
	}
	start := starts[0]
	var out []Diagnostic
	for _, e := range g.Incoming(start.ID) {
		edge := [2]string{e.From, e.To}
		out = append(out, Diagnostic{
			Rule: "start_no_incoming", Severity: SeverityError,
			Message: "start node must have no incoming edges", NodeID: start.ID, Edge: &edge,
			Fix: fmt.Sprintf("remove the edge %s -> %s or retarget it to a non-start node", e.From, e.To),
		})
	}
	return out
}

func ruleTerminalNoOutgoing(g *model.Graph) []Diagnostic {
	var out []Diagnostic
	for _, n := range terminalNodes(g) {
		for _, e := range g.Outgoing(n.ID) {
			edge := [2]string{e.From, e.To}
			out = append(out, Diagnostic{
				Rule: "terminal_no_outgoing", Severity: SeverityError,
				Message: "terminal node must have no outgoing edges", NodeID: n.ID, Edge: &edge,
				Fix: fmt.Sprintf("remove the edge %s -> %s or change %s's shape away from Msquare", e.From, e.To, n.ID),
			})
		}
	}
	return out
}

func ruleReachability(g *model.Graph) []Diagnostic {
	starts := startNodes(g)
	if len(starts) != 1 {
		return nil
	}
	visited := map[string]bool{starts[0].ID: true}
	queue := []string{starts[0].ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(cur) {
			if !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	var out []Diagnostic
	for id := range g.Nodes {
		if !visited[id] {
			out = append(out, Diagnostic{
				Rule: "reachability", Severity: SeverityError,
				Message: fmt.Sprintf("node %q is not reachable from the start node", id),
				NodeID:  id,
				Fix:     fmt.Sprintf("add an edge into %q from a reachable node, or delete %q if it is dead", id, id),
			})
		}
	}
	return out
}

func ruleEdgeEndpointsExist(g *model.Graph) []Diagnostic {
	var out []Diagnostic
	for _, e := range g.Edges {
		edge := [2]string{e.From, e.To}
		if _, ok := g.Nodes[e.From]; !ok {
			out = append(out, Diagnostic{
				Rule: "edge_endpoints_exist", Severity: SeverityError,
				Message: fmt.Sprintf("edge source %q does not exist", e.From), Edge: &edge,
				Fix: fmt.Sprintf("add a node named %q or fix the typo in this edge", e.From),
			})
		}
		if _, ok := g.Nodes[e.To]; !ok {
			out = append(out, Diagnostic{
				Rule: "edge_endpoints_exist", Severity: SeverityError,
				Message: fmt.Sprintf("edge target %q does not exist", e.To), Edge: &edge,
				Fix: fmt.Sprintf("add a node named %q or fix the typo in this edge", e.To),
			})
		}
	}
	return out
}

func ruleConditionSyntax(g *model.Graph) []Diagnostic {
	var out []Diagnostic
	for _, e := range g.Edges {
		c := e.Condition()
		if c == "" {
			continue
		}
		if err := cond.Validate(c); err != nil {
			edge := [2]string{e.From, e.To}
			out = append(out, Diagnostic{
				Rule: "condition_syntax", Severity: SeverityError,
				Message: fmt.Sprintf("invalid condition expression: %v", err), Edge: &edge,
				Fix: `use the form key=value or key!=value, joined with "&&", e.g. condition="outcome=success && context.retries=0"`,
			})
		}
	}
	return out
}

// rulePromptOnLLMNodes warns about box-shaped, no-explicit-type (i.e.
// codergen-bound) nodes with neither a label nor a prompt — the handler
// would have nothing to send the model.
func rulePromptOnLLMNodes(g *model.Graph) []Diagnostic {
	var out []Diagnostic
	for _, n := range g.Nodes {
		if n.Shape() != "box" || n.TypeOverride() != "" {
			continue
		}
		if n.Prompt() == "" && n.Label() == "" {
			out = append(out, Diagnostic{
				Rule: "prompt_on_llm_nodes", Severity: SeverityWarning,
				Message: "codergen node has neither prompt nor label", NodeID: n.ID,
				Fix: fmt.Sprintf(`add a label or prompt attribute to node %q, e.g. prompt="implement the change described in ..."`, n.ID),
			})
		}
	}
	return out
}

// ruleOnlyConditionalEdgesMayDeadEnd resolves the spec's open question about
// step-5 edge-selection fallback: a node whose only outgoing edges are all
// conditional, and whose conditions are collectively exclusive with
// "outcome=success", can silently dead-end in practice if none match and the
// outcome is FAIL (no step-5 fallback applies to FAIL). Flag it so authors
// notice before it happens at run time.
func ruleOnlyConditionalEdgesMayDeadEnd(g *model.Graph) []Diagnostic {
	var out []Diagnostic
	for id, n := range g.Nodes {
		if model.IsTerminal(n) {
			continue
		}
		edges := g.Outgoing(id)
		if len(edges) == 0 {
			continue
		}
		allConditional := true
		hasSuccessEdge := false
		for _, e := range edges {
			c := e.Condition()
			if c == "" {
				allConditional = false
				break
			}
			if strings.Contains(c, "outcome=success") {
				hasSuccessEdge = true
			}
		}
		if allConditional && !hasSuccessEdge {
			out = append(out, Diagnostic{
				Rule: "only_conditional_edges_may_dead_end", Severity: SeverityWarning,
				Message: "node has only conditional outgoing edges with no outcome=success path; " +
					"a FAIL outcome here has no step-5 fallback and may terminate the run with NoFailEdge",
				NodeID: id,
				Fix:    fmt.Sprintf(`add an unconditional edge out of %q, or a condition="outcome=success" edge, to give every outcome somewhere to go`, id),
			})
		}
	}
	return out
}
