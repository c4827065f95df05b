// Package model holds the immutable graph value the engine traverses: nodes,
// edges and graph-level attributes, parsed once and never mutated during a
// run (stylesheet application and the config's LLM defaults are the
// exceptions — both run before the engine sees the graph).
package model

import (
	"strconv"
	"strings"
	"time"
)

// Node is a single unit of work in the graph. Attrs carries every DOT
// attribute verbatim; the typed accessors below parse-and-cache the
// recognized keys on demand rather than forcing a closed schema up front —
// unrecognized attributes remain available via Attr for handler-specific use.
type Node struct {
	ID     string
	Attrs  map[string]string
	Order  int // declaration order, used as a final tiebreak by some callers

	cache nodeCache
}

type nodeCache struct {
	timeoutParsed bool
	timeout       time.Duration
}

// NewNode creates a node with an initialized attribute map.
func NewNode(id string) *Node {
	return &Node{ID: id, Attrs: map[string]string{}}
}

// Attr returns the raw attribute value, or def when unset.
func (n *Node) Attr(key, def string) string {
	if n == nil || n.Attrs == nil {
		return def
	}
	if v, ok := n.Attrs[key]; ok {
		return v
	}
	return def
}

func (n *Node) Label() string  { return n.Attr("label", "") }
func (n *Node) Shape() string  { return n.Attr("shape", "") }
func (n *Node) Class() string  { return n.Attr("class", "") }
func (n *Node) Prompt() string { return n.Attr("prompt", "") }

// TypeOverride is the node's explicit `type` attribute, if any.
func (n *Node) TypeOverride() string { return n.Attr("type", "") }

func (n *Node) GoalGate() bool { return parseBool(n.Attr("goal_gate", ""), false) }

func (n *Node) AllowPartial() bool { return parseBool(n.Attr("allow_partial", ""), false) }

func (n *Node) AutoStatus() bool { return parseBool(n.Attr("auto_status", ""), false) }

func (n *Node) RetryTarget() string         { return n.Attr("retry_target", "") }
func (n *Node) FallbackRetryTarget() string { return n.Attr("fallback_retry_target", "") }

// MaxRetries returns the node's max_retries attribute; ok is false when unset,
// so callers can fall back to the graph default.
func (n *Node) MaxRetries() (value int, ok bool) {
	raw := n.Attr("max_retries", "")
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}

// Timeout parses the node's timeout attribute using the suffix grammar from
// spec §6 (ms, s, m, h, d; bare number = seconds). Zero means unset.
func (n *Node) Timeout() time.Duration {
	if n.cache.timeoutParsed {
		return n.cache.timeout
	}
	d := ParseDuration(n.Attr("timeout", ""))
	n.cache.timeoutParsed = true
	n.cache.timeout = d
	return d
}

// Fidelity is an advisory hint (full, truncate, compact, summary:low|medium|high)
// consumed by codergen when composing prompts from logged node output.
func (n *Node) Fidelity() string { return n.Attr("fidelity", "") }

// Edge is a directed connection between two node ids. Duplicate edges between
// the same pair of nodes are permitted.
type Edge struct {
	From  string
	To    string
	Attrs map[string]string
	Order int
}

// NewEdge creates an edge with an initialized attribute map.
func NewEdge(from, to string) *Edge {
	return &Edge{From: from, To: to, Attrs: map[string]string{}}
}

func (e *Edge) Attr(key, def string) string {
	if e == nil || e.Attrs == nil {
		return def
	}
	if v, ok := e.Attrs[key]; ok {
		return v
	}
	return def
}

func (e *Edge) Label() string     { return e.Attr("label", "") }
func (e *Edge) Condition() string { return e.Attr("condition", "") }

func (e *Edge) Weight() int {
	v, err := strconv.Atoi(strings.TrimSpace(e.Attr("weight", "0")))
	if err != nil {
		return 0
	}
	return v
}

func (e *Edge) Fidelity() string { return e.Attr("fidelity", "") }

// LoopRestart marks an edge that intentionally revisits an earlier node
// outside the goal-gate re-entry mechanism (bookkeeping only — it does not
// change edge-selection priority).
func (e *Edge) LoopRestart() bool { return parseBool(e.Attr("loop_restart", ""), false) }

// Graph is the complete, immutable pipeline definition.
type Graph struct {
	Name  string
	Nodes map[string]*Node
	Edges []*Edge
	Attrs map[string]string
}

// NewGraph creates an empty graph ready for population by a parser.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		Nodes: map[string]*Node{},
		Attrs: map[string]string{},
	}
}

func (g *Graph) Attr(key, def string) string {
	if g == nil || g.Attrs == nil {
		return def
	}
	if v, ok := g.Attrs[key]; ok {
		return v
	}
	return def
}

func (g *Graph) Goal() string            { return g.Attr("goal", "") }
func (g *Graph) ModelStylesheet() string { return g.Attr("model_stylesheet", "") }
func (g *Graph) RetryTarget() string     { return g.Attr("retry_target", "") }
func (g *Graph) FallbackRetryTarget() string {
	return g.Attr("fallback_retry_target", "")
}
func (g *Graph) ChildDotfile() string { return g.Attr("stack.child_dotfile", "") }

func (g *Graph) DefaultMaxRetry() int {
	v, err := strconv.Atoi(strings.TrimSpace(g.Attr("default_max_retry", "")))
	if err != nil {
		return 50
	}
	return v
}

// Outgoing returns all edges originating from the given node id, in
// declaration order.
func (g *Graph) Outgoing(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns all edges targeting the given node id.
func (g *Graph) Incoming(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.To == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// AddNode registers a node, assigning it the next declaration order.
func (g *Graph) AddNode(n *Node) {
	if n.Order == 0 {
		n.Order = len(g.Nodes) + 1
	}
	g.Nodes[n.ID] = n
}

// AddEdge appends an edge, assigning it the next declaration order.
func (g *Graph) AddEdge(e *Edge) {
	e.Order = len(g.Edges) + 1
	g.Edges = append(g.Edges, e)
}

// IsStart reports whether a node is the pipeline's entry point: shape
// Mdiamond, or an id equal to "start" case-insensitively.
func IsStart(n *Node) bool {
	if n == nil {
		return false
	}
	if n.Shape() == "Mdiamond" {
		return true
	}
	return strings.EqualFold(n.ID, "start")
}

// IsTerminal reports whether a node ends the run: shape Msquare, or an id in
// {exit, end, done} case-insensitively.
func IsTerminal(n *Node) bool {
	if n == nil {
		return false
	}
	if n.Shape() == "Msquare" {
		return true
	}
	switch strings.ToLower(n.ID) {
	case "exit", "end", "done":
		return true
	}
	return false
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return def
	}
}

// ParseDuration parses a node/graph duration attribute per spec §6: a
// case-sensitive suffix of ms, s, m, h, d, or a bare number of seconds.
func ParseDuration(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	suffixes := []struct {
		suffix string
		unit   time.Duration
	}{
		{"ms", time.Millisecond},
		{"s", time.Second},
		{"m", time.Minute},
		{"h", time.Hour},
		{"d", 24 * time.Hour},
	}
	for _, s := range suffixes {
		if strings.HasSuffix(raw, s.suffix) {
			numPart := strings.TrimSuffix(raw, s.suffix)
			// "ms" also satisfies a trailing "s" check; order above tries ms first.
			if f, err := strconv.ParseFloat(strings.TrimSpace(numPart), 64); err == nil {
				return time.Duration(f * float64(s.unit))
			}
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return 0
}
