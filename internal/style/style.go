// Package style implements the graph.model_stylesheet cascade: a
// CSS-like set of rules (universal, shape, class, id selectors) that
// assign llm_model/llm_provider/reasoning_effort to nodes before a run
// starts, with any attribute the node already declares always winning.
package style

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowgraph/attractor/internal/model"
)

type selectorType int

const (
	selectorUniversal selectorType = iota
	selectorShape
	selectorClass
	selectorID
)

const (
	specificityUniversal = 0
	specificityShape     = 1
	specificityClass     = 2
	specificityID        = 3
)

// styledProperties is the set of node attributes the cascade is allowed
// to assign. Anything else in a rule body is a stylesheet error.
var styledProperties = map[string]bool{
	"llm_model":        true,
	"model":            true, // alias for llm_model
	"llm_provider":     true,
	"reasoning_effort": true,
}

// Rule is one `selector { prop: value; ... }` stylesheet rule.
type Rule struct {
	Selector     string
	Type         selectorType
	Properties   map[string]string
	Specificity  int
}

// Sheet is a parsed model stylesheet.
type Sheet struct {
	Rules []Rule
}

// Parse parses a CSS-like model stylesheet. An empty source yields an
// empty, harmless sheet.
func Parse(source string) (*Sheet, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return &Sheet{}, nil
	}

	ss := &Sheet{}
	remaining := source
	for remaining != "" {
		remaining = strings.TrimSpace(remaining)
		if remaining == "" {
			break
		}

		braceIdx := strings.Index(remaining, "{")
		if braceIdx < 0 {
			return nil, fmt.Errorf("stylesheet: expected '{' in rule")
		}
		selector := strings.TrimSpace(remaining[:braceIdx])
		remaining = remaining[braceIdx+1:]

		closeIdx := strings.Index(remaining, "}")
		if closeIdx < 0 {
			return nil, fmt.Errorf("stylesheet: expected '}' closing rule %q", selector)
		}
		body := strings.TrimSpace(remaining[:closeIdx])
		remaining = remaining[closeIdx+1:]

		rule := Rule{Selector: selector, Properties: make(map[string]string)}
		switch {
		case selector == "*":
			rule.Type, rule.Specificity = selectorUniversal, specificityUniversal
		case strings.HasPrefix(selector, "."):
			rule.Type, rule.Specificity = selectorClass, specificityClass
			rule.Selector = strings.TrimPrefix(selector, ".")
		case strings.HasPrefix(selector, "#"):
			rule.Type, rule.Specificity = selectorID, specificityID
			rule.Selector = strings.TrimPrefix(selector, "#")
		default:
			rule.Type, rule.Specificity = selectorShape, specificityShape
		}

		for _, decl := range strings.Split(body, ";") {
			decl = strings.TrimSpace(decl)
			if decl == "" {
				continue
			}
			sep := strings.IndexAny(decl, ":=")
			if sep < 0 {
				return nil, fmt.Errorf("stylesheet: invalid declaration %q (missing ':' or '=')", decl)
			}
			prop := strings.TrimSpace(decl[:sep])
			val := strings.Trim(strings.TrimSpace(decl[sep+1:]), `"' `)
			if !styledProperties[prop] {
				return nil, fmt.Errorf("stylesheet: unknown property %q", prop)
			}
			rule.Properties[prop] = val
		}
		ss.Rules = append(ss.Rules, rule)
	}
	return ss, nil
}

// Apply assigns llm_model/llm_provider/reasoning_effort attrs to every
// node in g from matching rules, lowest specificity first so higher
// specificity rules win, without ever overwriting an attribute the node
// already declares explicitly.
func (ss *Sheet) Apply(g *model.Graph) {
	for _, n := range g.Nodes {
		explicit := make(map[string]bool, len(n.Attrs))
		for k := range n.Attrs {
			explicit[k] = true
		}

		var matches []Rule
		for _, rule := range ss.Rules {
			if ss.matches(rule, n) {
				matches = append(matches, rule)
			}
		}
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].Specificity < matches[j].Specificity })

		for _, rule := range matches {
			for prop, val := range rule.Properties {
				key := prop
				if key == "model" {
					key = "llm_model"
				}
				if explicit[key] {
					continue
				}
				n.Attrs[key] = val
			}
		}
	}
}

func (ss *Sheet) matches(rule Rule, n *model.Node) bool {
	switch rule.Type {
	case selectorUniversal:
		return true
	case selectorShape:
		return n.Shape() == rule.Selector
	case selectorClass:
		for _, c := range strings.Split(n.Class(), ",") {
			if strings.TrimSpace(c) == rule.Selector {
				return true
			}
		}
		return false
	case selectorID:
		return n.ID == rule.Selector
	}
	return false
}
