package dot

import (
	"fmt"
	"strings"

	"github.com/flowgraph/attractor/internal/model"
)

// Parse parses DOT source into a model.Graph, flattening subgraphs into
// the parent and deriving a class attribute from cluster subgraph labels
// for any node defined inside one that doesn't already declare a class.
func Parse(source string) (*model.Graph, error) {
	toks, err := newLexer(source).tokenize()
	if err != nil {
		return nil, fmt.Errorf("lex: %w", err)
	}
	p := &parser{
		tokens:       toks,
		nodeDefaults: make(map[string]string),
		edgeDefaults: make(map[string]string),
	}
	return p.parseGraph()
}

type parser struct {
	tokens       []token
	pos          int
	nodeDefaults map[string]string
	edgeDefaults map[string]string
	nodeOrder    int
	edgeOrder    int
}

func (p *parser) peek() token {
	if p.pos >= len(p.tokens) {
		return token{typ: tokEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	t := p.peek()
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(t tokenType) (token, error) {
	got := p.advance()
	if got.typ != t {
		return got, fmt.Errorf("expected %s but got %s (%q) at line %d, column %d",
			t, got.typ, got.value, got.line, got.column)
	}
	return got, nil
}

func (p *parser) skipSemicolon() {
	for p.peek().typ == tokSemicolon {
		p.advance()
	}
}

func (p *parser) parseGraph() (*model.Graph, error) {
	if _, err := p.expect(tokDigraph); err != nil {
		return nil, fmt.Errorf("expected 'digraph': %w", err)
	}

	name := ""
	if p.peek().typ == tokIdentifier || p.peek().typ == tokString {
		name = p.advance().value
	}

	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}

	g := &model.Graph{
		Name:  name,
		Nodes: make(map[string]*model.Node),
		Attrs: make(map[string]string),
	}

	if err := p.parseStatements(g, nil); err != nil {
		return nil, err
	}

	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return g, nil
}

func (p *parser) parseStatements(g *model.Graph, subgraphDefaults map[string]string) error {
	for p.peek().typ != tokRBrace && p.peek().typ != tokEOF {
		if err := p.parseStatement(g, subgraphDefaults); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseStatement(g *model.Graph, subgraphDefaults map[string]string) error {
	t := p.peek()
	switch t.typ {
	case tokSemicolon:
		p.advance()
		return nil
	case tokGraph:
		return p.parseGraphAttrStmt(g)
	case tokNode:
		return p.parseDefaults(p.nodeDefaults)
	case tokEdge:
		return p.parseDefaults(p.edgeDefaults)
	case tokSubgraph:
		return p.parseSubgraph(g)
	case tokIdentifier, tokString:
		return p.parseNodeOrEdge(g, subgraphDefaults)
	default:
		return fmt.Errorf("unexpected token %s (%q) at line %d, column %d", t.typ, t.value, t.line, t.column)
	}
}

func (p *parser) parseGraphAttrStmt(g *model.Graph) error {
	p.advance()
	if p.peek().typ == tokLBracket {
		attrs, err := p.parseAttrBlock()
		if err != nil {
			return err
		}
		for k, v := range attrs {
			g.Attrs[k] = v
		}
	}
	p.skipSemicolon()
	return nil
}

func (p *parser) parseDefaults(into map[string]string) error {
	p.advance()
	attrs, err := p.parseAttrBlock()
	if err != nil {
		return err
	}
	for k, v := range attrs {
		into[k] = v
	}
	p.skipSemicolon()
	return nil
}

func (p *parser) parseSubgraph(g *model.Graph) error {
	p.advance()
	label := ""
	if p.peek().typ == tokIdentifier || p.peek().typ == tokString {
		label = p.advance().value
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return err
	}

	savedNodeDefaults := make(map[string]string, len(p.nodeDefaults))
	for k, v := range p.nodeDefaults {
		savedNodeDefaults[k] = v
	}

	sgDefaults := make(map[string]string)
	if derived := deriveClass(label); derived != "" {
		sgDefaults["class"] = derived
	}

	for p.peek().typ != tokRBrace && p.peek().typ != tokEOF {
		switch p.peek().typ {
		case tokNode:
			if err := p.parseDefaults(p.nodeDefaults); err != nil {
				return err
			}
		case tokGraph:
			p.advance()
			if p.peek().typ == tokLBracket {
				attrs, err := p.parseAttrBlock()
				if err != nil {
					return err
				}
				for k, v := range attrs {
					sgDefaults[k] = v
				}
			}
			p.skipSemicolon()
		case tokIdentifier:
			if p.peek().value == "label" && p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].typ == tokEquals {
				p.advance()
				p.advance()
				if derived := deriveClass(p.advance().value); derived != "" {
					sgDefaults["class"] = derived
				}
				p.skipSemicolon()
				continue
			}
			if err := p.parseStatement(g, sgDefaults); err != nil {
				return err
			}
		default:
			if err := p.parseStatement(g, sgDefaults); err != nil {
				return err
			}
		}
	}

	if _, err := p.expect(tokRBrace); err != nil {
		return err
	}
	p.nodeDefaults = savedNodeDefaults
	p.skipSemicolon()
	return nil
}

// deriveClass turns a "cluster_review_stage" subgraph label into a
// CSS-like class token used by the stylesheet cascade's class selectors.
func deriveClass(label string) string {
	label = strings.TrimPrefix(label, "cluster_")
	label = strings.ToLower(label)
	label = strings.ReplaceAll(label, " ", "-")
	label = strings.ReplaceAll(label, "_", "-")
	var out strings.Builder
	for _, r := range label {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func (p *parser) parseNodeOrEdge(g *model.Graph, subgraphDefaults map[string]string) error {
	id := p.advance().value

	if p.peek().typ == tokEquals {
		p.advance()
		val := p.advance().value
		g.Attrs[id] = val
		p.skipSemicolon()
		return nil
	}

	if p.peek().typ == tokArrow {
		return p.parseEdgeChain(g, id, subgraphDefaults)
	}

	p.ensureNode(g, id, subgraphDefaults)
	if p.peek().typ == tokLBracket {
		attrs, err := p.parseAttrBlock()
		if err != nil {
			return err
		}
		for k, v := range attrs {
			g.Nodes[id].Attrs[k] = v
		}
	}
	p.skipSemicolon()
	return nil
}

func (p *parser) parseEdgeChain(g *model.Graph, firstID string, subgraphDefaults map[string]string) error {
	chain := []string{firstID}
	for p.peek().typ == tokArrow {
		p.advance()
		chain = append(chain, p.advance().value)
	}

	var attrs map[string]string
	if p.peek().typ == tokLBracket {
		var err error
		attrs, err = p.parseAttrBlock()
		if err != nil {
			return err
		}
	}

	for i := 0; i < len(chain)-1; i++ {
		from, to := chain[i], chain[i+1]
		p.ensureNode(g, from, subgraphDefaults)
		p.ensureNode(g, to, subgraphDefaults)

		edge := &model.Edge{From: from, To: to, Attrs: make(map[string]string), Order: p.edgeOrder}
		p.edgeOrder++
		for k, v := range p.edgeDefaults {
			edge.Attrs[k] = v
		}
		for k, v := range attrs {
			edge.Attrs[k] = v
		}
		g.Edges = append(g.Edges, edge)
	}
	p.skipSemicolon()
	return nil
}

func (p *parser) parseAttrBlock() (map[string]string, error) {
	if _, err := p.expect(tokLBracket); err != nil {
		return nil, err
	}
	attrs := make(map[string]string)
	for p.peek().typ != tokRBracket && p.peek().typ != tokEOF {
		key := p.advance().value
		for p.peek().typ == tokDot {
			p.advance()
			key += "." + p.advance().value
		}
		if _, err := p.expect(tokEquals); err != nil {
			return nil, err
		}
		attrs[key] = p.advance().value
		if p.peek().typ == tokComma {
			p.advance()
		}
	}
	if _, err := p.expect(tokRBracket); err != nil {
		return nil, err
	}
	return attrs, nil
}

func (p *parser) ensureNode(g *model.Graph, id string, subgraphDefaults map[string]string) {
	if _, exists := g.Nodes[id]; exists {
		return
	}
	n := &model.Node{ID: id, Attrs: make(map[string]string), Order: p.nodeOrder}
	p.nodeOrder++
	for k, v := range p.nodeDefaults {
		n.Attrs[k] = v
	}
	for k, v := range subgraphDefaults {
		n.Attrs[k] = v
	}
	g.Nodes[id] = n
}
