package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/flowgraph/attractor/internal/model"
)

const managerActionsSchemaSrc = `{
	"type": "array",
	"items": {"type": "string", "enum": ["observe", "steer", "wait"]},
	"uniqueItems": true
}`

const toolAttrsSchemaSrc = `{
	"type": "object",
	"anyOf": [
		{"required": ["prompt"]},
		{"required": ["label"]}
	]
}`

const fidelitySchemaSrc = `{
	"type": "string",
	"pattern": "^(full|truncate|compact|summary:(low|medium|high))$"
}`

var managerActionsSchema = mustCompile("manager_actions.json", managerActionsSchemaSrc)
var toolAttrsSchema = mustCompile("tool_attrs.json", toolAttrsSchemaSrc)
var fidelitySchema = mustCompile("fidelity.json", fidelitySchemaSrc)

func mustCompile(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(err)
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(err)
	}
	return s
}

// ruleManagerActionsSchema schema-checks the comma-separated manager.actions
// attribute against the recognized action set from spec §4.9.
func ruleManagerActionsSchema(g *model.Graph) []Diagnostic {
	var out []Diagnostic
	check := func(raw, nodeID string) {
		if raw == "" {
			return
		}
		var actions []string
		for _, a := range strings.Split(raw, ",") {
			a = strings.TrimSpace(a)
			if a != "" {
				actions = append(actions, a)
			}
		}
		doc, err := toJSONValue(actions)
		if err != nil {
			return
		}
		if err := managerActionsSchema.Validate(doc); err != nil {
			out = append(out, Diagnostic{
				Rule: "manager_actions_schema", Severity: SeverityError,
				Message: "manager.actions: " + err.Error(), NodeID: nodeID,
				Fix: `set manager.actions to a comma-separated subset of "observe,steer,wait"`,
			})
		}
	}
	check(g.Attr("manager.actions", ""), "")
	for id, n := range g.Nodes {
		check(n.Attr("manager.actions", ""), id)
	}
	return out
}

// ruleToolAttrsSchema schema-checks that every tool (parallelogram) node
// carries the prompt-or-label attribute the handler needs to build a
// command line.
func ruleToolAttrsSchema(g *model.Graph) []Diagnostic {
	var out []Diagnostic
	for id, n := range g.Nodes {
		if n.Shape() != "parallelogram" || (n.TypeOverride() != "" && n.TypeOverride() != "tool") {
			continue
		}
		doc, err := toJSONValue(n.Attrs)
		if err != nil {
			continue
		}
		if err := toolAttrsSchema.Validate(doc); err != nil {
			out = append(out, Diagnostic{
				Rule: "tool_attrs_schema", Severity: SeverityError,
				Message: "tool node missing prompt/label: " + err.Error(), NodeID: id,
				Fix: fmt.Sprintf("add a prompt or label attribute to tool node %q", id),
			})
		}
	}
	return out
}

// ruleFidelitySchema schema-checks the fidelity attribute recognized on both
// nodes and edges: one of full, truncate, compact, or summary:<low|medium|high>.
// Anything else would silently fall through to codergen's 200-character
// truncation, masking an author typo, so it is flagged here instead.
func ruleFidelitySchema(g *model.Graph) []Diagnostic {
	var out []Diagnostic
	checkValue := func(raw string, nodeID string, edge *[2]string) {
		if raw == "" {
			return
		}
		if err := fidelitySchema.Validate(raw); err != nil {
			out = append(out, Diagnostic{
				Rule: "fidelity_schema", Severity: SeverityError,
				Message: "fidelity: " + err.Error(), NodeID: nodeID, Edge: edge,
				Fix: `set fidelity to one of "full", "truncate", "compact", "summary:low", "summary:medium", "summary:high"`,
			})
		}
	}
	for id, n := range g.Nodes {
		checkValue(n.Fidelity(), id, nil)
	}
	for _, e := range g.Edges {
		edge := [2]string{e.From, e.To}
		checkValue(e.Fidelity(), "", &edge)
	}
	return out
}

func toJSONValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
