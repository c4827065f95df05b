package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/attractor/internal/model"
)

func linearGraph() *model.Graph {
	g := model.NewGraph("g")
	start := model.NewNode("start")
	start.Attrs["shape"] = "Mdiamond"
	build := model.NewNode("build")
	build.Attrs["shape"] = "box"
	build.Attrs["prompt"] = "do work"
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(start)
	g.AddNode(build)
	g.AddNode(done)
	g.AddEdge(model.NewEdge("start", "build"))
	g.AddEdge(model.NewEdge("build", "done"))
	return g
}

func TestOrRaise_ValidGraphPasses(t *testing.T) {
	diags, err := OrRaise(linearGraph())
	require.NoError(t, err)
	for _, d := range diags {
		assert.NotEqual(t, SeverityError, d.Severity)
	}
}

func TestOrRaise_MissingStartNodeFails(t *testing.T) {
	g := model.NewGraph("g")
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(done)

	_, err := OrRaise(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start node")
}

func TestOrRaise_UnreachableNodeFails(t *testing.T) {
	g := linearGraph()
	stray := model.NewNode("stray")
	stray.Attrs["shape"] = "box"
	g.AddNode(stray)

	_, err := OrRaise(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reachable")
}

func TestRuleManagerActionsSchema_RejectsUnknownAction(t *testing.T) {
	g := linearGraph()
	g.Nodes["build"].Attrs["manager.actions"] = "observe,launch_missiles"

	diags := Run(g)
	found := false
	for _, d := range diags {
		if d.Rule == "manager_actions_schema" && d.Severity == SeverityError {
			found = true
		}
	}
	assert.True(t, found, "expected manager_actions_schema error diagnostic")
}

func TestRuleManagerActionsSchema_AcceptsKnownActions(t *testing.T) {
	g := linearGraph()
	g.Nodes["build"].Attrs["manager.actions"] = "observe, steer"

	diags := Run(g)
	for _, d := range diags {
		assert.NotEqual(t, "manager_actions_schema", d.Rule)
	}
}

func TestOrRaise_ErrorDiagnosticsCarryFixSuggestions(t *testing.T) {
	g := model.NewGraph("g")
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(done)

	diags, err := OrRaise(g)
	require.Error(t, err)
	found := false
	for _, d := range diags {
		if d.Rule == "start_node" {
			found = true
			assert.NotEmpty(t, d.Fix)
		}
	}
	assert.True(t, found)
}

func TestRuleFidelitySchema_RejectsUnknownValue(t *testing.T) {
	g := linearGraph()
	g.Nodes["build"].Attrs["fidelity"] = "verbose"

	diags := Run(g)
	found := false
	for _, d := range diags {
		if d.Rule == "fidelity_schema" && d.Severity == SeverityError {
			found = true
			assert.NotEmpty(t, d.Fix)
		}
	}
	assert.True(t, found, "expected fidelity_schema error diagnostic")
}

func TestRuleFidelitySchema_AcceptsSummaryWithLevel(t *testing.T) {
	g := linearGraph()
	g.Nodes["build"].Attrs["fidelity"] = "summary:medium"
	g.Edges[0].Attrs["fidelity"] = "truncate"

	diags := Run(g)
	for _, d := range diags {
		assert.NotEqual(t, "fidelity_schema", d.Rule)
	}
}

func TestRuleToolAttrsSchema_RequiresPromptOrLabel(t *testing.T) {
	g := linearGraph()
	tool := model.NewNode("run_tests")
	tool.Attrs["shape"] = "parallelogram"
	g.AddNode(tool)
	g.AddEdge(model.NewEdge("build", "run_tests"))
	g.AddEdge(model.NewEdge("run_tests", "done"))

	diags := Run(g)
	found := false
	for _, d := range diags {
		if d.Rule == "tool_attrs_schema" {
			found = true
		}
	}
	assert.True(t, found, "expected tool_attrs_schema diagnostic for node with neither prompt nor label")
}
