package handler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

func TestStartAndExitHandlers_AlwaysSucceed(t *testing.T) {
	ctx := runtime.NewContext()
	out, err := StartHandler{}.Execute(model.NewNode("start"), ctx, model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)

	out, err = ExitHandler{}.Execute(model.NewNode("exit"), ctx, model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
}

func TestCodergenHandler_SimulatesWhenBackendNil(t *testing.T) {
	logsRoot := t.TempDir()
	n := model.NewNode("build")
	n.Attrs["prompt"] = "implement $goal"
	g := model.NewGraph("g")
	g.Attrs["goal"] = "the feature"

	out, err := CodergenHandler{}.Execute(n, runtime.NewContext(), g, logsRoot)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
	assert.Equal(t, "build", out.ContextUpdates["last_stage"])

	promptBytes, err := os.ReadFile(filepath.Join(logsRoot, "build", "prompt.md"))
	require.NoError(t, err)
	assert.Equal(t, "implement the feature", string(promptBytes))
}

type fakeBackend struct {
	result interface{}
	err    error
}

func (f fakeBackend) Run(*model.Node, string, *runtime.Context) (interface{}, error) {
	return f.result, f.err
}

func TestCodergenHandler_WrapsBackendStringResult(t *testing.T) {
	n := model.NewNode("build")
	n.Attrs["prompt"] = "go"
	out, err := CodergenHandler{Backend: fakeBackend{result: "done"}}.Execute(n, runtime.NewContext(), model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
	assert.Equal(t, "done", out.ContextUpdates["last_response"])
}

func TestCodergenHandler_WrapsBackendErrorAsFail(t *testing.T) {
	n := model.NewNode("build")
	n.Attrs["prompt"] = "go"
	out, err := CodergenHandler{Backend: fakeBackend{err: assertErr{"provider unavailable"}}}.Execute(n, runtime.NewContext(), model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, out.Status)
	assert.Contains(t, out.FailureReason, "provider unavailable")
}

func TestCodergenHandler_CompactFidelityTruncatesContextResponse(t *testing.T) {
	n := model.NewNode("build")
	n.Attrs["prompt"] = "go"
	n.Attrs["fidelity"] = "compact"
	long := strings.Repeat("x", 500)
	out, err := CodergenHandler{Backend: fakeBackend{result: long}}.Execute(n, runtime.NewContext(), model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Less(t, len(out.ContextUpdates["last_response"].(string)), len(long))
}

func TestCodergenHandler_FullFidelityKeepsEntireResponse(t *testing.T) {
	n := model.NewNode("build")
	n.Attrs["prompt"] = "go"
	n.Attrs["fidelity"] = "full"
	long := strings.Repeat("x", 500)
	out, err := CodergenHandler{Backend: fakeBackend{result: long}}.Execute(n, runtime.NewContext(), model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, long, out.ContextUpdates["last_response"])
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestCodergenHandler_PassesThroughOutcomeResult(t *testing.T) {
	n := model.NewNode("build")
	n.Attrs["prompt"] = "go"
	want := &runtime.Outcome{Status: runtime.StatusPartialSuccess, Notes: "half done"}
	out, err := CodergenHandler{Backend: fakeBackend{result: want}}.Execute(n, runtime.NewContext(), model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Same(t, want, out)
}

func TestToolHandler_RunsCommandAndCapturesOutput(t *testing.T) {
	logsRoot := t.TempDir()
	n := model.NewNode("run_tests")
	n.Attrs["prompt"] = "echo hello"

	out, err := ToolHandler{}.Execute(n, runtime.NewContext(), model.NewGraph("g"), logsRoot)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
	assert.Contains(t, out.ContextUpdates["tool.output"], "hello")
}

func TestToolHandler_FailsOnNonZeroExit(t *testing.T) {
	n := model.NewNode("run_tests")
	n.Attrs["prompt"] = "exit 1"

	out, err := ToolHandler{}.Execute(n, runtime.NewContext(), model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, out.Status)
}

func TestToolHandler_FailsWhenNoCommandSpecified(t *testing.T) {
	n := model.NewNode("run_tests")
	out, err := ToolHandler{}.Execute(n, runtime.NewContext(), model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, out.Status)
	assert.Contains(t, out.FailureReason, "no command")
}

func TestWaitForHumanHandler_NilInterviewerPicksFirstEdge(t *testing.T) {
	g := model.NewGraph("g")
	gate := model.NewNode("gate")
	g.AddNode(gate)
	g.AddNode(model.NewNode("approve"))
	g.AddNode(model.NewNode("reject"))
	g.AddEdge(model.NewEdge("gate", "approve"))
	g.AddEdge(model.NewEdge("gate", "reject"))

	out, err := WaitForHumanHandler{}.Execute(gate, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
	assert.Equal(t, []string{"approve"}, out.SuggestedNextIDs)
}

type fakeInterviewer struct {
	answer Answer
}

func (f fakeInterviewer) Ask(Question) Answer { return f.answer }

func TestWaitForHumanHandler_UsesInterviewerAnswer(t *testing.T) {
	g := model.NewGraph("g")
	gate := model.NewNode("gate")
	g.AddNode(gate)
	g.AddNode(model.NewNode("approve"))
	g.AddNode(model.NewNode("reject"))
	g.AddEdge(model.NewEdge("gate", "approve"))
	g.AddEdge(model.NewEdge("gate", "reject"))

	out, err := WaitForHumanHandler{
		Interviewer: fakeInterviewer{answer: Answer{Status: AnswerAnswered, Selected: "reject"}},
	}.Execute(gate, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"reject"}, out.SuggestedNextIDs)
}

func TestWaitForHumanHandler_TimeoutWithoutDefaultRetries(t *testing.T) {
	g := model.NewGraph("g")
	gate := model.NewNode("gate")
	g.AddNode(gate)
	g.AddNode(model.NewNode("approve"))
	g.AddEdge(model.NewEdge("gate", "approve"))

	out, err := WaitForHumanHandler{
		Interviewer: fakeInterviewer{answer: Answer{Status: AnswerTimeout}},
	}.Execute(gate, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusRetry, out.Status)
}

func TestWaitForHumanHandler_TimeoutWithDefaultChoiceSucceeds(t *testing.T) {
	g := model.NewGraph("g")
	gate := model.NewNode("gate")
	gate.Attrs["human.default_choice"] = "approve"
	g.AddNode(gate)
	g.AddNode(model.NewNode("approve"))
	g.AddEdge(model.NewEdge("gate", "approve"))

	out, err := WaitForHumanHandler{
		Interviewer: fakeInterviewer{answer: Answer{Status: AnswerTimeout}},
	}.Execute(gate, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
	assert.Equal(t, []string{"approve"}, out.SuggestedNextIDs)
}

func TestWaitForHumanHandler_SkippedFails(t *testing.T) {
	g := model.NewGraph("g")
	gate := model.NewNode("gate")
	g.AddNode(gate)
	g.AddNode(model.NewNode("approve"))
	g.AddEdge(model.NewEdge("gate", "approve"))

	out, err := WaitForHumanHandler{
		Interviewer: fakeInterviewer{answer: Answer{Status: AnswerSkipped}},
	}.Execute(gate, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, out.Status)
}

func TestWaitForHumanHandler_NoOutgoingEdgesFails(t *testing.T) {
	g := model.NewGraph("g")
	gate := model.NewNode("gate")
	g.AddNode(gate)

	out, err := WaitForHumanHandler{}.Execute(gate, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, out.Status)
}

func okHandler(status runtime.Status) HandlerFunc {
	return func(*model.Node, *runtime.Context, *model.Graph, string) (*runtime.Outcome, error) {
		return &runtime.Outcome{Status: status}, nil
	}
}

func TestParallelHandler_WaitAllSucceedsWhenAllBranchesSucceed(t *testing.T) {
	g := model.NewGraph("g")
	fan := model.NewNode("fan")
	g.AddNode(fan)
	g.AddNode(model.NewNode("a"))
	g.AddNode(model.NewNode("b"))
	g.AddEdge(model.NewEdge("fan", "a"))
	g.AddEdge(model.NewEdge("fan", "b"))

	h := ParallelHandler{Resolver: func(*model.Node) Handler { return okHandler(runtime.StatusSuccess) }}
	out, err := h.Execute(fan, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
}

func TestParallelHandler_WaitAllYieldsPartialSuccessOnAnyFailure(t *testing.T) {
	g := model.NewGraph("g")
	fan := model.NewNode("fan")
	g.AddNode(fan)
	g.AddNode(model.NewNode("a"))
	g.AddNode(model.NewNode("b"))
	g.AddEdge(model.NewEdge("fan", "a"))
	g.AddEdge(model.NewEdge("fan", "b"))

	calls := 0
	h := ParallelHandler{Resolver: func(*model.Node) Handler {
		calls++
		if calls%2 == 0 {
			return okHandler(runtime.StatusFail)
		}
		return okHandler(runtime.StatusSuccess)
	}}
	out, err := h.Execute(fan, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusPartialSuccess, out.Status)
}

func TestParallelHandler_FirstSuccessPolicySucceedsOnOneBranch(t *testing.T) {
	g := model.NewGraph("g")
	fan := model.NewNode("fan")
	fan.Attrs["join_policy"] = "first_success"
	g.AddNode(fan)
	g.AddNode(model.NewNode("a"))
	g.AddNode(model.NewNode("b"))
	g.AddEdge(model.NewEdge("fan", "a"))
	g.AddEdge(model.NewEdge("fan", "b"))

	calls := 0
	h := ParallelHandler{Resolver: func(*model.Node) Handler {
		calls++
		if calls == 1 {
			return okHandler(runtime.StatusSuccess)
		}
		return okHandler(runtime.StatusFail)
	}}
	out, err := h.Execute(fan, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
}

func TestParallelHandler_NoBranchesFails(t *testing.T) {
	g := model.NewGraph("g")
	fan := model.NewNode("fan")
	g.AddNode(fan)

	h := ParallelHandler{}
	out, err := h.Execute(fan, runtime.NewContext(), g, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, out.Status)
}

func TestFanInHandler_SelectsFirstSuccessfulBranch(t *testing.T) {
	ctx := runtime.NewContext()
	ctx.Set("parallel.results", `[{"node_id":"a","outcome":{"outcome":"fail"}},{"node_id":"b","outcome":{"outcome":"success"}}]`)

	out, err := FanInHandler{}.Execute(model.NewNode("join"), ctx, model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
	assert.Equal(t, "b", out.ContextUpdates["fan_in.selected"])
}

func TestFanInHandler_FailsWithNoParallelResults(t *testing.T) {
	out, err := FanInHandler{}.Execute(model.NewNode("join"), runtime.NewContext(), model.NewGraph("g"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, out.Status)
}
