package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/attractor/internal/events"
	"github.com/flowgraph/attractor/internal/handler"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

func outcomeHandler(status runtime.Status) handler.HandlerFunc {
	return func(*model.Node, *runtime.Context, *model.Graph, string) (*runtime.Outcome, error) {
		return &runtime.Outcome{Status: status}, nil
	}
}

func baseRegistry() *handler.Registry {
	reg := handler.NewRegistry()
	reg.Register("start", handler.StartHandler{})
	reg.Register("exit", handler.ExitHandler{})
	return reg
}

func TestRun_LinearSuccess(t *testing.T) {
	g := model.NewGraph("linear")
	start := model.NewNode("start")
	start.Attrs["shape"] = "Mdiamond"
	build := model.NewNode("build")
	build.Attrs["shape"] = "box"
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(start)
	g.AddNode(build)
	g.AddNode(done)
	g.AddEdge(model.NewEdge("start", "build"))
	g.AddEdge(model.NewEdge("build", "done"))

	reg := baseRegistry()
	reg.Register("codergen", outcomeHandler(runtime.StatusSuccess))

	eng := New(reg, nil)
	res, err := eng.Run(g, Config{LogsRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, res.Status)
	assert.Equal(t, []string{"start", "build"}, res.CompletedNodes)
}

func TestRun_ConditionalRoutingFollowsMatchingOutcome(t *testing.T) {
	g := model.NewGraph("cond")
	start := model.NewNode("start")
	start.Attrs["shape"] = "Mdiamond"
	check := model.NewNode("check")
	check.Attrs["shape"] = "diamond"
	successPath := model.NewNode("success_path")
	successPath.Attrs["shape"] = "Msquare"
	failPath := model.NewNode("fail_path")
	failPath.Attrs["shape"] = "Msquare"
	g.AddNode(start)
	g.AddNode(check)
	g.AddNode(successPath)
	g.AddNode(failPath)
	g.AddEdge(model.NewEdge("start", "check"))
	okEdge := model.NewEdge("check", "success_path")
	okEdge.Attrs["condition"] = "outcome=success"
	g.AddEdge(okEdge)
	failEdge := model.NewEdge("check", "fail_path")
	failEdge.Attrs["condition"] = "outcome=fail"
	g.AddEdge(failEdge)

	reg := baseRegistry()
	reg.Register("conditional", handler.ConditionalHandler{})

	eng := New(reg, nil)
	res, err := eng.Run(g, Config{LogsRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, res.Status)
	assert.Equal(t, []string{"start", "check"}, res.CompletedNodes)
}

func TestRun_RetryThenSuccess(t *testing.T) {
	g := model.NewGraph("retry")
	start := model.NewNode("start")
	start.Attrs["shape"] = "Mdiamond"
	flaky := model.NewNode("flaky")
	flaky.Attrs["shape"] = "box"
	flaky.Attrs["max_retries"] = "3"
	flaky.Attrs["retry.backoff.initial_delay_ms"] = "0"
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(start)
	g.AddNode(flaky)
	g.AddNode(done)
	g.AddEdge(model.NewEdge("start", "flaky"))
	g.AddEdge(model.NewEdge("flaky", "done"))

	calls := 0
	reg := baseRegistry()
	reg.Register("codergen", handler.HandlerFunc(func(*model.Node, *runtime.Context, *model.Graph, string) (*runtime.Outcome, error) {
		calls++
		if calls < 3 {
			return &runtime.Outcome{Status: runtime.StatusRetry}, nil
		}
		return &runtime.Outcome{Status: runtime.StatusSuccess}, nil
	}))

	eng := New(reg, nil)
	res, err := eng.Run(g, Config{LogsRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, res.Status)
	assert.Equal(t, 3, calls)
	assert.Equal(t, runtime.StatusSuccess, res.NodeOutcomes["flaky"].Status)
}

func TestRun_GoalGateReentryRetriesUntilSatisfied(t *testing.T) {
	g := model.NewGraph("gate")
	start := model.NewNode("start")
	start.Attrs["shape"] = "Mdiamond"
	gate := model.NewNode("gate")
	gate.Attrs["shape"] = "box"
	gate.Attrs["goal_gate"] = "true"
	gate.Attrs["retry_target"] = "gate"
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(start)
	g.AddNode(gate)
	g.AddNode(done)
	g.AddEdge(model.NewEdge("start", "gate"))
	g.AddEdge(model.NewEdge("gate", "done"))

	calls := 0
	reg := baseRegistry()
	reg.Register("codergen", handler.HandlerFunc(func(*model.Node, *runtime.Context, *model.Graph, string) (*runtime.Outcome, error) {
		calls++
		if calls == 1 {
			return &runtime.Outcome{Status: runtime.StatusFail}, nil
		}
		return &runtime.Outcome{Status: runtime.StatusSuccess}, nil
	}))

	eng := New(reg, nil)
	res, err := eng.Run(g, Config{LogsRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, res.Status)
	assert.Equal(t, 2, calls)
}

func TestRun_FailWithNoFailEdgeReturnsError(t *testing.T) {
	g := model.NewGraph("dead-end")
	start := model.NewNode("start")
	start.Attrs["shape"] = "Mdiamond"
	build := model.NewNode("build")
	build.Attrs["shape"] = "box"
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(start)
	g.AddNode(build)
	g.AddNode(done)
	// start has two outgoing edges so "done" stays reachable (validation
	// requires a terminal node reachable from start) while bestEdge's
	// lexical tiebreak ("build" < "done") still sends the run into the
	// dead-end branch first.
	g.AddEdge(model.NewEdge("start", "build"))
	g.AddEdge(model.NewEdge("start", "done"))

	reg := baseRegistry()
	reg.Register("codergen", outcomeHandler(runtime.StatusFail))

	eng := New(reg, nil)
	res, err := eng.Run(g, Config{LogsRoot: t.TempDir()})
	require.Error(t, err)
	var noFailEdge *NoFailEdgeError
	assert.ErrorAs(t, err, &noFailEdge)
	assert.Equal(t, runtime.StatusFail, res.Status)
}

func TestRun_AutoStatusWritesSyntheticStatusForHandlersThatDontWriteOne(t *testing.T) {
	g := model.NewGraph("auto-status")
	start := model.NewNode("start")
	start.Attrs["shape"] = "Mdiamond"
	check := model.NewNode("check")
	check.Attrs["shape"] = "diamond"
	check.Attrs["auto_status"] = "true"
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(start)
	g.AddNode(check)
	g.AddNode(done)
	g.AddEdge(model.NewEdge("start", "check"))
	g.AddEdge(model.NewEdge("check", "done"))

	reg := baseRegistry()
	reg.Register("conditional", handler.ConditionalHandler{})

	logsRoot := t.TempDir()
	eng := New(reg, nil)
	res, err := eng.Run(g, Config{LogsRoot: logsRoot})
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, res.Status)

	data, err := os.ReadFile(filepath.Join(logsRoot, "check", "status.json"))
	require.NoError(t, err, "conditional handler never writes status.json itself, so auto_status must synthesize one")
	assert.Contains(t, string(data), "success")
}

func TestRun_LoopRestartEdgeResetsStageIndex(t *testing.T) {
	g := model.NewGraph("loop")
	start := model.NewNode("start")
	start.Attrs["shape"] = "Mdiamond"
	a := model.NewNode("a")
	a.Attrs["shape"] = "box"
	b := model.NewNode("b")
	b.Attrs["shape"] = "box"
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(start)
	g.AddNode(a)
	g.AddNode(b)
	g.AddNode(done)
	g.AddEdge(model.NewEdge("start", "a"))

	loopBack := model.NewEdge("a", "b")
	loopBack.Attrs["loop_restart"] = "true"
	g.AddEdge(loopBack)
	g.AddEdge(model.NewEdge("b", "done"))

	reg := baseRegistry()
	reg.Register("codergen", handler.HandlerFunc(func(n *model.Node, _ *runtime.Context, _ *model.Graph, _ string) (*runtime.Outcome, error) {
		return &runtime.Outcome{Status: runtime.StatusSuccess}, nil
	}))

	emitter := events.NewEmitter()
	stageIndexByNode := make(map[string]int)
	emitter.On(func(ev events.Event) {
		if ev.Type != events.StageStarted {
			return
		}
		stageIndexByNode[ev.Data["node_id"].(string)] = ev.Data["index"].(int)
	})

	eng := New(reg, emitter)
	res, err := eng.Run(g, Config{LogsRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, res.Status)
	assert.Equal(t, []string{"start", "a", "b"}, res.CompletedNodes)
	assert.Equal(t, 1, stageIndexByNode["a"])
	assert.Equal(t, 0, stageIndexByNode["b"], "the a->b edge carries loop_restart=true so stage_index must reset to 0")
}

func TestRun_ValidationFailureBlocksStart(t *testing.T) {
	g := model.NewGraph("no-start")
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(done)

	eng := New(baseRegistry(), nil)
	res, err := eng.Run(g, Config{LogsRoot: t.TempDir()})
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestRun_HandlerPanicIsConvertedToFailOutcome(t *testing.T) {
	g := model.NewGraph("panic")
	start := model.NewNode("start")
	start.Attrs["shape"] = "Mdiamond"
	build := model.NewNode("build")
	build.Attrs["shape"] = "box"
	build.Attrs["max_retries"] = "0"
	done := model.NewNode("done")
	done.Attrs["shape"] = "Msquare"
	g.AddNode(start)
	g.AddNode(build)
	g.AddNode(done)
	g.AddEdge(model.NewEdge("start", "build"))
	g.AddEdge(model.NewEdge("build", "done"))

	reg := baseRegistry()
	reg.Register("codergen", handler.HandlerFunc(func(*model.Node, *runtime.Context, *model.Graph, string) (*runtime.Outcome, error) {
		panic("boom")
	}))

	eng := New(reg, nil)
	res, err := eng.Run(g, Config{LogsRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, res.NodeOutcomes["build"].Status)
	assert.Contains(t, res.NodeOutcomes["build"].FailureReason, "panic")
}
