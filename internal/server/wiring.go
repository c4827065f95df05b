package server

import (
	"github.com/flowgraph/attractor/internal/events"
	"github.com/flowgraph/attractor/internal/handler"
	"github.com/flowgraph/attractor/internal/manager"
)

// BuildRegistry assembles the built-in handler set for a single run. A
// fresh registry is built per run because WaitForHumanHandler and
// ParallelHandler carry a run-scoped Emitter and Interviewer.
func BuildRegistry(emitter *events.Emitter, interviewer handler.Interviewer, backend handler.CodergenBackend, logsRoot string) *handler.Registry {
	reg := handler.NewRegistry()
	reg.Register("start", handler.StartHandler{})
	reg.Register("exit", handler.ExitHandler{})
	reg.Register("conditional", handler.ConditionalHandler{})
	reg.Register("codergen", handler.CodergenHandler{Backend: backend})
	reg.Register("tool", handler.ToolHandler{})
	reg.Register("wait.human", handler.WaitForHumanHandler{Interviewer: interviewer, Emitter: emitter})
	reg.Register("parallel.fan_in", handler.FanInHandler{})
	reg.Register("stack.manager_loop", manager.Handler{LogsRoot: logsRoot})

	var parallel handler.ParallelHandler
	parallel.Emitter = emitter
	parallel.Resolver = reg.Resolve
	reg.Register("parallel", parallel)

	return reg
}
