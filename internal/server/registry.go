package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowgraph/attractor/internal/engine"
	"github.com/flowgraph/attractor/internal/runtime"
)

// PipelineRun tracks one submitted pipeline's live or finished state.
type PipelineRun struct {
	RunID       string
	Broadcaster *Broadcaster
	Interviewer *WebInterviewer
	Cancel      context.CancelFunc
	StartedAt   time.Time
	LogsRoot    string

	mu     sync.Mutex
	ctx    *runtime.Context
	result *engine.Result
	err    error
	done   bool
}

// SetContext stores a reference to the run context for GET
// /pipelines/{id}/context. The submit handler calls it once the engine
// run has returned, so the context is not visible while the run is in
// progress.
func (pr *PipelineRun) SetContext(c *runtime.Context) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.ctx = c
}

// Finish records the terminal result of the run.
func (pr *PipelineRun) Finish(res *engine.Result, err error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.result = res
	pr.err = err
	pr.done = true
}

// Status renders the run's current state for the HTTP API.
func (pr *PipelineRun) Status() PipelineStatus {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	st := PipelineStatus{RunID: pr.RunID, State: "running", LogsRoot: pr.LogsRoot}
	if pr.done {
		if pr.err != nil {
			st.State = string(runtime.StatusFail)
			st.FailureReason = pr.err.Error()
		} else if pr.result != nil {
			st.State = string(pr.result.Status)
			st.FailureReason = pr.result.FailureReason
		}
	}

	history := pr.Broadcaster.History()
	for i := len(history) - 1; i >= 0; i-- {
		if nodeID, ok := history[i].Data["node_id"].(string); ok && nodeID != "" {
			st.CurrentNodeID = nodeID
			break
		}
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		st.LastEvent = string(last.Type)
		ts := last.Timestamp
		st.LastEventAt = &ts
	}
	return st
}

// ContextValues returns a snapshot of the run's context, or an empty map
// if SetContext has not been called yet, which is the case until the run
// finishes.
func (pr *PipelineRun) ContextValues() map[string]interface{} {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.ctx == nil {
		return map[string]interface{}{}
	}
	return pr.ctx.Snapshot()
}

// Registry tracks every pipeline run this server instance has submitted.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*PipelineRun
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*PipelineRun)}
}

// Register adds pr under runID, failing if one is already registered.
func (r *Registry) Register(runID string, pr *PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[runID]; exists {
		return fmt.Errorf("pipeline %s already exists", runID)
	}
	r.runs[runID] = pr
	return nil
}

// Get looks up a run by ID.
func (r *Registry) Get(runID string) (*PipelineRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pr, ok := r.runs[runID]
	return pr, ok
}

// CancelAll cancels every tracked run, e.g. on server shutdown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pr := range r.runs {
		if pr.Cancel != nil {
			pr.Cancel()
		}
		if pr.Interviewer != nil {
			pr.Interviewer.Cancel()
		}
	}
}
