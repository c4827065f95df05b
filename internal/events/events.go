// Package events implements the engine's multi-observer broadcast of typed
// lifecycle events, with observer errors isolated from one another.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Type identifies the kind of a pipeline event.
type Type string

const (
	PipelineStarted   Type = "pipeline_started"
	PipelineCompleted Type = "pipeline_completed"
	PipelineFailed    Type = "pipeline_failed"

	StageStarted   Type = "stage_started"
	StageCompleted Type = "stage_completed"
	StageFailed    Type = "stage_failed"
	StageRetrying  Type = "stage_retrying"

	ParallelStarted         Type = "parallel_started"
	ParallelBranchStarted   Type = "parallel_branch_started"
	ParallelBranchCompleted Type = "parallel_branch_completed"
	ParallelCompleted       Type = "parallel_completed"

	InterviewStarted   Type = "interview_started"
	InterviewCompleted Type = "interview_completed"
	InterviewTimeout   Type = "interview_timeout"

	CheckpointSaved Type = "checkpoint_saved"

	ValidationWarning Type = "validation_warning"
)

// Event is a single typed, timestamped record broadcast to every observer.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// New creates an event stamped with the current time.
func New(typ Type, data map[string]interface{}) Event {
	return Event{Type: typ, Timestamp: time.Now(), Data: data}
}

// Observer receives events in emission order.
type Observer func(Event)

// Emitter is a synchronous multi-observer broadcaster. Observers register
// once and see every event emitted after registration, in strict emit
// order; a panicking or erroring observer never prevents other observers
// from seeing the same event.
type Emitter struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// On registers an observer.
func (e *Emitter) On(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

// Emit delivers ev to every registered observer. Each observer call is
// wrapped in a recover guard: a panicking observer is logged and skipped,
// never propagated to the engine or to other observers.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.mu.RUnlock()

	for _, obs := range observers {
		callObserver(obs, ev)
	}
}

func callObserver(obs Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(ev.Type)).
				Msg("event observer panicked; isolated from other observers")
		}
	}()
	obs(ev)
}

func (e *Emitter) EmitPipelineStarted(name, runID string) {
	e.Emit(New(PipelineStarted, map[string]interface{}{"name": name, "run_id": runID}))
}

func (e *Emitter) EmitPipelineCompleted(duration time.Duration) {
	e.Emit(New(PipelineCompleted, map[string]interface{}{"duration": duration.String()}))
}

func (e *Emitter) EmitPipelineFailed(reason string, duration time.Duration) {
	e.Emit(New(PipelineFailed, map[string]interface{}{"reason": reason, "duration": duration.String()}))
}

func (e *Emitter) EmitStageStarted(nodeID string, index int) {
	e.Emit(New(StageStarted, map[string]interface{}{"node_id": nodeID, "index": index}))
}

func (e *Emitter) EmitStageCompleted(nodeID string, index int, status string, duration time.Duration) {
	e.Emit(New(StageCompleted, map[string]interface{}{
		"node_id": nodeID, "index": index, "status": status, "duration": duration.String(),
	}))
}

func (e *Emitter) EmitStageFailed(nodeID string, index int, reason string) {
	e.Emit(New(StageFailed, map[string]interface{}{"node_id": nodeID, "index": index, "reason": reason}))
}

func (e *Emitter) EmitStageRetrying(nodeID string, index, attempt int, delay time.Duration) {
	e.Emit(New(StageRetrying, map[string]interface{}{
		"node_id": nodeID, "index": index, "attempt": attempt, "delay": delay.String(),
	}))
}

func (e *Emitter) EmitParallelStarted(nodeID string, branchCount int) {
	e.Emit(New(ParallelStarted, map[string]interface{}{"node_id": nodeID, "branch_count": branchCount}))
}

func (e *Emitter) EmitParallelBranchStarted(nodeID string, branch int) {
	e.Emit(New(ParallelBranchStarted, map[string]interface{}{"node_id": nodeID, "branch": branch}))
}

func (e *Emitter) EmitParallelBranchCompleted(nodeID string, branch int, status string) {
	e.Emit(New(ParallelBranchCompleted, map[string]interface{}{
		"node_id": nodeID, "branch": branch, "status": status,
	}))
}

func (e *Emitter) EmitParallelCompleted(nodeID string, joinPolicy string) {
	e.Emit(New(ParallelCompleted, map[string]interface{}{"node_id": nodeID, "join_policy": joinPolicy}))
}

func (e *Emitter) EmitInterviewStarted(nodeID string, choiceCount int) {
	e.Emit(New(InterviewStarted, map[string]interface{}{"node_id": nodeID, "choice_count": choiceCount}))
}

func (e *Emitter) EmitInterviewCompleted(nodeID, choice string) {
	e.Emit(New(InterviewCompleted, map[string]interface{}{"node_id": nodeID, "choice": choice}))
}

func (e *Emitter) EmitInterviewTimeout(nodeID string) {
	e.Emit(New(InterviewTimeout, map[string]interface{}{"node_id": nodeID}))
}

func (e *Emitter) EmitCheckpointSaved(nodeID string) {
	e.Emit(New(CheckpointSaved, map[string]interface{}{"node_id": nodeID}))
}

func (e *Emitter) EmitValidationWarning(rule, message string) {
	e.Emit(New(ValidationWarning, map[string]interface{}{"rule": rule, "message": message}))
}
