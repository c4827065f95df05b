// Package engine implements the single-threaded graph traversal loop: the
// terminal/goal-gate check, execute-with-retry, context application,
// checkpointing, edge selection and advance steps described by the
// specification this module implements.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flowgraph/attractor/internal/checkpoint"
	"github.com/flowgraph/attractor/internal/events"
	"github.com/flowgraph/attractor/internal/handler"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
	"github.com/flowgraph/attractor/internal/validate"
)

// Config configures a single engine run.
type Config struct {
	LogsRoot string
	RunID    string // generated if empty
}

// Engine orchestrates one pipeline run against a fixed graph.
type Engine struct {
	Resolver *handler.Registry
	Emitter  *events.Emitter
}

// New returns an engine ready to run graphs against the given registry. A
// nil emitter is replaced with a no-observer emitter.
func New(resolver *handler.Registry, emitter *events.Emitter) *Engine {
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Engine{Resolver: resolver, Emitter: emitter}
}

// Result is the outcome of a complete pipeline run.
type Result struct {
	Status         runtime.Status
	CompletedNodes []string
	NodeOutcomes   map[string]*runtime.Outcome
	FailureReason  string
	Context        *runtime.Context
}

// NewRunID generates a lexically sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

func newRunID() string {
	return NewRunID()
}

// Run validates, then executes, graph g. It refuses to run (returning
// before emitting PipelineStarted) if validation reports any ERROR
// diagnostic.
func (e *Engine) Run(g *model.Graph, cfg Config) (*Result, error) {
	diags, err := validate.OrRaise(g)
	if err != nil {
		return nil, err
	}
	for _, d := range diags {
		if d.Severity == validate.SeverityWarning {
			e.Emitter.EmitValidationWarning(d.Rule, d.Message)
		}
	}

	runID := cfg.RunID
	if runID == "" {
		runID = newRunID()
	}
	logsRoot := cfg.LogsRoot
	if logsRoot == "" {
		logsRoot = filepath.Join(os.TempDir(), fmt.Sprintf("attractor-run-%s", runID))
	}
	if err := os.MkdirAll(logsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create logs root: %w", err)
	}

	start := time.Now()
	e.Emitter.EmitPipelineStarted(g.Name, runID)

	ctx := runtime.NewContext()
	ctx.Set("graph.goal", g.Goal())
	e.writeManifest(logsRoot, g, start)

	startNode := findStart(g)
	if startNode == nil {
		reason := "no start node found"
		e.Emitter.EmitPipelineFailed(reason, time.Since(start))
		return nil, errors.New(reason)
	}

	var completedNodes []string
	nodeOutcomes := make(map[string]*runtime.Outcome)
	nodeRetries := make(map[string]int)
	current := startNode.ID
	stageIndex := 0

	for {
		node, ok := g.Nodes[current]
		if !ok {
			reason := fmt.Sprintf("node %q not found in graph", current)
			e.Emitter.EmitPipelineFailed(reason, time.Since(start))
			return nil, errors.New(reason)
		}

		// Step 1: terminal + goal-gate check.
		if model.IsTerminal(node) {
			unsatisfied := firstUnsatisfiedGoalGate(g, completedNodes, nodeOutcomes)
			if unsatisfied == nil {
				e.Emitter.EmitPipelineCompleted(time.Since(start))
				return &Result{
					Status:         runtime.StatusSuccess,
					CompletedNodes: completedNodes,
					NodeOutcomes:   nodeOutcomes,
					Context:        ctx,
				}, nil
			}
			target := resolveRetryTarget(g, unsatisfied)
			if target == "" {
				reason := fmt.Sprintf("goal gate %q unsatisfied with no retry target", unsatisfied.ID)
				e.Emitter.EmitPipelineFailed(reason, time.Since(start))
				return &Result{
					Status:         runtime.StatusFail,
					CompletedNodes: completedNodes,
					NodeOutcomes:   nodeOutcomes,
					FailureReason:  reason,
					Context:        ctx,
				}, &GoalGateUnsatisfiedError{NodeID: unsatisfied.ID}
			}
			current = target
			continue
		}

		// Step 2: execute with retry.
		e.Emitter.EmitStageStarted(node.ID, stageIndex)
		stageStart := time.Now()
		outcome := e.executeWithRetry(runID, node, ctx, g, logsRoot, stageIndex, nodeRetries)

		switch outcome.Status {
		case runtime.StatusSuccess, runtime.StatusPartialSuccess:
			e.Emitter.EmitStageCompleted(node.ID, stageIndex, string(outcome.Status), time.Since(stageStart))
		default:
			e.Emitter.EmitStageFailed(node.ID, stageIndex, outcome.FailureReason)
		}

		if node.AutoStatus() {
			writeAutoStatus(logsRoot, node.ID, outcome)
		}

		// Step 3: record completion.
		completedNodes = append(completedNodes, node.ID)
		nodeOutcomes[node.ID] = outcome

		// Step 4: apply context updates + reserved keys.
		ctx.ApplyUpdates(outcome.ContextUpdates)
		ctx.Set("outcome", string(outcome.Status))
		if outcome.PreferredLabel != "" {
			ctx.Set("preferred_label", outcome.PreferredLabel)
		}

		// Step 5: checkpoint.
		cp := &runtime.Checkpoint{
			Timestamp:      time.Now(),
			CurrentNode:    node.ID,
			CompletedNodes: append([]string(nil), completedNodes...),
			NodeRetries:    copyRetries(nodeRetries),
			Context:        ctx.Snapshot(),
			Logs:           ctx.Logs(),
		}
		if err := checkpoint.Save(filepath.Join(logsRoot, "checkpoint.json"), cp); err != nil {
			return nil, fmt.Errorf("save checkpoint: %w", err)
		}
		e.Emitter.EmitCheckpointSaved(node.ID)

		// Step 6: select next edge.
		next := selectNextEdge(g, node.ID, outcome, ctx)
		if next == nil {
			if outcome.Status == runtime.StatusFail {
				reason := "Stage failed with no outgoing fail edge"
				e.Emitter.EmitPipelineFailed(reason, time.Since(start))
				return &Result{
					Status:         runtime.StatusFail,
					CompletedNodes: completedNodes,
					NodeOutcomes:   nodeOutcomes,
					FailureReason:  reason,
					Context:        ctx,
				}, &NoFailEdgeError{NodeID: node.ID}
			}
			e.Emitter.EmitPipelineCompleted(time.Since(start))
			return &Result{
				Status:         runtime.StatusSuccess,
				CompletedNodes: completedNodes,
				NodeOutcomes:   nodeOutcomes,
				Context:        ctx,
			}, nil
		}

		// Step 7: advance.
		current = next.To
		if next.LoopRestart() {
			stageIndex = 0
		} else {
			stageIndex++
		}
	}
}

// writeAutoStatus writes a synthetic status.json for nodes whose handler
// doesn't produce one itself (e.g. conditional or manager nodes) but that
// carry auto_status=true — giving log tooling a consistent per-stage file
// to read regardless of node type.
func writeAutoStatus(logsRoot, nodeID string, outcome *runtime.Outcome) {
	stageDir := filepath.Join(logsRoot, nodeID)
	statusPath := filepath.Join(stageDir, "status.json")
	if _, err := os.Stat(statusPath); err == nil {
		return
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return
	}
	data, _ := json.MarshalIndent(struct {
		Outcome       string `json:"outcome"`
		FailureReason string `json:"failure_reason,omitempty"`
		Notes         string `json:"notes,omitempty"`
	}{
		Outcome:       string(outcome.Status),
		FailureReason: outcome.FailureReason,
		Notes:         outcome.Notes,
	}, "", "  ")
	_ = os.WriteFile(statusPath, data, 0o644)
}

// executeWithRetry dispatches the handler and retries RETRY outcomes and
// handler errors up to the node's max_attempts, per spec §4.5 step 2.
func (e *Engine) executeWithRetry(runID string, n *model.Node, ctx *runtime.Context, g *model.Graph, logsRoot string, stageIndex int, nodeRetries map[string]int) *runtime.Outcome {
	h := e.Resolver.Resolve(n)
	if h == nil {
		return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: (&NoHandlerError{NodeID: n.ID}).Error()}
	}

	maxAttempts := maxAttemptsFor(g, n)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := safeExecute(h, n, ctx, g, logsRoot)
		if err != nil {
			if attempt < maxAttempts {
				nodeRetries[n.ID] = attempt
				delay := backoffDelayForNode(runID, g, n, attempt)
				e.Emitter.EmitStageRetrying(n.ID, stageIndex, attempt, delay)
				time.Sleep(delay)
				continue
			}
			delete(nodeRetries, n.ID)
			return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("Exception: %v", err)}
		}

		switch out.Status {
		case runtime.StatusSuccess, runtime.StatusPartialSuccess:
			delete(nodeRetries, n.ID)
			return out
		case runtime.StatusRetry:
			if attempt < maxAttempts {
				nodeRetries[n.ID] = attempt
				delay := backoffDelayForNode(runID, g, n, attempt)
				e.Emitter.EmitStageRetrying(n.ID, stageIndex, attempt, delay)
				time.Sleep(delay)
				continue
			}
			delete(nodeRetries, n.ID)
			if n.AllowPartial() {
				return &runtime.Outcome{Status: runtime.StatusPartialSuccess, Notes: "retries exhausted, partial accepted"}
			}
			return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "max retries exceeded"}
		default: // FAIL, SKIPPED
			delete(nodeRetries, n.ID)
			return out
		}
	}
	return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "max retries exceeded"}
}

// safeExecute converts a handler panic into an error so the retry loop's
// exception-to-outcome boundary is the only place a thrown error is caught.
func safeExecute(h handler.Handler, n *model.Node, ctx *runtime.Context, g *model.Graph, logsRoot string) (out *runtime.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Execute(n, ctx, g, logsRoot)
}

func findStart(g *model.Graph) *model.Node {
	for _, n := range g.Nodes {
		if model.IsStart(n) {
			return n
		}
	}
	return nil
}

// firstUnsatisfiedGoalGate returns the first completed goal_gate node whose
// recorded outcome isn't SUCCESS/PARTIAL_SUCCESS, or nil if all are
// satisfied (vacuously true when there are none).
func firstUnsatisfiedGoalGate(g *model.Graph, completed []string, outcomes map[string]*runtime.Outcome) *model.Node {
	for _, nodeID := range completed {
		outcome := outcomes[nodeID]
		n := g.Nodes[nodeID]
		if n == nil || outcome == nil || !n.GoalGate() {
			continue
		}
		if outcome.Status != runtime.StatusSuccess && outcome.Status != runtime.StatusPartialSuccess {
			return n
		}
	}
	return nil
}

func resolveRetryTarget(g *model.Graph, n *model.Node) string {
	if t := n.RetryTarget(); t != "" {
		return t
	}
	if t := n.FallbackRetryTarget(); t != "" {
		return t
	}
	if t := g.RetryTarget(); t != "" {
		return t
	}
	return g.FallbackRetryTarget()
}

func copyRetries(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (e *Engine) writeManifest(logsRoot string, g *model.Graph, start time.Time) {
	manifest := map[string]interface{}{
		"name":       g.Name,
		"goal":       g.Goal(),
		"start_time": start.Format(time.RFC3339),
	}
	data, _ := json.MarshalIndent(manifest, "", "  ")
	_ = os.WriteFile(filepath.Join(logsRoot, "manifest.json"), data, 0o644)
}
