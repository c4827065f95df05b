package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/attractor/internal/events"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

// StartHandler is a no-op for the pipeline entry point.
type StartHandler struct{}

func (StartHandler) Execute(*model.Node, *runtime.Context, *model.Graph, string) (*runtime.Outcome, error) {
	return &runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

// ExitHandler is a no-op for the pipeline terminal point.
type ExitHandler struct{}

func (ExitHandler) Execute(*model.Node, *runtime.Context, *model.Graph, string) (*runtime.Outcome, error) {
	return &runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

// ConditionalHandler is a pure routing node; edge selection does the work.
type ConditionalHandler struct{}

func (ConditionalHandler) Execute(n *model.Node, _ *runtime.Context, _ *model.Graph, _ string) (*runtime.Outcome, error) {
	return &runtime.Outcome{Status: runtime.StatusSuccess, Notes: "conditional node evaluated: " + n.ID}, nil
}

// CodergenBackend is the contract an LLM provider adapter satisfies. Result
// may be a *runtime.Outcome (returned as-is), a string (wrapped as the
// response body of a SUCCESS outcome), or an error (wrapped as FAIL).
type CodergenBackend interface {
	Run(node *model.Node, prompt string, ctx *runtime.Context) (interface{}, error)
}

// CodergenHandler builds a prompt, persists it, and delegates to Backend
// (or a deterministic simulation when Backend is nil).
type CodergenHandler struct {
	Backend CodergenBackend
}

func (h CodergenHandler) Execute(n *model.Node, ctx *runtime.Context, g *model.Graph, logsRoot string) (*runtime.Outcome, error) {
	prompt := n.Prompt()
	if prompt == "" {
		prompt = n.Label()
	}
	prompt = expandGoal(prompt, g)

	stageDir := filepath.Join(logsRoot, n.ID)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create stage dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stageDir, "prompt.md"), []byte(prompt), 0o644); err != nil {
		return nil, fmt.Errorf("write prompt: %w", err)
	}

	fidelity := n.Fidelity()

	if h.Backend == nil {
		response := "[simulated] response for stage: " + n.ID
		os.WriteFile(filepath.Join(stageDir, "response.md"), []byte(response), 0o644)
		out := &runtime.Outcome{
			Status: runtime.StatusSuccess,
			Notes:  "stage completed: " + n.ID,
			ContextUpdates: map[string]interface{}{
				"last_stage":    n.ID,
				"last_response": applyFidelity(response, fidelity),
			},
		}
		writeStatus(stageDir, out)
		return out, nil
	}

	result, err := h.Backend.Run(n, prompt, ctx)
	if err != nil {
		out := &runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error()}
		writeStatus(stageDir, out)
		return out, nil
	}
	if out, ok := result.(*runtime.Outcome); ok {
		writeStatus(stageDir, out)
		return out, nil
	}

	response := fmt.Sprint(result)
	os.WriteFile(filepath.Join(stageDir, "response.md"), []byte(response), 0o644)
	out := &runtime.Outcome{
		Status: runtime.StatusSuccess,
		Notes:  "stage completed: " + n.ID,
		ContextUpdates: map[string]interface{}{
			"last_stage":    n.ID,
			"last_response": applyFidelity(response, fidelity),
		},
	}
	writeStatus(stageDir, out)
	return out, nil
}

// applyFidelity shapes how much of a stage's response carries forward into
// context for downstream prompts to quote, per the node's fidelity hint.
// The full text always lands in response.md on disk regardless of fidelity;
// this only governs what shows up in context.last_response.
func applyFidelity(response, fidelity string) string {
	switch {
	case fidelity == "" || fidelity == "full":
		return response
	case fidelity == "truncate":
		return truncate(response, 200)
	case fidelity == "compact":
		return truncate(response, 60)
	case strings.HasPrefix(fidelity, "summary:"):
		level := strings.TrimPrefix(fidelity, "summary:")
		switch level {
		case "high":
			return truncate(response, 400)
		case "low":
			return truncate(response, 40)
		default: // medium
			return truncate(response, 120)
		}
	default:
		return truncate(response, 200)
	}
}

func expandGoal(s string, g *model.Graph) string {
	if g == nil {
		return s
	}
	return strings.ReplaceAll(s, "$goal", g.Goal())
}

// ToolHandler runs the node's prompt/label as a shell command.
type ToolHandler struct{}

func (ToolHandler) Execute(n *model.Node, _ *runtime.Context, g *model.Graph, logsRoot string) (*runtime.Outcome, error) {
	command := n.Prompt()
	if command == "" {
		command = n.Label()
	}
	command = expandGoal(command, g)
	if command == "" {
		return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no command specified"}, nil
	}

	stageDir := filepath.Join(logsRoot, n.ID)
	os.MkdirAll(stageDir, 0o755)
	os.WriteFile(filepath.Join(stageDir, "command.txt"), []byte(command), 0o644)

	timeout := n.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctxTimeout, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctxTimeout, "sh", "-c", command)
	cmd.Env = os.Environ()
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	os.WriteFile(filepath.Join(stageDir, "stdout.txt"), []byte(stdout.String()), 0o644)
	os.WriteFile(filepath.Join(stageDir, "stderr.txt"), []byte(stderr.String()), 0o644)

	if ctxTimeout.Err() == context.DeadlineExceeded {
		out := &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "tool command timed out"}
		writeStatus(stageDir, out)
		return out, nil
	}
	if err != nil {
		out := &runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("tool execution failed: %v", err)}
		writeStatus(stageDir, out)
		return out, nil
	}

	out := &runtime.Outcome{
		Status: runtime.StatusSuccess,
		Notes:  "tool completed: " + command,
		ContextUpdates: map[string]interface{}{
			"tool.output": stdout.String(),
		},
	}
	writeStatus(stageDir, out)
	return out, nil
}

// AnswerStatus classifies the human's response to an interview question.
type AnswerStatus string

const (
	AnswerAnswered AnswerStatus = "answered"
	AnswerTimeout  AnswerStatus = "timeout"
	AnswerSkipped  AnswerStatus = "skipped"
)

// Choice is one selectable option derived from an outgoing edge.
type Choice struct {
	Key   string
	Label string
	To    string
}

// Question is presented to a human during a wait.human stage.
type Question struct {
	ID      string
	NodeID  string
	Text    string
	Choices []Choice
}

// Answer is the human's response.
type Answer struct {
	Status   AnswerStatus
	Selected string // accelerator key or target node id
}

// Interviewer asks a human a multiple-choice question and returns their
// answer (or a timeout/skip classification).
type Interviewer interface {
	Ask(q Question) Answer
}

// WaitForHumanHandler derives choices from outgoing edges and asks an
// Interviewer; absent an interviewer, it simulates by picking the first
// edge.
type WaitForHumanHandler struct {
	Interviewer Interviewer
	Emitter     *events.Emitter
}

func (h WaitForHumanHandler) Execute(n *model.Node, _ *runtime.Context, g *model.Graph, logsRoot string) (*runtime.Outcome, error) {
	edges := g.Outgoing(n.ID)
	if len(edges) == 0 {
		return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no outgoing edges for human gate"}, nil
	}

	var choices []Choice
	for _, e := range edges {
		label := e.Label()
		if label == "" {
			label = e.To
		}
		choices = append(choices, Choice{Key: acceleratorKey(label), Label: label, To: e.To})
	}

	stageDir := filepath.Join(logsRoot, n.ID)
	os.MkdirAll(stageDir, 0o755)

	text := n.Label()
	if text == "" {
		text = "Select an option:"
	}
	q := Question{ID: uuid.NewString(), NodeID: n.ID, Text: text, Choices: choices}
	questionJSON, _ := json.MarshalIndent(q, "", "  ")
	os.WriteFile(filepath.Join(stageDir, "question.json"), questionJSON, 0o644)

	if h.Emitter != nil {
		h.Emitter.EmitInterviewStarted(n.ID, len(choices))
	}

	var answer Answer
	if h.Interviewer == nil {
		answer = Answer{Status: AnswerAnswered, Selected: choices[0].To}
	} else {
		answer = h.Interviewer.Ask(q)
	}
	answerJSON, _ := json.MarshalIndent(answer, "", "  ")
	os.WriteFile(filepath.Join(stageDir, "answer.json"), answerJSON, 0o644)

	switch answer.Status {
	case AnswerTimeout:
		if h.Emitter != nil {
			h.Emitter.EmitInterviewTimeout(n.ID)
		}
		if def := n.Attr("human.default_choice", ""); def != "" {
			for _, c := range choices {
				if c.To == def || c.Key == def {
					out := &runtime.Outcome{
						Status:           runtime.StatusSuccess,
						SuggestedNextIDs: []string{c.To},
						ContextUpdates: map[string]interface{}{
							"human.gate.selected": c.Key,
							"human.gate.label":    c.Label,
						},
					}
					writeStatus(stageDir, out)
					return out, nil
				}
			}
		}
		out := &runtime.Outcome{Status: runtime.StatusRetry, FailureReason: "human gate timeout, no default"}
		writeStatus(stageDir, out)
		return out, nil
	case AnswerSkipped:
		out := &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "human skipped interaction"}
		writeStatus(stageDir, out)
		return out, nil
	}

	selected := choices[0]
	for _, c := range choices {
		if strings.EqualFold(c.Key, answer.Selected) || strings.EqualFold(c.To, answer.Selected) {
			selected = c
			break
		}
	}
	if h.Emitter != nil {
		h.Emitter.EmitInterviewCompleted(n.ID, selected.Key)
	}
	out := &runtime.Outcome{
		Status:           runtime.StatusSuccess,
		SuggestedNextIDs: []string{selected.To},
		ContextUpdates: map[string]interface{}{
			"human.gate.selected": selected.Key,
			"human.gate.label":    selected.Label,
		},
	}
	writeStatus(stageDir, out)
	return out, nil
}

func acceleratorKey(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	if strings.HasPrefix(label, "[") {
		if end := strings.Index(label, "]"); end > 0 {
			return strings.ToLower(label[1:end])
		}
	}
	if len(label) >= 2 && (label[1] == ')' || label[1] == '-') {
		return strings.ToLower(string(label[0]))
	}
	return strings.ToLower(string(label[0]))
}

// ParallelHandler fans out to every outgoing edge's target, each against a
// cloned context, and re-serializes the branch outcomes into one Outcome.
type ParallelHandler struct {
	Resolver func(*model.Node) Handler
	Emitter  *events.Emitter
}

type branchResult struct {
	NodeID  string           `json:"node_id"`
	Outcome *runtime.Outcome `json:"outcome"`
}

func (h ParallelHandler) Execute(n *model.Node, ctx *runtime.Context, g *model.Graph, logsRoot string) (*runtime.Outcome, error) {
	edges := g.Outgoing(n.ID)
	if len(edges) == 0 {
		return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no branches for parallel execution"}, nil
	}

	maxParallel := 4
	if v := n.Attr("max_parallel", ""); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			maxParallel = p
		}
	}

	if h.Emitter != nil {
		h.Emitter.EmitParallelStarted(n.ID, len(edges))
	}

	results := make([]branchResult, len(edges))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, e := range edges {
		wg.Add(1)
		go func(idx int, e *model.Edge) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if h.Emitter != nil {
				h.Emitter.EmitParallelBranchStarted(n.ID, idx)
			}

			branchCtx := ctx.Clone()
			target := g.Nodes[e.To]
			if target == nil {
				results[idx] = branchResult{NodeID: e.To, Outcome: &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "node not found"}}
				return
			}
			if h.Resolver == nil {
				results[idx] = branchResult{NodeID: e.To, Outcome: &runtime.Outcome{Status: runtime.StatusSuccess, Notes: "branch: " + e.To}}
				return
			}
			handler := h.Resolver(target)
			if handler == nil {
				results[idx] = branchResult{NodeID: e.To, Outcome: &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no handler"}}
				return
			}
			out, err := handler.Execute(target, branchCtx, g, logsRoot)
			if err != nil {
				out = &runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error()}
			}
			results[idx] = branchResult{NodeID: e.To, Outcome: out}
			if h.Emitter != nil {
				h.Emitter.EmitParallelBranchCompleted(n.ID, idx, string(out.Status))
			}
		}(i, e)
	}
	wg.Wait()

	successCount, failCount := 0, 0
	for _, r := range results {
		switch r.Outcome.Status {
		case runtime.StatusSuccess, runtime.StatusPartialSuccess:
			successCount++
		case runtime.StatusFail:
			failCount++
		}
	}

	serialized, _ := json.Marshal(results)
	stageDir := filepath.Join(logsRoot, n.ID)
	os.MkdirAll(stageDir, 0o755)
	os.WriteFile(filepath.Join(stageDir, "parallel_results.json"), serialized, 0o644)

	joinPolicy := n.Attr("join_policy", "wait_all")
	if h.Emitter != nil {
		h.Emitter.EmitParallelCompleted(n.ID, joinPolicy)
	}

	var out *runtime.Outcome
	switch joinPolicy {
	case "first_success":
		if successCount > 0 {
			out = &runtime.Outcome{Status: runtime.StatusSuccess}
		} else {
			out = &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no branch succeeded"}
		}
	default: // wait_all
		if failCount == 0 {
			out = &runtime.Outcome{Status: runtime.StatusSuccess}
		} else {
			out = &runtime.Outcome{Status: runtime.StatusPartialSuccess, Notes: fmt.Sprintf("%d of %d branches failed", failCount, len(results))}
		}
	}
	out.ContextUpdates = map[string]interface{}{"parallel.results": string(serialized)}
	writeStatus(stageDir, out)
	return out, nil
}

// FanInHandler consumes parallel.results from context and selects the
// branch the downstream path should treat as canonical.
type FanInHandler struct{}

func (FanInHandler) Execute(n *model.Node, ctx *runtime.Context, _ *model.Graph, logsRoot string) (*runtime.Outcome, error) {
	raw := ctx.GetString("parallel.results")
	if raw == "" {
		return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no parallel results to evaluate"}, nil
	}
	var results []branchResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "malformed parallel.results: " + err.Error()}, nil
	}

	selected := results[0]
	for _, r := range results {
		if r.Outcome != nil && r.Outcome.Status == runtime.StatusSuccess {
			selected = r
			break
		}
	}

	stageDir := filepath.Join(logsRoot, n.ID)
	os.MkdirAll(stageDir, 0o755)
	selJSON, _ := json.MarshalIndent(selected, "", "  ")
	os.WriteFile(filepath.Join(stageDir, "fan_in_result.json"), selJSON, 0o644)

	out := &runtime.Outcome{
		Status: runtime.StatusSuccess,
		Notes:  "fan-in selected " + selected.NodeID,
		ContextUpdates: map[string]interface{}{
			"fan_in.selected": selected.NodeID,
		},
	}
	writeStatus(stageDir, out)
	return out, nil
}

func writeStatus(stageDir string, out *runtime.Outcome) {
	data, _ := json.MarshalIndent(struct {
		Outcome          string   `json:"outcome"`
		PreferredLabel   string   `json:"preferred_next_label,omitempty"`
		SuggestedNextIDs []string `json:"suggested_next_ids,omitempty"`
		Notes            string   `json:"notes,omitempty"`
		FailureReason    string   `json:"failure_reason,omitempty"`
	}{
		Outcome:          string(out.Status),
		PreferredLabel:   out.PreferredLabel,
		SuggestedNextIDs: out.SuggestedNextIDs,
		Notes:            out.Notes,
		FailureReason:    out.FailureReason,
	}, "", "  ")
	os.WriteFile(filepath.Join(stageDir, "status.json"), data, 0o644)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
