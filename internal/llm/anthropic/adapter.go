// Package anthropic adapts github.com/anthropics/anthropic-sdk-go into the
// llm.Backend contract codergen nodes call through.
package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowgraph/attractor/internal/llm"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

// Adapter calls the Claude Messages API for codergen nodes whose
// llm_provider (after the stylesheet cascade) is "anthropic" or unset.
type Adapter struct {
	APIKey  string
	Timeout time.Duration
}

// NewFromEnv builds an Adapter from ANTHROPIC_API_KEY, or returns nil if
// the key isn't set — callers fall back to the simulation response.
func NewFromEnv() *Adapter {
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil
	}
	return &Adapter{APIKey: key, Timeout: 5 * time.Minute}
}

// Run satisfies llm.Backend / handler.CodergenBackend. A returned string
// is the model's text response, wrapped by the caller into a SUCCESS
// outcome.
func (a *Adapter) Run(n *model.Node, prompt string, ctx *runtime.Context) (interface{}, error) {
	if a == nil || a.APIKey == "" {
		return nil, fmt.Errorf("anthropic: no API key configured")
	}

	callCtx := context.Background()
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, a.Timeout)
		defer cancel()
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(a.APIKey))

	modelName := llm.DefaultModel(n, "anthropic")
	maxTokens := int64(4096)
	if effort := n.Attr("reasoning_effort", ""); effort != "" {
		// Extended-thinking budgets aren't exposed through a stable typed
		// field yet; approximate the requested effort with headroom.
		switch strings.ToLower(effort) {
		case "high":
			maxTokens = 16384
		case "medium":
			maxTokens = 8192
		}
	}

	goal := ""
	if ctx != nil {
		goal = ctx.GetString("graph.goal")
	}
	system := strings.TrimSpace("You are an automated pipeline stage. " + goalHint(goal))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(modelName),
		MaxTokens: maxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	resp, err := client.Messages.New(callCtx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(tb.Text)
		}
	}
	return text.String(), nil
}

func goalHint(goal string) string {
	if goal == "" {
		return ""
	}
	return "The pipeline's overall goal is: " + goal
}
