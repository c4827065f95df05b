// Package openai adapts github.com/openai/openai-go into the llm.Backend
// contract codergen nodes call through.
package openai

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flowgraph/attractor/internal/llm"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

// Adapter calls the Chat Completions API for codergen nodes whose
// llm_provider (after the stylesheet cascade) is "openai".
type Adapter struct {
	APIKey  string
	Timeout time.Duration
}

// NewFromEnv builds an Adapter from OPENAI_API_KEY, or returns nil if the
// key isn't set — callers fall back to the simulation response.
func NewFromEnv() *Adapter {
	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		return nil
	}
	return &Adapter{APIKey: key, Timeout: 5 * time.Minute}
}

// Run satisfies llm.Backend / handler.CodergenBackend.
func (a *Adapter) Run(n *model.Node, prompt string, ctx *runtime.Context) (interface{}, error) {
	if a == nil || a.APIKey == "" {
		return nil, fmt.Errorf("openai: no API key configured")
	}

	callCtx := context.Background()
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, a.Timeout)
		defer cancel()
	}

	client := openaisdk.NewClient(option.WithAPIKey(a.APIKey))

	modelName := llm.DefaultModel(n, "openai")

	messages := []openaisdk.ChatCompletionMessageParamUnion{}
	goal := ""
	if ctx != nil {
		goal = ctx.GetString("graph.goal")
	}
	if goal != "" {
		messages = append(messages, openaisdk.SystemMessage("The pipeline's overall goal is: "+goal))
	}
	// The stable ChatCompletion param surface has no typed reasoning-effort
	// field; pass the hint through the prompt itself, best-effort.
	if effort := strings.ToLower(n.Attr("reasoning_effort", "")); effort == "low" || effort == "medium" || effort == "high" {
		messages = append(messages, openaisdk.SystemMessage("Apply a "+effort+" reasoning effort to this task."))
	}
	messages = append(messages, openaisdk.UserMessage(prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(modelName),
		Messages: messages,
	}

	resp, err := client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
