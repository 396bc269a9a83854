package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/vindex/vindex/internal/resilience"
	"github.com/vindex/vindex/pkg/anthropic"
	"github.com/vindex/vindex/pkg/openai"
)

const systemPrompt = "You extract wine facts from web search results and reply with a single JSON object."

// AnthropicCompleter sends prompts to Claude.
type AnthropicCompleter struct {
	Client    anthropic.Client
	Model     string
	MaxTokens int64
}

// Complete implements Completer.
func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temp := 0.0
	resp, err := c.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.Model,
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Temperature: &temp,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(c.Model, "extract")

	text := resp.Text()
	if text == "" {
		return "", eris.New("anthropic: empty response")
	}
	return text, nil
}

// OpenAICompleter sends prompts to an OpenAI-compatible chat endpoint.
type OpenAICompleter struct {
	Client    openai.Client
	Model     string
	MaxTokens int
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Client.Complete(ctx, openai.CompletionRequest{
		Model:     c.Model,
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: c.MaxTokens,
		JSONMode:  true,
	})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", eris.New("openai: empty response")
	}
	return resp.Content, nil
}

// GuardedCompleter retries transient completion errors and trips a circuit
// breaker when the backend keeps failing.
type GuardedCompleter struct {
	Completer Completer
	Guard     *resilience.Guard
}

// Complete implements Completer.
func (g *GuardedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return resilience.Call(ctx, g.Guard, func(ctx context.Context) (string, error) {
		return g.Completer.Complete(ctx, prompt)
	})
}
