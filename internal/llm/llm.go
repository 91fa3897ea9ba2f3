// Package llm wraps the chat model behind a narrow interface so the pipeline
// can run with a mock during tests and degrade when no key is configured.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrNotConfigured is returned when no model is available. Callers treat it
// as "skip enrichment", never as a hard failure.
var ErrNotConfigured = errors.New("llm: no model configured")

// ChatModel is the single completion surface the rest of the system uses.
type ChatModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client adapts a langchaingo model to ChatModel with a per-call timeout.
type Client struct {
	model   llms.LLM
	timeout time.Duration
}

// New builds an OpenAI-backed client. An empty API key yields a nil client,
// which every Complete call rejects with ErrNotConfigured.
func New(modelName, apiKey string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, nil
	}
	model, err := openai.New(
		openai.WithModel(modelName),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{model: model, timeout: timeout}, nil
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.model == nil {
		return "", ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
	if err != nil {
		return "", err
	}
	return out, nil
}

// ExtractJSON pulls the first JSON object out of a completion, tolerating
// markdown code fences and surrounding prose.
func ExtractJSON(text string) (string, bool) {
	cleaned := strings.TrimSpace(text)
	if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[idx+3:]
		cleaned = strings.TrimPrefix(cleaned, "json")
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	start := strings.Index(cleaned, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		ch := cleaned[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], true
			}
		}
	}
	return "", false
}
