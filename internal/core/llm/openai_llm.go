package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/markdave123-py/kbchat/internal/core"
)

const DefaultOpenAIChatModel = "gpt-4o-mini"

// OpenAILLM calls chat completions with temperature 0.
type OpenAILLM struct {
	api   *openAIClient
	model string
}

func NewOpenAILLM(cfg OpenAIConfig) (*OpenAILLM, error) {
	api, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIChatModel
	}
	return &OpenAILLM{api: api, model: model}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OpenAILLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	type reqBody struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
	}
	msgs := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: userPrompt})

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := o.api.post(ctx, "/chat/completions", reqBody{Model: o.model, Messages: msgs, Temperature: 0}, &out); err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices returned")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

var _ core.LLMProvider = (*OpenAILLM)(nil)
