package ai

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/advisord/advisord/internal/plugin"
)

const openAIDefaultURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider talks to OpenAI-compatible chat completion APIs.
type OpenAIProvider struct {
	name    string
	opts    Options
	headers map[string]string
	client  *http.Client
}

// NewOpenAI creates a provider for the OpenAI API.
func NewOpenAI(opts Options) *OpenAIProvider {
	opts.applyDefaults("gpt-4o")
	if opts.BaseURL == "" {
		opts.BaseURL = openAIDefaultURL
	}
	return &OpenAIProvider{
		name: "openai",
		opts: opts,
		headers: map[string]string{
			"Authorization": "Bearer " + opts.APIKey,
		},
		client: newHTTPClient(),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// openAIMessage is the wire form of one chat message.
type openAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func toOpenAIMessages(messages []plugin.ChatMessage) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		wire := openAIMessage{
			Role:       m.Role,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		if len(m.Parts) > 0 {
			parts := make([]map[string]any, 0, len(m.Parts))
			for _, part := range m.Parts {
				switch part.Type {
				case "image_url":
					parts = append(parts, map[string]any{
						"type":      "image_url",
						"image_url": map[string]any{"url": part.ImageURL},
					})
				default:
					parts = append(parts, map[string]any{"type": "text", "text": part.Text})
				}
			}
			wire.Content = parts
		} else {
			wire.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			wtc := openAIToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wtc.Function.Arguments = string(args)
			wire.ToolCalls = append(wire.ToolCalls, wtc)
		}
		out = append(out, wire)
	}
	return out
}

func toOpenAITools(tools []plugin.ToolDef) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage map[string]int `json:"usage"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []plugin.ChatMessage) (string, error) {
	body := map[string]any{
		"model":       p.opts.Model,
		"messages":    toOpenAIMessages(messages),
		"max_tokens":  p.opts.MaxTokens,
		"temperature": p.opts.Temperature,
	}
	var resp openAIResponse
	if err := postJSON(ctx, p.client, p.opts.BaseURL, p.headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) ToolCall(ctx context.Context, messages []plugin.ChatMessage, tools []plugin.ToolDef) (plugin.ToolCallResult, error) {
	body := map[string]any{
		"model":       p.opts.Model,
		"messages":    toOpenAIMessages(messages),
		"max_tokens":  p.opts.MaxTokens,
		"temperature": p.opts.Temperature,
		"tools":       toOpenAITools(tools),
	}
	var resp openAIResponse
	if err := postJSON(ctx, p.client, p.opts.BaseURL, p.headers, body, &resp); err != nil {
		return plugin.ToolCallResult{}, err
	}
	if len(resp.Choices) == 0 {
		return plugin.ToolCallResult{}, nil
	}

	msg := resp.Choices[0].Message
	result := plugin.ToolCallResult{Text: msg.Content, Usage: resp.Usage}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		result.ToolCalls = append(result.ToolCalls, plugin.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}
