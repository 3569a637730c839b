package ai

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/advisord/advisord/internal/plugin"
)

const anthropicDefaultURL = "https://api.anthropic.com/v1/messages"

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	opts    Options
	headers map[string]string
	client  *http.Client
}

// NewAnthropic creates a provider for the Anthropic API.
func NewAnthropic(opts Options) *AnthropicProvider {
	opts.applyDefaults("claude-sonnet-4-20250514")
	if opts.BaseURL == "" {
		opts.BaseURL = anthropicDefaultURL
	}
	return &AnthropicProvider{
		opts: opts,
		headers: map[string]string{
			"x-api-key":         opts.APIKey,
			"anthropic-version": "2023-06-01",
		},
		client: newHTTPClient(),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

var dataImageRe = regexp.MustCompile(`^data:(image/[a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=]+)$`)

func anthropicImageBlock(dataURL string) map[string]any {
	m := dataImageRe.FindStringSubmatch(strings.TrimSpace(dataURL))
	if m == nil {
		return nil
	}
	return map[string]any{
		"type": "image",
		"source": map[string]any{
			"type":       "base64",
			"media_type": m[1],
			"data":       m[2],
		},
	}
}

// splitMessages separates the system prompt and converts the canonical
// messages into Anthropic content blocks, including tool_use/tool_result
// round-trips.
func splitMessages(messages []plugin.ChatMessage) (string, []map[string]any) {
	system := ""
	var out []map[string]any

	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content

		case "assistant":
			if len(m.ToolCalls) > 0 {
				var blocks []any
				if text := strings.TrimSpace(m.Content); text != "" {
					blocks = append(blocks, map[string]any{"type": "text", "text": text})
				}
				for _, tc := range m.ToolCalls {
					args := tc.Arguments
					if args == nil {
						args = map[string]any{}
					}
					blocks = append(blocks, map[string]any{
						"type":  "tool_use",
						"id":    tc.ID,
						"name":  tc.Name,
						"input": args,
					})
				}
				out = append(out, map[string]any{"role": "assistant", "content": blocks})
				continue
			}
			out = append(out, map[string]any{"role": "assistant", "content": m.Content})

		case "tool":
			toolUseID := m.ToolCallID
			if toolUseID == "" {
				toolUseID = m.Name
			}
			out = append(out, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": toolUseID,
					"content":     m.Content,
				}},
			})

		default:
			if len(m.Parts) > 0 {
				var blocks []any
				for _, part := range m.Parts {
					switch part.Type {
					case "image_url":
						if block := anthropicImageBlock(part.ImageURL); block != nil {
							blocks = append(blocks, block)
						}
					default:
						if text := strings.TrimSpace(part.Text); text != "" {
							blocks = append(blocks, map[string]any{"type": "text", "text": text})
						}
					}
				}
				if len(blocks) > 0 {
					out = append(out, map[string]any{"role": m.Role, "content": blocks})
					continue
				}
			}
			out = append(out, map[string]any{"role": m.Role, "content": m.Content})
		}
	}
	return system, out
}

type anthropicResponse struct {
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"content"`
	Usage map[string]int `json:"usage"`
}

func (p *AnthropicProvider) request(ctx context.Context, messages []plugin.ChatMessage, tools []plugin.ToolDef) (anthropicResponse, error) {
	system, wireMessages := splitMessages(messages)

	body := map[string]any{
		"model":       p.opts.Model,
		"max_tokens":  p.opts.MaxTokens,
		"temperature": p.opts.Temperature,
		"messages":    wireMessages,
	}
	if system != "" {
		body["system"] = system
	}
	if len(tools) > 0 {
		wireTools := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			wireTools = append(wireTools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		body["tools"] = wireTools
	}

	var resp anthropicResponse
	err := postJSON(ctx, p.client, p.opts.BaseURL, p.headers, body, &resp)
	return resp, err
}

func (p *AnthropicProvider) Complete(ctx context.Context, messages []plugin.ChatMessage) (string, error) {
	resp, err := p.request(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func (p *AnthropicProvider) ToolCall(ctx context.Context, messages []plugin.ChatMessage, tools []plugin.ToolDef) (plugin.ToolCallResult, error) {
	resp, err := p.request(ctx, messages, tools)
	if err != nil {
		return plugin.ToolCallResult{}, err
	}

	result := plugin.ToolCallResult{Usage: resp.Usage}
	var parts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		case "tool_use":
			args := block.Input
			if args == nil {
				args = map[string]any{}
			}
			result.ToolCalls = append(result.ToolCalls, plugin.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	result.Text = strings.Join(parts, "\n")
	return result, nil
}
