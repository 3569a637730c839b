// Package handlers contains the built-in task handlers wired into the
// scheduler registry.
package handlers

import (
	"context"
	"strings"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/engine"
	"github.com/advisord/advisord/pkg/models"
)

// AIRunner executes a scheduled prompt through the same AI interface
// that serves chat, then queues the response for delivery.
type AIRunner struct {
	ai  *engine.Interface
	bus *bus.Bus
}

func NewAIRunner(ai *engine.Interface, b *bus.Bus) *AIRunner {
	return &AIRunner{ai: ai, bus: b}
}

func (h *AIRunner) Name() string { return "ai.run_prompt" }

func (h *AIRunner) Run(ctx context.Context, params map[string]any) (models.TaskResult, error) {
	prompt := strings.TrimSpace(paramString(params, "prompt"))
	if prompt == "" {
		return models.TaskResult{
			Status:  models.TaskStatusError,
			Message: "Missing required param: prompt",
		}, nil
	}

	channelID := paramString(params, "channel_id")
	if channelID == "" {
		channelID = "default"
	}
	adapter := paramString(params, "adapter")

	response, err := h.ai.RunScheduled(ctx, prompt, channelID)
	if err != nil {
		return models.TaskResult{
			Status:  models.TaskStatusError,
			Message: "AI run failed: " + err.Error(),
		}, nil
	}

	h.bus.Publish(ctx, models.NewEvent(models.EventIntegrationOutput, h.Name(), map[string]any{
		"text":       response,
		"channel_id": channelID,
		"adapter":    adapter,
	}))

	return models.TaskResult{
		Status:  models.TaskStatusSuccess,
		Message: "AI ran and queued response for delivery via integration.output",
	}, nil
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
