package handlers

import (
	"context"
	"strings"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/pkg/models"
)

// Notifications publishes a plain text message for the output adapters.
type Notifications struct {
	bus *bus.Bus
}

func NewNotifications(b *bus.Bus) *Notifications {
	return &Notifications{bus: b}
}

func (h *Notifications) Name() string { return "notifications.send" }

func (h *Notifications) Run(ctx context.Context, params map[string]any) (models.TaskResult, error) {
	message := strings.TrimSpace(paramString(params, "message"))
	if message == "" {
		return models.TaskResult{
			Status:  models.TaskStatusError,
			Message: "Missing required param: message",
		}, nil
	}

	h.bus.Publish(ctx, models.NewEvent(models.EventIntegrationOutput, h.Name(), map[string]any{
		"text":       message,
		"channel_id": paramString(params, "channel_id"),
		"adapter":    paramString(params, "adapter"),
	}))

	return models.TaskResult{
		Status:  models.TaskStatusSuccess,
		Message: "Queued notification for delivery via integration.output",
	}, nil
}
