package delivery

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// Dispatcher routes integration.output events to output adapters. When
// the payload names an adapter, only that adapter receives the text;
// channel filtering is the adapter's job.
type Dispatcher struct {
	registry *registry.Registry
	log      *zap.Logger
}

// NewDispatcher creates the dispatcher and subscribes it to
// integration.output events.
func NewDispatcher(b *bus.Bus, reg *registry.Registry) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		log:      logger.Named("output_dispatcher"),
	}
	b.Subscribe(models.EventIntegrationOutput, d.handleOutput)
	return d
}

func (d *Dispatcher) handleOutput(ctx context.Context, event models.Event) {
	text := strings.TrimSpace(event.PayloadString("text"))
	if text == "" {
		d.log.Debug("integration.output ignored: missing text")
		return
	}

	channelID := event.PayloadString("channel_id")
	adapterName := event.PayloadString("adapter")

	delivered := 0
	for _, output := range d.registry.OutputAdapters() {
		if adapterName != "" && output.Name() != adapterName {
			continue
		}
		result := output.SendText(ctx, channelID, text)
		if result.Success {
			delivered++
			continue
		}
		d.log.Error("failed delivering integration.output",
			zap.String("adapter", output.Name()),
			zap.String("message", result.Message))
	}

	if delivered == 0 {
		d.log.Warn("no output adapters delivered integration.output",
			zap.String("adapter", adapterName),
			zap.String("channel_id", channelID))
	}
}
