// Package delivery owns the signal delivery lifecycle: sending approved
// signals through output adapters, tracking confirmation deadlines, and
// dispatching generic integration output text.
package delivery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// Service delivers approved signals through every output adapter. One
// success is enough to mark the signal delivered; total failure keeps it
// approved and raises an alert.
type Service struct {
	bus                 *bus.Bus
	store               *store.Store
	registry            *registry.Registry
	confirmationTimeout time.Duration
	log                 *zap.Logger
}

// New creates the service and subscribes it to approved signals.
func New(b *bus.Bus, st *store.Store, reg *registry.Registry, confirmationTimeout time.Duration) *Service {
	if confirmationTimeout <= 0 {
		confirmationTimeout = 4 * time.Hour
	}
	s := &Service{
		bus:                 b,
		store:               st,
		registry:            reg,
		confirmationTimeout: confirmationTimeout,
		log:                 logger.Named("signal_delivery"),
	}
	b.Subscribe(models.EventSignalApproved, s.handleApproved)
	return s
}

func (s *Service) handleApproved(ctx context.Context, event models.Event) {
	var signal models.Signal
	if err := models.FromPayload(event.Payload, &signal); err != nil {
		s.log.Error("failed to parse approved signal payload", zap.Error(err))
		return
	}

	adapters := s.registry.OutputAdapters()
	var successes []string
	var errors []string

	for _, adapter := range adapters {
		result := adapter.Send(ctx, &signal, nil)
		if result.Success {
			name := result.Adapter
			if name == "" {
				name = adapter.Name()
			}
			successes = append(successes, name)
			continue
		}
		message := result.Message
		if message == "" {
			message = "delivery failed"
		}
		name := result.Adapter
		if name == "" {
			name = adapter.Name()
		}
		errors = append(errors, fmt.Sprintf("%s: %s", name, message))
	}

	if len(successes) > 0 {
		deliveredAt := time.Now().UTC()
		signal.Status = models.SignalDelivered
		signal.DeliveredAt = &deliveredAt
		signal.DeliveredVia = joinUnique(successes)
		signal.ConfirmationStatus = models.ConfirmationPending
		dueAt := deliveredAt.Add(s.confirmationTimeout)
		signal.ConfirmationDueAt = &dueAt
		signal.ReminderSentAt = nil
		signal.DeliveryErrors = errors

		if err := s.store.SaveSignal(&signal); err != nil {
			s.log.Error("failed to persist delivered signal",
				zap.String("signal_id", signal.ID), zap.Error(err))
		}
		s.bus.Publish(ctx, event.Derive(models.EventSignalDelivered, "signal_delivery", models.ToPayload(&signal)))
		s.log.Info("signal delivered",
			zap.String("signal_id", signal.ID),
			zap.String("via", signal.DeliveredVia))
		return
	}

	signal.Status = models.SignalApproved
	if len(errors) == 0 {
		errors = []string{"No output adapters configured"}
	}
	signal.DeliveryErrors = errors
	if err := s.store.SaveSignal(&signal); err != nil {
		s.log.Error("failed to persist undelivered signal",
			zap.String("signal_id", signal.ID), zap.Error(err))
	}

	s.bus.Publish(ctx, event.Derive(models.EventAlertTriggered, "signal_delivery", map[string]any{
		"level":     "error",
		"signal_id": signal.ID,
		"ticker":    signal.Ticker,
		"message":   "Signal approved but delivery failed on all output adapters",
		"errors":    errors,
	}))
	s.log.Error("signal delivery failed on all adapters",
		zap.String("signal_id", signal.ID),
		zap.Strings("errors", errors))
}

func joinUnique(names []string) string {
	set := map[string]bool{}
	var unique []string
	for _, n := range names {
		if set[n] {
			continue
		}
		set[n] = true
		unique = append(unique, n)
	}
	sort.Strings(unique)
	return strings.Join(unique, ", ")
}
