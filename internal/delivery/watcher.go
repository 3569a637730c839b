package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// Watcher sends exactly one reminder when a pending signal confirmation
// becomes overdue. It implements worker.Worker and runs on a periodic
// runner.
type Watcher struct {
	bus   *bus.Bus
	store *store.Store
	log   *zap.Logger
}

func NewWatcher(b *bus.Bus, st *store.Store) *Watcher {
	return &Watcher{
		bus:   b,
		store: st,
		log:   logger.Named("pending_confirmation"),
	}
}

func (w *Watcher) Name() string { return "pending_confirmation" }

// Run executes one overdue scan.
func (w *Watcher) Run(ctx context.Context) error {
	w.ScanOnce(ctx, time.Now().UTC())
	return nil
}

// ScanOnce publishes a reminder for each delivered signal whose pending
// confirmation is overdue and not yet reminded.
func (w *Watcher) ScanOnce(ctx context.Context, now time.Time) {
	signals, err := w.store.ListSignals()
	if err != nil {
		w.log.Error("failed to list signals", zap.Error(err))
		return
	}

	for _, signal := range signals {
		if signal.Status != models.SignalDelivered {
			continue
		}
		if signal.ConfirmationStatus != models.ConfirmationPending {
			continue
		}
		if signal.ReminderSentAt != nil {
			continue
		}
		if signal.ConfirmationDueAt == nil || signal.ConfirmationDueAt.After(now) {
			continue
		}

		reminder := fmt.Sprintf(
			"Signal confirmation pending: %s %s (signal_id=%s). "+
				"To confirm, provide entry price and quantity. "+
				"Example: confirm signal %s entry_price 123.45 quantity 10. "+
				"To skip: skip signal %s reason <optional reason>.",
			strings.ToUpper(signal.Direction), signal.Ticker, signal.ID, signal.ID, signal.ID)

		w.bus.Publish(ctx, models.NewEvent(models.EventIntegrationOutput, "pending_confirmation", map[string]any{
			"text": reminder,
		}))

		sentAt := now
		signal.ReminderSentAt = &sentAt
		if err := w.store.SaveSignal(signal); err != nil {
			w.log.Error("failed to record reminder",
				zap.String("signal_id", signal.ID), zap.Error(err))
			continue
		}
		w.log.Info("confirmation reminder sent", zap.String("signal_id", signal.ID))
	}
}
