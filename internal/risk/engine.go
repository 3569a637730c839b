// Package risk implements the deterministic gate between proposed and
// approved signals. The engine is the only component that can approve or
// reject; the AI may retry with new parameters but cannot override it.
// Zero LLM involvement.
package risk

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/portfolio"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// Engine subscribes to signal.proposed, runs every registered rule, and
// publishes signal.approved or signal.rejected.
type Engine struct {
	bus       *bus.Bus
	store     *store.Store
	registry  *registry.Registry
	portfolio *portfolio.Tracker
	log       *zap.Logger
}

// New creates the engine and subscribes it to signal proposals.
func New(b *bus.Bus, st *store.Store, reg *registry.Registry, pf *portfolio.Tracker) *Engine {
	e := &Engine{
		bus:       b,
		store:     st,
		registry:  reg,
		portfolio: pf,
		log:       logger.Named("risk"),
	}
	b.Subscribe(models.EventSignalProposed, e.handleProposed)
	return e
}

func (e *Engine) handleProposed(ctx context.Context, event models.Event) {
	var signal models.Signal
	if err := models.FromPayload(event.Payload, &signal); err != nil {
		e.log.Error("failed to parse signal from event payload", zap.Error(err))
		return
	}

	result := e.EvaluateSignal(&signal)

	if result.Approved {
		signal.Status = models.SignalApproved
		signal.RiskResult = result
		signal.DeliveryErrors = nil

		if _, err := e.portfolio.AIOpenPosition(&signal); err != nil {
			e.log.Error("failed to open ai position",
				zap.String("signal_id", signal.ID), zap.Error(err))
		}
		// Persist before announcing so consumers always find the record
		if err := e.store.SaveSignal(&signal); err != nil {
			e.log.Error("failed to persist approved signal",
				zap.String("signal_id", signal.ID), zap.Error(err))
		}

		approved := event.Derive(models.EventSignalApproved, "risk_engine", models.ToPayload(signal))
		if err := e.bus.Publish(ctx, approved); err != nil {
			e.log.Error("failed to publish signal.approved", zap.Error(err))
		}

		e.log.Info("signal approved",
			zap.String("signal_id", signal.ID),
			zap.String("ticker", signal.Ticker),
			zap.String("direction", strings.ToUpper(signal.Direction)),
			zap.Float64("confidence", signal.Confidence),
			zap.Int("rules_passed", len(result.Evaluations)))
		return
	}

	signal.Status = models.SignalRejected
	signal.RiskResult = result
	if err := e.store.SaveSignal(&signal); err != nil {
		e.log.Error("failed to persist rejected signal",
			zap.String("signal_id", signal.ID), zap.Error(err))
	}

	rejected := event.Derive(models.EventSignalRejected, "risk_engine", models.ToPayload(signal))
	if err := e.bus.Publish(ctx, rejected); err != nil {
		e.log.Error("failed to publish signal.rejected", zap.Error(err))
	}

	failed := make([]string, 0)
	for _, ev := range result.FailedRules() {
		failed = append(failed, ev.RuleName)
	}
	e.log.Info("signal rejected",
		zap.String("signal_id", signal.ID),
		zap.String("ticker", signal.Ticker),
		zap.Strings("failed_rules", failed))
}

// EvaluateSignal runs all registered rules against a signal without
// publishing events. A rule that panics counts as failed.
func (e *Engine) EvaluateSignal(signal *models.Signal) *models.RiskResult {
	summary, err := e.portfolio.GetSummary(models.PortfolioAI)
	if err != nil {
		e.log.Error("failed to summarize ai portfolio", zap.Error(err))
		summary = &models.PortfolioSummary{PortfolioType: models.PortfolioAI}
	}

	rules := e.registry.RiskRules()
	evaluations := make([]models.RuleEvaluation, 0, len(rules))
	for _, rule := range rules {
		evaluations = append(evaluations, e.safeEvaluate(rule.Name(), func() models.RuleEvaluation {
			return rule.Evaluate(signal, summary)
		}))
	}

	approved := true
	for _, ev := range evaluations {
		if !ev.Passed {
			approved = false
			break
		}
	}
	return &models.RiskResult{Approved: approved, Evaluations: evaluations}
}

func (e *Engine) safeEvaluate(name string, eval func() models.RuleEvaluation) (out models.RuleEvaluation) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("risk rule panicked",
				zap.String("rule", name), zap.Any("panic", r))
			out = models.RuleEvaluation{
				RuleName: name,
				Passed:   false,
				Reason:   "Rule raised an exception",
			}
		}
	}()
	return eval()
}
