package risk

import (
	"fmt"
	"time"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/pkg/models"
)

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// ConfidenceRule rejects signals below a minimum confidence threshold.
type ConfidenceRule struct {
	MinConfidence float64
}

func NewConfidenceRule(minConfidence float64) *ConfidenceRule {
	if minConfidence <= 0 {
		minConfidence = 0.6
	}
	return &ConfidenceRule{MinConfidence: minConfidence}
}

func (r *ConfidenceRule) Name() string { return "confidence" }

func (r *ConfidenceRule) Evaluate(signal *models.Signal, portfolio *models.PortfolioSummary) models.RuleEvaluation {
	passed := signal.Confidence >= r.MinConfidence
	reason := fmt.Sprintf("Confidence %.2f meets minimum %.2f", signal.Confidence, r.MinConfidence)
	if !passed {
		reason = fmt.Sprintf("Confidence %.2f below minimum %.2f", signal.Confidence, r.MinConfidence)
	}
	return models.RuleEvaluation{
		RuleName:     r.Name(),
		Passed:       passed,
		Reason:       reason,
		CurrentValue: models.Float64Ptr(signal.Confidence),
		LimitValue:   models.Float64Ptr(r.MinConfidence),
	}
}

// ConcentrationRule rejects signals for tickers that already dominate the
// book. This is a pre-check on existing exposure only.
type ConcentrationRule struct {
	MaxSinglePosition float64
}

func NewConcentrationRule(maxSinglePosition float64) *ConcentrationRule {
	if maxSinglePosition <= 0 {
		maxSinglePosition = 0.15
	}
	return &ConcentrationRule{MaxSinglePosition: maxSinglePosition}
}

func (r *ConcentrationRule) Name() string { return "concentration" }

func (r *ConcentrationRule) Evaluate(signal *models.Signal, portfolio *models.PortfolioSummary) models.RuleEvaluation {
	if len(portfolio.Positions) == 0 || portfolio.TotalValue <= 0 {
		return models.RuleEvaluation{
			RuleName: r.Name(),
			Passed:   true,
			Reason:   "No existing positions, concentration check passes",
		}
	}

	positionValue := 0.0
	for _, p := range portfolio.Positions {
		if p.Ticker != signal.Ticker {
			continue
		}
		if p.Status == models.PositionClosed || p.Status == models.PositionSkipped {
			continue
		}
		price := p.EntryPrice
		if p.CurrentPrice != nil {
			price = *p.CurrentPrice
		}
		positionValue += price * p.EffectiveSize()
	}

	if positionValue > 0 {
		positionPct := positionValue / portfolio.TotalValue
		if positionPct >= r.MaxSinglePosition {
			return models.RuleEvaluation{
				RuleName: r.Name(),
				Passed:   false,
				Reason: fmt.Sprintf("%s already %s of portfolio (limit: %s)",
					signal.Ticker, pct(positionPct), pct(r.MaxSinglePosition)),
				CurrentValue: models.Float64Ptr(positionPct),
				LimitValue:   models.Float64Ptr(r.MaxSinglePosition),
			}
		}
	}

	return models.RuleEvaluation{
		RuleName: r.Name(),
		Passed:   true,
		Reason:   "Position concentration within limits",
	}
}

// FrequencyRule caps the number of approved signals per UTC day, counted
// from the audit log.
type FrequencyRule struct {
	MaxSignalsPerDay int
	EventsDir        string
}

func NewFrequencyRule(maxSignalsPerDay int, eventsDir string) *FrequencyRule {
	if maxSignalsPerDay <= 0 {
		maxSignalsPerDay = 5
	}
	return &FrequencyRule{MaxSignalsPerDay: maxSignalsPerDay, EventsDir: eventsDir}
}

func (r *FrequencyRule) Name() string { return "frequency" }

func (r *FrequencyRule) Evaluate(signal *models.Signal, portfolio *models.PortfolioSummary) models.RuleEvaluation {
	count := 0
	if r.EventsDir != "" {
		n, err := bus.CountEvents(r.EventsDir, time.Now().UTC(), models.EventSignalApproved)
		if err == nil {
			count = n
		}
	}

	passed := count < r.MaxSignalsPerDay
	reason := fmt.Sprintf("%d signals today (limit: %d)", count, r.MaxSignalsPerDay)
	if !passed {
		reason = fmt.Sprintf("Already %d signals today (limit: %d)", count, r.MaxSignalsPerDay)
	}
	return models.RuleEvaluation{
		RuleName:     r.Name(),
		Passed:       passed,
		Reason:       reason,
		CurrentValue: models.Float64Ptr(float64(count)),
		LimitValue:   models.Float64Ptr(float64(r.MaxSignalsPerDay)),
	}
}

// DrawdownRule pauses new signals when the book has drawn down too far.
type DrawdownRule struct {
	MaxPortfolioDrawdown float64
}

func NewDrawdownRule(maxPortfolioDrawdown float64) *DrawdownRule {
	if maxPortfolioDrawdown <= 0 {
		maxPortfolioDrawdown = 0.15
	}
	return &DrawdownRule{MaxPortfolioDrawdown: maxPortfolioDrawdown}
}

func (r *DrawdownRule) Name() string { return "drawdown" }

func (r *DrawdownRule) Evaluate(signal *models.Signal, portfolio *models.PortfolioSummary) models.RuleEvaluation {
	if len(portfolio.Positions) == 0 || portfolio.TotalValue <= 0 {
		return models.RuleEvaluation{
			RuleName: r.Name(),
			Passed:   true,
			Reason:   "No positions, drawdown check passes",
		}
	}

	// Approximate drawdown: losses relative to the pre-loss peak estimate
	drawdown := 0.0
	if portfolio.TotalPnL < 0 {
		peakEstimate := portfolio.TotalValue - portfolio.TotalPnL
		if peakEstimate > 0 {
			drawdown = -portfolio.TotalPnL / peakEstimate
		}
	}

	passed := drawdown < r.MaxPortfolioDrawdown
	reason := fmt.Sprintf("Portfolio drawdown %s within limit %s",
		pct(drawdown), pct(r.MaxPortfolioDrawdown))
	if !passed {
		reason = fmt.Sprintf("Portfolio drawdown %s exceeds limit %s",
			pct(drawdown), pct(r.MaxPortfolioDrawdown))
	}
	return models.RuleEvaluation{
		RuleName:     r.Name(),
		Passed:       passed,
		Reason:       reason,
		CurrentValue: models.Float64Ptr(drawdown),
		LimitValue:   models.Float64Ptr(r.MaxPortfolioDrawdown),
	}
}
