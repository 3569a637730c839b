package models

import (
	"fmt"
	"strings"
	"time"
)

// Signal statuses.
const (
	SignalProposed  = "proposed"
	SignalApproved  = "approved"
	SignalRejected  = "rejected"
	SignalDelivered = "delivered"
)

// Confirmation statuses for a delivered signal.
const (
	ConfirmationNone      = "none"
	ConfirmationPending   = "pending"
	ConfirmationConfirmed = "confirmed"
	ConfirmationSkipped   = "skipped"
	ConfirmationExpired   = "expired"
)

// Signal is a trade recommendation produced by the AI and gated by the
// risk engine. Persisted as signals/<id>.json.
type Signal struct {
	ID            string    `json:"id"`
	Ticker        string    `json:"ticker"`
	Direction     string    `json:"direction"` // buy, sell, hold
	Catalyst      string    `json:"catalyst"`
	Confidence    float64   `json:"confidence"`
	EntryTarget   *float64  `json:"entry_target,omitempty"`
	StopLoss      *float64  `json:"stop_loss,omitempty"`
	TakeProfit    *float64  `json:"take_profit,omitempty"`
	Horizon       string    `json:"horizon"`
	MemoID        string    `json:"memo_id"`
	CreatedAt     time.Time `json:"created_at"`
	CorrelationID string    `json:"correlation_id"`

	// Populated after the risk gate
	Status       string      `json:"status"`
	RiskResult   *RiskResult `json:"risk_result,omitempty"`
	DeliveredAt  *time.Time  `json:"delivered_at,omitempty"`
	DeliveredVia string      `json:"delivered_via,omitempty"`

	// Delivery and confirmation tracking
	DeliveryErrors         []string   `json:"delivery_errors,omitempty"`
	ConfirmationStatus     string     `json:"confirmation_status,omitempty"`
	ConfirmationDueAt      *time.Time `json:"confirmation_due_at,omitempty"`
	ReminderSentAt         *time.Time `json:"confirmation_reminder_sent_at,omitempty"`
	ConfirmationResolvedAt *time.Time `json:"confirmation_resolved_at,omitempty"`
}

// NewSignal creates a proposed signal with a fresh id.
func NewSignal(ticker, direction, catalyst string, confidence float64) *Signal {
	return &Signal{
		ID:         NewID("sig"),
		Ticker:     strings.ToUpper(ticker),
		Direction:  direction,
		Catalyst:   catalyst,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
		Status:     SignalProposed,
	}
}

// Position statuses.
const (
	PositionSignaled     = "signaled"
	PositionConfirmed    = "confirmed"
	PositionAssumed      = "assumed"
	PositionSkipped      = "skipped"
	PositionMonitoring   = "monitoring"
	PositionExitSignaled = "exit_signaled"
	PositionClosed       = "closed"
)

// Portfolio books.
const (
	PortfolioAI    = "ai"
	PortfolioHuman = "human"
)

// Position is a tracked position in either the AI or human book.
// Persisted as positions/<portfolio>/<ticker>.json.
type Position struct {
	Ticker     string   `json:"ticker"`
	Direction  string   `json:"direction"` // long, short
	Size       *float64 `json:"size,omitempty"`
	EntryPrice float64  `json:"entry_price"`

	CurrentPrice *float64 `json:"current_price,omitempty"`
	PnL          *float64 `json:"pnl,omitempty"`
	PnLPercent   *float64 `json:"pnl_percent,omitempty"`

	Status    string     `json:"status"`
	Portfolio string     `json:"portfolio"`
	SignalID  string     `json:"signal_id,omitempty"`
	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	ClosePrice         *float64 `json:"close_price,omitempty"`
	RealizedPnL        *float64 `json:"realized_pnl,omitempty"`
	RealizedPnLPercent *float64 `json:"realized_pnl_percent,omitempty"`

	// Human book only
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedVia string     `json:"confirmed_via,omitempty"`
	UserNotes    string     `json:"user_notes,omitempty"`
}

// EffectiveSize returns the position size, defaulting to 1 unit when unset.
func (p *Position) EffectiveSize() float64 {
	if p.Size != nil {
		return *p.Size
	}
	return 1
}

// RuleEvaluation is the result of a single risk rule.
type RuleEvaluation struct {
	RuleName     string   `json:"rule_name"`
	Passed       bool     `json:"passed"`
	Reason       string   `json:"reason"`
	CurrentValue *float64 `json:"current_value,omitempty"`
	LimitValue   *float64 `json:"limit_value,omitempty"`
}

// RiskResult aggregates all rule evaluations for one signal.
type RiskResult struct {
	Approved    bool             `json:"approved"`
	Evaluations []RuleEvaluation `json:"evaluations"`
}

// FailedRules returns the evaluations that did not pass.
func (r *RiskResult) FailedRules() []RuleEvaluation {
	var failed []RuleEvaluation
	for _, e := range r.Evaluations {
		if !e.Passed {
			failed = append(failed, e)
		}
	}
	return failed
}

// Summary renders a one-line human-readable verdict.
func (r *RiskResult) Summary() string {
	if r.Approved {
		return fmt.Sprintf("Approved (%d rules passed)", len(r.Evaluations))
	}
	names := make([]string, 0, len(r.Evaluations))
	for _, e := range r.FailedRules() {
		names = append(names, e.RuleName)
	}
	return fmt.Sprintf("Rejected (failed: %s)", strings.Join(names, ", "))
}

// Float64Ptr is a small helper for optional numeric fields.
func Float64Ptr(v float64) *float64 { return &v }
