// Package portfolio tracks the dual books: the AI paper portfolio, which
// always executes approved signals, and the human portfolio, which only
// changes when the user confirms, skips, or reports a trade.
package portfolio

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// Tracker manages position files in positions/ai/ and positions/human/.
type Tracker struct {
	store *store.Store
	log   *zap.Logger
}

// New creates a tracker over the store.
func New(st *store.Store) *Tracker {
	return &Tracker{store: st, log: logger.Named("portfolio")}
}

// GetSummary builds a summary of one book. Closed and skipped positions
// are excluded from value and P&L.
func (t *Tracker) GetSummary(portfolioType string) (*models.PortfolioSummary, error) {
	positions, err := t.store.ListPositions(portfolioType)
	if err != nil {
		return nil, fmt.Errorf("list %s positions: %w", portfolioType, err)
	}

	open := make([]*models.Position, 0, len(positions))
	totalPnL := decimal.Zero
	totalValue := decimal.Zero
	for _, p := range positions {
		if p.Status == models.PositionClosed || p.Status == models.PositionSkipped {
			continue
		}
		open = append(open, p)
		if p.PnL != nil {
			totalPnL = totalPnL.Add(decimal.NewFromFloat(*p.PnL))
		}
		price := p.EntryPrice
		if p.CurrentPrice != nil {
			price = *p.CurrentPrice
		}
		totalValue = totalValue.Add(
			decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(p.EffectiveSize())))
	}

	summary := &models.PortfolioSummary{
		PortfolioType: portfolioType,
		Positions:     open,
	}
	summary.TotalPnL, _ = totalPnL.Float64()
	summary.TotalValue, _ = totalValue.Float64()
	if !totalValue.IsZero() {
		pct, _ := totalPnL.Div(totalValue).Mul(decimal.NewFromInt(100)).Float64()
		summary.TotalPnLPercent = pct
	}
	return summary, nil
}

// GetPosition returns one position by ticker, nil if absent.
func (t *Tracker) GetPosition(portfolioType, ticker string) (*models.Position, error) {
	return t.store.LoadPosition(portfolioType, ticker)
}

// ListPositions returns every position in one book.
func (t *Tracker) ListPositions(portfolioType string) ([]*models.Position, error) {
	return t.store.ListPositions(portfolioType)
}

func signalDirection(direction string) string {
	if direction == "buy" {
		return "long"
	}
	return "short"
}

// AIOpenPosition opens a paper position for an approved signal. The AI
// book always executes.
func (t *Tracker) AIOpenPosition(signal *models.Signal) (*models.Position, error) {
	entry := 0.0
	if signal.EntryTarget != nil {
		entry = *signal.EntryTarget
	}
	position := &models.Position{
		Ticker:     strings.ToUpper(signal.Ticker),
		Direction:  signalDirection(signal.Direction),
		EntryPrice: entry,
		Status:     models.PositionMonitoring,
		Portfolio:  models.PortfolioAI,
		SignalID:   signal.ID,
		OpenedAt:   time.Now().UTC(),
	}
	if err := t.store.SavePosition(position); err != nil {
		return nil, fmt.Errorf("open ai position: %w", err)
	}
	t.log.Info("ai book: opened position",
		zap.String("ticker", position.Ticker),
		zap.String("direction", position.Direction),
		zap.Float64("entry", position.EntryPrice))
	return position, nil
}

// AIClosePosition closes an AI paper position at the given price.
func (t *Tracker) AIClosePosition(ticker string, closePrice float64) (*models.Position, error) {
	return t.closePosition(models.PortfolioAI, ticker, closePrice, "")
}

// HumanConfirmPosition records that the user took a delivered trade.
func (t *Tracker) HumanConfirmPosition(signal *models.Signal, entryPrice float64, size *float64, via, notes string) (*models.Position, error) {
	now := time.Now().UTC()
	position := &models.Position{
		Ticker:       strings.ToUpper(signal.Ticker),
		Direction:    signalDirection(signal.Direction),
		Size:         size,
		EntryPrice:   entryPrice,
		Status:       models.PositionConfirmed,
		Portfolio:    models.PortfolioHuman,
		SignalID:     signal.ID,
		OpenedAt:     now,
		ConfirmedAt:  &now,
		ConfirmedVia: via,
		UserNotes:    notes,
	}
	if err := t.store.SavePosition(position); err != nil {
		return nil, fmt.Errorf("confirm position: %w", err)
	}
	t.log.Info("human book: confirmed position",
		zap.String("ticker", position.Ticker),
		zap.Float64("entry", entryPrice),
		zap.String("via", via))
	return position, nil
}

// HumanSkipPosition records that the user explicitly declined a signal.
func (t *Tracker) HumanSkipPosition(signal *models.Signal, via, notes string) (*models.Position, error) {
	now := time.Now().UTC()
	entry := 0.0
	if signal.EntryTarget != nil {
		entry = *signal.EntryTarget
	}
	position := &models.Position{
		Ticker:       strings.ToUpper(signal.Ticker),
		Direction:    signalDirection(signal.Direction),
		EntryPrice:   entry,
		Status:       models.PositionSkipped,
		Portfolio:    models.PortfolioHuman,
		SignalID:     signal.ID,
		OpenedAt:     now,
		ConfirmedAt:  &now,
		ConfirmedVia: via,
		UserNotes:    notes,
	}
	if err := t.store.SavePosition(position); err != nil {
		return nil, fmt.Errorf("skip position: %w", err)
	}
	t.log.Info("human book: skipped signal",
		zap.String("ticker", position.Ticker),
		zap.String("notes", notes))
	return position, nil
}

// HumanClosePosition records that the user closed a position.
func (t *Tracker) HumanClosePosition(ticker string, closePrice float64, via string) (*models.Position, error) {
	return t.closePosition(models.PortfolioHuman, ticker, closePrice, via)
}

// HumanInitiatedTrade records a trade the AI never suggested.
func (t *Tracker) HumanInitiatedTrade(ticker, direction string, entryPrice float64, size *float64, via, notes string) (*models.Position, error) {
	now := time.Now().UTC()
	position := &models.Position{
		Ticker:       strings.ToUpper(ticker),
		Direction:    direction,
		Size:         size,
		EntryPrice:   entryPrice,
		Status:       models.PositionConfirmed,
		Portfolio:    models.PortfolioHuman,
		OpenedAt:     now,
		ConfirmedAt:  &now,
		ConfirmedVia: via,
		UserNotes:    notes,
	}
	if err := t.store.SavePosition(position); err != nil {
		return nil, fmt.Errorf("record user trade: %w", err)
	}
	t.log.Info("human book: user-initiated trade",
		zap.String("ticker", position.Ticker),
		zap.String("direction", direction),
		zap.Float64("entry", entryPrice))
	return position, nil
}

func (t *Tracker) closePosition(portfolioType, ticker string, closePrice float64, via string) (*models.Position, error) {
	position, err := t.store.LoadPosition(portfolioType, ticker)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	position.Status = models.PositionClosed
	position.ClosePrice = models.Float64Ptr(closePrice)
	position.ClosedAt = &now
	if via != "" {
		position.ConfirmedVia = via
	}

	entry := decimal.NewFromFloat(position.EntryPrice)
	closed := decimal.NewFromFloat(closePrice)
	size := decimal.NewFromFloat(position.EffectiveSize())

	var pnl decimal.Decimal
	if position.Direction == "long" {
		pnl = closed.Sub(entry).Mul(size)
	} else {
		pnl = entry.Sub(closed).Mul(size)
	}
	realized, _ := pnl.Float64()
	position.RealizedPnL = models.Float64Ptr(realized)

	if position.EntryPrice != 0 {
		basis := entry.Mul(size)
		pct, _ := pnl.Div(basis).Mul(decimal.NewFromInt(100)).Float64()
		position.RealizedPnLPercent = models.Float64Ptr(pct)
	}

	if err := t.store.SavePosition(position); err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}
	t.log.Info("closed position",
		zap.String("portfolio", portfolioType),
		zap.String("ticker", position.Ticker),
		zap.Float64("close", closePrice),
		zap.Float64("realized_pnl", realized))
	return position, nil
}

// UpdatePrice refreshes the unrealized P&L of one open position and
// returns it, or nil when no open position exists.
func (t *Tracker) UpdatePrice(portfolioType, ticker string, currentPrice float64) (*models.Position, error) {
	position, err := t.store.LoadPosition(portfolioType, ticker)
	if err != nil || position == nil {
		return nil, err
	}
	if position.Status == models.PositionClosed || position.Status == models.PositionSkipped {
		return nil, nil
	}

	entry := decimal.NewFromFloat(position.EntryPrice)
	current := decimal.NewFromFloat(currentPrice)
	size := decimal.NewFromFloat(position.EffectiveSize())

	var pnl decimal.Decimal
	if position.Direction == "long" {
		pnl = current.Sub(entry).Mul(size)
	} else {
		pnl = entry.Sub(current).Mul(size)
	}
	position.CurrentPrice = models.Float64Ptr(currentPrice)
	unrealized, _ := pnl.Float64()
	position.PnL = models.Float64Ptr(unrealized)
	if position.EntryPrice != 0 {
		var move decimal.Decimal
		if position.Direction == "long" {
			move = current.Sub(entry)
		} else {
			move = entry.Sub(current)
		}
		pct, _ := move.Div(entry).Mul(decimal.NewFromInt(100)).Float64()
		position.PnLPercent = models.Float64Ptr(pct)
	}

	if err := t.store.SavePosition(position); err != nil {
		return nil, fmt.Errorf("update position price: %w", err)
	}
	return position, nil
}
