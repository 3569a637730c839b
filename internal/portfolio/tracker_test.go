package portfolio

import (
	"math"
	"testing"

	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/models"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAIOpenPositionFromSignal(t *testing.T) {
	tr := newTestTracker(t)

	sig := models.NewSignal("nvda", "buy", "earnings", 0.8)
	sig.EntryTarget = models.Float64Ptr(120)

	pos, err := tr.AIOpenPosition(sig)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if pos.Ticker != "NVDA" || pos.Direction != "long" {
		t.Errorf("unexpected position: %+v", pos)
	}
	if pos.EntryPrice != 120 {
		t.Errorf("entry = %g, want signal target", pos.EntryPrice)
	}
	if pos.Portfolio != models.PortfolioAI || pos.Status != models.PositionMonitoring {
		t.Errorf("book/status wrong: %+v", pos)
	}
	if pos.SignalID != sig.ID {
		t.Errorf("signal link lost: %q", pos.SignalID)
	}
}

func TestCloseLongComputesRealizedPnL(t *testing.T) {
	tr := newTestTracker(t)

	size := 2.0
	if _, err := tr.HumanInitiatedTrade("AAPL", "long", 100, &size, "telegram", "conviction buy"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	pos, err := tr.HumanClosePosition("AAPL", 110, "telegram")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if pos == nil {
		t.Fatal("position vanished")
	}
	if pos.Status != models.PositionClosed {
		t.Errorf("status = %q", pos.Status)
	}
	if pos.RealizedPnL == nil || !approxEqual(*pos.RealizedPnL, 20) {
		t.Errorf("realized pnl = %v, want 20", pos.RealizedPnL)
	}
	if pos.RealizedPnLPercent == nil || !approxEqual(*pos.RealizedPnLPercent, 10) {
		t.Errorf("realized pnl pct = %v, want 10", pos.RealizedPnLPercent)
	}
}

func TestCloseShortInvertsPnL(t *testing.T) {
	tr := newTestTracker(t)

	if _, err := tr.HumanInitiatedTrade("TSLA", "short", 200, nil, "cli", ""); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	pos, err := tr.HumanClosePosition("TSLA", 180, "cli")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if pos.RealizedPnL == nil || !approxEqual(*pos.RealizedPnL, 20) {
		t.Errorf("short realized pnl = %v, want 20", pos.RealizedPnL)
	}
}

func TestClosingMissingPositionReturnsNil(t *testing.T) {
	tr := newTestTracker(t)
	pos, err := tr.HumanClosePosition("GME", 30, "telegram")
	if err != nil {
		t.Fatalf("close errored: %v", err)
	}
	if pos != nil {
		t.Errorf("expected nil, got %+v", pos)
	}
}

func TestHumanConfirmAndSkip(t *testing.T) {
	tr := newTestTracker(t)

	sig := models.NewSignal("MSFT", "buy", "cloud growth", 0.7)
	size := 5.0
	pos, err := tr.HumanConfirmPosition(sig, 410, &size, "telegram", "went in this morning")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if pos.Status != models.PositionConfirmed || pos.Portfolio != models.PortfolioHuman {
		t.Errorf("unexpected confirm: %+v", pos)
	}
	if pos.ConfirmedAt == nil || pos.ConfirmedVia != "telegram" {
		t.Errorf("confirmation metadata missing: %+v", pos)
	}

	sig2 := models.NewSignal("AMD", "sell", "inventory glut", 0.65)
	skipped, err := tr.HumanSkipPosition(sig2, "telegram", "disagree on timing")
	if err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	if skipped.Status != models.PositionSkipped {
		t.Errorf("status = %q", skipped.Status)
	}
	if skipped.Direction != "short" {
		t.Errorf("sell signal should map to short, got %q", skipped.Direction)
	}
	if skipped.UserNotes != "disagree on timing" {
		t.Errorf("notes lost: %q", skipped.UserNotes)
	}
}

func TestUpdatePriceTracksUnrealized(t *testing.T) {
	tr := newTestTracker(t)

	size := 3.0
	if _, err := tr.HumanInitiatedTrade("NVDA", "long", 100, &size, "telegram", ""); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	pos, err := tr.UpdatePrice(models.PortfolioHuman, "NVDA", 90)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if pos.PnL == nil || !approxEqual(*pos.PnL, -30) {
		t.Errorf("pnl = %v, want -30", pos.PnL)
	}
	if pos.PnLPercent == nil || !approxEqual(*pos.PnLPercent, -10) {
		t.Errorf("pnl pct = %v, want -10", pos.PnLPercent)
	}

	// Closed positions stop updating
	if _, err := tr.HumanClosePosition("NVDA", 95, ""); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	pos, err = tr.UpdatePrice(models.PortfolioHuman, "NVDA", 80)
	if err != nil {
		t.Fatalf("update errored: %v", err)
	}
	if pos != nil {
		t.Error("closed position should not accept price updates")
	}
}

func TestSummaryExcludesClosedAndSkipped(t *testing.T) {
	tr := newTestTracker(t)

	if _, err := tr.HumanInitiatedTrade("NVDA", "long", 100, nil, "t", ""); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := tr.HumanInitiatedTrade("AAPL", "long", 200, nil, "t", ""); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := tr.HumanClosePosition("AAPL", 210, "t"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	sig := models.NewSignal("TSLA", "buy", "", 0.9)
	if _, err := tr.HumanSkipPosition(sig, "t", ""); err != nil {
		t.Fatalf("skip failed: %v", err)
	}

	summary, err := tr.GetSummary(models.PortfolioHuman)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if len(summary.Positions) != 1 {
		t.Fatalf("summary holds %d positions, want 1 open", len(summary.Positions))
	}
	if summary.Positions[0].Ticker != "NVDA" {
		t.Errorf("wrong survivor: %q", summary.Positions[0].Ticker)
	}
	if !approxEqual(summary.TotalValue, 100) {
		t.Errorf("total value = %g, want 100", summary.TotalValue)
	}
}
