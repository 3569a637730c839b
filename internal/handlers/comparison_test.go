package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/models"
)

type fakeLLM struct {
	name     string
	response string
	err      error

	mu      sync.Mutex
	prompts []string
}

func (f *fakeLLM) Name() string { return f.name }

func (f *fakeLLM) Complete(ctx context.Context, messages []plugin.ChatMessage) (string, error) {
	f.mu.Lock()
	if len(messages) > 0 {
		f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	}
	f.mu.Unlock()
	return f.response, f.err
}

func (f *fakeLLM) ToolCall(ctx context.Context, messages []plugin.ChatMessage, tools []plugin.ToolDef) (plugin.ToolCallResult, error) {
	return plugin.ToolCallResult{Text: f.response}, f.err
}

func position(ticker, direction, status string, entry float64, openedAt time.Time) *models.Position {
	return &models.Position{
		Ticker:     ticker,
		Direction:  direction,
		EntryPrice: entry,
		Status:     status,
		OpenedAt:   openedAt,
	}
}

func TestClassifyDivergence(t *testing.T) {
	opened := time.Now().UTC().Add(-30 * 24 * time.Hour)

	aiMon := position("NVDA", "long", models.PositionMonitoring, 100, opened)
	aiMon.SignalID = "sig_1"

	t.Run("same status is no divergence", func(t *testing.T) {
		human := position("NVDA", "long", models.PositionMonitoring, 100, opened)
		if d := classifyDivergence("NVDA", aiMon, human); d != nil {
			t.Errorf("unexpected divergence: %+v", d)
		}
	})

	t.Run("human skipped", func(t *testing.T) {
		human := position("NVDA", "long", models.PositionSkipped, 0, opened)
		human.UserNotes = "too volatile"
		d := classifyDivergence("NVDA", aiMon, human)
		if d == nil || d.Type != models.DivergenceHumanSkipped {
			t.Fatalf("got %+v", d)
		}
		if d.HumanAction != "Skipped: too volatile" {
			t.Errorf("human action = %q", d.HumanAction)
		}
		if d.AIAction != "long at 100" {
			t.Errorf("ai action = %q", d.AIAction)
		}
	})

	t.Run("timing divergence on differing closes", func(t *testing.T) {
		ai := position("NVDA", "long", models.PositionClosed, 100, opened)
		ai.ClosePrice = models.Float64Ptr(130)
		human := position("NVDA", "long", models.PositionMonitoring, 105, opened)
		human.ClosePrice = models.Float64Ptr(118)
		d := classifyDivergence("NVDA", ai, human)
		if d == nil || d.Type != models.DivergenceTiming {
			t.Fatalf("got %+v", d)
		}
	})

	t.Run("ai-only position is normal", func(t *testing.T) {
		if d := classifyDivergence("NVDA", aiMon, nil); d != nil {
			t.Errorf("ai shadow book alone is not a divergence: %+v", d)
		}
	})

	t.Run("human-initiated trade", func(t *testing.T) {
		human := position("GME", "long", models.PositionConfirmed, 25, opened)
		human.UserNotes = "meme momentum"
		d := classifyDivergence("GME", nil, human)
		if d == nil || d.Type != models.DivergenceHumanInitiated {
			t.Fatalf("got %+v", d)
		}
		if d.AIAction != "No signal" {
			t.Errorf("ai action = %q", d.AIAction)
		}
	})

	t.Run("human position from a signal is not human-initiated", func(t *testing.T) {
		human := position("GME", "long", models.PositionConfirmed, 25, opened)
		human.SignalID = "sig_9"
		if d := classifyDivergence("GME", nil, human); d != nil {
			t.Errorf("signal-linked human position misclassified: %+v", d)
		}
	})
}

func TestDescribePnL(t *testing.T) {
	if got := describePnL(nil); got != "N/A" {
		t.Errorf("nil position = %q", got)
	}

	skipped := &models.Position{Status: models.PositionSkipped}
	if got := describePnL(skipped); got != "$0 (skipped)" {
		t.Errorf("skipped = %q", got)
	}

	closed := &models.Position{
		Status:             models.PositionClosed,
		RealizedPnL:        models.Float64Ptr(42.5),
		RealizedPnLPercent: models.Float64Ptr(8.3),
	}
	if got := describePnL(closed); got != "$42.50 (8.3%)" {
		t.Errorf("closed = %q", got)
	}

	open := &models.Position{
		Status:     models.PositionMonitoring,
		PnL:        models.Float64Ptr(-10),
		PnLPercent: models.Float64Ptr(-2),
	}
	if got := describePnL(open); got != "$-10.00 (-2.0%) unrealized" {
		t.Errorf("open = %q", got)
	}
}

func TestParseMemory(t *testing.T) {
	h := NewComparison(nil, nil, nil, 0)
	div := divergence{
		Ticker:      "NVDA",
		Type:        models.DivergenceHumanSkipped,
		AIAction:    "long at 100",
		HumanAction: "Skipped: too volatile",
		AIPos:       &models.Position{SignalID: "sig_7"},
	}

	response := "```json\n{\"who_was_right\": \"human\", \"lesson\": \"Volatility filters matter.\", \"tags\": [\"NVDA\", \"volatility\"], \"confidence_impact\": -0.4}\n```"
	mem := h.parseMemory(response, div)
	if mem == nil {
		t.Fatal("fenced JSON should parse")
	}
	if mem.WhoWasRight != "human" || mem.SignalID != "sig_7" {
		t.Errorf("unexpected memory: %+v", mem)
	}
	if mem.ConfidenceImpact != -0.1 {
		t.Errorf("impact not clamped: %g", mem.ConfidenceImpact)
	}

	// Missing fields get defaults
	mem = h.parseMemory(`{"lesson": "x"}`, div)
	if mem == nil {
		t.Fatal("minimal JSON should parse")
	}
	if mem.WhoWasRight != "neither" {
		t.Errorf("default verdict = %q", mem.WhoWasRight)
	}
	if len(mem.Tags) != 1 || mem.Tags[0] != "NVDA" {
		t.Errorf("default tags = %v", mem.Tags)
	}

	if mem := h.parseMemory("the model rambled instead of emitting JSON", div); mem != nil {
		t.Errorf("non-JSON should be dropped, got %+v", mem)
	}
}

func TestComparisonRunCreatesMemory(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	b := bus.New(t.TempDir(), false)
	reg := registry.New()

	llm := &fakeLLM{
		name:     "fake",
		response: `{"who_was_right": "human", "lesson": "Listen to skips.", "tags": ["NVDA"], "confidence_impact": -0.05}`,
	}
	reg.Register(plugin.KindLLM, llm.name, llm)

	opened := time.Now().UTC().Add(-30 * 24 * time.Hour)
	ai := position("NVDA", "long", models.PositionMonitoring, 100, opened)
	ai.Portfolio = models.PortfolioAI
	ai.SignalID = "sig_1"
	human := position("NVDA", "long", models.PositionSkipped, 0, opened)
	human.Portfolio = models.PortfolioHuman
	human.SignalID = "sig_1"
	human.UserNotes = "too volatile"
	if err := st.SavePosition(ai); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := st.SavePosition(human); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var mu sync.Mutex
	var created []models.Event
	b.Subscribe(models.EventMemoryCreated, func(ctx context.Context, ev models.Event) {
		mu.Lock()
		created = append(created, ev)
		mu.Unlock()
	})

	h := NewComparison(st, b, reg, 7*24*time.Hour)
	result, err := h.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != models.TaskStatusSuccess {
		t.Errorf("status = %q", result.Status)
	}
	if result.Message != "Found 1 divergences, created 1 memories" {
		t.Errorf("message = %q", result.Message)
	}

	mu.Lock()
	if len(created) != 1 {
		t.Fatalf("memory.created fired %d times, want 1", len(created))
	}
	memoryID := created[0].PayloadString("memory_id")
	mu.Unlock()

	mem, err := st.LoadMemory(memoryID)
	if err != nil || mem == nil {
		t.Fatalf("memory not persisted: (%v, %v)", mem, err)
	}
	if mem.DivergenceType != models.DivergenceHumanSkipped || mem.WhoWasRight != "human" {
		t.Errorf("unexpected memory: %+v", mem)
	}
	if mem.SignalID != "sig_1" {
		t.Errorf("signal link lost: %q", mem.SignalID)
	}

	// A second run is deduplicated by the memory index
	result, err = h.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Message != "Found 1 divergences, created 0 memories" {
		t.Errorf("second run message = %q", result.Message)
	}
}

func TestComparisonRunTooFreshToJudge(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	b := bus.New(t.TempDir(), false)
	reg := registry.New()
	reg.Register(plugin.KindLLM, "fake", &fakeLLM{name: "fake", response: "{}"})

	opened := time.Now().UTC().Add(-24 * time.Hour)
	ai := position("NVDA", "long", models.PositionMonitoring, 100, opened)
	ai.Portfolio = models.PortfolioAI
	ai.SignalID = "sig_1"
	human := position("NVDA", "long", models.PositionSkipped, 0, opened)
	human.Portfolio = models.PortfolioHuman
	if err := st.SavePosition(ai); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := st.SavePosition(human); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	h := NewComparison(st, b, reg, 7*24*time.Hour)
	result, err := h.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Message != "Found 1 divergences, created 0 memories" {
		t.Errorf("day-old divergence should wait out the outcome period, got %q", result.Message)
	}
}
