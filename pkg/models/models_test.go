package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewIDFormat(t *testing.T) {
	id := NewID("sig")
	if !strings.HasPrefix(id, "sig_") {
		t.Fatalf("expected sig_ prefix, got %q", id)
	}
	if len(id) != len("sig_")+12 {
		t.Errorf("expected 12 hex chars after prefix, got %q", id)
	}

	if NewID("sig") == id {
		t.Error("expected unique ids")
	}
}

func TestEventDeriveKeepsCorrelation(t *testing.T) {
	parent := NewEvent(EventSignalProposed, "orchestrator", map[string]any{"ticker": "NVDA"})
	child := parent.Derive(EventSignalApproved, "risk_engine", nil)

	if child.CorrelationID != parent.CorrelationID {
		t.Errorf("derived event lost correlation: %q != %q", child.CorrelationID, parent.CorrelationID)
	}
	if child.ID == parent.ID {
		t.Error("derived event must get a fresh id")
	}
	if child.Type != EventSignalApproved {
		t.Errorf("unexpected type %q", child.Type)
	}
	if child.Payload == nil {
		t.Error("nil payload should be normalized to an empty map")
	}
}

func TestEventPayloadString(t *testing.T) {
	ev := NewEvent(EventIntegrationInput, "telegram", map[string]any{
		"text":  "hello",
		"count": 3,
	})
	if got := ev.PayloadString("text"); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := ev.PayloadString("count"); got != "" {
		t.Errorf("non-string field should read as empty, got %q", got)
	}
	if got := ev.PayloadString("missing"); got != "" {
		t.Errorf("missing field should read as empty, got %q", got)
	}
}

func TestNewSignalNormalizesTicker(t *testing.T) {
	sig := NewSignal("nvda", "buy", "earnings", 0.8)
	if sig.Ticker != "NVDA" {
		t.Errorf("ticker not uppercased: %q", sig.Ticker)
	}
	if sig.Status != SignalProposed {
		t.Errorf("new signal should be proposed, got %q", sig.Status)
	}
}

func TestSignalReminderFieldName(t *testing.T) {
	sig := NewSignal("NVDA", "buy", "earnings", 0.7)
	now := time.Now().UTC()
	sig.ReminderSentAt = &now

	data, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"confirmation_reminder_sent_at"`) {
		t.Errorf("reminder timestamp lost its on-disk name: %s", data)
	}
}

func TestRiskResultSummary(t *testing.T) {
	approved := &RiskResult{Approved: true, Evaluations: []RuleEvaluation{
		{RuleName: "confidence", Passed: true},
		{RuleName: "frequency", Passed: true},
	}}
	if got := approved.Summary(); got != "Approved (2 rules passed)" {
		t.Errorf("unexpected summary %q", got)
	}

	rejected := &RiskResult{Approved: false, Evaluations: []RuleEvaluation{
		{RuleName: "confidence", Passed: false},
		{RuleName: "frequency", Passed: true},
		{RuleName: "drawdown", Passed: false},
	}}
	if got := rejected.Summary(); got != "Rejected (failed: confidence, drawdown)" {
		t.Errorf("unexpected summary %q", got)
	}
	if got := len(rejected.FailedRules()); got != 2 {
		t.Errorf("expected 2 failed rules, got %d", got)
	}
}

func TestPositionEffectiveSize(t *testing.T) {
	p := &Position{}
	if p.EffectiveSize() != 1 {
		t.Errorf("unsized position should default to 1 unit, got %g", p.EffectiveSize())
	}
	p.Size = Float64Ptr(2.5)
	if p.EffectiveSize() != 2.5 {
		t.Errorf("got %g", p.EffectiveSize())
	}
}

func TestClampConfidenceImpact(t *testing.T) {
	m := NewMemory()
	m.ConfidenceImpact = 0.5
	m.ClampConfidenceImpact()
	if m.ConfidenceImpact != 0.1 {
		t.Errorf("expected clamp to 0.1, got %g", m.ConfidenceImpact)
	}
	m.ConfidenceImpact = -0.7
	m.ClampConfidenceImpact()
	if m.ConfidenceImpact != -0.1 {
		t.Errorf("expected clamp to -0.1, got %g", m.ConfidenceImpact)
	}
	m.ConfidenceImpact = 0.05
	m.ClampConfidenceImpact()
	if m.ConfidenceImpact != 0.05 {
		t.Errorf("in-range impact must be untouched, got %g", m.ConfidenceImpact)
	}
}

func TestMemoToMarkdown(t *testing.T) {
	memo := NewInvestmentMemo()
	memo.ExecutiveSummary = "Buy the dip."
	memo.Risks = []string{"rates", "liquidity"}
	memo.ScenarioTree = []Scenario{
		{Name: "Bull", Probability: 0.4, TargetPrice: Float64Ptr(150)},
		{Name: "Bear", Probability: 0.2},
	}

	md := memo.ToMarkdown()
	for _, want := range []string{
		"id: " + memo.ID,
		"# Executive Summary",
		"Buy the dip.",
		"| Bull | 40% | $150.00 | - |",
		"| Bear | 20% | - | - |",
		"- rates",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("rendered memo missing %q", want)
		}
	}
	if strings.Contains(md, "## Catalyst") {
		t.Error("empty sections should be omitted")
	}
}

func TestTimeContext(t *testing.T) {
	at := time.Date(2020, 3, 16, 14, 30, 0, 0, time.UTC)
	sim := SimulationTime(at, "sim_1")
	if !sim.IsSimulation() {
		t.Fatal("expected simulation mode")
	}
	if !sim.Now().Equal(at) {
		t.Errorf("simulated now = %v, want %v", sim.Now(), at)
	}
	if err := sim.AdvanceTo(at.Add(24 * time.Hour)); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if !sim.Now().Equal(at.Add(24 * time.Hour)) {
		t.Errorf("clock did not advance: %v", sim.Now())
	}

	prod := ProductionTime()
	if prod.IsSimulation() {
		t.Error("production context reports simulation")
	}
	if err := prod.AdvanceTo(at); err == nil {
		t.Error("advancing a production clock must fail")
	}
	if d := time.Since(prod.Now()); d < 0 || d > time.Minute {
		t.Errorf("production now too far from real now: %v", d)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	sig := NewSignal("AAPL", "buy", "product cycle", 0.72)
	sig.EntryTarget = Float64Ptr(185.5)

	payload := ToPayload(sig)
	if payload["ticker"] != "AAPL" {
		t.Fatalf("payload ticker = %v", payload["ticker"])
	}

	var back Signal
	if err := FromPayload(payload, &back); err != nil {
		t.Fatalf("FromPayload failed: %v", err)
	}
	if back.ID != sig.ID || back.Confidence != sig.Confidence {
		t.Errorf("round trip mismatch: %+v", back)
	}
	if back.EntryTarget == nil || *back.EntryTarget != 185.5 {
		t.Errorf("entry target lost: %v", back.EntryTarget)
	}
}
