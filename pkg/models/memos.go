package models

import (
	"fmt"
	"strings"
	"time"
)

// Scenario is one branch of a memo's scenario tree.
type Scenario struct {
	Name        string   `json:"name"`
	Probability float64  `json:"probability"`
	Description string   `json:"description"`
	TargetPrice *float64 `json:"target_price,omitempty"`
	Timeline    string   `json:"timeline,omitempty"`
}

// InvestmentMemo is a structured analysis document produced by the
// orchestrator. Stored on disk as Markdown in memos/.
type InvestmentMemo struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	CorrelationID string    `json:"correlation_id"`

	ExecutiveSummary string     `json:"executive_summary"`
	Catalyst         string     `json:"catalyst"`
	MarketContext    string     `json:"market_context"`
	PricingVsView    string     `json:"pricing_vs_view"`
	ScenarioTree     []Scenario `json:"scenario_tree"`
	TradeExpression  string     `json:"trade_expression"`
	EntryPlan        string     `json:"entry_plan"`
	Risks            []string   `json:"risks"`
	MonitoringPlan   string     `json:"monitoring_plan"`

	AgentsUsed    []string `json:"agents_used"`
	ModelProvider string   `json:"model_provider"`
	ModelName     string   `json:"model_name"`
}

// NewInvestmentMemo creates an empty memo with a fresh id.
func NewInvestmentMemo() *InvestmentMemo {
	return &InvestmentMemo{
		ID:        NewID("memo"),
		CreatedAt: time.Now().UTC(),
	}
}

// ToMarkdown renders the memo as a Markdown document with YAML front-matter.
func (m *InvestmentMemo) ToMarkdown() string {
	var b strings.Builder

	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", m.ID)
	fmt.Fprintf(&b, "created_at: %s\n", m.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "correlation_id: %s\n", m.CorrelationID)
	fmt.Fprintf(&b, "agents_used: [%s]\n", strings.Join(m.AgentsUsed, ", "))
	fmt.Fprintf(&b, "model_provider: %s\n", m.ModelProvider)
	fmt.Fprintf(&b, "model_name: %s\n", m.ModelName)
	b.WriteString("---\n\n")

	section := func(heading, body string) {
		if body != "" {
			fmt.Fprintf(&b, "%s\n\n%s\n\n", heading, body)
		}
	}

	section("# Executive Summary", m.ExecutiveSummary)
	section("## Catalyst", m.Catalyst)
	section("## Market Context", m.MarketContext)
	section("## Pricing vs View", m.PricingVsView)

	if len(m.ScenarioTree) > 0 {
		b.WriteString("## Scenarios\n\n")
		b.WriteString("| Scenario | Probability | Target | Timeline |\n")
		b.WriteString("|----------|-------------|--------|----------|\n")
		for _, s := range m.ScenarioTree {
			target := "-"
			if s.TargetPrice != nil {
				target = fmt.Sprintf("$%.2f", *s.TargetPrice)
			}
			timeline := s.Timeline
			if timeline == "" {
				timeline = "-"
			}
			fmt.Fprintf(&b, "| %s | %.0f%% | %s | %s |\n", s.Name, s.Probability*100, target, timeline)
		}
		b.WriteString("\n")
	}

	section("## Trade Expression", m.TradeExpression)
	section("## Entry Plan", m.EntryPlan)

	if len(m.Risks) > 0 {
		b.WriteString("## Risks\n\n")
		for _, r := range m.Risks {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}

	section("## Monitoring Plan", m.MonitoringPlan)

	return strings.TrimRight(b.String(), "\n") + "\n"
}
