// Package orchestrator runs the multi-agent analysis pipeline: assemble a
// ContextPack, fan out to the registered agents, synthesize their outputs
// into an investment memo via the default LLM, and propose a signal when
// the synthesis has conviction.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/internal/portfolio"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

const synthesisPrompt = `You are the Chief Investment Officer synthesizing analyses from your team.

Given the following agent analyses, produce a structured investment decision.

%s

Trigger event: %s

Respond in JSON:
{
    "executive_summary": "2-3 sentence thesis",
    "catalyst": "what happened and why it matters",
    "market_context": "current regime and conditions",
    "pricing_vs_view": "where the market is priced vs our view",
    "scenarios": [
        {"name": "Bull", "probability": 0.0-1.0, "description": "...", "target_price": null},
        {"name": "Base", "probability": 0.0-1.0, "description": "...", "target_price": null},
        {"name": "Bear", "probability": 0.0-1.0, "description": "...", "target_price": null}
    ],
    "trade_expression": "how to express the view",
    "entry_plan": "entry strategy",
    "risks": ["risk1", "risk2"],
    "monitoring_plan": "what to watch",
    "signal": {
        "ticker": "TICKER",
        "direction": "buy" | "sell" | "hold",
        "confidence": 0.0-1.0,
        "entry_target": null,
        "stop_loss": null,
        "take_profit": null,
        "horizon": "1-3 months"
    }
}

If you don't have enough conviction for a trade, set direction to "hold" with an explanation.`

// Orchestrator coordinates the agent pipeline.
type Orchestrator struct {
	bus       *bus.Bus
	store     *store.Store
	registry  *registry.Registry
	portfolio *portfolio.Tracker
	memory    *MemoryRetriever
	watchlist []string
	log       *zap.Logger
}

// New creates an orchestrator. The watchlist seeds the market snapshot.
func New(b *bus.Bus, st *store.Store, reg *registry.Registry, pf *portfolio.Tracker, mem *MemoryRetriever, watchlist []string) *Orchestrator {
	return &Orchestrator{
		bus:       b,
		store:     st,
		registry:  reg,
		portfolio: pf,
		memory:    mem,
		watchlist: watchlist,
		log:       logger.Named("orchestrator"),
	}
}

// Analyze runs the full pipeline for a trigger event. The returned signal
// is nil when the synthesis decides to hold.
func (o *Orchestrator) Analyze(ctx context.Context, trigger models.Event, tc models.TimeContext) (*models.InvestmentMemo, *models.Signal, error) {
	pack := o.assembleContext(trigger, tc)

	assembled := trigger.Derive(models.EventContextAssembled, "orchestrator", nil)
	if err := o.bus.Publish(ctx, assembled); err != nil {
		o.log.Error("failed to publish context.assembled", zap.Error(err))
	}

	outputs := o.runAgents(ctx, pack)
	memo, signal := o.synthesize(ctx, outputs, trigger, tc)
	memo.CorrelationID = trigger.CorrelationID

	ticker, direction := "analysis", "hold"
	if signal != nil {
		ticker, direction = signal.Ticker, signal.Direction
	}
	memoPath, err := o.store.SaveMemo(memo, ticker, direction)
	if err != nil {
		o.log.Error("failed to persist memo", zap.String("memo_id", memo.ID), zap.Error(err))
	}

	memoEvent := trigger.Derive(models.EventMemoCreated, "orchestrator", map[string]any{
		"memo_id":  memo.ID,
		"filename": memoPath,
	})
	if err := o.bus.Publish(ctx, memoEvent); err != nil {
		o.log.Error("failed to publish memo.created", zap.Error(err))
	}

	if signal != nil && signal.Direction != "hold" {
		signal.MemoID = memo.ID
		signal.CorrelationID = trigger.CorrelationID

		if err := o.store.SaveSignal(signal); err != nil {
			return memo, signal, fmt.Errorf("persist signal: %w", err)
		}
		proposed := trigger.Derive(models.EventSignalProposed, "orchestrator", models.ToPayload(signal))
		if err := o.bus.Publish(ctx, proposed); err != nil {
			o.log.Error("failed to publish signal.proposed", zap.Error(err))
		}
		o.log.Info("proposed signal",
			zap.String("signal_id", signal.ID),
			zap.String("ticker", signal.Ticker),
			zap.String("direction", signal.Direction),
			zap.Float64("confidence", signal.Confidence))
	}

	return memo, signal, nil
}

// assembleContext builds the time-scoped view the agents analyze.
// Snapshot prices come from the store's latest-price lookup so the same
// inputs always produce the same pack.
func (o *Orchestrator) assembleContext(trigger models.Event, tc models.TimeContext) *models.ContextPack {
	now := tc.Now()
	snapshot := models.NewMarketSnapshot()
	snapshot.Timestamp = now

	tickers := append([]string{}, o.watchlist...)
	if hint := trigger.PayloadString("ticker"); hint != "" {
		tickers = append(tickers, hint)
	}
	for _, ticker := range tickers {
		bound := now
		price, err := o.store.Index().LatestPrice(ticker, &bound)
		if err != nil {
			o.log.Warn("price lookup failed", zap.String("ticker", ticker), zap.Error(err))
			continue
		}
		if price != nil {
			snapshot.Prices[strings.ToUpper(ticker)] = *price
		}
	}

	aiSummary, err := o.portfolio.GetSummary(models.PortfolioAI)
	if err != nil {
		o.log.Error("ai portfolio summary failed", zap.Error(err))
		aiSummary = &models.PortfolioSummary{PortfolioType: models.PortfolioAI}
	}
	humanSummary, err := o.portfolio.GetSummary(models.PortfolioHuman)
	if err != nil {
		o.log.Error("human portfolio summary failed", zap.Error(err))
		humanSummary = &models.PortfolioSummary{PortfolioType: models.PortfolioHuman}
	}

	var tags []string
	if raw, ok := trigger.Payload["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	memories := o.memory.Retrieve(trigger.PayloadString("ticker"), tags, 0, now)

	triggerCopy := trigger
	return &models.ContextPack{
		TimeContext:      tc,
		MarketSnapshot:   snapshot,
		AIPortfolio:      *aiSummary,
		HumanPortfolio:   *humanSummary,
		TriggerEvent:     &triggerCopy,
		RelevantMemories: memories,
		Watchlist:        o.watchlist,
	}
}

// runAgents fans out to every registered agent concurrently. A failed
// agent contributes nothing; the pipeline continues with the rest.
func (o *Orchestrator) runAgents(ctx context.Context, pack *models.ContextPack) []plugin.AgentOutput {
	agents := o.registry.Agents()
	results := make([]*plugin.AgentOutput, len(agents))

	var wg sync.WaitGroup
	for i, agent := range agents {
		wg.Add(1)
		go func(i int, agent plugin.AIAgent) {
			defer wg.Done()
			o.log.Info("running agent", zap.String("agent", agent.Name()))
			output, err := agent.Analyze(ctx, pack)
			if err != nil {
				o.log.Error("agent failed", zap.String("agent", agent.Name()), zap.Error(err))
				return
			}
			results[i] = &output
			o.log.Info("agent finished",
				zap.String("agent", agent.Name()),
				zap.Float64("confidence", output.Confidence),
				zap.String("direction", output.SuggestedDirection))
		}(i, agent)
	}
	wg.Wait()

	outputs := make([]plugin.AgentOutput, 0, len(agents))
	for _, r := range results {
		if r != nil {
			outputs = append(outputs, *r)
		}
	}
	return outputs
}

func agentNames(outputs []plugin.AgentOutput) []string {
	names := make([]string, 0, len(outputs))
	for _, o := range outputs {
		names = append(names, o.AgentName)
	}
	return names
}

func (o *Orchestrator) synthesize(ctx context.Context, outputs []plugin.AgentOutput, trigger models.Event, tc models.TimeContext) (*models.InvestmentMemo, *models.Signal) {
	providers := o.registry.LLMs()
	if len(providers) == 0 {
		o.log.Error("no llm providers registered, cannot synthesize")
		memo := models.NewInvestmentMemo()
		memo.ExecutiveSummary = "No LLM provider available for synthesis."
		memo.AgentsUsed = agentNames(outputs)
		return memo, nil
	}
	llm := providers[0]

	var analyses []string
	for _, out := range outputs {
		direction := out.SuggestedDirection
		if direction == "" {
			direction = "none"
		}
		analyses = append(analyses, fmt.Sprintf("--- %s (confidence: %.2f, direction: %s) ---\n%s",
			out.AgentName, out.Confidence, direction, out.Analysis))
	}
	analysesText := strings.Join(analyses, "\n\n")

	triggerJSON, _ := json.Marshal(trigger.Payload)
	triggerText := string(triggerJSON)
	if len(triggerText) > 500 {
		triggerText = triggerText[:500]
	}

	messages := []plugin.ChatMessage{
		{Role: "system", Content: "You are a Chief Investment Officer."},
		{Role: "user", Content: fmt.Sprintf(synthesisPrompt, analysesText, triggerText)},
	}

	response, err := llm.Complete(ctx, messages)
	if err != nil {
		o.log.Error("synthesis failed", zap.Error(err))
		memo := models.NewInvestmentMemo()
		memo.ExecutiveSummary = "Synthesis failed. Agent analyses available in raw form."
		memo.Catalyst = analysesText
		memo.AgentsUsed = agentNames(outputs)
		memo.ModelProvider = llm.Name()
		return memo, nil
	}

	return o.parseSynthesis(response, outputs, llm.Name())
}

// stripCodeFence removes a surrounding ``` block if present.
func stripCodeFence(s string) string {
	cleaned := strings.TrimSpace(s)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	if len(lines) < 2 {
		return cleaned
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

type synthesisResponse struct {
	ExecutiveSummary string `json:"executive_summary"`
	Catalyst         string `json:"catalyst"`
	MarketContext    string `json:"market_context"`
	PricingVsView    string `json:"pricing_vs_view"`
	Scenarios        []struct {
		Name        string   `json:"name"`
		Probability float64  `json:"probability"`
		Description string   `json:"description"`
		TargetPrice *float64 `json:"target_price"`
	} `json:"scenarios"`
	TradeExpression string   `json:"trade_expression"`
	EntryPlan       string   `json:"entry_plan"`
	Risks           []string `json:"risks"`
	MonitoringPlan  string   `json:"monitoring_plan"`
	Signal          *struct {
		Ticker      string   `json:"ticker"`
		Direction   string   `json:"direction"`
		Confidence  float64  `json:"confidence"`
		EntryTarget *float64 `json:"entry_target"`
		StopLoss    *float64 `json:"stop_loss"`
		TakeProfit  *float64 `json:"take_profit"`
		Horizon     string   `json:"horizon"`
	} `json:"signal"`
}

func (o *Orchestrator) parseSynthesis(response string, outputs []plugin.AgentOutput, providerName string) (*models.InvestmentMemo, *models.Signal) {
	var data synthesisResponse
	if err := json.Unmarshal([]byte(stripCodeFence(response)), &data); err != nil {
		o.log.Warn("could not parse synthesis as json, using raw text", zap.Error(err))
		memo := models.NewInvestmentMemo()
		if len(response) > 500 {
			response = response[:500]
		}
		memo.ExecutiveSummary = response
		memo.AgentsUsed = agentNames(outputs)
		memo.ModelProvider = providerName
		return memo, nil
	}

	memo := models.NewInvestmentMemo()
	memo.ExecutiveSummary = data.ExecutiveSummary
	memo.Catalyst = data.Catalyst
	memo.MarketContext = data.MarketContext
	memo.PricingVsView = data.PricingVsView
	memo.TradeExpression = data.TradeExpression
	memo.EntryPlan = data.EntryPlan
	memo.Risks = data.Risks
	memo.MonitoringPlan = data.MonitoringPlan
	memo.AgentsUsed = agentNames(outputs)
	memo.ModelProvider = providerName
	for _, s := range data.Scenarios {
		memo.ScenarioTree = append(memo.ScenarioTree, models.Scenario{
			Name:        s.Name,
			Probability: s.Probability,
			Description: s.Description,
			TargetPrice: s.TargetPrice,
		})
	}

	var signal *models.Signal
	if data.Signal != nil && data.Signal.Direction != "hold" && data.Signal.Direction != "" {
		signal = models.NewSignal(data.Signal.Ticker, data.Signal.Direction, data.Catalyst, data.Signal.Confidence)
		signal.EntryTarget = data.Signal.EntryTarget
		signal.StopLoss = data.Signal.StopLoss
		signal.TakeProfit = data.Signal.TakeProfit
		signal.Horizon = data.Signal.Horizon
	}
	return memo, signal
}
