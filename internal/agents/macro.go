// Package agents contains the built-in analysis agents run by the
// orchestrator.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

const macroSystemPrompt = `You are a senior macro strategist at a top investment bank.

Your job is to analyze macroeconomic conditions and their implications for markets.
You focus on:
- Inflation data (CPI, PCE, breakevens)
- Employment (NFP, unemployment, JOLTS)
- Growth indicators (GDP, PMI/ISM)
- Central bank policy (FOMC, rate expectations)
- Financial conditions and liquidity
- Cross-asset signals (bonds, commodities, currencies vs equities)

Given the current market context, provide a concise macro assessment.

Respond in JSON format:
{
    "analysis": "Your macro assessment (2-3 paragraphs)",
    "confidence": 0.0-1.0,
    "direction": "bullish" | "bearish" | "neutral",
    "key_factors": ["factor1", "factor2", "factor3"],
    "risks": ["risk1", "risk2"]
}`

// Macro is the LLM-backed macro strategist agent.
type Macro struct {
	llm plugin.LLMProvider
	log *zap.Logger
}

func NewMacro(llm plugin.LLMProvider) *Macro {
	return &Macro{llm: llm, log: logger.Named("agent.macro")}
}

func (a *Macro) Name() string { return "macro" }

func (a *Macro) Description() string {
	return "Macro Strategist: CPI, employment, GDP, rates, financial conditions"
}

// Analyze generates a macro assessment from the context pack. Failures
// degrade to a zero-confidence output instead of erroring the chain.
func (a *Macro) Analyze(ctx context.Context, pack *models.ContextPack) (plugin.AgentOutput, error) {
	messages := []plugin.ChatMessage{
		{Role: "system", Content: macroSystemPrompt},
		{Role: "user", Content: buildMacroPrompt(pack)},
	}

	response, err := a.llm.Complete(ctx, messages)
	if err != nil {
		a.log.Error("macro agent failed", zap.Error(err))
		return plugin.AgentOutput{
			AgentName:  a.Name(),
			Analysis:   "Macro analysis failed due to an error.",
			Confidence: 0,
		}, nil
	}
	return a.parseResponse(response), nil
}

func buildMacroPrompt(pack *models.ContextPack) string {
	parts := []string{fmt.Sprintf("Current time: %s", pack.TimeContext.CurrentTime.Format("2006-01-02T15:04:05Z07:00"))}

	snap := pack.MarketSnapshot
	if len(snap.Prices) > 0 {
		parts = append(parts, "\nMarket prices:")
		tickers := make([]string, 0, len(snap.Prices))
		for t := range snap.Prices {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		for _, t := range tickers {
			parts = append(parts, fmt.Sprintf("  %s: %.2f", t, snap.Prices[t]))
		}
	}
	if snap.VIX != nil {
		parts = append(parts, fmt.Sprintf("\nVIX: %.2f", *snap.VIX))
	}
	if len(snap.Yields) > 0 {
		parts = append(parts, "\nYields:")
		tenors := make([]string, 0, len(snap.Yields))
		for t := range snap.Yields {
			tenors = append(tenors, t)
		}
		sort.Strings(tenors)
		for _, t := range tenors {
			parts = append(parts, fmt.Sprintf("  %s: %.3f", t, snap.Yields[t]))
		}
	}

	if len(pack.AIPortfolio.Positions) > 0 {
		parts = append(parts, fmt.Sprintf("\nAI Portfolio: %d positions, P&L: %.1f%%",
			len(pack.AIPortfolio.Positions), pack.AIPortfolio.TotalPnLPercent))
	}

	if len(pack.RecentEvents) > 0 {
		parts = append(parts, fmt.Sprintf("\nRecent events (%d):", len(pack.RecentEvents)))
		for i, event := range pack.RecentEvents {
			if i >= 5 {
				break
			}
			parts = append(parts, fmt.Sprintf("  [%s] %s: %s", event.Type, event.Source, truncateJSON(event.Payload, 200)))
		}
	}

	if len(pack.RelevantMemories) > 0 {
		parts = append(parts, fmt.Sprintf("\nRelevant memories (%d):", len(pack.RelevantMemories)))
		for i, mem := range pack.RelevantMemories {
			if i >= 3 {
				break
			}
			lesson := mem.Lesson
			if len(lesson) > 150 {
				lesson = lesson[:150]
			}
			parts = append(parts, "  - "+lesson)
		}
	}

	if pack.TriggerEvent != nil {
		parts = append(parts, fmt.Sprintf("\nTrigger event: [%s] %s",
			pack.TriggerEvent.Type, truncateJSON(pack.TriggerEvent.Payload, 300)))
	}

	parts = append(parts, "\nProvide your macro assessment.")
	return strings.Join(parts, "\n")
}

func truncateJSON(v any, limit int) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	s := string(raw)
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

func (a *Macro) parseResponse(response string) plugin.AgentOutput {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		if len(lines) > 2 {
			cleaned = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	var data struct {
		Analysis   string   `json:"analysis"`
		Confidence float64  `json:"confidence"`
		Direction  string   `json:"direction"`
		KeyFactors []string `json:"key_factors"`
	}
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		// Treat the whole response as the analysis.
		return plugin.AgentOutput{
			AgentName:  a.Name(),
			Analysis:   response,
			Confidence: 0.5,
		}
	}

	analysis := data.Analysis
	if analysis == "" {
		analysis = response
	}
	return plugin.AgentOutput{
		AgentName:          a.Name(),
		Analysis:           analysis,
		Confidence:         data.Confidence,
		SuggestedDirection: data.Direction,
		KeyFactors:         data.KeyFactors,
	}
}
