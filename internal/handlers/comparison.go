package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

const comparisonPrompt = `You are analyzing a divergence between an AI trading system and a human trader.

Divergence details:
- Signal: %s %s
- AI action: %s
- Human action: %s
- Outcome: %s
- AI P&L: %s
- Human P&L: %s

Analyze this divergence. Respond in JSON:
{
    "who_was_right": "ai" | "human" | "both" | "neither",
    "lesson": "A concise lesson learned (2-3 sentences). What should be done differently next time?",
    "tags": ["tag1", "tag2", "tag3"],
    "confidence_impact": -0.1 to 0.1
}

Tags should include the ticker, sector, and any relevant themes (e.g., "earnings", "macro", "momentum").
confidence_impact: positive means the AI should be MORE confident in similar situations, negative means LESS.`

// Comparison is the learning loop. It compares the AI and human books,
// classifies divergences, and turns matured ones into memories via LLM.
type Comparison struct {
	store      *store.Store
	bus        *bus.Bus
	registry   *registry.Registry
	minOutcome time.Duration
	log        *zap.Logger
}

// NewComparison creates the handler. The minimum outcome period defaults
// to seven days.
func NewComparison(st *store.Store, b *bus.Bus, reg *registry.Registry, minOutcome time.Duration) *Comparison {
	if minOutcome <= 0 {
		minOutcome = 7 * 24 * time.Hour
	}
	return &Comparison{
		store:      st,
		bus:        b,
		registry:   reg,
		minOutcome: minOutcome,
		log:        logger.Named("comparison"),
	}
}

func (h *Comparison) Name() string { return "comparison.weekly" }

type divergence struct {
	Ticker      string
	Type        string
	AIAction    string
	HumanAction string
	AIPos       *models.Position
	HumanPos    *models.Position
	OpenedAt    time.Time
}

func (h *Comparison) Run(ctx context.Context, params map[string]any) (models.TaskResult, error) {
	aiPositions, err := h.store.ListPositions(models.PortfolioAI)
	if err != nil {
		return models.TaskResult{}, fmt.Errorf("list ai positions: %w", err)
	}
	humanPositions, err := h.store.ListPositions(models.PortfolioHuman)
	if err != nil {
		return models.TaskResult{}, fmt.Errorf("list human positions: %w", err)
	}

	aiMap := map[string]*models.Position{}
	for _, p := range aiPositions {
		aiMap[p.Ticker] = p
	}
	humanMap := map[string]*models.Position{}
	for _, p := range humanPositions {
		humanMap[p.Ticker] = p
	}

	tickers := map[string]bool{}
	for t := range aiMap {
		tickers[t] = true
	}
	for t := range humanMap {
		tickers[t] = true
	}

	var divergences []divergence
	for ticker := range tickers {
		if d := classifyDivergence(ticker, aiMap[ticker], humanMap[ticker]); d != nil {
			divergences = append(divergences, *d)
		}
	}

	if len(divergences) == 0 {
		return models.TaskResult{
			Status:  models.TaskStatusNoAction,
			Message: "No divergences found between AI and human portfolios",
		}, nil
	}

	now := time.Now().UTC()
	created := 0
	for _, div := range divergences {
		covered, err := h.alreadyCovered(div)
		if err != nil {
			h.log.Warn("memory dedupe check failed",
				zap.String("ticker", div.Ticker), zap.Error(err))
			continue
		}
		if covered {
			continue
		}
		if div.OpenedAt.IsZero() || now.Sub(div.OpenedAt) < h.minOutcome {
			continue
		}

		memory := h.generateMemory(ctx, div)
		if memory == nil {
			continue
		}
		if err := h.store.SaveMemory(memory); err != nil {
			h.log.Error("failed to save memory",
				zap.String("ticker", div.Ticker), zap.Error(err))
			continue
		}

		h.bus.Publish(ctx, models.NewEvent(models.EventMemoryCreated, "comparison", map[string]any{
			"memory_id": memory.ID,
			"ticker":    div.Ticker,
		}))
		created++
		h.log.Info("created memory",
			zap.String("memory_id", memory.ID),
			zap.String("who_was_right", memory.WhoWasRight),
			zap.String("ticker", div.Ticker))
	}

	return models.TaskResult{
		Status:  models.TaskStatusSuccess,
		Message: fmt.Sprintf("Found %d divergences, created %d memories", len(divergences), created),
	}, nil
}

// classifyDivergence decides whether the AI/human state pair for a ticker
// is a learnable divergence and of what kind.
func classifyDivergence(ticker string, aiPos, humanPos *models.Position) *divergence {
	if aiPos != nil && humanPos != nil {
		if aiPos.Status == humanPos.Status {
			return nil
		}
		if humanPos.Status == models.PositionSkipped {
			notes := humanPos.UserNotes
			if notes == "" {
				notes = "no reason given"
			}
			return &divergence{
				Ticker:      ticker,
				Type:        models.DivergenceHumanSkipped,
				AIAction:    fmt.Sprintf("%s at %g", aiPos.Direction, aiPos.EntryPrice),
				HumanAction: "Skipped: " + notes,
				AIPos:       aiPos,
				HumanPos:    humanPos,
				OpenedAt:    aiPos.OpenedAt,
			}
		}
		if bothSettled(aiPos, humanPos) &&
			aiPos.ClosePrice != nil && humanPos.ClosePrice != nil &&
			*aiPos.ClosePrice != *humanPos.ClosePrice {
			return &divergence{
				Ticker:      ticker,
				Type:        models.DivergenceTiming,
				AIAction:    fmt.Sprintf("%s at %g", aiPos.Direction, aiPos.EntryPrice),
				HumanAction: fmt.Sprintf("%s at %g", humanPos.Direction, humanPos.EntryPrice),
				AIPos:       aiPos,
				HumanPos:    humanPos,
				OpenedAt:    aiPos.OpenedAt,
			}
		}
		return nil
	}

	// AI-only positions are normal (the AI book shadows every signal).
	if humanPos != nil && aiPos == nil && humanPos.SignalID == "" {
		notes := humanPos.UserNotes
		if notes == "" {
			notes = "no reason"
		}
		return &divergence{
			Ticker:      ticker,
			Type:        models.DivergenceHumanInitiated,
			AIAction:    "No signal",
			HumanAction: fmt.Sprintf("%s at %g (%s)", humanPos.Direction, humanPos.EntryPrice, notes),
			HumanPos:    humanPos,
			OpenedAt:    humanPos.OpenedAt,
		}
	}
	return nil
}

func bothSettled(a, b *models.Position) bool {
	settled := func(p *models.Position) bool {
		return p.Status == models.PositionMonitoring || p.Status == models.PositionClosed
	}
	return settled(a) && settled(b)
}

// alreadyCovered reports whether a memory for this ticker and signal id
// already exists.
func (h *Comparison) alreadyCovered(div divergence) (bool, error) {
	if div.AIPos == nil || div.AIPos.SignalID == "" {
		return false, nil
	}
	ids, err := h.store.Index().SearchMemories(store.MemoryQuery{Ticker: div.Ticker, Limit: 50})
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		mem, err := h.store.LoadMemory(id)
		if err != nil || mem == nil {
			continue
		}
		if mem.SignalID == div.AIPos.SignalID {
			return true, nil
		}
	}
	return false, nil
}

func describePnL(p *models.Position) string {
	if p == nil {
		return "N/A"
	}
	if p.Status == models.PositionSkipped {
		return "$0 (skipped)"
	}
	if p.RealizedPnL != nil {
		pct := 0.0
		if p.RealizedPnLPercent != nil {
			pct = *p.RealizedPnLPercent
		}
		return fmt.Sprintf("$%.2f (%.1f%%)", *p.RealizedPnL, pct)
	}
	if p.PnL != nil {
		pct := 0.0
		if p.PnLPercent != nil {
			pct = *p.PnLPercent
		}
		return fmt.Sprintf("$%.2f (%.1f%%) unrealized", *p.PnL, pct)
	}
	return "N/A"
}

// generateMemory asks the LLM to judge the divergence and synthesize a
// lesson. A nil return means the divergence is skipped this run.
func (h *Comparison) generateMemory(ctx context.Context, div divergence) *models.Memory {
	providers := h.registry.LLMs()
	if len(providers) == 0 {
		h.log.Warn("no llm providers available for memory generation")
		return nil
	}
	llm := providers[0]

	outcome := "Outcome not yet determined"
	direction := "none"
	if div.AIPos != nil {
		direction = div.AIPos.Direction
		if div.AIPos.CurrentPrice != nil && div.AIPos.EntryPrice != 0 {
			change := (*div.AIPos.CurrentPrice - div.AIPos.EntryPrice) / div.AIPos.EntryPrice * 100
			outcome = fmt.Sprintf("%s moved from $%.2f to $%.2f (%+.1f%%)",
				div.Ticker, div.AIPos.EntryPrice, *div.AIPos.CurrentPrice, change)
		}
	}

	prompt := fmt.Sprintf(comparisonPrompt,
		direction, div.Ticker,
		div.AIAction, div.HumanAction,
		outcome, describePnL(div.AIPos), describePnL(div.HumanPos))

	response, err := llm.Complete(ctx, []plugin.ChatMessage{
		{Role: "system", Content: "You analyze trading divergences between an AI and a human."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		h.log.Error("memory generation failed",
			zap.String("ticker", div.Ticker), zap.Error(err))
		return nil
	}

	return h.parseMemory(response, div)
}

func (h *Comparison) parseMemory(response string, div divergence) *models.Memory {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		if len(lines) > 2 {
			cleaned = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	var data struct {
		WhoWasRight      string   `json:"who_was_right"`
		Lesson           string   `json:"lesson"`
		Tags             []string `json:"tags"`
		ConfidenceImpact float64  `json:"confidence_impact"`
	}
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		h.log.Warn("could not parse memory response as JSON",
			zap.String("ticker", div.Ticker))
		return nil
	}

	memory := models.NewMemory()
	if div.AIPos != nil {
		memory.SignalID = div.AIPos.SignalID
	}
	memory.DivergenceType = div.Type
	memory.AIAction = div.AIAction
	memory.HumanAction = div.HumanAction
	memory.WhoWasRight = data.WhoWasRight
	if memory.WhoWasRight == "" {
		memory.WhoWasRight = "neither"
	}
	memory.Lesson = data.Lesson
	memory.Tags = data.Tags
	if len(memory.Tags) == 0 {
		memory.Tags = []string{div.Ticker}
	}
	memory.ConfidenceImpact = data.ConfidenceImpact
	memory.ClampConfidenceImpact()
	return memory
}
