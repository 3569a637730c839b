package models

// PortfolioSummary is a summarized view of one book (AI or human).
type PortfolioSummary struct {
	PortfolioType   string             `json:"portfolio_type"`
	TotalValue      float64            `json:"total_value"`
	Cash            float64            `json:"cash"`
	Positions       []*Position        `json:"positions"`
	TotalPnL        float64            `json:"total_pnl"`
	TotalPnLPercent float64            `json:"total_pnl_percent"`
	SectorExposure  map[string]float64 `json:"sector_exposure,omitempty"`
}

// ContextPack is everything the AI needs to make a decision. Assembled by
// the orchestrator before running the agent chain; in-memory only.
type ContextPack struct {
	TimeContext    TimeContext      `json:"time_context"`
	MarketSnapshot MarketSnapshot   `json:"market_snapshot"`
	Regime         MarketRegime     `json:"regime"`
	AIPortfolio    PortfolioSummary `json:"ai_portfolio"`
	HumanPortfolio PortfolioSummary `json:"human_portfolio"`

	TriggerEvent     *Event   `json:"trigger_event,omitempty"`
	RecentEvents     []Event  `json:"recent_events,omitempty"`
	RelevantMemories []Memory `json:"relevant_memories,omitempty"`
	Watchlist        []string `json:"watchlist,omitempty"`
}
