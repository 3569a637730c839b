package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// MarketSync polls the market data providers for the configured
// watchlist and upserts the rows into the index.
type MarketSync struct {
	store        *store.Store
	registry     *registry.Registry
	watchlist    []string
	historyDepth time.Duration
	log          *zap.Logger
}

// NewMarketSync creates the handler. History depth bounds how far back a
// sync fetches; it defaults to seven days.
func NewMarketSync(st *store.Store, reg *registry.Registry, watchlist []string, historyDepth time.Duration) *MarketSync {
	if historyDepth <= 0 {
		historyDepth = 7 * 24 * time.Hour
	}
	return &MarketSync{
		store:        st,
		registry:     reg,
		watchlist:    watchlist,
		historyDepth: historyDepth,
		log:          logger.Named("market_sync"),
	}
}

func (h *MarketSync) Name() string { return "market.sync" }

func (h *MarketSync) Run(ctx context.Context, params map[string]any) (models.TaskResult, error) {
	tickers := h.watchlist
	if raw, ok := params["tickers"].([]any); ok && len(raw) > 0 {
		tickers = nil
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tickers = append(tickers, s)
			}
		}
	}
	if len(tickers) == 0 {
		return models.TaskResult{
			Status:  models.TaskStatusNoAction,
			Message: "No tickers configured for market sync",
		}, nil
	}

	providers := h.registry.MarketDataProviders()
	if len(providers) == 0 {
		return models.TaskResult{
			Status:  models.TaskStatusError,
			Message: "No market data providers registered",
		}, nil
	}

	now := time.Now().UTC()
	start := now.Add(-h.historyDepth)
	saved := 0

	for _, provider := range providers {
		var supported []string
		for _, ticker := range tickers {
			if provider.Supports(ticker) {
				supported = append(supported, ticker)
			}
		}
		if len(supported) == 0 {
			continue
		}

		rows, err := provider.Fetch(ctx, supported, start, now)
		if err != nil {
			h.log.Warn("provider fetch failed",
				zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}
		if len(rows) == 0 {
			continue
		}

		n, err := h.store.Index().SaveMarketData(rows, models.ProductionTime())
		if err != nil {
			h.log.Error("failed to save market rows",
				zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}
		saved += n
	}

	return models.TaskResult{
		Status:  models.TaskStatusSuccess,
		Message: fmt.Sprintf("Synced %d market rows for %d tickers", saved, len(tickers)),
	}, nil
}
