package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cinar/indicator"
	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

const (
	rsiWarmup     = 14
	smaFastPeriod = 10
	smaSlowPeriod = 30
	minBars       = smaSlowPeriod + 1
)

// Technical is a deterministic agent: no LLM, just indicators computed
// from stored market rows for the tickers in scope.
type Technical struct {
	store *store.Store
	log   *zap.Logger
}

func NewTechnical(st *store.Store) *Technical {
	return &Technical{store: st, log: logger.Named("agent.technical")}
}

func (a *Technical) Name() string { return "technical" }

func (a *Technical) Description() string {
	return "Technical Analyst: RSI and moving-average trend from stored price history"
}

type tickerRead struct {
	ticker    string
	rsi       float64
	smaFast   float64
	smaSlow   float64
	lastClose float64
	direction string
}

// Analyze computes RSI and fast/slow SMA reads per ticker and votes a
// direction from them. Tickers without enough history are skipped.
func (a *Technical) Analyze(ctx context.Context, pack *models.ContextPack) (plugin.AgentOutput, error) {
	tickers := pack.Watchlist
	if len(tickers) == 0 {
		for t := range pack.MarketSnapshot.Prices {
			tickers = append(tickers, t)
		}
	}

	asOf := pack.TimeContext.Now()
	var reads []tickerRead
	for _, ticker := range tickers {
		read, err := a.readTicker(ticker, asOf)
		if err != nil {
			a.log.Debug("skipping ticker", zap.String("ticker", ticker), zap.Error(err))
			continue
		}
		reads = append(reads, read)
	}

	if len(reads) == 0 {
		return plugin.AgentOutput{
			AgentName:  a.Name(),
			Analysis:   "Not enough price history to compute technical indicators.",
			Confidence: 0,
		}, nil
	}

	bullish, bearish := 0, 0
	var lines []string
	var factors []string
	for _, r := range reads {
		switch r.direction {
		case "bullish":
			bullish++
		case "bearish":
			bearish++
		}
		lines = append(lines, fmt.Sprintf(
			"%s: close %.2f, RSI(14) %.1f, SMA%d %.2f vs SMA%d %.2f -> %s",
			r.ticker, r.lastClose, r.rsi, smaFastPeriod, r.smaFast, smaSlowPeriod, r.smaSlow, r.direction))
		if r.rsi >= 70 {
			factors = append(factors, fmt.Sprintf("%s overbought (RSI %.0f)", r.ticker, r.rsi))
		} else if r.rsi <= 30 {
			factors = append(factors, fmt.Sprintf("%s oversold (RSI %.0f)", r.ticker, r.rsi))
		}
	}

	direction := "neutral"
	if bullish > bearish {
		direction = "bullish"
	} else if bearish > bullish {
		direction = "bearish"
	}

	// Confidence scales with how one-sided the reads are.
	total := float64(len(reads))
	lead := float64(bullish)
	if bearish > bullish {
		lead = float64(bearish)
	}
	confidence := 0.3 + 0.5*(lead/total)
	if direction == "neutral" {
		confidence = 0.3
	}

	return plugin.AgentOutput{
		AgentName:          a.Name(),
		Analysis:           strings.Join(lines, "\n"),
		Confidence:         confidence,
		SuggestedDirection: direction,
		KeyFactors:         factors,
	}, nil
}

func (a *Technical) readTicker(ticker string, asOf time.Time) (tickerRead, error) {
	rows, err := a.store.Index().QueryMarket(ticker, &asOf, 120)
	if err != nil {
		return tickerRead{}, err
	}
	if len(rows) < minBars {
		return tickerRead{}, fmt.Errorf("need %d bars, have %d", minBars, len(rows))
	}

	// Rows come back newest first; indicators want ascending order.
	closes := make([]float64, len(rows))
	for i, row := range rows {
		closes[len(rows)-1-i] = row.Close
	}

	_, rsiSeries := indicator.Rsi(closes)
	if len(rsiSeries) <= rsiWarmup {
		return tickerRead{}, fmt.Errorf("insufficient rsi data")
	}
	rsi := rsiSeries[len(rsiSeries)-1]

	smaFast := indicator.Sma(smaFastPeriod, closes)
	smaSlow := indicator.Sma(smaSlowPeriod, closes)

	read := tickerRead{
		ticker:    strings.ToUpper(ticker),
		rsi:       rsi,
		smaFast:   smaFast[len(smaFast)-1],
		smaSlow:   smaSlow[len(smaSlow)-1],
		lastClose: closes[len(closes)-1],
	}

	switch {
	case read.smaFast > read.smaSlow && rsi < 70:
		read.direction = "bullish"
	case read.smaFast < read.smaSlow && rsi > 30:
		read.direction = "bearish"
	default:
		read.direction = "neutral"
	}
	return read, nil
}
