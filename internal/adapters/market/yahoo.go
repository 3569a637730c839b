// Package market contains the market data provider adapters.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/%s"

var yahooAliases = map[string]string{
	"BTC": "BTC-USD",
	"ETH": "ETH-USD",
	"SOL": "SOL-USD",
}

// YahooProvider fetches daily OHLCV data from the Yahoo Finance chart API.
type YahooProvider struct {
	tickers map[string]bool
	client  *http.Client
	log     *zap.Logger
}

// NewYahoo creates a provider. When tickers is non-empty, Supports is
// restricted to that watchlist.
func NewYahoo(tickers []string) *YahooProvider {
	set := map[string]bool{}
	for _, t := range tickers {
		set[normalizeYahooTicker(t)] = true
	}
	return &YahooProvider{
		tickers: set,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     logger.Named("market.yahoo"),
	}
}

func (p *YahooProvider) Name() string { return "yahoo_finance" }

func normalizeYahooTicker(ticker string) string {
	upper := strings.ToUpper(ticker)
	if alias, ok := yahooAliases[upper]; ok {
		return alias
	}
	return upper
}

// Supports reports whether this provider handles the ticker. Yahoo covers
// most traditional symbols, so without a watchlist it accepts everything.
func (p *YahooProvider) Supports(ticker string) bool {
	if len(p.tickers) == 0 {
		return true
	}
	return p.tickers[normalizeYahooTicker(ticker)]
}

// Fetch retrieves daily bars for each ticker. Per-ticker failures are
// logged and skipped.
func (p *YahooProvider) Fetch(ctx context.Context, tickers []string, start, end time.Time) ([]models.MarketData, error) {
	var results []models.MarketData
	for _, ticker := range tickers {
		rows, err := p.fetchTicker(ctx, ticker, start, end)
		if err != nil {
			p.log.Warn("fetch failed", zap.String("ticker", ticker), zap.Error(err))
			continue
		}
		results = append(results, rows...)
	}
	return results, nil
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"chart"`
}

func (p *YahooProvider) fetchTicker(ctx context.Context, ticker string, start, end time.Time) ([]models.MarketData, error) {
	query := url.Values{}
	query.Set("period1", fmt.Sprintf("%d", start.Unix()))
	query.Set("period2", fmt.Sprintf("%d", end.Unix()))
	query.Set("interval", "1d")
	query.Set("includePrePost", "false")

	endpoint := fmt.Sprintf(yahooChartURL, url.PathEscape(normalizeYahooTicker(ticker))) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "advisord/0.1")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode chart response: %w", err)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart result: %v", parsed.Chart.Error)
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	at := func(values []*float64, i int) *float64 {
		if i < len(values) {
			return values[i]
		}
		return nil
	}

	var rows []models.MarketData
	for i, ts := range result.Timestamp {
		closePrice := at(quote.Close, i)
		if closePrice == nil {
			continue
		}
		dt := time.Unix(ts, 0).UTC()
		rows = append(rows, models.MarketData{
			Ticker:      strings.ToUpper(ticker),
			Timestamp:   dt,
			AvailableAt: dt,
			Open:        at(quote.Open, i),
			High:        at(quote.High, i),
			Low:         at(quote.Low, i),
			Close:       *closePrice,
			Volume:      at(quote.Volume, i),
			Source:      "yahoo_finance",
			DataType:    "price",
		})
	}
	return rows, nil
}
