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

const coinGeckoSimpleURL = "https://api.coingecko.com/api/v3/simple/price"

// coinIDs maps crypto ticker symbols to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"XRP":   "ripple",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
	"LINK":  "chainlink",
}

// CoinGeckoProvider fetches crypto spot prices from the CoinGecko simple
// price API. It only produces current quotes, so Fetch returns one row
// per ticker stamped now.
type CoinGeckoProvider struct {
	apiKey string
	client *http.Client
	log    *zap.Logger
}

// NewCoinGecko creates a provider. The api key is optional for the free tier.
func NewCoinGecko(apiKey string) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger.Named("market.coingecko"),
	}
}

func (p *CoinGeckoProvider) Name() string { return "coingecko" }

// Supports reports whether the ticker is a known crypto symbol.
func (p *CoinGeckoProvider) Supports(ticker string) bool {
	symbol := strings.ToUpper(strings.TrimSuffix(strings.ToUpper(ticker), "-USD"))
	_, ok := coinIDs[symbol]
	return ok
}

// Fetch returns current USD quotes for the supported tickers.
func (p *CoinGeckoProvider) Fetch(ctx context.Context, tickers []string, start, end time.Time) ([]models.MarketData, error) {
	bySymbol := map[string]string{}
	var ids []string
	for _, ticker := range tickers {
		symbol := strings.TrimSuffix(strings.ToUpper(ticker), "-USD")
		if id, ok := coinIDs[symbol]; ok {
			bySymbol[symbol] = id
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	endpoint := coinGeckoSimpleURL + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	now := time.Now().UTC()
	var rows []models.MarketData
	for symbol, id := range bySymbol {
		quote, ok := parsed[id]
		if !ok {
			p.log.Warn("no quote returned", zap.String("ticker", symbol))
			continue
		}
		price, ok := quote["usd"]
		if !ok {
			continue
		}
		rows = append(rows, models.MarketData{
			Ticker:      symbol,
			Timestamp:   now,
			AvailableAt: now,
			Close:       price,
			Source:      "coingecko",
			DataType:    "price",
		})
	}
	return rows, nil
}
