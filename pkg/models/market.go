package models

import "time"

// MarketData is a single market data point stored in the SQLite index.
//
// available_at marks when the row became visible to the system. Queries
// bound by a simulation clock exclude rows not yet available, preventing
// lookahead bias.
type MarketData struct {
	Ticker      string         `json:"ticker" db:"ticker"`
	Timestamp   time.Time      `json:"timestamp" db:"timestamp"`
	AvailableAt time.Time      `json:"available_at" db:"available_at"`
	Open        *float64       `json:"open,omitempty" db:"open"`
	High        *float64       `json:"high,omitempty" db:"high"`
	Low         *float64       `json:"low,omitempty" db:"low"`
	Close       float64        `json:"close" db:"close"`
	Volume      *float64       `json:"volume,omitempty" db:"volume"`
	Source      string         `json:"source" db:"source"`
	DataType    string         `json:"data_type" db:"data_type"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"-"`
}

// MarketSnapshot is a point-in-time view of market state used in
// context packs.
type MarketSnapshot struct {
	Timestamp         time.Time          `json:"timestamp"`
	Prices            map[string]float64 `json:"prices"`
	VIX               *float64           `json:"vix,omitempty"`
	Yields            map[string]float64 `json:"yields,omitempty"`
	DXY               *float64           `json:"dxy,omitempty"`
	SectorPerformance map[string]float64 `json:"sector_performance,omitempty"`
}

// NewMarketSnapshot creates an empty snapshot stamped now.
func NewMarketSnapshot() MarketSnapshot {
	return MarketSnapshot{
		Timestamp: time.Now().UTC(),
		Prices:    map[string]float64{},
	}
}

// MarketRegime is the current market regime assessment.
type MarketRegime struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}
