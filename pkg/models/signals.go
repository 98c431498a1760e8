package models

import "time"

// Signal represents the discrete trading stance derived from analytics
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// SignalRow represents one signal table row keyed by (asset_id, ts).
// Analytics are nil when the trailing window cannot produce them yet
// (first observation, single point, no deltas).
type SignalRow struct {
	AssetID     int64     `json:"asset_id" db:"asset_id"`
	Timestamp   time.Time `json:"ts" db:"ts"`
	DailyReturn *float64  `json:"daily_return,omitempty" db:"daily_return"`
	MA7d        *float64  `json:"ma_7d,omitempty" db:"ma_7d"`
	Std7d       *float64  `json:"std_7d,omitempty" db:"std_7d"`
	RSI         *float64  `json:"rsi,omitempty" db:"rsi"`
	Signal      Signal    `json:"signal" db:"signal"`
}

// SignalCheckpoint marks an asset whose signal history is mid-recompute.
// A present row means reads must treat the asset's signals as unavailable.
type SignalCheckpoint struct {
	AssetID    int64      `json:"asset_id" db:"asset_id"`
	DirtySince time.Time  `json:"dirty_since" db:"dirty_since"`
	ResumeFrom *time.Time `json:"resume_from,omitempty" db:"resume_from"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// LatestSignal is the query-view shape for an asset's newest signal row
type LatestSignal struct {
	Symbol      string    `json:"symbol"`
	AssetID     int64     `json:"asset_id"`
	Timestamp   time.Time `json:"ts"`
	Price       float64   `json:"price"`
	DailyReturn *float64  `json:"daily_return,omitempty"`
	MA7d        *float64  `json:"ma_7d,omitempty"`
	Std7d       *float64  `json:"std_7d,omitempty"`
	RSI         *float64  `json:"rsi,omitempty"`
	Signal      Signal    `json:"signal"`
}

// Recommendation represents the analyst verdict built from extended
// indicators, distinct from the per-observation signal rows.
type Recommendation struct {
	Symbol       string    `json:"symbol"`
	Action       Signal    `json:"action"`
	BullishScore int       `json:"bullish_score"`
	BearishScore int       `json:"bearish_score"`
	Reasons      []string  `json:"reasons"`
	RiskProfile  string    `json:"risk_profile"`
	PositionHint float64   `json:"position_hint"`
	GeneratedAt  time.Time `json:"generated_at"`
}
