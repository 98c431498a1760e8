package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetStatus represents catalog lifecycle state
type AssetStatus string

const (
	AssetActive   AssetStatus = "active"
	AssetInactive AssetStatus = "inactive"
)

// Asset represents a tracked instrument in the catalog
type Asset struct {
	ID          int64       `json:"id" db:"id"`
	Symbol      string      `json:"symbol" db:"symbol"`
	Name        string      `json:"name" db:"name"`
	Slug        string      `json:"slug" db:"slug"`
	Status      AssetStatus `json:"status" db:"status"`
	FirstSeenAt *time.Time  `json:"first_seen_at,omitempty" db:"first_seen_at"`
	LastSeenAt  *time.Time  `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// AssetMetadata holds descriptive fields that outlive market history
type AssetMetadata struct {
	AssetID      int64     `json:"asset_id" db:"asset_id"`
	LogoURL      string    `json:"logo_url" db:"logo_url"`
	WebsiteURL   string    `json:"website_url" db:"website_url"`
	TechnicalDoc string    `json:"technical_doc" db:"technical_doc"`
	Description  string    `json:"description" db:"description"`
	Category     string    `json:"category" db:"category"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Observation represents one market data point for an asset at a timestamp.
// Price is the only required measurement; the rest arrive when the provider
// supplies them.
type Observation struct {
	AssetID           int64           `json:"asset_id" db:"asset_id"`
	Timestamp         time.Time       `json:"ts" db:"ts"`
	Price             decimal.Decimal `json:"price" db:"price"`
	MarketCap         decimal.Decimal `json:"market_cap" db:"market_cap"`
	Volume24h         decimal.Decimal `json:"volume_24h" db:"volume_24h"`
	PctChange1h       *float64        `json:"pct_change_1h,omitempty" db:"pct_change_1h"`
	PctChange24h      *float64        `json:"pct_change_24h,omitempty" db:"pct_change_24h"`
	PctChange7d       *float64        `json:"pct_change_7d,omitempty" db:"pct_change_7d"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply" db:"circulating_supply"`
	TotalSupply       decimal.Decimal `json:"total_supply" db:"total_supply"`
	MaxSupply         decimal.Decimal `json:"max_supply" db:"max_supply"`
	IngestedAt        time.Time       `json:"ingested_at" db:"ingested_at"`
}

// Candle represents OHLCV data from a backfill provider before it is
// flattened into close-price observations.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Listing represents one row of a market listings fetch (price plus market
// context for a symbol) before catalog resolution.
type Listing struct {
	Symbol            string
	Name              string
	Slug              string
	Price             decimal.Decimal
	MarketCap         decimal.Decimal
	Volume24h         decimal.Decimal
	PctChange1h       *float64
	PctChange24h      *float64
	PctChange7d       *float64
	CirculatingSupply decimal.Decimal
	TotalSupply       decimal.Decimal
	MaxSupply         decimal.Decimal
	Timestamp         time.Time
}
