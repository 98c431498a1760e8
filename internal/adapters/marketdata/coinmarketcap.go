package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnifin/finsight/internal/adapters/config"
	"github.com/omnifin/finsight/pkg/models"
)

const cmcAPIURL = "https://pro-api.coinmarketcap.com/v1"

// CoinMarketCapProvider implements ListingsProvider over the CMC pro API
type CoinMarketCapProvider struct {
	client    *http.Client
	apiKey    string
	userAgent string
}

type cmcListingsResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data []cmcCoin `json:"data"`
}

type cmcCoin struct {
	Symbol            string   `json:"symbol"`
	Name              string   `json:"name"`
	Slug              string   `json:"slug"`
	CirculatingSupply *float64 `json:"circulating_supply"`
	TotalSupply       *float64 `json:"total_supply"`
	MaxSupply         *float64 `json:"max_supply"`
	LastUpdated       string   `json:"last_updated"`
	Quote             struct {
		USD struct {
			Price            float64  `json:"price"`
			MarketCap        float64  `json:"market_cap"`
			Volume24h        float64  `json:"volume_24h"`
			PercentChange1h  *float64 `json:"percent_change_1h"`
			PercentChange24h *float64 `json:"percent_change_24h"`
			PercentChange7d  *float64 `json:"percent_change_7d"`
		} `json:"USD"`
	} `json:"quote"`
}

// NewCoinMarketCapProvider creates new CoinMarketCap listings provider
func NewCoinMarketCapProvider(cfg config.ProvidersConfig) *CoinMarketCapProvider {
	return &CoinMarketCapProvider{
		client:    &http.Client{Timeout: 15 * time.Second},
		apiKey:    cfg.CoinMarketCapAPIKey,
		userAgent: cfg.UserAgent,
	}
}

func (c *CoinMarketCapProvider) GetName() string {
	return "coinmarketcap"
}

// FetchListings returns the top limit listings by market cap
func (c *CoinMarketCapProvider) FetchListings(ctx context.Context, limit int) ([]models.Listing, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("CMC API key is not configured")
	}
	if limit <= 0 {
		limit = 100
	}

	url := fmt.Sprintf("%s/cryptocurrency/listings/latest?limit=%d&convert=USD", cmcAPIURL, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var result cmcListingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("API error %d: %s", result.Status.ErrorCode, result.Status.ErrorMessage)
	}

	listings := make([]models.Listing, 0, len(result.Data))
	for _, coin := range result.Data {
		if coin.Symbol == "" || coin.Quote.USD.Price <= 0 {
			continue
		}

		ts, err := time.Parse(time.RFC3339, coin.LastUpdated)
		if err != nil {
			ts = time.Now().UTC()
		}

		listings = append(listings, models.Listing{
			Symbol:            coin.Symbol,
			Name:              coin.Name,
			Slug:              coin.Slug,
			Price:             decimal.NewFromFloat(coin.Quote.USD.Price),
			MarketCap:         decimal.NewFromFloat(coin.Quote.USD.MarketCap),
			Volume24h:         decimal.NewFromFloat(coin.Quote.USD.Volume24h),
			PctChange1h:       coin.Quote.USD.PercentChange1h,
			PctChange24h:      coin.Quote.USD.PercentChange24h,
			PctChange7d:       coin.Quote.USD.PercentChange7d,
			CirculatingSupply: decimalFromPtr(coin.CirculatingSupply),
			TotalSupply:       decimalFromPtr(coin.TotalSupply),
			MaxSupply:         decimalFromPtr(coin.MaxSupply),
			Timestamp:         ts.UTC().Truncate(time.Second),
		})
	}

	return listings, nil
}

func decimalFromPtr(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}
