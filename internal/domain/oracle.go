package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceQuote is one signed round from a price feed. Price is fixed-point
// with 8 decimals, matching the feeds the resolution thresholds are quoted
// against.
type PriceQuote struct {
	FeedID    string         `json:"feed_id"`
	Round     uint64         `json:"round"`
	Price     int64          `json:"price"`
	UpdatedAt time.Time      `json:"updated_at"`
	Reporter  common.Address `json:"reporter"`
	Signature []byte         `json:"signature"`
}

// PriceOracle supplies resolution data for markets.
type PriceOracle interface {
	GetPrice(ctx context.Context, feedID string) (PriceQuote, error)
}
