package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// quoteTTL keeps cached quotes comfortably fresher than the resolution
// staleness bound, so a cache hit can never be the reason a quote is stale.
const quoteTTL = 30 * time.Second

// QuoteCache implements domain.QuoteCache using Redis strings holding the
// JSON-serialized signed quote, one key per feed.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(feedID string) string {
	return "quote:" + feedID
}

// SetQuote stores the latest signed quote for a feed.
func (qc *QuoteCache) SetQuote(ctx context.Context, quote domain.PriceQuote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s: %w", quote.FeedID, err)
	}
	if err := qc.rdb.Set(ctx, quoteKey(quote.FeedID), data, quoteTTL).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", quote.FeedID, err)
	}
	return nil
}

// GetQuote retrieves the cached quote for a feed.
// It returns domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, feedID string) (domain.PriceQuote, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(feedID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceQuote{}, domain.ErrNotFound
		}
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", feedID, err)
	}

	var quote domain.PriceQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: unmarshal quote %s: %w", feedID, err)
	}
	return quote, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
