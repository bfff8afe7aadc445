package oracle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// Cached wraps a PriceOracle with a quote cache. Cache misses and errors
// fall through to the underlying oracle; cache write failures are logged
// and otherwise ignored.
type Cached struct {
	next   domain.PriceOracle
	cache  domain.QuoteCache
	logger *slog.Logger
}

// NewCached creates a caching oracle in front of next.
func NewCached(next domain.PriceOracle, cache domain.QuoteCache, logger *slog.Logger) *Cached {
	return &Cached{
		next:   next,
		cache:  cache,
		logger: logger,
	}
}

// GetPrice returns the cached quote when present, otherwise fetches from
// the underlying oracle and caches the result.
func (c *Cached) GetPrice(ctx context.Context, feedID string) (domain.PriceQuote, error) {
	q, err := c.cache.GetQuote(ctx, feedID)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.Warn("quote cache read failed", "feed_id", feedID, "error", err)
	}

	q, err = c.next.GetPrice(ctx, feedID)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	if err := c.cache.SetQuote(ctx, q); err != nil {
		c.logger.Warn("quote cache write failed", "feed_id", feedID, "error", err)
	}
	return q, nil
}

var _ domain.PriceOracle = (*Cached)(nil)
