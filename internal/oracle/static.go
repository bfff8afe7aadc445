package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
)

// Static is an in-memory oracle backed by a quote signer. Sandbox mode and
// tests use it to produce verifiable quotes without a reporter service.
type Static struct {
	mu     sync.RWMutex
	signer *crypto.QuoteSigner
	quotes map[string]domain.PriceQuote
	rounds map[string]uint64
}

// NewStatic creates a static oracle that signs its own quotes.
func NewStatic(signer *crypto.QuoteSigner) *Static {
	return &Static{
		signer: signer,
		quotes: make(map[string]domain.PriceQuote),
		rounds: make(map[string]uint64),
	}
}

// SetPrice publishes a signed quote for the feed at the current time,
// advancing the feed's round.
func (s *Static) SetPrice(feedID string, price int64) error {
	return s.SetPriceAt(feedID, price, time.Now().UTC())
}

// SetPriceAt is like SetPrice with an explicit quote timestamp.
func (s *Static) SetPriceAt(feedID string, price int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := s.rounds[feedID] + 1

	sig, err := s.signer.SignQuote(feedID, round, price, at.Unix())
	if err != nil {
		return fmt.Errorf("oracle: sign quote: %w", err)
	}

	s.rounds[feedID] = round
	s.quotes[feedID] = domain.PriceQuote{
		FeedID:    feedID,
		Round:     round,
		Price:     price,
		UpdatedAt: at,
		Reporter:  s.signer.Address(),
		Signature: sig,
	}
	return nil
}

// GetPrice returns the most recently published quote for the feed.
func (s *Static) GetPrice(ctx context.Context, feedID string) (domain.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[feedID]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("oracle: feed %s: %w", feedID, domain.ErrNotFound)
	}
	return q, nil
}

var _ domain.PriceOracle = (*Static)(nil)
