package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// Locks is an in-process LockManager. It gives sandbox mode the same
// serialization the Redis lock provides in production, minus the TTL: locks
// are held until unlocked.
type Locks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocks creates an in-process lock manager.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]chan struct{})}
}

// Acquire blocks until the key is free or the context is done. The ttl is
// accepted for interface compatibility and ignored.
func (l *Locks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		ch, taken := l.held[key]
		if !taken {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("memory: acquire %s: %w", key, ctx.Err())
		}
	}
}

// Bus is an in-process SignalBus: pub/sub over channels plus an append-only
// slice per stream.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][][]byte
}

// NewBus creates an in-process signal bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][][]byte),
	}
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	subs := append([]chan []byte(nil), b.subs[channel]...)
	b.mu.Unlock()

	for _, ch := range subs {
		// Drop rather than block when a subscriber is slow.
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *Bus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *Bus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// IDs are 1-based so "0" reads from the beginning, like a Redis
	// stream cursor.
	start := 0
	if lastID != "" {
		var idx int
		if _, err := fmt.Sscanf(lastID, "%d", &idx); err != nil {
			return nil, fmt.Errorf("memory: stream id %q: %w", lastID, err)
		}
		start = idx
	}

	entries := b.streams[stream]
	if start >= len(entries) {
		return nil, nil
	}

	out := make([]domain.StreamMessage, 0, count)
	for i := start; i < len(entries) && len(out) < count; i++ {
		out = append(out, domain.StreamMessage{
			ID:      fmt.Sprintf("%d", i+1),
			Payload: entries[i],
		})
	}
	return out, nil
}

// Cache is an in-process MarketCache and QuoteCache.
type Cache struct {
	mu      sync.Mutex
	markets map[uint64]domain.Market
	quotes  map[string]domain.PriceQuote
}

// NewCache creates an in-process cache.
func NewCache() *Cache {
	return &Cache{
		markets: make(map[uint64]domain.Market),
		quotes:  make(map[string]domain.PriceQuote),
	}
}

func (c *Cache) Set(ctx context.Context, market domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[market.ID] = market
	return nil
}

func (c *Cache) Get(ctx context.Context, id uint64) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: cached market %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (c *Cache) Invalidate(ctx context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}

func (c *Cache) SetQuote(ctx context.Context, quote domain.PriceQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[quote.FeedID] = quote
	return nil
}

func (c *Cache) GetQuote(ctx context.Context, feedID string) (domain.PriceQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[feedID]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("memory: cached quote %s: %w", feedID, domain.ErrNotFound)
	}
	return q, nil
}

var (
	_ domain.LockManager = (*Locks)(nil)
	_ domain.SignalBus   = (*Bus)(nil)
	_ domain.MarketCache = (*Cache)(nil)
	_ domain.QuoteCache  = (*Cache)(nil)
)
