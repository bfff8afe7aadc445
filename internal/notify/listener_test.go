package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/store/memory"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func publishEvent(t *testing.T, bus domain.SignalBus, ev domain.Event) {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := bus.Publish(context.Background(), domain.EventChannel, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestListenerForwardsEvents(t *testing.T) {
	bus := memory.NewBus()
	sender := &recordingSender{}
	notifier := NewNotifier([]Sender{sender}, nil, discardLogger())
	listener := NewListener(bus, notifier, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = listener.Run(ctx)
	}()

	// Give the subscription a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)

	publishEvent(t, bus, domain.Event{Type: domain.EventMarketSettled, MarketID: 5})
	idx := uint64(2)
	publishEvent(t, bus, domain.Event{Type: domain.EventBetWithdrawn, MarketID: 5, BetIndex: &idx})

	waitFor(t, func() bool { return len(sender.snapshot()) == 2 })

	titles := sender.snapshot()
	if !strings.Contains(titles[0], "Market 5 settled") {
		t.Fatalf("first title = %q", titles[0])
	}
	if !strings.Contains(titles[1], "Bet withdrawn from market 5") {
		t.Fatalf("second title = %q", titles[1])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}

func TestListenerFiltersByEventType(t *testing.T) {
	bus := memory.NewBus()
	sender := &recordingSender{}
	notifier := NewNotifier([]Sender{sender}, []string{domain.EventMarketSettled}, discardLogger())
	listener := NewListener(bus, notifier, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	publishEvent(t, bus, domain.Event{Type: domain.EventBetPlaced, MarketID: 1})
	publishEvent(t, bus, domain.Event{Type: domain.EventMarketSettled, MarketID: 1})

	waitFor(t, func() bool { return len(sender.snapshot()) == 1 })

	titles := sender.snapshot()
	if !strings.Contains(titles[0], "Market 1 settled") {
		t.Fatalf("title = %q", titles[0])
	}
}

func TestFormatEventDetail(t *testing.T) {
	ev := domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: 9,
		Detail:   map[string]any{"winning_outcome": true},
	}
	title, message := formatEvent(ev)
	if title != "Market 9 resolved" {
		t.Fatalf("title = %q", title)
	}
	if !strings.Contains(message, "winning_outcome: true") {
		t.Fatalf("message = %q", message)
	}
}
