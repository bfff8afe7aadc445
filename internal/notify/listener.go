package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// Listener consumes ledger lifecycle events from the signal bus and forwards
// them to a Notifier. Delivery failures are logged and never interrupt the
// consume loop.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewListener creates a Listener that reads domain.EventChannel.
func NewListener(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Listener {
	return &Listener{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run subscribes to the event channel and dispatches notifications until the
// context is cancelled or the subscription closes.
func (l *Listener) Run(ctx context.Context) error {
	ch, err := l.bus.Subscribe(ctx, domain.EventChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.EventChannel, err)
	}

	l.logger.InfoContext(ctx, "listening for ledger events",
		slog.String("channel", domain.EventChannel),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			l.handle(ctx, payload)
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload []byte) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		l.logger.WarnContext(ctx, "malformed event payload",
			slog.String("error", err.Error()),
		)
		return
	}

	title, message := formatEvent(ev)
	if err := l.notifier.Notify(ctx, ev.Type, title, message); err != nil {
		l.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", ev.Type),
			slog.Uint64("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// formatEvent renders a lifecycle event as a short title plus detail body.
func formatEvent(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventMarketCreated:
		title = fmt.Sprintf("Market %d created", ev.MarketID)
	case domain.EventMarketResolved:
		title = fmt.Sprintf("Market %d resolved", ev.MarketID)
	case domain.EventMarketDecryptReq:
		title = fmt.Sprintf("Market %d pool decryption requested", ev.MarketID)
	case domain.EventMarketSettled:
		title = fmt.Sprintf("Market %d settled", ev.MarketID)
	case domain.EventBetPlaced:
		title = fmt.Sprintf("Bet placed on market %d", ev.MarketID)
	case domain.EventBetDecryptRequested:
		title = fmt.Sprintf("Bet decryption requested on market %d", ev.MarketID)
	case domain.EventBetWithdrawn:
		title = fmt.Sprintf("Bet withdrawn from market %d", ev.MarketID)
	case domain.EventDeposit:
		title = "Shielded deposit received"
	case domain.EventCreditFailed:
		title = fmt.Sprintf("Payout credit FAILED on market %d", ev.MarketID)
	default:
		title = fmt.Sprintf("Ledger event %s", ev.Type)
	}

	if ev.BetIndex != nil {
		message = fmt.Sprintf("bet index %d", *ev.BetIndex)
	}
	for k, v := range ev.Detail {
		if message != "" {
			message += "\n"
		}
		message += fmt.Sprintf("%s: %v", k, v)
	}
	if message == "" {
		message = ev.Timestamp.Format("2006-01-02 15:04:05 UTC")
	}
	return title, message
}
