package domain

import "time"

// Event types published on the signal bus.
const (
	EventMarketCreated       = "market_created"
	EventMarketResolved      = "market_resolved"
	EventMarketDecryptReq    = "market_decrypt_requested"
	EventMarketSettled       = "market_settled"
	EventBetPlaced           = "bet_placed"
	EventBetDecryptRequested = "bet_decrypt_requested"
	EventBetWithdrawn        = "bet_withdrawn"
	EventDeposit             = "deposit"
	EventCreditFailed        = "credit_failed"
)

// EventChannel is the pub/sub channel carrying ledger lifecycle events.
const EventChannel = "veilmarket.events"

// EventStream is the durable stream mirroring EventChannel.
const EventStream = "veilmarket.events.stream"

// Event is a ledger lifecycle notification, serialized as JSON on the bus.
type Event struct {
	Type      string         `json:"type"`
	MarketID  uint64         `json:"market_id"`
	BetIndex  *uint64        `json:"bet_index,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
