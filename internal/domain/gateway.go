package domain

import (
	"context"
	"time"
)

// DecryptState is the lifecycle of one decrypt request.
type DecryptState string

const (
	DecryptPending  DecryptState = "pending"
	DecryptRevealed DecryptState = "revealed"
	DecryptFailed   DecryptState = "failed"
)

// DecryptResult is the outcome of polling a decrypt ticket. Value carries
// the plaintext for uint64 handles, Bool for bool handles; both are
// meaningful only when State is DecryptRevealed.
type DecryptResult struct {
	State DecryptState `json:"state"`
	Value uint64       `json:"value"`
	Bool  bool         `json:"bool"`
}

// DecryptTicket references an in-flight decrypt request. Polling is
// idempotent: once the gateway has produced a result it is cached and
// re-polling returns the same answer without re-applying any effect.
type DecryptTicket struct {
	ID          string    `json:"id"`
	Handle      Handle    `json:"handle"`
	RequestedAt time.Time `json:"requested_at"`
}

// Gateway is the boundary to the external confidential-computation service.
// Handles arrive pre-validated (the client attaches its own proof when it
// encrypts); the ledger only combines them and requests disclosure.
//
// PollDecrypt must be tolerated returning DecryptPending indefinitely.
// DecryptFailed is permanent for that ticket; recovering requires a fresh
// RequestDecrypt.
type Gateway interface {
	// EncryptUint64 produces a trusted-input handle, used by the ledger for
	// constants such as the zero pool seed.
	EncryptUint64(ctx context.Context, v uint64) (Handle, error)
	EncryptBool(ctx context.Context, v bool) (Handle, error)

	// Homomorphic combinators. Operands must be uint64 handles except for
	// Select's condition, which must be a bool handle. Lte yields a bool
	// handle encrypting a <= b.
	Add(ctx context.Context, a, b Handle) (Handle, error)
	Sub(ctx context.Context, a, b Handle) (Handle, error)
	Lte(ctx context.Context, a, b Handle) (Handle, error)
	Select(ctx context.Context, cond, ifTrue, ifFalse Handle) (Handle, error)

	RequestDecrypt(ctx context.Context, h Handle) (DecryptTicket, error)
	PollDecrypt(ctx context.Context, ticketID string) (DecryptResult, error)
}
