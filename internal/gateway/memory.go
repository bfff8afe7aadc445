// Package gateway provides implementations of the confidentiality gateway:
// an in-memory gateway for sandbox mode and tests, and an HTTP client for
// a remote encryption service.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// value is the plaintext behind a handle. Exactly one of u64/b is
// meaningful depending on the handle kind.
type value struct {
	kind domain.HandleKind
	u64  uint64
	b    bool
}

// ticket tracks one decrypt request against the in-memory gateway.
type ticket struct {
	handle    domain.Handle
	pollsLeft int
	failed    bool
}

// Memory is an in-process gateway. Ciphertexts are plaintext values keyed
// by random handle IDs, so it provides no actual confidentiality; it exists
// to run the full bet lifecycle without an external encryption service.
//
// Decrypt requests resolve after a configurable number of polls so callers
// exercise the pending path. All methods are safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	values  map[string]value
	tickets map[string]*ticket

	// DecryptDelay is how many PollDecrypt calls return Pending before a
	// ticket reveals. Zero reveals on the first poll.
	DecryptDelay int
}

// NewMemory creates an in-memory gateway that reveals on the first poll.
func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string]value),
		tickets: make(map[string]*ticket),
	}
}

// EncryptUint64 stores amount under a fresh uint64 handle.
func (m *Memory) EncryptUint64(ctx context.Context, amount uint64) (domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := domain.Uint64Handle(uuid.NewString())
	m.values[h.ID] = value{kind: domain.HandleUint64, u64: amount}
	return h, nil
}

// EncryptBool stores b under a fresh bool handle.
func (m *Memory) EncryptBool(ctx context.Context, b bool) (domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := domain.BoolHandle(uuid.NewString())
	m.values[h.ID] = value{kind: domain.HandleBool, b: b}
	return h, nil
}

// Add returns a fresh handle to the sum of the two operands.
func (m *Memory) Add(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	va, err := m.uint64Value(a)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: add: %w", err)
	}
	vb, err := m.uint64Value(b)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: add: %w", err)
	}

	h := domain.Uint64Handle(uuid.NewString())
	m.values[h.ID] = value{kind: domain.HandleUint64, u64: va + vb}
	return h, nil
}

// Sub returns a fresh handle to a-b. Underflow saturates at zero, matching
// the clamped semantics of the remote gateway.
func (m *Memory) Sub(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	va, err := m.uint64Value(a)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: sub: %w", err)
	}
	vb, err := m.uint64Value(b)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: sub: %w", err)
	}

	diff := uint64(0)
	if va > vb {
		diff = va - vb
	}

	h := domain.Uint64Handle(uuid.NewString())
	m.values[h.ID] = value{kind: domain.HandleUint64, u64: diff}
	return h, nil
}

// Lte returns a fresh bool handle encrypting a <= b.
func (m *Memory) Lte(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	va, err := m.uint64Value(a)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: lte: %w", err)
	}
	vb, err := m.uint64Value(b)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: lte: %w", err)
	}

	h := domain.BoolHandle(uuid.NewString())
	m.values[h.ID] = value{kind: domain.HandleBool, b: va <= vb}
	return h, nil
}

// Select returns a fresh handle to ifTrue when cond is true, ifFalse
// otherwise. cond must be a bool handle; the branches must be uint64
// handles.
func (m *Memory) Select(ctx context.Context, cond, ifTrue, ifFalse domain.Handle) (domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vc, ok := m.values[cond.ID]
	if !ok || vc.kind != domain.HandleBool {
		return domain.Handle{}, fmt.Errorf("gateway: select: condition %q: %w", cond.ID, domain.ErrNotFound)
	}

	src := ifFalse
	if vc.b {
		src = ifTrue
	}
	v, err := m.uint64Value(src)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: select: %w", err)
	}

	h := domain.Uint64Handle(uuid.NewString())
	m.values[h.ID] = value{kind: domain.HandleUint64, u64: v}
	return h, nil
}

// RequestDecrypt opens a decrypt ticket for the handle. The same handle may
// be requested again later under a fresh ticket.
func (m *Memory) RequestDecrypt(ctx context.Context, h domain.Handle) (domain.DecryptTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[h.ID]; !ok {
		return domain.DecryptTicket{}, fmt.Errorf("gateway: request decrypt: handle %q: %w", h.ID, domain.ErrNotFound)
	}

	id := uuid.NewString()
	m.tickets[id] = &ticket{handle: h, pollsLeft: m.DecryptDelay}
	return domain.DecryptTicket{ID: id, Handle: h, RequestedAt: time.Now()}, nil
}

// PollDecrypt reports the state of a decrypt ticket. Polling is idempotent:
// once revealed, every subsequent poll returns the same plaintext; once
// failed, the ticket stays failed.
func (m *Memory) PollDecrypt(ctx context.Context, ticketID string) (domain.DecryptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[ticketID]
	if !ok {
		return domain.DecryptResult{}, fmt.Errorf("gateway: poll decrypt: ticket %q: %w", ticketID, domain.ErrNotFound)
	}
	if t.failed {
		return domain.DecryptResult{State: domain.DecryptFailed}, nil
	}
	if t.pollsLeft > 0 {
		t.pollsLeft--
		return domain.DecryptResult{State: domain.DecryptPending}, nil
	}

	v, ok := m.values[t.handle.ID]
	if !ok {
		t.failed = true
		return domain.DecryptResult{State: domain.DecryptFailed}, nil
	}

	res := domain.DecryptResult{State: domain.DecryptRevealed}
	switch v.kind {
	case domain.HandleBool:
		res.Bool = v.b
	default:
		res.Value = v.u64
	}
	return res, nil
}

// FailTicket marks a ticket as permanently failed. Tests use it to exercise
// the failed-decrypt recovery path.
func (m *Memory) FailTicket(ticketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tickets[ticketID]; ok {
		t.failed = true
	}
}

func (m *Memory) uint64Value(h domain.Handle) (uint64, error) {
	v, ok := m.values[h.ID]
	if !ok {
		return 0, fmt.Errorf("handle %q: %w", h.ID, domain.ErrNotFound)
	}
	if v.kind != domain.HandleUint64 {
		return 0, fmt.Errorf("handle %q is not a uint64: %w", h.ID, domain.ErrInvalidAmount)
	}
	return v.u64, nil
}

var _ domain.Gateway = (*Memory)(nil)
