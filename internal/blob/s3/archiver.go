package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// These follow the Interface Segregation Principle: the archiver only
// requires the query methods it actually calls, not the full domain store
// interfaces. The Postgres and in-memory stores satisfy them implicitly.
// ---------------------------------------------------------------------------

// MarketArchiveStore provides read access to markets for archival purposes.
type MarketArchiveStore interface {
	Get(ctx context.Context, id uint64) (domain.Market, error)
}

// BetArchiveStore provides read access to bets for archival purposes.
type BetArchiveStore interface {
	ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Bet, error)
}

// betPageSize bounds each ListByMarket call while paging through a market's
// full bet history.
const betPageSize = 500

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by snapshotting a settled market
// and its full bet history to JSONL and uploading the result to S3.
//
// The snapshot is purely additive: nothing is deleted from the primary
// store. Re-archiving the same market overwrites the previous object, which
// is safe because settled markets are immutable.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	markets MarketArchiveStore
	bets    BetArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveStore,
	bets BetArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		markets: markets,
		bets:    bets,
		audit:   audit,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// marketSnapshot is the JSONL header line of an archive object. The market
// record comes first, followed by one line per bet in index order.
type marketSnapshot struct {
	Kind   string        `json:"kind"`
	Market domain.Market `json:"market"`
	Bets   uint64        `json:"bets"`
}

type betSnapshot struct {
	Kind string     `json:"kind"`
	Bet  domain.Bet `json:"bet"`
}

// ArchiveMarket snapshots the market and every bet placed on it to
// archive/markets/<id>.jsonl and returns the object path. Only settled
// markets may be archived; ErrNotSettled is returned otherwise.
func (a *ArchiveImpl) ArchiveMarket(ctx context.Context, marketID uint64) (string, error) {
	m, err := a.markets.Get(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %d: %w", marketID, err)
	}
	if !m.Settled {
		return "", fmt.Errorf("s3blob: archive market %d: %w", marketID, domain.ErrNotSettled)
	}

	bets, err := a.collectBets(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %d: %w", marketID, err)
	}

	buf, err := marshalSnapshot(m, bets)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %d: %w", marketID, err)
	}

	path := domain.ArchivePath(marketID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive market %d upload: %w", marketID, err)
	}

	if err := a.audit.Log(ctx, "archive.market", map[string]any{
		"market_id": marketID,
		"path":      path,
		"bets":      len(bets),
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive market %d audit log: %w", marketID, err)
	}

	return path, nil
}

// collectBets pages through the full bet history of a market.
func (a *ArchiveImpl) collectBets(ctx context.Context, marketID uint64) ([]domain.Bet, error) {
	var all []domain.Bet
	for offset := 0; ; offset += betPageSize {
		page, err := a.bets.ListByMarket(ctx, marketID, domain.ListOpts{
			Limit:  betPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list bets at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < betPageSize {
			return all, nil
		}
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// marshalSnapshot serialises the market followed by its bets as
// newline-delimited JSON. The first line is the market header; each
// subsequent line is one bet.
func marshalSnapshot(m domain.Market, bets []domain.Bet) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(marketSnapshot{Kind: "market", Market: m, Bets: uint64(len(bets))}); err != nil {
		return nil, fmt.Errorf("jsonl encode market: %w", err)
	}
	for i, b := range bets {
		if err := enc.Encode(betSnapshot{Kind: "bet", Bet: b}); err != nil {
			return nil, fmt.Errorf("jsonl encode bet %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
