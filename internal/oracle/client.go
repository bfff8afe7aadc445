// Package oracle provides price oracle implementations: an HTTP client for
// a signed price feed API, a static in-memory oracle for sandbox mode and
// tests, and a caching wrapper.
package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
)

// Client fetches signed price quotes from a reporter HTTP API and verifies
// each quote's secp256k1 signature against the configured reporter address
// before returning it. Quotes that fail verification are rejected.
type Client struct {
	baseURL    string
	httpClient *http.Client
	reporter   common.Address
}

// NewClient creates a price feed client.
//
// baseURL is the feed API root, e.g. "https://feeds.example.com/v1".
// reporter is the address whose signature every quote must carry.
func NewClient(baseURL string, reporter common.Address) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		reporter: reporter,
	}
}

// apiQuote is the wire form of a signed price quote. Price is an 8-decimal
// fixed-point integer carried as a string to preserve precision.
type apiQuote struct {
	FeedID    string `json:"feedId"`
	Round     uint64 `json:"round"`
	Price     string `json:"price"`
	UpdatedAt int64  `json:"updatedAt"`
	Reporter  string `json:"reporter"`
	Signature string `json:"signature"`
}

// GetPrice fetches the latest quote for a feed and verifies its signature.
func (c *Client) GetPrice(ctx context.Context, feedID string) (domain.PriceQuote, error) {
	path := fmt.Sprintf("/feeds/%s/latest", url.PathEscape(feedID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: fetch %s: %w", feedID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return domain.PriceQuote{}, fmt.Errorf("oracle: feed %s: %w", feedID, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.PriceQuote{}, fmt.Errorf("oracle: feed %s: HTTP %d: %s", feedID, resp.StatusCode, string(respBody))
	}

	var aq apiQuote
	if err := json.Unmarshal(respBody, &aq); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: decode quote: %w", err)
	}

	quote, err := aq.toDomain()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: feed %s: %w", feedID, err)
	}

	if err := crypto.VerifyQuote(quote.FeedID, quote.Round, quote.Price, quote.UpdatedAt.Unix(), quote.Signature, c.reporter); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: feed %s: %w", feedID, err)
	}

	return quote, nil
}

func (aq apiQuote) toDomain() (domain.PriceQuote, error) {
	price, err := strconv.ParseInt(aq.Price, 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("invalid price %q: %w", aq.Price, err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(aq.Signature, "0x"))
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("invalid signature: %w", err)
	}

	return domain.PriceQuote{
		FeedID:    aq.FeedID,
		Round:     aq.Round,
		Price:     price,
		UpdatedAt: time.Unix(aq.UpdatedAt, 0).UTC(),
		Reporter:  common.HexToAddress(aq.Reporter),
		Signature: sig,
	}, nil
}

var _ domain.PriceOracle = (*Client)(nil)
