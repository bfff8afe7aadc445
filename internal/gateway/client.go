package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
)

// Client is the REST client for a remote confidentiality gateway. It covers
// encryption of plaintext inputs, homomorphic arithmetic over handles, and
// the asynchronous decrypt request/poll flow.
type Client struct {
	baseURL    string
	httpClient *http.Client
	hmacAuth   *crypto.HMACAuth
	limiter    domain.RateLimiter
}

// decryptPaceKey throttles traffic to the gateway's decryption oracle, the
// one endpoint with a hard upstream quota.
const decryptPaceKey = "gateway:decrypt"

// NewClient creates a gateway REST client.
//
// baseURL is the gateway API root, e.g. "https://gateway.example.com/v1".
// hmac signs every request; pass nil for an unauthenticated gateway.
func NewClient(baseURL string, hmac *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		hmacAuth: hmac,
	}
}

// WithLimiter paces decrypt traffic through the given limiter. The gateway's
// decryption oracle enforces a quota upstream; waiting client-side turns hard
// rejections into short delays. Encrypt and arithmetic calls are not paced.
func (c *Client) WithLimiter(l domain.RateLimiter) *Client {
	c.limiter = l
	return c
}

func (c *Client) paceDecrypt(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, decryptPaceKey)
}

// apiHandle is the wire form of a ciphertext handle.
type apiHandle struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

func (a apiHandle) toDomain() domain.Handle {
	kind := domain.HandleUint64
	if a.Kind == "bool" {
		kind = domain.HandleBool
	}
	return domain.Handle{ID: a.ID, Kind: kind}
}

func fromDomain(h domain.Handle) apiHandle {
	kind := "uint64"
	if h.Kind == domain.HandleBool {
		kind = "bool"
	}
	return apiHandle{ID: h.ID, Kind: kind}
}

// EncryptUint64 submits a plaintext amount and returns its handle.
func (c *Client) EncryptUint64(ctx context.Context, amount uint64) (domain.Handle, error) {
	body := map[string]any{"value": amount}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/encrypt/uint64", body)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: encrypt uint64: %w", err)
	}

	var h apiHandle
	if err := json.Unmarshal(respBody, &h); err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: decode handle: %w", err)
	}
	return h.toDomain(), nil
}

// EncryptBool submits a plaintext boolean and returns its handle.
func (c *Client) EncryptBool(ctx context.Context, b bool) (domain.Handle, error) {
	body := map[string]any{"value": b}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/encrypt/bool", body)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: encrypt bool: %w", err)
	}

	var h apiHandle
	if err := json.Unmarshal(respBody, &h); err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: decode handle: %w", err)
	}
	return h.toDomain(), nil
}

// Add requests a homomorphic addition and returns the result handle.
func (c *Client) Add(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	return c.binaryOp(ctx, "/op/add", a, b)
}

// Sub requests a homomorphic subtraction and returns the result handle.
func (c *Client) Sub(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	return c.binaryOp(ctx, "/op/sub", a, b)
}

// Lte requests a homomorphic comparison and returns a bool handle
// encrypting a <= b.
func (c *Client) Lte(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	return c.binaryOp(ctx, "/op/lte", a, b)
}

// Select requests a homomorphic conditional: the result is ifTrue where
// cond holds and ifFalse otherwise, without revealing cond.
func (c *Client) Select(ctx context.Context, cond, ifTrue, ifFalse domain.Handle) (domain.Handle, error) {
	body := map[string]any{
		"cond":    fromDomain(cond),
		"ifTrue":  fromDomain(ifTrue),
		"ifFalse": fromDomain(ifFalse),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/op/select", body)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: select: %w", err)
	}

	var h apiHandle
	if err := json.Unmarshal(respBody, &h); err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: decode handle: %w", err)
	}
	return h.toDomain(), nil
}

// RequestDecrypt opens a decrypt ticket for the handle.
func (c *Client) RequestDecrypt(ctx context.Context, h domain.Handle) (domain.DecryptTicket, error) {
	if err := c.paceDecrypt(ctx); err != nil {
		return domain.DecryptTicket{}, fmt.Errorf("gateway: request decrypt: %w", err)
	}

	body := map[string]any{"handle": fromDomain(h)}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/decrypt", body)
	if err != nil {
		return domain.DecryptTicket{}, fmt.Errorf("gateway: request decrypt: %w", err)
	}

	var resp struct {
		TicketID    string    `json:"ticketId"`
		RequestedAt time.Time `json:"requestedAt"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.DecryptTicket{}, fmt.Errorf("gateway: decode ticket: %w", err)
	}

	return domain.DecryptTicket{ID: resp.TicketID, Handle: h, RequestedAt: resp.RequestedAt}, nil
}

// PollDecrypt reports the state of a decrypt ticket. Revealed and failed
// states are final; polling either again returns the same result.
func (c *Client) PollDecrypt(ctx context.Context, ticketID string) (domain.DecryptResult, error) {
	if err := c.paceDecrypt(ctx); err != nil {
		return domain.DecryptResult{}, fmt.Errorf("gateway: poll decrypt %s: %w", ticketID, err)
	}

	path := fmt.Sprintf("/decrypt/%s", ticketID)

	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.DecryptResult{}, fmt.Errorf("gateway: poll decrypt %s: %w", ticketID, err)
	}

	var resp struct {
		State string `json:"state"`
		Value uint64 `json:"value"`
		Bool  bool   `json:"bool"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.DecryptResult{}, fmt.Errorf("gateway: decode decrypt result: %w", err)
	}

	switch resp.State {
	case "pending":
		return domain.DecryptResult{State: domain.DecryptPending}, nil
	case "revealed":
		return domain.DecryptResult{State: domain.DecryptRevealed, Value: resp.Value, Bool: resp.Bool}, nil
	case "failed":
		return domain.DecryptResult{State: domain.DecryptFailed}, nil
	default:
		return domain.DecryptResult{}, fmt.Errorf("gateway: unknown decrypt state %q", resp.State)
	}
}

func (c *Client) binaryOp(ctx context.Context, path string, a, b domain.Handle) (domain.Handle, error) {
	body := map[string]any{
		"a": fromDomain(a),
		"b": fromDomain(b),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: %s: %w", path, err)
	}

	var h apiHandle
	if err := json.Unmarshal(respBody, &h); err != nil {
		return domain.Handle{}, fmt.Errorf("gateway: decode handle: %w", err)
	}
	return h.toDomain(), nil
}

// doRequest builds, signs (HMAC), sends, and reads an HTTP request against
// the gateway API. It returns the raw response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		for k, v := range c.hmacAuth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

var _ domain.Gateway = (*Client)(nil)
