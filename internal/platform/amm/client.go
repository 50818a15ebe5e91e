// Package amm is the REST client for the AMM service that hosts listed
// winners' liquidity pools.
package amm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// Client talks to the AMM pool API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an AMM client. baseURL is the service root, e.g.
// "https://amm.example.com".
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FindPool returns the first pool that trades mint.
func (c *Client) FindPool(ctx context.Context, mint string) (domain.Pool, bool, error) {
	params := url.Values{}
	params.Set("mint", mint)

	body, err := c.do(ctx, http.MethodGet, "/v1/pools?"+params.Encode(), nil)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Pool{}, false, nil
		}
		return domain.Pool{}, false, fmt.Errorf("amm: find pool %s: %w", mint, err)
	}

	var resp listPoolsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Pool{}, false, fmt.Errorf("amm: decode pools: %w", err)
	}
	for _, p := range resp.Pools {
		if p.PoolID != "" && (p.MintA == mint || p.MintB == mint) {
			return p.ToDomainPool(), true, nil
		}
	}
	return domain.Pool{}, false, nil
}

// CreatePool creates a pool for spec. Amounts are sent as decimal strings so
// they survive JSON number handling on the server.
func (c *Client) CreatePool(ctx context.Context, spec domain.PoolSpec) (domain.Pool, error) {
	payload, err := json.Marshal(createPoolRequest{
		MintA:   spec.MintA,
		MintB:   spec.MintB,
		AmountA: strconv.FormatUint(spec.AmountA, 10),
		AmountB: strconv.FormatUint(spec.AmountB, 10),
		Creator: spec.Creator,
	})
	if err != nil {
		return domain.Pool{}, fmt.Errorf("amm: marshal create pool: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/pools", payload)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("amm: create pool: %w", err)
	}

	var resp createPoolResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Pool{}, fmt.Errorf("amm: decode create pool: %w", err)
	}
	if resp.PoolID == "" {
		return domain.Pool{}, fmt.Errorf("amm: create pool: empty pool id in response")
	}
	return domain.Pool{
		ID:    resp.PoolID,
		TxID:  resp.TxID,
		URL:   resp.URL,
		MintA: spec.MintA,
		MintB: spec.MintB,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps a response status onto the pipeline's error sentinels.
// 5xx stays unwrapped and is retried as transient.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}

	switch {
	case statusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUnderfunded, statusCode, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s", domain.ErrPoolRejected, domain.ErrNotFound, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrPoolRejected, domain.ErrUnauthorized, msg)
	case statusCode >= 400 && statusCode < 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrPoolRejected, statusCode, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
