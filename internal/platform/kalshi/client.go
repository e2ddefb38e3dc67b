package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Client is the REST client for the Kalshi exchange API.
type Client struct {
	baseURL    string
	auth       Authenticator
	httpClient *http.Client
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// auth may be nil until SetAuthenticator is called; only Login works without it.
func NewClient(baseURL string, auth Authenticator) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetAuthenticator installs the request authenticator.
func (c *Client) SetAuthenticator(auth Authenticator) { c.auth = auth }

// Login exchanges email and password for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/login", KalshiLoginRequest{Email: email, Password: password}, false)
	if err != nil {
		return "", fmt.Errorf("kalshi: login: %w", err)
	}
	var resp KalshiLoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("kalshi: decode login: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("kalshi: login: empty token: %w", domain.ErrUnauthorized)
	}
	return resp.Token, nil
}

// GetMarkets returns one page of markets with the given status.
func (c *Client) GetMarkets(ctx context.Context, status string, limit int, cursor string) (KalshiMarketsPage, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	path := "/markets"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return KalshiMarketsPage{}, fmt.Errorf("kalshi: get markets: %w", err)
	}

	var page KalshiMarketsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return KalshiMarketsPage{}, fmt.Errorf("kalshi: decode markets: %w", err)
	}
	return page, nil
}

// ListOpenMarkets pages through open markets until max are collected or the
// cursor runs out.
func (c *Client) ListOpenMarkets(ctx context.Context, max int) ([]KalshiMarket, error) {
	var (
		out    []KalshiMarket
		cursor string
	)
	for len(out) < max {
		limit := max - len(out)
		if limit > 200 {
			limit = 200
		}
		page, err := c.GetMarkets(ctx, "open", limit, cursor)
		if err != nil {
			return out, err
		}
		out = append(out, page.Markets...)
		if page.Cursor == "" || len(page.Markets) == 0 {
			break
		}
		cursor = page.Cursor
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, authenticates, sends, and reads an HTTP request against the
// Kalshi API.
func (c *Client) do(ctx context.Context, method, path string, reqBody any, authenticated bool) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if authenticated {
		if c.auth == nil {
			return nil, fmt.Errorf("no authenticator configured: %w", domain.ErrUnauthorized)
		}
		// Signatures cover the full URL path without the query string.
		h, err := c.auth.Headers(ctx, method, req.URL.Path)
		if err != nil {
			return nil, fmt.Errorf("authenticate: %w", err)
		}
		for k, vs := range h {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
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

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr KalshiErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, apiErr.text())
	case http.StatusUnauthorized, http.StatusForbidden:
		if inv, ok := c.auth.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, apiErr.text())
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.text())
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, apiErr.text())
	}
}
