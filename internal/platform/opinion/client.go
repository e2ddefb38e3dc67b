package opinion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
	pageLimit     = 50
)

// Client is the Opinion REST client with client-side rate limiting and
// retries on throttling and server errors.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryWait  time.Duration
	logger     *slog.Logger
}

// NewClient creates a client allowed rps requests per second.
//
// baseURL is the API root, e.g. "https://api.opinion.trade/v1".
func NewClient(baseURL, apiKey string, rps float64, logger *slog.Logger) *Client {
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		retryWait:  baseRetryWait,
		logger:     logger.With(slog.String("component", "opinion_client")),
	}
}

// Markets returns one page of active markets. Pages start at 1.
func (c *Client) Markets(ctx context.Context, page, limit int) ([]OpinionMarket, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("status", "active")

	var out marketList
	if err := c.get(ctx, "/markets?"+params.Encode(), &out); err != nil {
		return nil, fmt.Errorf("opinion: markets: %w", err)
	}
	return out.List, nil
}

// ListActiveMarkets pages through active markets until max are collected.
func (c *Client) ListActiveMarkets(ctx context.Context, max int, tz string) ([]domain.Market, error) {
	var out []domain.Market
	for page := 1; len(out) < max; page++ {
		batch, err := c.Markets(ctx, page, pageLimit)
		if err != nil {
			return out, err
		}
		for i := range batch {
			m := batch[i].ToDomainMarket(tz)
			if m.Active && m.OutcomeTokens[0] != "" && m.OutcomeTokens[1] != "" {
				out = append(out, m)
			}
		}
		if len(batch) < pageLimit {
			break
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Orderbook returns the book for one outcome token.
func (c *Client) Orderbook(ctx context.Context, tokenID string) (OpinionOrderbook, error) {
	var out dataResult[OpinionOrderbook]
	if err := c.get(ctx, "/orderbook/"+url.PathEscape(tokenID), &out); err != nil {
		return OpinionOrderbook{}, fmt.Errorf("opinion: orderbook %s: %w", tokenID, err)
	}
	return out.Data, nil
}

// FeeRates returns the maker and taker rates charged on a token.
func (c *Client) FeeRates(ctx context.Context, tokenID string) (FeeRates, error) {
	var out dataResult[FeeRates]
	if err := c.get(ctx, "/fees/"+url.PathEscape(tokenID), &out); err != nil {
		return FeeRates{}, fmt.Errorf("opinion: fees %s: %w", tokenID, err)
	}
	return out.Data, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get issues a rate-limited GET, unwraps the envelope and decodes result
// into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		body, status, err := c.do(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case status == http.StatusTooManyRequests:
			c.logger.Warn("rate limited by API", slog.Int("attempt", attempt+1))
			lastErr = fmt.Errorf("%w: HTTP 429", domain.ErrRateLimited)
			continue
		case status >= 500:
			lastErr = fmt.Errorf("server error %d", status)
			continue
		case status == http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, string(body))
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("%w: %s", domain.ErrUnauthorized, string(body))
		case status >= 400:
			return fmt.Errorf("client error %d: %s", status, string(body))
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		if env.Errno != 0 {
			return fmt.Errorf("api error %d: %s", env.Errno, env.Errmsg)
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return nil
	}
	return fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// sleep waits with exponential backoff, honouring ctx.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	wait := c.retryWait << attempt
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
