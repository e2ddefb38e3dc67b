package polymarket

import (
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

// gammaPageSize is the largest page the Gamma API returns.
const gammaPageSize = 100

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetMarkets returns one page of open markets.
func (g *GammaClient) GetMarkets(ctx context.Context, limit, offset int) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")
	params.Set("closed", "false")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	return apiMarkets, nil
}

// GetMarket returns a single market by its Gamma ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (APIMarket, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return apiMarket, nil
}

// ListActiveMarkets pages through open binary markets until max are
// collected. Markets without two CLOB tokens are skipped.
func (g *GammaClient) ListActiveMarkets(ctx context.Context, max int, tz string) ([]domain.Market, error) {
	var out []domain.Market
	for offset := 0; len(out) < max; offset += gammaPageSize {
		page, err := g.GetMarkets(ctx, gammaPageSize, offset)
		if err != nil {
			return out, err
		}
		for i := range page {
			if m, ok := page[i].ToDomainMarket(tz); ok && m.Active {
				out = append(out, m)
			}
		}
		if len(page) < gammaPageSize {
			break
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx HTTP status codes to domain errors.
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
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
