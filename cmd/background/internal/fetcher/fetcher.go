package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
)

// Quote is the latest price a source knows for one symbol.
type Quote struct {
	Price float64
	AsOf  time.Time
}

type quoteResponse struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"as_of"`
}

// HTTPClient reads quotes from a JSON endpoint: GET {base}/quote?symbol=SYM.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Fetch(ctx context.Context, symbol string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: building request for %s: %w", models.ErrFetch, symbol, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %w", models.ErrFetch, symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Quote{}, fmt.Errorf("%w: %s: rate limited", models.ErrFetch, symbol)
	case resp.StatusCode == http.StatusNotFound:
		return Quote{}, fmt.Errorf("%w: %s: unknown symbol", models.ErrFetch, symbol)
	case resp.StatusCode != http.StatusOK:
		return Quote{}, fmt.Errorf("%w: %s: unexpected status %d", models.ErrFetch, symbol, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("%w: decoding quote for %s: %w", models.ErrFetch, symbol, err)
	}
	if body.Price <= 0 {
		return Quote{}, fmt.Errorf("%w: %s: non-positive price %v", models.ErrFetch, symbol, body.Price)
	}

	return Quote{Price: body.Price, AsOf: body.AsOf}, nil
}

const snapshotPrefix = "stock:"

// RedisSnapshotClient reads the latest tick the market processor cached under
// stock:SYM.
type RedisSnapshotClient struct {
	client redis.Cmdable
}

func NewRedisSnapshotClient(client redis.Cmdable) *RedisSnapshotClient {
	return &RedisSnapshotClient{client: client}
}

func (c *RedisSnapshotClient) Fetch(ctx context.Context, symbol string) (Quote, error) {
	payload, err := c.client.Get(ctx, snapshotPrefix+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return Quote{}, fmt.Errorf("%w: %s: no snapshot", models.ErrFetch, symbol)
	}
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %w", models.ErrFetch, symbol, err)
	}

	var update models.StockUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return Quote{}, fmt.Errorf("%w: decoding snapshot for %s: %w", models.ErrFetch, symbol, err)
	}
	if update.Price <= 0 {
		return Quote{}, fmt.Errorf("%w: %s: non-positive price %v", models.ErrFetch, symbol, update.Price)
	}

	q := Quote{Price: update.Price}
	if update.Timestamp > 0 {
		q.AsOf = time.UnixMicro(update.Timestamp).UTC()
	}
	return q, nil
}
