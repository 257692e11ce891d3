package camara

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
	"github.com/JakeFAU/camara-crawler/internal/metrics"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://dadosabertos.camara.leg.br/api/v2"

// Client issues retried requests against the API.
type Client struct {
	fetcher crawler.Fetcher
	retry   crawler.RetryPolicy
	baseURL string
	logger  *zap.Logger
}

// NewClient wraps fetcher. An empty baseURL selects DefaultBaseURL.
func NewClient(fetcher crawler.Fetcher, baseURL string, retry crawler.RetryPolicy, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher: fetcher,
		retry:   retry,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// URL joins path and query onto the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Get fetches one URL, retrying transient failures.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (crawler.Envelope, error) {
	target := c.URL(path, query)
	policy := c.retry
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		metrics.ObserveRetry(target)
		c.logger.Warn("retrying upstream fetch",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if next != nil {
			next(attempt, wait, err)
		}
	}
	return crawler.Retry(ctx, policy, func(ctx context.Context) (crawler.Envelope, error) {
		return c.fetcher.Fetch(ctx, target)
	})
}

// List fetches a listing endpoint.
func (c *Client) List(ctx context.Context, path string, query url.Values) ([]crawler.Object, error) {
	env, err := c.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	items, err := env.Listing()
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Detail fetches a single object endpoint.
func (c *Client) Detail(ctx context.Context, path string) (crawler.Object, error) {
	env, err := c.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	obj, err := env.Detail()
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func pageQuery(page, pageSize int) url.Values {
	q := url.Values{}
	q.Set("itens", strconv.Itoa(pageSize))
	q.Set("pagina", strconv.Itoa(page))
	return q
}
