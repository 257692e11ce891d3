// Package collyfetcher implements crawler.Fetcher on top of gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
	"github.com/JakeFAU/camara-crawler/internal/metrics"
)

const defaultTimeout = 60 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Accept is sent on every request. Defaults to JSON then XML.
	Accept string
}

// Waiter paces outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       Waiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchResult collects what the collector callbacks observed.
type fetchResult struct {
	status      int
	contentType string
	body        []byte
	err         error
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Accept == "" {
		cfg.Accept = "application/json, application/xml"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	// Clones share the http backend, so the timeout is only set here.
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch GETs rawURL and returns the normalized envelope. Failures are
// reported as *crawler.FetchError classified transient or fatal, except for
// context cancellation which is returned as is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Envelope{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return crawler.Envelope{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
	start := time.Now()
	var res fetchResult
	collector := f.buildCollector(&res)
	env, err := f.finish(ctx, rawURL, &res, f.runCollector(ctx, collector, rawURL))
	metrics.ObserveFetch(rawURL, resultLabel(err), time.Since(start))
	if err != nil {
		f.logger.Debug("upstream fetch failed",
			zap.String("url", rawURL),
			zap.Int("status", res.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return crawler.Envelope{}, err
	}
	return env, nil
}

func (f *Fetcher) buildCollector(res *fetchResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, res)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, res *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", f.cfg.Accept)
	})

	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		if r.Headers != nil {
			res.contentType = r.Headers.Get("Content-Type")
		}
		res.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func (f *Fetcher) finish(ctx context.Context, rawURL string, res *fetchResult, visitErr error) (crawler.Envelope, error) {
	if visitErr != nil && ctx.Err() != nil {
		return crawler.Envelope{}, visitErr
	}
	err := visitErr
	if err == nil {
		err = res.err
	}
	if err != nil {
		return crawler.Envelope{}, Classify(rawURL, res.status, err)
	}
	if res.status != 0 && (res.status < 200 || res.status > 299) {
		return crawler.Envelope{}, Classify(rawURL, res.status, fmt.Errorf("unexpected status %d", res.status))
	}
	return Decode(rawURL, res.contentType, res.body)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case crawler.IsTransient(err):
		return "transient"
	case crawler.IsFatal(err):
		return "fatal"
	default:
		return "canceled"
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
