// Package fetcher pulls raw product listings from catalog source endpoints.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/catalog-ingest/config"
	"github.com/aluiziolira/catalog-ingest/models"
	"github.com/aluiziolira/catalog-ingest/telemetry"
)

// Fetcher retrieves catalog pages with a per-request timeout and bounded
// retries. One Fetcher is shared by all source workers.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	pacer     *rate.Limiter
	metrics   *telemetry.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds a fetcher configured from cfg.
func New(cfg *config.Config, metrics *telemetry.Metrics) *Fetcher {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.FetchMaxBodyBytes),
	)
	collector.SetRequestTimeout(cfg.FetchTimeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.FetchTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	limit := rate.Inf
	if cfg.FetchRPS > 0 {
		limit = rate.Limit(cfg.FetchRPS)
	}

	return &Fetcher{
		cfg:       cfg,
		collector: collector,
		pacer:     rate.NewLimiter(limit, 1),
		metrics:   metrics,
		sleep:     sleepContext,
	}
}

// Fetch returns every listing of src. Pages are requested in order until a
// short page or src.MaxPages; any page that still fails after retries fails
// the whole source.
func (f *Fetcher) Fetch(ctx context.Context, src models.Source) ([]models.RawListing, error) {
	maxPages := src.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var all []models.RawListing
	for page := 1; page <= maxPages; page++ {
		pageURL, err := PageURL(src, page)
		if err != nil {
			return nil, err
		}
		listings, err := f.fetchWithRetry(ctx, src, pageURL)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", src.Name, page, err)
		}
		for i := range listings {
			listings[i].SourceName = src.Name
			listings[i].StoreURL = src.Endpoint
		}
		all = append(all, listings...)
		if len(listings) < src.PageSize {
			break
		}
	}
	return all, nil
}

// PageURL renders the request URL for one page of src.
func PageURL(src models.Source, page int) (string, error) {
	u, err := url.Parse(src.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint for %s: %w", src.Name, err)
	}
	q := u.Query()
	if src.PageSize > 0 {
		q.Set("limit", strconv.Itoa(src.PageSize))
	}
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, src models.Source, pageURL string) ([]models.RawListing, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			f.metrics.IncRetries()
			if err := f.sleep(ctx, f.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if err := f.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		listings, err := f.fetchPage(pageURL)
		if err == nil {
			return listings, nil
		}
		lastErr = err
		category := ErrorTypeLabel(err)
		f.metrics.IncFetchError(category)

		if !Retryable(err) {
			slog.Warn("fetch failed permanently",
				slog.String("source", src.Name),
				slog.String("url", pageURL),
				slog.String("category", category),
				slog.Any("error", err),
			)
			return nil, err
		}
		slog.Warn("fetch attempt failed",
			slog.String("source", src.Name),
			slog.String("url", pageURL),
			slog.Int("attempt", attempt+1),
			slog.String("category", category),
			slog.Any("error", err),
		)
	}
	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", f.cfg.MaxRetries+1, lastErr)
}

func (f *Fetcher) fetchPage(pageURL string) ([]models.RawListing, error) {
	c := f.collector.Clone()

	var (
		status int
		body   []byte
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	start := time.Now()
	err := c.Visit(pageURL)
	f.metrics.ObserveFetch(time.Since(start))
	if err != nil {
		f.metrics.IncFetch("error")
		return nil, classifyError(err, status)
	}
	f.metrics.IncFetch("ok")

	var page models.CatalogPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, ErrMalformed{Err: err}
	}
	if page.Products == nil {
		return nil, ErrMalformed{Err: errors.New("body has no products array")}
	}
	return page.Listings(), nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
