// Package enrich derives structured product attributes from an external AI
// service, falling back to a deterministic minimal attribute set whenever the
// service cannot deliver a usable answer.
package enrich

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/catalog-ingest/config"
	"github.com/aluiziolira/catalog-ingest/models"
	"github.com/aluiziolira/catalog-ingest/ratelimit"
	"github.com/aluiziolira/catalog-ingest/telemetry"
)

const maxResponseBytes = 1 << 20

var (
	// ErrDisabled is the fallback cause when no enrichment endpoint is set.
	ErrDisabled = errors.New("enrich: no endpoint configured")
	// ErrMalformedResponse covers bodies that do not map to attributes.
	ErrMalformedResponse = errors.New("enrich: malformed response")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("enrich: status %d: %s", e.Code, e.Body)
}

// Result is the outcome of one enrichment. Kind is AnalysisAI when the
// service answered, AnalysisFallback otherwise; Cause holds the reason for a
// fallback and is nil for AI results.
type Result struct {
	Attributes models.EnrichedAttributes
	Kind       models.AnalysisKind
	Cached     bool
	Cause      error
}

// Client calls the enrichment service. It is safe for concurrent use.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration

	client  *http.Client
	limiter *ratelimit.Limiter
	cache   *lru.Cache[string, models.EnrichedAttributes]
	metrics *telemetry.Metrics
}

type request struct {
	Model       string   `json:"model,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Vendor      string   `json:"vendor"`
	ProductType string   `json:"productType"`
	Prompt      string   `json:"prompt"`
}

// New builds a client from cfg. Every network call first takes a slot from
// limiter.
func New(cfg *config.Config, limiter *ratelimit.Limiter, metrics *telemetry.Metrics) (*Client, error) {
	c := &Client{
		endpoint: cfg.EnrichURL,
		apiKey:   cfg.EnrichAPIKey,
		model:    cfg.EnrichModel,
		timeout:  cfg.EnrichTimeout,
		client:   &http.Client{},
		limiter:  limiter,
		metrics:  metrics,
	}
	if cfg.EnrichCacheSize > 0 {
		cache, err := lru.New[string, models.EnrichedAttributes](cfg.EnrichCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create enrichment cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Enrich never fails: any problem with the service yields a fallback Result.
func (c *Client) Enrich(ctx context.Context, listing models.ValidatedListing) Result {
	if c.endpoint == "" {
		return c.fallback(listing, ErrDisabled)
	}

	key := cacheKey(listing)
	if c.cache != nil {
		if attrs, ok := c.cache.Get(key); ok {
			c.metrics.IncEnrichment("cached")
			return Result{Attributes: cloneAttributes(attrs), Kind: models.AnalysisAI, Cached: true}
		}
	}

	waitStart := time.Now()
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return c.fallback(listing, fmt.Errorf("acquire enrichment slot: %w", err))
		}
	}
	c.metrics.ObserveRateLimitWait(time.Since(waitStart))

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	attrs, err := c.call(callCtx, listing)
	c.metrics.ObserveEnrich(time.Since(start))
	if err != nil {
		slog.Debug("enrichment fell back",
			slog.String("item", listing.ID),
			slog.Any("error", err),
		)
		return c.fallback(listing, err)
	}

	if c.cache != nil {
		c.cache.Add(key, cloneAttributes(attrs))
	}
	c.metrics.IncEnrichment(string(models.AnalysisAI))
	return Result{Attributes: attrs, Kind: models.AnalysisAI}
}

func (c *Client) fallback(listing models.ValidatedListing, cause error) Result {
	c.metrics.IncEnrichment(string(models.AnalysisFallback))
	return Result{Attributes: Fallback(listing), Kind: models.AnalysisFallback, Cause: cause}
}

func (c *Client) call(ctx context.Context, listing models.ValidatedListing) (models.EnrichedAttributes, error) {
	body, err := json.Marshal(request{
		Model:       c.model,
		Title:       listing.Title,
		Description: truncateRunes(listing.Description, maxDescriptionRunes),
		Tags:        nonNil(listing.Tags),
		Vendor:      listing.Vendor,
		ProductType: listing.ProductType,
		Prompt:      BuildPrompt(listing),
	})
	if err != nil {
		return models.EnrichedAttributes{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.EnrichedAttributes{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.EnrichedAttributes{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.EnrichedAttributes{}, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.EnrichedAttributes{}, &StatusError{Code: resp.StatusCode, Body: truncateRunes(string(respBody), 200)}
	}

	return ParseResponse(respBody, listing.Title)
}

// cacheKey hashes the fields the service sees, so identical listings share
// one answer.
func cacheKey(listing models.ValidatedListing) string {
	h := sha256.New()
	for _, part := range []string{
		listing.Title,
		listing.Description,
		strings.Join(listing.Tags, ","),
		listing.Vendor,
		listing.ProductType,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneAttributes(a models.EnrichedAttributes) models.EnrichedAttributes {
	a.Colors = append([]string{}, a.Colors...)
	a.Materials = append([]string{}, a.Materials...)
	a.Features = append([]string{}, a.Features...)
	a.SearchTerms = append([]string{}, a.SearchTerms...)
	return a
}
