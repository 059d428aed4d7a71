package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/catalog-ingest/config"
	"github.com/aluiziolira/catalog-ingest/models"
	"github.com/aluiziolira/catalog-ingest/telemetry"
)

func newTestFetcher(t *testing.T, transport *httpmock.MockTransport) *Fetcher {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 2
	f := New(cfg, telemetry.NewMetrics())
	f.collector.WithTransport(transport)
	f.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func testSource(pageSize, maxPages int) models.Source {
	return models.Source{
		Name:     "shop-a",
		Endpoint: "http://shop-a.test/products.json",
		PageSize: pageSize,
		MaxPages: maxPages,
	}
}

func catalogBody(ids ...int) string {
	var b strings.Builder
	b.WriteString(`{"products":[`)
	for i, id := range ids {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"id":%d,"title":"Item %d","handle":"item-%d","variants":[{"price":"%d.00"}],"images":[{"src":"http://cdn.test/%d.jpg"}]}`, id, id, id, id, id)
	}
	b.WriteString(`]}`)
	return b.String()
}

func countingResponder(calls *int32, responses ...httpmock.Responder) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		n := int(atomic.AddInt32(calls, 1)) - 1
		if n >= len(responses) {
			n = len(responses) - 1
		}
		return responses[n](req)
	}
}

func mustPageURL(t *testing.T, src models.Source, page int) string {
	t.Helper()
	u, err := PageURL(src, page)
	if err != nil {
		t.Fatalf("page url: %v", err)
	}
	return u
}

func TestPageURL(t *testing.T) {
	src := models.Source{Name: "s", Endpoint: "https://s.example/collections/all/products.json?sort=new", PageSize: 50}
	got, err := PageURL(src, 2)
	if err != nil {
		t.Fatalf("page url: %v", err)
	}
	want := "https://s.example/collections/all/products.json?limit=50&page=2&sort=new"
	if got != want {
		t.Fatalf("PageURL = %q, want %q", got, want)
	}
}

func TestFetchSinglePage(t *testing.T) {
	src := testSource(250, 1)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", mustPageURL(t, src, 1), httpmock.NewStringResponder(200, catalogBody(1, 2, 3)))

	f := newTestFetcher(t, transport)
	listings, err := f.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(listings) != 3 {
		t.Fatalf("listings=%d, want 3", len(listings))
	}
	for _, l := range listings {
		if l.SourceName != src.Name || l.StoreURL != src.Endpoint {
			t.Fatalf("listing not stamped with source: %+v", l)
		}
	}
	if listings[1].Title != "Item 2" || listings[1].ID.String() != "2" {
		t.Fatalf("unexpected listing: %+v", listings[1])
	}
}

func TestFetchKeepsSiblingsOfBadlyTypedListing(t *testing.T) {
	src := testSource(250, 1)
	body := `{"products":[
		{"id":1,"title":"Item 1","handle":"item-1","variants":[{"price":"1.00"}],"images":[{"src":"http://cdn.test/1.jpg"}]},
		{"id":2,"title":12345,"handle":"item-2"},
		{"id":3,"title":"Item 3","handle":"item-3","images":"none"},
		{"id":4,"title":"Item 4","handle":"item-4","variants":[{"price":"4.00"}],"images":[{"src":"http://cdn.test/4.jpg"}]}
	]}`
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", mustPageURL(t, src, 1), httpmock.NewStringResponder(200, body))

	f := newTestFetcher(t, transport)
	listings, err := f.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("one bad listing must not fail the page: %v", err)
	}
	if len(listings) != 4 {
		t.Fatalf("listings=%d, want 4", len(listings))
	}
	for i, wantBad := range []bool{false, true, true, false} {
		if (listings[i].DecodeErr != nil) != wantBad {
			t.Fatalf("listing %d decode error = %v, want bad=%v", i, listings[i].DecodeErr, wantBad)
		}
		if listings[i].SourceName != src.Name {
			t.Fatalf("listing %d not stamped with source", i)
		}
	}
	if listings[1].ID.String() != "2" || listings[2].Handle != "item-3" {
		t.Fatalf("identity of bad listings not recovered: %+v %+v", listings[1], listings[2])
	}
}

func TestFetchStopsAtShortPage(t *testing.T) {
	src := testSource(2, 3)
	var page3 int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", mustPageURL(t, src, 1), httpmock.NewStringResponder(200, catalogBody(1, 2)))
	transport.RegisterResponder("GET", mustPageURL(t, src, 2), httpmock.NewStringResponder(200, catalogBody(3)))
	transport.RegisterResponder("GET", mustPageURL(t, src, 3), countingResponder(&page3, httpmock.NewStringResponder(200, catalogBody(4, 5))))

	f := newTestFetcher(t, transport)
	listings, err := f.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(listings) != 3 {
		t.Fatalf("listings=%d, want 3", len(listings))
	}
	if atomic.LoadInt32(&page3) != 0 {
		t.Fatalf("page 3 should not be requested after a short page")
	}
}

func TestFetchRetryBehaviour(t *testing.T) {
	connRefused := httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})
	tests := []struct {
		name      string
		responses []httpmock.Responder
		wantCalls int32
		wantErr   string
	}{
		{
			name:      "server error then success",
			responses: []httpmock.Responder{httpmock.NewStringResponder(503, ""), httpmock.NewStringResponder(200, catalogBody(1))},
			wantCalls: 2,
		},
		{
			name:      "connection error then success",
			responses: []httpmock.Responder{connRefused, httpmock.NewStringResponder(200, catalogBody(1))},
			wantCalls: 2,
		},
		{
			name:      "rate limited then success",
			responses: []httpmock.Responder{httpmock.NewStringResponder(429, ""), httpmock.NewStringResponder(200, catalogBody(1))},
			wantCalls: 2,
		},
		{
			name:      "server error exhausts retries",
			responses: []httpmock.Responder{httpmock.NewStringResponder(500, "")},
			wantCalls: 3,
			wantErr:   "server_error",
		},
		{
			name:      "not found is permanent",
			responses: []httpmock.Responder{httpmock.NewStringResponder(404, "")},
			wantCalls: 1,
			wantErr:   "client_error",
		},
		{
			name:      "forbidden is permanent",
			responses: []httpmock.Responder{httpmock.NewStringResponder(403, "")},
			wantCalls: 1,
			wantErr:   "client_error",
		},
		{
			name:      "malformed json is permanent",
			responses: []httpmock.Responder{httpmock.NewStringResponder(200, "<html>maintenance</html>")},
			wantCalls: 1,
			wantErr:   "malformed",
		},
		{
			name:      "missing products is permanent",
			responses: []httpmock.Responder{httpmock.NewStringResponder(200, `{"items":[]}`)},
			wantCalls: 1,
			wantErr:   "malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testSource(250, 1)
			var calls int32
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", mustPageURL(t, src, 1), countingResponder(&calls, tt.responses...))

			f := newTestFetcher(t, transport)
			listings, err := f.Fetch(context.Background(), src)

			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Fatalf("calls=%d, want %d", got, tt.wantCalls)
			}
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("fetch: %v", err)
				}
				if len(listings) != 1 {
					t.Fatalf("listings=%d, want 1", len(listings))
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := ErrorTypeLabel(err); got != tt.wantErr {
				t.Fatalf("error type=%q, want %q (%v)", got, tt.wantErr, err)
			}
			if listings != nil {
				t.Fatalf("failed fetch must not return partial listings")
			}
		})
	}
}

func TestFetchFailsWholeSourceWhenLaterPageFails(t *testing.T) {
	src := testSource(1, 2)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", mustPageURL(t, src, 1), httpmock.NewStringResponder(200, catalogBody(1)))
	transport.RegisterResponder("GET", mustPageURL(t, src, 2), httpmock.NewStringResponder(404, ""))

	f := newTestFetcher(t, transport)
	listings, err := f.Fetch(context.Background(), src)
	if err == nil || listings != nil {
		t.Fatalf("expected whole-source failure, got %d listings, err=%v", len(listings), err)
	}
	if !strings.Contains(err.Error(), "page 2") {
		t.Fatalf("error should name the failing page: %v", err)
	}
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	src := testSource(250, 1)
	var calls int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", mustPageURL(t, src, 1), countingResponder(&calls, httpmock.NewStringResponder(503, "")))

	f := newTestFetcher(t, transport)
	ctx, cancel := context.WithCancel(context.Background())
	f.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := f.Fetch(ctx, src)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls=%d, want 1", got)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
		retryable  bool
	}{
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout", retryable: true},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, expected: "timeout", retryable: true},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: "connection", retryable: true},
		{name: "server", statusCode: http.StatusBadGateway, expected: "server_error", retryable: true},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, expected: "rate_limited", retryable: true},
		{name: "not found", statusCode: http.StatusNotFound, expected: "client_error", retryable: false},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, expected: "client_error", retryable: false},
		{name: "other", err: errors.New("unexpected EOF"), expected: "other", retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyError(tt.err, tt.statusCode)
			if got := ErrorTypeLabel(classified); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
			if got := Retryable(classified); got != tt.retryable {
				t.Fatalf("Retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond
	f := New(cfg, nil)

	if got := f.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("first backoff=%v, want 200ms", got)
	}
	if got := f.backoff(4); got > cfg.RetryBackoffMax {
		t.Fatalf("delay %v exceeds max %v", got, cfg.RetryBackoffMax)
	}
}
