package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/aluiziolira/catalog-ingest/models"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.IncSource("completed")
	m.IncFetch("ok")
	m.ObserveFetch(time.Second)
	m.IncRetries()
	m.IncFetchError("timeout")
	m.AddItems("uploaded", 3)
	m.IncRejection("missing_title")
	m.IncEnrichment("ai")
	m.ObserveEnrich(time.Second)
	m.ObserveRateLimitWait(time.Second)
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.IncSource("failed")
	m.IncSource("failed")
	m.AddItems("uploaded", 4)
	m.AddItems("uploaded", 0)
	m.IncEnrichment("fallback")

	if got := counterValue(t, m.SourcesTotal.WithLabelValues("failed")); got != 2 {
		t.Fatalf("failed sources=%v, want 2", got)
	}
	if got := counterValue(t, m.ItemsTotal.WithLabelValues("uploaded")); got != 4 {
		t.Fatalf("uploaded items=%v, want 4", got)
	}
	if got := counterValue(t, m.EnrichmentsTotal.WithLabelValues("fallback")); got != 1 {
		t.Fatalf("fallback enrichments=%v, want 1", got)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporterLogsUntilStopped(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(out, nil))
	r := NewReporter(5*time.Millisecond, func() models.RunSummary {
		return models.RunSummary{SourcesCompleted: 2, ItemsUploaded: 17}
	}, logger)
	r.Start()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "items_uploaded=17") {
		if time.Now().After(deadline) {
			t.Fatalf("reporter never logged, output: %q", out.String())
		}
		time.Sleep(time.Millisecond)
	}
	r.Stop()
	r.Stop()
}

func TestReporterDisabled(t *testing.T) {
	r := NewReporter(0, func() models.RunSummary { return models.RunSummary{} }, nil)
	r.Start()
	r.Stop()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return pb.GetCounter().GetValue()
}
