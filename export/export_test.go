package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/catalog-ingest/models"
	"github.com/aluiziolira/catalog-ingest/storage"
)

func testRecord(id string) *models.EnrichedProductRecord {
	return &models.EnrichedProductRecord{
		ID:         id,
		Name:       "Trail Tee",
		Price:      24.5,
		Image:      "https://cdn.example.test/tee.jpg",
		ProductURL: "https://shop.example.test/products/trail-tee",
		SourceName: "shop",
		Attributes: models.EnrichedAttributes{
			Category:     "apparel",
			Colors:       []string{"red", "blue"},
			Materials:    []string{},
			TargetGender: "unisex",
			Features:     []string{},
			SearchTerms:  []string{"trail tee"},
		},
		CrawledAt:    time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC),
		AnalysisKind: models.AnalysisAI,
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "catalog.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write([]*models.EnrichedProductRecord{testRecord("shop:1")}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0][0] != "id" || records[0][2] != "price" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	row := records[1]
	if row[0] != "shop:1" || row[2] != "24.50" || row[10] != "red|blue" || row[17] != "ai" {
		t.Fatalf("unexpected row: %v", row)
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write([]*models.EnrichedProductRecord{testRecord("shop:1"), testRecord("shop:2")}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.EnrichedProductRecord
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded.Attributes.Category != "apparel" {
			t.Fatalf("attributes lost: %+v", decoded)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 2 {
		t.Fatalf("json lines=%d, want 2", count)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "catalog.csv")
	jsonPath := filepath.Join(dir, "catalog.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write([]*models.EnrichedProductRecord{testRecord("shop:1")}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

type recordingWriter struct {
	batches []int
	ids     []string
}

func (w *recordingWriter) Write(records []*models.EnrichedProductRecord) error {
	w.batches = append(w.batches, len(records))
	for _, rec := range records {
		w.ids = append(w.ids, rec.ID)
	}
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestRunBatchesEveryRecord(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < batchSize+3; i++ {
		if err := store.Put(ctx, testRecord(fmt.Sprintf("shop:%03d", i))); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	w := &recordingWriter{}
	n, err := Run(ctx, store, w)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != batchSize+3 {
		t.Fatalf("written=%d, want %d", n, batchSize+3)
	}
	if len(w.batches) != 2 || w.batches[0] != batchSize || w.batches[1] != 3 {
		t.Fatalf("unexpected batches: %v", w.batches)
	}
	// Each record must be a distinct pointer, not the reused loop variable.
	seen := make(map[string]bool)
	for _, id := range w.ids {
		if seen[id] {
			t.Fatalf("id %s written twice", id)
		}
		seen[id] = true
	}
}

func TestNewWriterFormats(t *testing.T) {
	base := filepath.Join(t.TempDir(), "catalog")
	for _, format := range []string{FormatCSV, FormatJSON, FormatBoth} {
		w, err := NewWriter(format, base)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("%s close: %v", format, err)
		}
	}
	if _, err := NewWriter("xml", base); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
