package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSourcesDefaults(t *testing.T) {
	doc := []byte(`
sources:
  - name: acme
    endpoint: https://acme.example/products.json
  - name: bolt
    endpoint: https://bolt.example/products.json
    page_size: 50
    max_pages: 3
`)
	sources, err := ParseSources(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources=%d, want 2", len(sources))
	}
	if sources[0].PageSize != MaxPageSize || sources[0].MaxPages != 1 {
		t.Fatalf("defaults not applied: %+v", sources[0])
	}
	if sources[1].PageSize != 50 || sources[1].MaxPages != 3 {
		t.Fatalf("explicit values lost: %+v", sources[1])
	}
}

func TestParseSourcesErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "empty", doc: "sources: []", wantErr: "no sources"},
		{name: "duplicate", doc: `
sources:
  - {name: a, endpoint: "https://a.example/p.json"}
  - {name: a, endpoint: "https://b.example/p.json"}
`, wantErr: "duplicate"},
		{name: "missing name", doc: `
sources:
  - {endpoint: "https://a.example/p.json"}
`, wantErr: "name"},
		{name: "bad scheme", doc: `
sources:
  - {name: a, endpoint: "ftp://a.example/p.json"}
`, wantErr: "http or https"},
		{name: "page size too large", doc: `
sources:
  - {name: a, endpoint: "https://a.example/p.json", page_size: 1000}
`, wantErr: "page size"},
		{name: "unknown field", doc: `
sources:
  - {name: a, endpoint: "https://a.example/p.json", pagesize: 10}
`, wantErr: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSources([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadSourcesMissingFile(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
