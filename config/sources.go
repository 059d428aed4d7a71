package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/catalog-ingest/models"
)

// MaxPageSize is the largest page a catalog endpoint serves.
const MaxPageSize = 250

type sourcesFile struct {
	Sources []models.Source `yaml:"sources"`
}

// LoadSources reads and validates the sources file at path.
func LoadSources(path string) ([]models.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes a YAML sources document, applying defaults.
func ParseSources(data []byte) ([]models.Source, error) {
	var doc sourcesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("sources file lists no sources")
	}

	seen := make(map[string]struct{}, len(doc.Sources))
	out := make([]models.Source, 0, len(doc.Sources))
	for i, src := range doc.Sources {
		src.Name = strings.TrimSpace(src.Name)
		src.Endpoint = strings.TrimSpace(src.Endpoint)
		if src.PageSize == 0 {
			src.PageSize = MaxPageSize
		}
		if src.MaxPages == 0 {
			src.MaxPages = 1
		}
		if err := ValidateSource(src); err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if _, dup := seen[src.Name]; dup {
			return nil, fmt.Errorf("source %d: duplicate name %q", i, src.Name)
		}
		seen[src.Name] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}

// ValidateSource checks a single source descriptor.
func ValidateSource(src models.Source) error {
	if src.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	parsed, err := url.Parse(src.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint for %s: %w", src.Name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("endpoint for %s must be http or https", src.Name)
	}
	if parsed.Host == "" {
		return fmt.Errorf("endpoint for %s must include a host", src.Name)
	}
	if src.PageSize <= 0 || src.PageSize > MaxPageSize {
		return fmt.Errorf("page size for %s must be between 1 and %d", src.Name, MaxPageSize)
	}
	if src.MaxPages <= 0 {
		return fmt.Errorf("max pages for %s must be positive", src.Name)
	}
	return nil
}
