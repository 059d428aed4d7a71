package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aluiziolira/catalog-ingest/models"
)

const (
	fallbackCategory = "product"
	genderUnisex     = "unisex"
)

// Fallback derives a minimal attribute set from the listing alone.
func Fallback(listing models.ValidatedListing) models.EnrichedAttributes {
	terms := []string{}
	if title := strings.ToLower(strings.TrimSpace(listing.Title)); title != "" {
		terms = append(terms, title)
	}
	return models.EnrichedAttributes{
		Category:     fallbackCategory,
		Subcategory:  "",
		Colors:       []string{},
		Materials:    []string{},
		Style:        "",
		Activity:     "",
		TargetGender: genderUnisex,
		Features:     []string{},
		SearchTerms:  terms,
	}
}

type attributesWire struct {
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Colors      []string `json:"colors"`
	Materials   []string `json:"materials"`
	Style       string   `json:"style"`
	Activity    string   `json:"activity"`
	Gender      string   `json:"gender"`
	Features    []string `json:"features"`
	SearchTerms []string `json:"search_terms"`
}

type chatEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ParseResponse maps a service body to attributes. The body is either the
// attribute object itself or a chat completion whose first message content
// holds that object.
func ParseResponse(body []byte, title string) (models.EnrichedAttributes, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return models.EnrichedAttributes{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	payload := body
	if _, ok := probe["category"]; !ok {
		if _, ok := probe["choices"]; !ok {
			return models.EnrichedAttributes{}, fmt.Errorf("%w: no category or choices", ErrMalformedResponse)
		}
		var env chatEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return models.EnrichedAttributes{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(env.Choices) == 0 {
			return models.EnrichedAttributes{}, fmt.Errorf("%w: empty choices", ErrMalformedResponse)
		}
		content, ok := extractJSONObject(env.Choices[0].Message.Content)
		if !ok {
			return models.EnrichedAttributes{}, fmt.Errorf("%w: no JSON object in content", ErrMalformedResponse)
		}
		payload = []byte(content)
	}

	var wire attributesWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return models.EnrichedAttributes{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return normalize(wire, title)
}

func normalize(w attributesWire, title string) (models.EnrichedAttributes, error) {
	category := cleanValue(w.Category)
	if category == "" {
		return models.EnrichedAttributes{}, fmt.Errorf("%w: empty category", ErrMalformedResponse)
	}

	attrs := models.EnrichedAttributes{
		Category:     category,
		Subcategory:  cleanValue(w.Subcategory),
		Colors:       cleanList(w.Colors),
		Materials:    cleanList(w.Materials),
		Style:        cleanValue(w.Style),
		Activity:     cleanValue(w.Activity),
		TargetGender: normalizeGender(w.Gender),
		Features:     cleanList(w.Features),
		SearchTerms:  cleanList(w.SearchTerms),
	}
	if len(attrs.SearchTerms) == 0 {
		if t := cleanValue(title); t != "" {
			attrs.SearchTerms = []string{t}
		}
	}
	return attrs, nil
}

func normalizeGender(g string) string {
	switch cleanValue(g) {
	case "men", "man", "male", "mens", "men's":
		return "men"
	case "women", "woman", "female", "womens", "women's":
		return "women"
	case "kids", "kid", "children", "child", "boys", "girls":
		return "kids"
	default:
		return genderUnisex
	}
}

func cleanValue(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = cleanValue(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// extractJSONObject pulls the outermost {...} span out of model output,
// which is often wrapped in prose or a code fence.
func extractJSONObject(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
