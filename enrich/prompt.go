package enrich

import (
	"strings"

	"github.com/aluiziolira/catalog-ingest/models"
)

const maxDescriptionRunes = 1500

// BuildPrompt renders the instruction sent alongside the structured fields.
func BuildPrompt(listing models.ValidatedListing) string {
	var b strings.Builder
	b.WriteString("Analyze this product and respond with only a JSON object with the keys ")
	b.WriteString(`"category", "subcategory", "colors", "materials", "style", "activity", "gender", "features", "search_terms". `)
	b.WriteString(`Lists must be arrays of short lowercase strings. "gender" is one of men, women, kids, unisex.`)
	b.WriteString("\n\nTitle: ")
	b.WriteString(listing.Title)
	if listing.Vendor != "" {
		b.WriteString("\nBrand: ")
		b.WriteString(listing.Vendor)
	}
	if listing.ProductType != "" {
		b.WriteString("\nType: ")
		b.WriteString(listing.ProductType)
	}
	if len(listing.Tags) > 0 {
		b.WriteString("\nTags: ")
		b.WriteString(strings.Join(listing.Tags, ", "))
	}
	if listing.Description != "" {
		b.WriteString("\nDescription: ")
		b.WriteString(truncateRunes(listing.Description, maxDescriptionRunes))
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
