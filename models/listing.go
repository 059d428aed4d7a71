// Package models defines data structures shared by the ingestion pipeline.
package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Source is one external catalog endpoint to crawl. Sources are loaded once at
// startup and never mutated.
type Source struct {
	Name     string `yaml:"name" json:"name"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	PageSize int    `yaml:"page_size" json:"page_size"`
	MaxPages int    `yaml:"max_pages" json:"max_pages"`
}

// CatalogPage is the body returned by a catalog source endpoint. Products are
// kept raw so that one badly typed listing cannot spoil its siblings.
type CatalogPage struct {
	Products []json.RawMessage `json:"products"`
}

// Listings decodes every product. A product that does not decode is returned
// with DecodeErr set and whatever id could be recovered, so it is counted as
// a rejection rather than lost.
func (p CatalogPage) Listings() []RawListing {
	out := make([]RawListing, 0, len(p.Products))
	for _, item := range p.Products {
		var raw RawListing
		if err := json.Unmarshal(item, &raw); err != nil {
			var ident struct {
				ID     FlexString `json:"id"`
				Handle FlexString `json:"handle"`
			}
			_ = json.Unmarshal(item, &ident)
			raw = RawListing{ID: ident.ID, Handle: ident.Handle.String(), DecodeErr: err}
		}
		out = append(out, raw)
	}
	return out
}

// RawListing is a product exactly as a source returned it.
type RawListing struct {
	ID          FlexString   `json:"id"`
	Title       string       `json:"title"`
	BodyHTML    string       `json:"body_html"`
	Tags        Tags         `json:"tags"`
	Vendor      string       `json:"vendor"`
	ProductType string       `json:"product_type"`
	Handle      string       `json:"handle"`
	Variants    []RawVariant `json:"variants"`
	Images      []RawImage   `json:"images"`

	// Filled by the fetcher, never by the source.
	SourceName string `json:"-"`
	StoreURL   string `json:"-"`
	DecodeErr  error  `json:"-"`
}

// RawVariant carries the only variant field the pipeline reads.
type RawVariant struct {
	Price FlexString `json:"price"`
}

// RawImage is one listing image.
type RawImage struct {
	Src string `json:"src"`
}

// ValidatedListing is a RawListing that passed the required-field checks.
type ValidatedListing struct {
	ID          string
	ListingID   string
	SourceName  string
	Title       string
	Description string
	Tags        []string
	Vendor      string
	ProductType string
	Price       float64
	ImageURL    string
	ProductURL  string
}

// FlexString decodes a JSON string, number, or null into a string. Catalog
// sources disagree on whether ids and prices are quoted.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// booleans, objects and arrays carry no usable value
		*f = ""
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the decoded value.
func (f FlexString) String() string {
	return string(f)
}

// Tags decodes either a JSON array of strings or a single comma separated
// string.
type Tags []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = splitTags(s)
		return nil
	}
	var list []FlexString
	if err := json.Unmarshal(data, &list); err != nil {
		*t = nil
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if v := strings.TrimSpace(item.String()); v != "" {
			out = append(out, v)
		}
	}
	*t = out
	return nil
}

func splitTags(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
