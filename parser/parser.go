// Package parser validates raw catalog listings and normalises their fields.
package parser

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/catalog-ingest/models"
)

// Reason labels why a listing was rejected.
type Reason string

const (
	ReasonMissingTitle Reason = "missing_title"
	ReasonMissingImage Reason = "missing_image"
	ReasonInvalidPrice Reason = "invalid_price"
	ReasonMissingURL   Reason = "missing_url"
	ReasonDuplicate    Reason = "duplicate"
	ReasonMalformed    Reason = "malformed"
)

// Rejection describes a listing dropped before enrichment. It is an expected
// filtering outcome, not a failure.
type Rejection struct {
	Reason    Reason
	ListingID string
	Title     string
}

func (r *Rejection) String() string {
	return string(r.Reason) + " (" + r.ListingID + ")"
}

// Validate applies the required-field checks to raw. A listing needs a title,
// an image, a positive price, and a resolvable product URL.
func Validate(raw models.RawListing) (models.ValidatedListing, *Rejection) {
	key := ListingKey(raw)
	title := strings.TrimSpace(raw.Title)
	reject := func(reason Reason) (models.ValidatedListing, *Rejection) {
		return models.ValidatedListing{}, &Rejection{Reason: reason, ListingID: key, Title: title}
	}

	if raw.DecodeErr != nil {
		return reject(ReasonMalformed)
	}
	if title == "" {
		return reject(ReasonMissingTitle)
	}
	image := FirstImage(raw.Images)
	if image == "" {
		return reject(ReasonMissingImage)
	}
	if len(raw.Variants) == 0 {
		return reject(ReasonInvalidPrice)
	}
	price, ok := ParsePrice(raw.Variants[0].Price.String())
	if !ok || price <= 0 {
		return reject(ReasonInvalidPrice)
	}
	productURL := ProductURL(raw.StoreURL, raw.Handle)
	if productURL == "" || key == "" {
		return reject(ReasonMissingURL)
	}

	return models.ValidatedListing{
		ID:          RecordID(raw.SourceName, key),
		ListingID:   key,
		SourceName:  raw.SourceName,
		Title:       title,
		Description: PlainText(raw.BodyHTML),
		Tags:        normalizeTags(raw.Tags),
		Vendor:      strings.TrimSpace(raw.Vendor),
		ProductType: strings.TrimSpace(raw.ProductType),
		Price:       price,
		ImageURL:    image,
		ProductURL:  productURL,
	}, nil
}

// ListingKey returns the source-local identity of a listing: its id, or its
// handle when the source omits ids.
func ListingKey(raw models.RawListing) string {
	if id := strings.TrimSpace(raw.ID.String()); id != "" {
		return id
	}
	return strings.TrimSpace(raw.Handle)
}

// RecordID namespaces a listing key by source so ids stay stable across runs.
func RecordID(sourceName, key string) string {
	return sourceName + ":" + key
}

// ParsePrice strips currency symbols and thousands separators from text.
func ParsePrice(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	value, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// FirstImage returns the first usable image URL. Protocol-relative URLs are
// upgraded to https.
func FirstImage(images []models.RawImage) string {
	for _, img := range images {
		src := strings.TrimSpace(img.Src)
		if src == "" {
			continue
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		return src
	}
	return ""
}

// ProductURL builds the storefront URL for handle on the store at storeURL.
func ProductURL(storeURL, handle string) string {
	handle = strings.Trim(strings.TrimSpace(handle), "/")
	if handle == "" || storeURL == "" {
		return ""
	}
	base, err := url.Parse(storeURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return ""
	}
	return base.Scheme + "://" + base.Host + "/products/" + url.PathEscape(handle)
}

// PlainText flattens HTML to whitespace-collapsed text.
func PlainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	text := html
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		text = doc.Text()
	}
	return strings.Join(strings.Fields(text), " ")
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
