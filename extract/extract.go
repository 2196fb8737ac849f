// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package extract turns raw source pages into products, reviews and anomalies.
//
// Extraction is pure: it performs no I/O and identical pages always yield an
// identical Extraction. Malformed items are skipped and recorded as anomalies
// rather than failing the batch.
package extract

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/reviewmill/core"
	"github.com/tidwall/gjson"
)

// ErrNoUsablePages is returned when not a single page could be parsed.
var ErrNoUsablePages = errors.New("no usable pages")

const (
	DefaultProductName = "Unknown Product"
	DefaultAuthor      = "Anonymous"

	// DateLayout is the format of review submission dates in the feed.
	DateLayout = "Jan 2, 2006"

	productNameSelector = ".swan-site-main .swan-grid-container h1"
	productPageNumber   = -1
)

// Review feed fields.
const (
	fieldReviews  = "reviews"
	fieldID       = "id"
	fieldTitle    = "header"
	fieldBody     = "comments"
	fieldAuthor   = "nickname"
	fieldRating   = "rating"
	fieldVerified = "isVerifiedBuyer"
	fieldPosted   = "authorSubmissionDate"
	fieldImages   = "images"
	fieldImageID  = "id"
	fieldImageURL = "src"
)

// Extraction is the structured content of one fetch.
type Extraction struct {
	Product   core.Product
	Reviews   []*core.Review
	Anomalies []core.Anomaly
}

// Extractor parses pages produced by one source.
type Extractor struct {
	source string
	logger *slog.Logger
}

// New creates an extractor that stamps products with source.
func New(source string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{source: source, logger: logger.With("component", "extractor")}
}

// Extract parses pages fetched for productURL. Reviews are emitted in page
// order, then feed order; anomalies in the order they were found.
func (e *Extractor) Extract(productURL string, pages []core.RawPage) (*Extraction, error) {
	out := &Extraction{
		Product: core.Product{
			Source: e.source,
			URL:    productURL,
			Slug:   core.SlugFromURL(productURL),
			Name:   DefaultProductName,
		},
	}

	usable := 0
	var reviewPages []core.RawPage
	for _, page := range pages {
		switch page.Kind {
		case core.PageKindProduct:
			if e.parseProduct(page, out) {
				usable++
			}
		case core.PageKindReviews:
			reviewPages = append(reviewPages, page)
		default:
			out.anomaly(core.AnomalyParse, page.Number, "", fmt.Sprintf("unknown page kind %q", page.Kind))
		}
	}
	slices.SortStableFunc(reviewPages, func(a, b core.RawPage) int {
		return cmp.Compare(a.Number, b.Number)
	})

	seen := make(map[string]struct{})
	position := 0
	for _, page := range reviewPages {
		if e.parseReviews(page, out, seen, &position) {
			usable++
		}
	}

	if usable == 0 {
		return out, ErrNoUsablePages
	}
	if out.Product.ExternalID == "" {
		out.Product.ExternalID = out.Product.Slug
	}

	e.logger.Debug("extracted pages", "product", out.Product.ExternalID,
		"reviews", len(out.Reviews), "anomalies", len(out.Anomalies))
	return out, nil
}

func (x *Extraction) anomaly(kind core.AnomalyKind, page int, externalID, detail string) {
	x.Anomalies = append(x.Anomalies, core.Anomaly{Kind: kind, Page: page, ExternalID: externalID, Detail: detail})
}

func (e *Extractor) parseProduct(page core.RawPage, out *Extraction) bool {
	if len(bytes.TrimSpace(page.Body)) == 0 {
		out.anomaly(core.AnomalyParse, productPageNumber, "", "empty product page")
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		out.anomaly(core.AnomalyParse, productPageNumber, "", "undecodable product page: "+err.Error())
		return false
	}

	if page.URL != "" {
		out.Product.URL = page.URL
		out.Product.Slug = core.SlugFromURL(page.URL)
	}
	if name := strings.TrimSpace(doc.Find(productNameSelector).First().Text()); name != "" {
		out.Product.Name = name
	} else if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		out.Product.Name = title
	}
	out.Product.ExternalID = PageNameKey(doc)
	return true
}

// PageNameKey reads the feed key from the pageName meta tag. The tag content
// has the form "key:suffix"; only the key is returned.
func PageNameKey(doc *goquery.Document) string {
	content, ok := doc.Find(`meta[name="pageName"]`).First().Attr("content")
	if !ok {
		return ""
	}
	key, _, _ := strings.Cut(content, ":")
	return strings.TrimSpace(key)
}

func (e *Extractor) parseReviews(page core.RawPage, out *Extraction, seen map[string]struct{}, position *int) bool {
	if !gjson.ValidBytes(page.Body) {
		out.anomaly(core.AnomalyParse, page.Number, "", "undecodable review page")
		return false
	}
	items := gjson.GetBytes(page.Body, fieldReviews)
	if !items.IsArray() {
		out.anomaly(core.AnomalyParse, page.Number, "", "review page has no reviews array")
		return false
	}

	for i, item := range items.Array() {
		*position++
		review, ok := parseReview(item, page.Number, i, out)
		if !ok {
			continue
		}
		if _, dup := seen[review.ExternalID]; dup {
			out.anomaly(core.AnomalyParse, page.Number, review.ExternalID, "duplicate review id")
			continue
		}
		seen[review.ExternalID] = struct{}{}
		review.Position = *position
		out.Reviews = append(out.Reviews, review)
	}
	return true
}

// parseReview applies the feed schema to one item. It returns false when the
// item must be skipped; the reason has been recorded on out.
func parseReview(item gjson.Result, pageNumber, index int, out *Extraction) (*core.Review, bool) {
	if !item.IsObject() {
		out.anomaly(core.AnomalyParse, pageNumber, "", fmt.Sprintf("item %d is not an object", index))
		return nil, false
	}

	externalID := scalarString(item.Get(fieldID))
	if externalID == "" {
		out.anomaly(core.AnomalyParse, pageNumber, "", fmt.Sprintf("item %d has no id", index))
		return nil, false
	}

	review := &core.Review{
		ExternalID: externalID,
		Title:      strings.TrimSpace(item.Get(fieldTitle).String()),
		Body:       strings.TrimSpace(item.Get(fieldBody).String()),
		Author:     strings.TrimSpace(item.Get(fieldAuthor).String()),
		Verified:   item.Get(fieldVerified).Bool(),
	}
	if review.Title == "" && review.Body == "" {
		out.anomaly(core.AnomalyParse, pageNumber, externalID, "review has neither title nor text")
		return nil, false
	}
	if review.Author == "" {
		review.Author = DefaultAuthor
	}

	review.Rating = parseRating(item.Get(fieldRating), pageNumber, externalID, out)

	if posted := strings.TrimSpace(item.Get(fieldPosted).String()); posted != "" {
		t, err := time.Parse(DateLayout, posted)
		if err != nil {
			out.anomaly(core.AnomalyParse, pageNumber, externalID, fmt.Sprintf("unparseable date %q", posted))
		} else {
			review.PostedAt = t.UTC()
		}
	}

	item.Get(fieldImages).ForEach(func(_, img gjson.Result) bool {
		src := strings.TrimSpace(img.Get(fieldImageURL).String())
		if src == "" {
			return true
		}
		id := sanitizeID(scalarString(img.Get(fieldImageID)))
		if id == "" {
			id = ImageExternalID(src)
		}
		review.Images = append(review.Images, core.ImageRef{ExternalID: id, URL: src})
		return true
	})

	return review, true
}

func parseRating(v gjson.Result, pageNumber int, externalID string, out *Extraction) int {
	if v.Type != gjson.Number {
		rating, _ := core.ClampRating(0)
		out.anomaly(core.AnomalyRating, pageNumber, externalID, fmt.Sprintf("missing rating clamped to %d", rating))
		return rating
	}
	// Clamp before converting so huge values cannot overflow int.
	raw := math.Round(v.Float())
	rating := int(math.Min(math.Max(raw, core.MinRating), core.MaxRating))
	if float64(rating) != raw {
		out.anomaly(core.AnomalyRating, pageNumber, externalID, fmt.Sprintf("rating %g clamped to %d", raw, rating))
	}
	return rating
}

// scalarString renders string and numeric ids uniformly.
func scalarString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.Number:
		return v.Raw
	}
	return ""
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ImageExternalID derives a stable image id from its URL: the file name
// without extension, or a content hash of the URL when the name is unusable.
func ImageExternalID(src string) string {
	if u, err := url.Parse(src); err == nil {
		base := path.Base(u.Path)
		if base = sanitizeID(strings.TrimSuffix(base, path.Ext(base))); base != "" {
			return base
		}
	}
	return fmt.Sprintf("%016x", uint64(core.IDFromContent(src)))
}

// sanitizeID makes id safe for use as a storage key segment.
func sanitizeID(id string) string {
	return strings.Trim(unsafeIDChars.ReplaceAllString(id, "-"), "-")
}
