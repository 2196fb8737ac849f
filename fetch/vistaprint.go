package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/extract"
	"github.com/tidwall/gjson"
)

const (
	VistaprintName          = "vistaprint"
	DefaultVistaprintURL    = "https://www.vistaprint.com"
	DefaultVistaprintAPIURL = "https://rating-reviews.prod.merch.vpsvc.com/v1/reviews/vistaprint"
	DefaultPageSize         = 150
	DefaultMaxBodyBytes     = 16 << 20

	defaultLocale = "en-us"
	userAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
)

// VistaprintSource reads product pages from the storefront and review pages
// from the ratings API.
type VistaprintSource struct {
	client   *http.Client
	baseURL  string
	apiURL   string
	locale   string
	pageSize int
	maxBody  int64
	logger   *slog.Logger
}

// VistaprintOption configures a VistaprintSource.
type VistaprintOption func(*VistaprintSource) error

// WithHTTPClient sets the HTTP client. Default has a 30s timeout.
func WithHTTPClient(client *http.Client) VistaprintOption {
	return func(s *VistaprintSource) error {
		if client != nil {
			s.client = client
		}
		return nil
	}
}

// WithBaseURL overrides the storefront URL used for search and relative links.
func WithBaseURL(base string) VistaprintOption {
	return func(s *VistaprintSource) error {
		if _, err := url.Parse(base); err != nil {
			return fmt.Errorf("%w: %w", core.ErrInvalidURL, err)
		}
		s.baseURL = strings.TrimRight(base, "/")
		return nil
	}
}

// WithAPIURL overrides the ratings API base URL.
func WithAPIURL(api string) VistaprintOption {
	return func(s *VistaprintSource) error {
		if _, err := url.Parse(api); err != nil {
			return fmt.Errorf("%w: %w", core.ErrInvalidURL, err)
		}
		s.apiURL = strings.TrimRight(api, "/")
		return nil
	}
}

// WithPageSize sets the number of reviews requested per page. Default is 150.
func WithPageSize(size int) VistaprintOption {
	return func(s *VistaprintSource) error {
		if size < 1 {
			return fmt.Errorf("%w: page size %d", core.ErrInvalidLimit, size)
		}
		s.pageSize = size
		return nil
	}
}

// WithMaxBodyBytes caps the size of a single page. Default is 16 MiB.
func WithMaxBodyBytes(n int64) VistaprintOption {
	return func(s *VistaprintSource) error {
		if n < 1 {
			return fmt.Errorf("%w: max body bytes %d", core.ErrValidation, n)
		}
		s.maxBody = n
		return nil
	}
}

// WithSourceLogger sets a custom logger.
func WithSourceLogger(logger *slog.Logger) VistaprintOption {
	return func(s *VistaprintSource) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

func NewVistaprintSource(opts ...VistaprintOption) (*VistaprintSource, error) {
	s := &VistaprintSource{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  DefaultVistaprintURL,
		apiURL:   DefaultVistaprintAPIURL,
		locale:   defaultLocale,
		pageSize: DefaultPageSize,
		maxBody:  DefaultMaxBodyBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "vistaprint-source")
	return s, nil
}

func (s *VistaprintSource) Name() string {
	return VistaprintName
}

// PageSize returns the number of reviews requested per page.
func (s *VistaprintSource) PageSize() int {
	return s.pageSize
}

func (s *VistaprintSource) FetchProductPage(ctx context.Context, pageURL string) (core.RawPage, error) {
	body, contentType, err := s.get(ctx, pageURL, productHeaders())
	if err != nil {
		return core.RawPage{}, err
	}
	return core.RawPage{
		Kind:        core.PageKindProduct,
		URL:         pageURL,
		ContentType: contentType,
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func (s *VistaprintSource) FeedKey(page core.RawPage) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return "", err
	}
	if doc.Find("#reviews-details, #reviews-container").Length() == 0 {
		return "", nil
	}
	key := extract.PageNameKey(doc)
	if key == "" {
		return "", ErrNoFeedKey
	}
	return key, nil
}

func (s *VistaprintSource) reviewPageURL(feedKey string, n int) string {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(s.pageSize))
	q.Set("sortBy", "Newest")
	q.Set("startFrom", strconv.Itoa(n*s.pageSize))
	return fmt.Sprintf("%s/%s/%s?%s", s.apiURL, s.locale, url.PathEscape(feedKey), q.Encode())
}

func (s *VistaprintSource) FetchReviewPage(ctx context.Context, feedKey string, n int) (core.RawPage, bool, error) {
	pageURL := s.reviewPageURL(feedKey, n)
	body, contentType, err := s.get(ctx, pageURL, reviewHeaders())
	if err != nil {
		return core.RawPage{}, false, err
	}
	page := core.RawPage{
		Kind:        core.PageKindReviews,
		Number:      n,
		URL:         pageURL,
		ContentType: contentType,
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}
	return page, HasNextPage(body), nil
}

// HasNextPage reads the pagination block of a review page. Undecodable
// pages report no next page.
func HasNextPage(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	pagination := gjson.GetBytes(body, "pagination")
	current := pagination.Get("currentPageNumber")
	total := pagination.Get("pagesTotal")
	if !current.Exists() || !total.Exists() {
		return false
	}
	return current.Int() < total.Int()
}

func (s *VistaprintSource) Search(ctx context.Context, query string) ([]string, error) {
	searchURL := s.baseURL + "/search?" + url.Values{"query": {query}}.Encode()
	body, _, err := s.get(ctx, searchURL, productHeaders())
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(s.baseURL + "/")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find(`.product-tile-container a[data-cy="link-to-product-page-from-name"]`).Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	s.logger.Debug("search complete", "query", query, "results", len(links))
	return links, nil
}

func (s *VistaprintSource) get(ctx context.Context, target string, headers map[string]string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", core.ErrInvalidURL, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", core.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, "", &HTTPStatusError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading body: %w", core.ErrNetwork, err)
	}
	if int64(len(body)) > s.maxBody {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrPageTooLarge, target, s.maxBody)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func productHeaders() map[string]string {
	return map[string]string{
		"accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"accept-language":           "en",
		"sec-fetch-dest":            "document",
		"sec-fetch-mode":            "navigate",
		"sec-fetch-site":            "none",
		"upgrade-insecure-requests": "1",
		"user-agent":                userAgent,
	}
}

func reviewHeaders() map[string]string {
	return map[string]string{
		"accept":          "*/*",
		"accept-language": "en,en-US;q=0.9",
		"origin":          DefaultVistaprintURL,
		"referer":         DefaultVistaprintURL + "/",
		"sec-fetch-dest":  "empty",
		"sec-fetch-mode":  "cors",
		"sec-fetch-site":  "cross-site",
		"user-agent":      userAgent,
	}
}
