package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Defaults for HTTPJSONConnector.
const (
	DefaultMaxPages    = 20
	DefaultHTTPTimeout = 30 * time.Second
)

// feedPage is one page of a listings feed. Next, when set, is the URL of
// the following page and may be relative to the current one.
type feedPage struct {
	Listings []feedListing `json:"listings"`
	Next     string        `json:"next,omitempty"`
}

type feedListing struct {
	ExternalRef string     `json:"external_ref"`
	Brand       string     `json:"brand"`
	Model       string     `json:"model"`
	Year        int        `json:"year"`
	Price       float64    `json:"price"`
	Currency    string     `json:"currency"`
	Mileage     *int       `json:"mileage,omitempty"`
	Location    string     `json:"location,omitempty"`
	ScrapedAt   *time.Time `json:"scraped_at,omitempty"`
}

func (f feedListing) raw(src domain.Source) domain.RawListing {
	l := domain.RawListing{
		Source:      src,
		ExternalRef: f.ExternalRef,
		BrandText:   f.Brand,
		ModelText:   f.Model,
		Year:        f.Year,
		Price:       f.Price,
		Currency:    f.Currency,
		Mileage:     f.Mileage,
		Location:    f.Location,
	}
	if f.ScrapedAt != nil {
		l.ScrapedAt = *f.ScrapedAt
	}
	return l
}

// HTTPJSONConnector reads a paginated JSON listings feed for one source.
// Site-specific scraping lives behind the feed; this connector only speaks
// the feed format.
type HTTPJSONConnector struct {
	src      domain.Source
	url      string
	client   *resty.Client
	limiter  *rate.Limiter
	maxPages int
}

// HTTPOption configures an HTTPJSONConnector.
type HTTPOption func(*HTTPJSONConnector)

// WithRateLimit spaces page requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) HTTPOption {
	return func(c *HTTPJSONConnector) { c.limiter = rate.NewLimiter(r, max(burst, 1)) }
}

// WithMaxPages bounds how many pages one fetch follows.
func WithMaxPages(n int) HTTPOption {
	return func(c *HTTPJSONConnector) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithHeader adds a header to every request, e.g. an API token.
func WithHeader(key, value string) HTTPOption {
	return func(c *HTTPJSONConnector) { c.client.SetHeader(key, value) }
}

// WithRequestTimeout sets the timeout of each page request.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPJSONConnector) { c.client.SetTimeout(d) }
}

// NewHTTPJSONConnector creates a connector reading feedURL for src.
func NewHTTPJSONConnector(src domain.Source, feedURL string, opts ...HTTPOption) *HTTPJSONConnector {
	client := resty.New()
	client.SetTimeout(DefaultHTTPTimeout)
	client.SetHeader("Accept", "application/json")
	c := &HTTPJSONConnector{
		src:      src,
		url:      feedURL,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		maxPages: DefaultMaxPages,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Source implements Connector.
func (c *HTTPJSONConnector) Source() domain.Source { return c.src }

// FetchListings implements Connector. Any failed page fails the fetch.
func (c *HTTPJSONConnector) FetchListings(ctx context.Context) ([]domain.RawListing, error) {
	var out []domain.RawListing
	next := c.url
	for page := 0; next != "" && page < c.maxPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		p, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, f := range p.Listings {
			out = append(out, f.raw(c.src))
		}
		next, err = resolveNext(next, p.Next)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *HTTPJSONConnector) fetchPage(ctx context.Context, pageURL string) (feedPage, error) {
	var p feedPage
	resp, err := c.client.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return p, fmt.Errorf("scraper: get %s: %w", pageURL, err)
	}
	if resp.IsError() {
		return p, fmt.Errorf("scraper: get %s: status %d", pageURL, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return p, fmt.Errorf("scraper: decode %s: %w", pageURL, err)
	}
	return p, nil
}

func resolveNext(current, next string) (string, error) {
	if next == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("scraper: page url: %w", err)
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("scraper: next url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
