package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"golang.org/x/time/rate"
)

func feedServer(t *testing.T, pages map[string]feedPage) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHTTPJSONConnectorPaginates(t *testing.T) {
	km := 52000
	srv, hits := feedServer(t, map[string]feedPage{
		"/feed": {
			Listings: []feedListing{{ExternalRef: "A1", Brand: "Toyota", Model: "Corolla", Year: 2020, Price: 20000, Currency: "USD", Mileage: &km}},
			Next:     "/feed/2",
		},
		"/feed/2": {
			Listings: []feedListing{{ExternalRef: "A2", Brand: "Ford", Model: "Ranger", Year: 2019, Price: 30000, Location: "Córdoba"}},
		},
	})
	c := NewHTTPJSONConnector(domain.SourceAutocosmos, srv.URL+"/feed",
		WithHeader("Authorization", "Bearer token"), WithRateLimit(rate.Inf, 1))

	got, err := c.FetchListings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || hits.Load() != 2 {
		t.Fatalf("got %d listings in %d requests", len(got), hits.Load())
	}
	if got[0].Source != domain.SourceAutocosmos || got[0].ExternalRef != "A1" || *got[0].Mileage != 52000 || got[0].Currency != "USD" {
		t.Fatalf("first listing: %+v", got[0])
	}
	if got[1].BrandText != "Ford" || got[1].Location != "Córdoba" || got[1].Mileage != nil {
		t.Fatalf("second listing: %+v", got[1])
	}
}

func TestHTTPJSONConnectorMaxPages(t *testing.T) {
	srv, hits := feedServer(t, map[string]feedPage{
		"/loop": {Listings: []feedListing{{ExternalRef: "L", Brand: "Fiat", Model: "Cronos", Year: 2022, Price: 1}}, Next: "/loop"},
	})
	c := NewHTTPJSONConnector(domain.SourceDemotores, srv.URL+"/loop",
		WithHeader("Authorization", "Bearer token"), WithRateLimit(rate.Inf, 1), WithMaxPages(3))
	got, err := c.FetchListings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || hits.Load() != 3 {
		t.Fatalf("expected 3 pages, got %d listings / %d hits", len(got), hits.Load())
	}
}

func TestHTTPJSONConnectorErrors(t *testing.T) {
	srv, _ := feedServer(t, map[string]feedPage{"/feed": {}})
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer bad.Close()

	tests := []struct {
		name string
		c    *HTTPJSONConnector
	}{
		{"unauthorized", NewHTTPJSONConnector(domain.SourceAutocosmos, srv.URL+"/feed", WithRateLimit(rate.Inf, 1))},
		{"not found", NewHTTPJSONConnector(domain.SourceAutocosmos, srv.URL+"/missing", WithHeader("Authorization", "Bearer token"))},
		{"not json", NewHTTPJSONConnector(domain.SourceAutocosmos, bad.URL)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.c.FetchListings(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHTTPJSONConnectorRespectsContext(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()
	c := NewHTTPJSONConnector(domain.SourceAutocosmos, slow.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := c.FetchListings(ctx); err == nil {
		t.Fatal("expected deadline error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("request outlived its context")
	}
}

func TestResolveNext(t *testing.T) {
	tests := []struct{ cur, next, want string }{
		{"http://x/feed?page=1", "", ""},
		{"http://x/feed?page=1", "?page=2", "http://x/feed?page=2"},
		{"http://x/a/feed", "/b", "http://x/b"},
		{"http://x/feed", "http://y/feed", "http://y/feed"},
	}
	for _, tt := range tests {
		got, err := resolveNext(tt.cur, tt.next)
		if err != nil || got != tt.want {
			t.Errorf("resolveNext(%q, %q) = %q, %v", tt.cur, tt.next, got, err)
		}
	}
}
