package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Port != "8080" || cfg.Pricing.DedupWindow.D() != 24*time.Hour || cfg.Pricing.MinCohort != 3 || cfg.NATS.Subject != "pricing.listings.raw" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

const sample = `
http:
  port: "9090"
postgres:
  dsn: postgres://pricing@localhost/pricing
pricing:
  base_currency: ARS
  rates:
    USD: 1000
  year_window: 2
  dedup_window: 12h
  retire_after: 720h
scrape:
  timeout: 45s
  feeds:
    mercadolibre: https://feeds.example.test/ml
  ai_pages:
    - https://example.test/autos
openai:
  api_key: sk-file
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, sample)
	cfg, err := Load(path, envMap(map[string]string{
		"OPENAI_API_KEY":         "sk-env",
		"YEAR_WINDOW":            "3",
		"SCRAPE_FEEDS":           "autocosmos=https://feeds.example.test/ac, demotores=https://feeds.example.test/dm",
		"SCRAPE_AI_PAGES":        "https://dealer.example.test/usados, ",
		"SCRAPE_NORMALIZE_AFTER": "true",
		"NEO4J_SEED":             "1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Port != "9090" || cfg.Postgres.DSN == "" || cfg.Pricing.Rates["USD"] != 1000 {
		t.Fatalf("file values not loaded: %+v", cfg)
	}
	if cfg.Pricing.DedupWindow.D() != 12*time.Hour || cfg.Pricing.RetireAfter.D() != 30*24*time.Hour || cfg.Scrape.Timeout.D() != 45*time.Second {
		t.Fatalf("durations: %+v", cfg.Pricing)
	}
	if cfg.OpenAI.APIKey != "sk-env" || cfg.Pricing.YearWindow != 3 {
		t.Fatal("env must override the file")
	}
	if len(cfg.Scrape.Feeds) != 2 || cfg.Scrape.Feeds["demotores"] != "https://feeds.example.test/dm" {
		t.Fatalf("feeds = %v", cfg.Scrape.Feeds)
	}
	if len(cfg.Scrape.AIPages) != 1 || !cfg.Scrape.NormalizeAfter || !cfg.Neo4j.Seed {
		t.Fatalf("scrape = %+v, neo4j seed = %v", cfg.Scrape, cfg.Neo4j.Seed)
	}
	if cfg.Pricing.MinCohort != 3 {
		t.Fatal("unset fields keep their defaults")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
		want string
	}{
		{"bad duration", "pricing:\n  dedup_window: soon\n", nil, "line 2"},
		{"bad yaml", "http: [", nil, "pricing.yaml"},
		{"bad env int", "", map[string]string{"YEAR_WINDOW": "two"}, "YEAR_WINDOW"},
		{"bad feed pair", "", map[string]string{"SCRAPE_FEEDS": "mercadolibre"}, "SCRAPE_FEEDS"},
		{"bad env bool", "", map[string]string{"NEO4J_SEED": "maybe"}, "NEO4J_SEED"},
		{"bad port", "", map[string]string{"PORT": "http"}, "http.port"},
		{"negative rate", "pricing:\n  rates:\n    USD: -1\n", nil, "pricing.rates.USD"},
		{"inverted outlier bounds", "pricing:\n  outlier_low: 3\n  outlier_high: 2\n", nil, "outlier bounds"},
		{"excel feed", "scrape:\n  feeds:\n    excel: https://x.test\n", nil, "not a marketplace source"},
		{"ai pages without key", "scrape:\n  ai_pages: [https://x.test]\n", nil, "openai.api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}
			_, err := Load(path, envMap(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %v does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = "0"
	cfg.Pricing.MinCohort = 0
	cfg.Scrape.Timeout = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"http.port", "pricing.min_cohort", "scrape.timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil)); err == nil {
		t.Fatal("expected error for missing file")
	}
}
