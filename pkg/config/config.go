// Package config loads engine configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "24h" or "90s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

type HTTP struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

type Postgres struct {
	// DSN selects Postgres storage. Empty keeps everything in memory.
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type Neo4j struct {
	// URL selects the graph catalog. Empty uses the built-in catalog.
	URL  string `yaml:"url"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	// Seed writes the built-in catalog into the graph at startup.
	Seed bool `yaml:"seed"`
}

type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type Pricing struct {
	BaseCurrency string             `yaml:"base_currency"`
	Rates        map[string]float64 `yaml:"rates"`
	YearWindow   int                `yaml:"year_window"`
	MileageRate  float64            `yaml:"mileage_rate"`
	DedupWindow  Duration           `yaml:"dedup_window"`
	RetireAfter  Duration           `yaml:"retire_after"`
	OutlierLow   float64            `yaml:"outlier_low"`
	OutlierHigh  float64            `yaml:"outlier_high"`
	MinCohort    int                `yaml:"min_cohort"`
}

type Scrape struct {
	Timeout  Duration `yaml:"timeout"`
	Interval Duration `yaml:"interval"`
	// Feeds maps a marketplace source to its JSON feed URL.
	Feeds map[string]string `yaml:"feeds"`
	// AIPages are listing pages read by the AI extractor.
	AIPages        []string `yaml:"ai_pages"`
	NormalizeAfter bool     `yaml:"normalize_after"`
}

type OpenAI struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type Inventory struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type Metrics struct {
	Port int `yaml:"port"`
}

// Config is the full engine configuration.
type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Postgres  Postgres  `yaml:"postgres"`
	Neo4j     Neo4j     `yaml:"neo4j"`
	NATS      NATS      `yaml:"nats"`
	Pricing   Pricing   `yaml:"pricing"`
	Scrape    Scrape    `yaml:"scrape"`
	OpenAI    OpenAI    `yaml:"openai"`
	Inventory Inventory `yaml:"inventory"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTP:     HTTP{Port: "8080", CORSOrigin: "*"},
		Postgres: Postgres{MaxConns: 10},
		Neo4j:    Neo4j{User: "neo4j"},
		NATS:     NATS{Subject: "pricing.listings.raw"},
		Pricing: Pricing{
			BaseCurrency: "ARS",
			YearWindow:   1,
			MileageRate:  0.05,
			DedupWindow:  Duration(24 * time.Hour),
			OutlierLow:   0.4,
			OutlierHigh:  2.5,
			MinCohort:    3,
		},
		Scrape: Scrape{Timeout: Duration(60 * time.Second)},
		OpenAI: OpenAI{Model: "gpt-4o-mini"},
	}
}

// FromEnv loads the file named by PRICING_CONFIG, if any, and overlays the
// process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv("PRICING_CONFIG"), os.Getenv)
}

// Load reads path (skipped when empty), applies env overrides and validates
// the result.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	e := env{get: getenv}
	e.str("PORT", &c.HTTP.Port)
	e.str("CORS_ORIGIN", &c.HTTP.CORSOrigin)
	e.str("PG_DSN", &c.Postgres.DSN)
	e.str("NEO4J_URL", &c.Neo4j.URL)
	e.str("NEO4J_USER", &c.Neo4j.User)
	e.str("NEO4J_PASS", &c.Neo4j.Pass)
	e.boolean("NEO4J_SEED", &c.Neo4j.Seed)
	e.str("NATS_URL", &c.NATS.URL)
	e.str("NATS_SUBJECT", &c.NATS.Subject)
	e.str("BASE_CURRENCY", &c.Pricing.BaseCurrency)
	e.integer("YEAR_WINDOW", &c.Pricing.YearWindow)
	e.float("MILEAGE_RATE", &c.Pricing.MileageRate)
	e.duration("DEDUP_WINDOW", &c.Pricing.DedupWindow)
	e.duration("RETIRE_AFTER", &c.Pricing.RetireAfter)
	e.duration("SCRAPE_TIMEOUT", &c.Scrape.Timeout)
	e.duration("SCRAPE_INTERVAL", &c.Scrape.Interval)
	e.boolean("SCRAPE_NORMALIZE_AFTER", &c.Scrape.NormalizeAfter)
	if v := getenv("SCRAPE_AI_PAGES"); v != "" {
		c.Scrape.AIPages = nil
		for _, page := range strings.Split(v, ",") {
			if page = strings.TrimSpace(page); page != "" {
				c.Scrape.AIPages = append(c.Scrape.AIPages, page)
			}
		}
	}
	e.str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	e.str("OPENAI_MODEL", &c.OpenAI.Model)
	e.str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	e.str("INVENTORY_URL", &c.Inventory.URL)
	e.str("INVENTORY_TOKEN", &c.Inventory.Token)
	e.integer("METRICS_PORT", &c.Metrics.Port)
	if v := getenv("SCRAPE_FEEDS"); v != "" {
		// mercadolibre=https://...,autocosmos=https://...
		c.Scrape.Feeds = map[string]string{}
		for _, pair := range strings.Split(v, ",") {
			src, u, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				e.errs = append(e.errs, fmt.Errorf("SCRAPE_FEEDS: %q is not source=url", pair))
				continue
			}
			c.Scrape.Feeds[strings.TrimSpace(src)] = strings.TrimSpace(u)
		}
	}
	if len(e.errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(e.errs...))
	}
	return nil
}

// env applies environment overrides, collecting parse errors.
type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key string, dst *string) {
	if v := e.get(key); v != "" {
		*dst = v
	}
}

func (e *env) integer(key string, dst *int) {
	if v := e.get(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *env) float(key string, dst *float64) {
	if v := e.get(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *env) boolean(key string, dst *bool) {
	if v := e.get(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *env) duration(key string, dst *Duration) {
	if v := e.get(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = Duration(d)
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if p, err := strconv.Atoi(c.HTTP.Port); err != nil || p <= 0 || p > 65535 {
		bad("http.port: %q is not a valid port", c.HTTP.Port)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		bad("metrics.port: %d out of range", c.Metrics.Port)
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		bad("nats.subject: required with nats.url")
	}
	pr := c.Pricing
	if strings.TrimSpace(pr.BaseCurrency) == "" {
		bad("pricing.base_currency: required")
	}
	for cur, rate := range pr.Rates {
		if rate <= 0 {
			bad("pricing.rates.%s: must be positive", cur)
		}
	}
	if pr.YearWindow < 0 {
		bad("pricing.year_window: must not be negative")
	}
	if pr.MileageRate < 0 {
		bad("pricing.mileage_rate: must not be negative")
	}
	if pr.DedupWindow.D() <= 0 {
		bad("pricing.dedup_window: must be positive")
	}
	if pr.RetireAfter.D() < 0 {
		bad("pricing.retire_after: must not be negative")
	}
	if pr.OutlierLow <= 0 || pr.OutlierHigh <= pr.OutlierLow {
		bad("pricing.outlier bounds: need 0 < low < high, got %v/%v", pr.OutlierLow, pr.OutlierHigh)
	}
	if pr.MinCohort < 1 {
		bad("pricing.min_cohort: must be at least 1")
	}
	if c.Scrape.Timeout.D() <= 0 {
		bad("scrape.timeout: must be positive")
	}
	if c.Scrape.Interval.D() < 0 {
		bad("scrape.interval: must not be negative")
	}
	for src, u := range c.Scrape.Feeds {
		s := domain.Source(src)
		if !s.Valid() || s.Spreadsheet() || s == domain.SourceAI {
			bad("scrape.feeds: %q is not a marketplace source", src)
		}
		if _, err := url.ParseRequestURI(u); err != nil {
			bad("scrape.feeds.%s: %v", src, err)
		}
	}
	if len(c.Scrape.AIPages) > 0 && c.OpenAI.APIKey == "" {
		bad("openai.api_key: required with scrape.ai_pages")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}
