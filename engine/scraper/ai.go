package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/go-resty/resty/v2"
	"github.com/sashabaranov/go-openai"
)

// Defaults for AIExtractor.
const (
	DefaultAIModel  = openai.GPT4oMini
	maxPageChars    = 24000
	maxAnswerTokens = 4096
	extractorPrompt = `You extract used-car listings from marketplace page text.
Answer with a JSON object {"listings": [...]}. Each listing has the keys
brand, model, year (integer), price (number, no separators), currency
(ISO 4217 code), mileage (integer km or null), location and url (the listing
link, or empty). Skip anything that is not a vehicle for sale. Never invent
values; leave unknown fields empty.`
)

// chatCompleter is the part of *openai.Client the extractor uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type aiAnswer struct {
	Listings []struct {
		Brand    string  `json:"brand"`
		Model    string  `json:"model"`
		Year     int     `json:"year"`
		Price    float64 `json:"price"`
		Currency string  `json:"currency"`
		Mileage  *int    `json:"mileage"`
		Location string  `json:"location"`
		URL      string  `json:"url"`
	} `json:"listings"`
}

// AIExtractor turns arbitrary listing pages into raw listings with a chat
// completion model. It reports its rows as domain.SourceAI.
type AIExtractor struct {
	llm   chatCompleter
	model string
	pages []string
	http  *resty.Client
	log   *slog.Logger
}

// NewAIExtractor creates an extractor reading pages (URLs) through client.
func NewAIExtractor(client *openai.Client, model string, pages []string, log *slog.Logger) *AIExtractor {
	return newAIExtractor(client, model, pages, log)
}

func newAIExtractor(llm chatCompleter, model string, pages []string, log *slog.Logger) *AIExtractor {
	if model == "" {
		model = DefaultAIModel
	}
	if log == nil {
		log = slog.Default()
	}
	return &AIExtractor{
		llm:   llm,
		model: model,
		pages: pages,
		http:  resty.New().SetTimeout(DefaultHTTPTimeout),
		log:   log,
	}
}

// Source implements Connector.
func (a *AIExtractor) Source() domain.Source { return domain.SourceAI }

// FetchListings implements Connector. A page that cannot be fetched or
// understood is logged and skipped; the call fails only when every page does.
func (a *AIExtractor) FetchListings(ctx context.Context) ([]domain.RawListing, error) {
	var (
		out     []domain.RawListing
		lastErr error
		failed  int
	)
	now := time.Now().UTC()
	for _, page := range a.pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listings, err := a.extract(ctx, page)
		if err != nil {
			a.log.Warn("scraper: ai extraction failed", "page", page, "error", err)
			lastErr = err
			failed++
			continue
		}
		for i := range listings {
			listings[i].ScrapedAt = now
		}
		out = append(out, listings...)
	}
	if len(a.pages) > 0 && failed == len(a.pages) {
		return nil, lastErr
	}
	return out, nil
}

func (a *AIExtractor) extract(ctx context.Context, page string) ([]domain.RawListing, error) {
	resp, err := a.http.R().SetContext(ctx).Get(page)
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get page: status %d", resp.StatusCode())
	}
	text := PageText(resp.String())
	if text == "" {
		return nil, nil
	}

	completion, err := a.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: maxAnswerTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractorPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Page " + page + ":\n\n" + text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: no choices")
	}

	var ans aiAnswer
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &ans); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	out := make([]domain.RawListing, 0, len(ans.Listings))
	for _, l := range ans.Listings {
		out = append(out, domain.RawListing{
			Source:      domain.SourceAI,
			ExternalRef: l.URL,
			BrandText:   l.Brand,
			ModelText:   l.Model,
			Year:        l.Year,
			Price:       l.Price,
			Currency:    l.Currency,
			Mileage:     l.Mileage,
			Location:    l.Location,
		})
	}
	return out, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
)

// PageText strips markup from an HTML page, collapses whitespace and caps
// the result to what fits in one prompt.
func PageText(html string) string {
	s := scriptRe.ReplaceAllString(html, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxPageChars {
		s = strings.ToValidUTF8(s[:maxPageChars], "")
	}
	return s
}
