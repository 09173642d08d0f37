package normalize

import (
	"context"
	"strings"

	"github.com/WessleyAI/pricing-engine/engine/catalog"
	"github.com/WessleyAI/pricing-engine/pkg/vehiclenlp"
)

// Matcher finds catalog entries for listing text that did not resolve
// exactly. It returns every entry sharing the best score; the normalizer
// breaks ties.
type Matcher interface {
	Match(ctx context.Context, brandText, modelText string, entries []catalog.Entry) []catalog.Entry
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(ctx context.Context, brandText, modelText string, entries []catalog.Entry) []catalog.Entry

func (f MatcherFunc) Match(ctx context.Context, brandText, modelText string, entries []catalog.Entry) []catalog.Entry {
	return f(ctx, brandText, modelText, entries)
}

// DefaultThreshold is the minimum edit-distance similarity for a fuzzy hit.
const DefaultThreshold = 0.8

// Match tiers, best first.
const (
	tierNone = iota
	tierSimilar
	tierInside   // listing model is a part of the catalog name: "Serie" in "Serie 3"
	tierContains // catalog name appears in the listing model: "Corolla XEi 2.0"
	tierExact
)

type score struct {
	tier  int
	value float64
}

func (s score) better(o score) bool {
	if s.tier != o.tier {
		return s.tier > o.tier
	}
	return s.value > o.value
}

// FuzzyMatcher matches brands through aliases and edit distance, and models
// through token containment and edit distance.
type FuzzyMatcher struct {
	Threshold float64
}

// NewFuzzyMatcher returns a FuzzyMatcher with DefaultThreshold.
func NewFuzzyMatcher() *FuzzyMatcher { return &FuzzyMatcher{Threshold: DefaultThreshold} }

// Match implements Matcher.
func (m *FuzzyMatcher) Match(_ context.Context, brandText, modelText string, entries []catalog.Entry) []catalog.Entry {
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	brand := vehiclenlp.CanonicalMake(vehiclenlp.Fold(brandText))
	modelTokens := vehiclenlp.Tokens(modelText)
	if brand == "" || len(modelTokens) == 0 {
		return nil
	}

	var (
		best    score
		matches []catalog.Entry
	)
	for _, e := range entries {
		b := brandScore(brand, e.BrandName, threshold)
		if b == 0 {
			continue
		}
		s := modelScore(modelText, modelTokens, e.ModelName, threshold)
		if s.tier == tierNone {
			continue
		}
		s.value = s.value*10 + b
		switch {
		case s.better(best):
			best = s
			matches = append(matches[:0], e)
		case s == best:
			matches = append(matches, e)
		}
	}
	return matches
}

// brandScore returns 1 for an exact (or aliased) brand, the similarity for a
// near miss, and 0 when the brand does not match.
func brandScore(folded, catalogBrand string, threshold float64) float64 {
	target := vehiclenlp.Fold(catalogBrand)
	if folded == target || vehiclenlp.Compact(folded) == vehiclenlp.Compact(target) {
		return 1
	}
	if vehiclenlp.ContainsTokens(vehiclenlp.Tokens(folded), vehiclenlp.Tokens(target)) {
		return 0.95
	}
	if sim := vehiclenlp.Similarity(vehiclenlp.Compact(folded), vehiclenlp.Compact(target)); sim >= threshold {
		return sim
	}
	return 0
}

func modelScore(modelText string, tokens []string, catalogModel string, threshold float64) score {
	target := vehiclenlp.Tokens(catalogModel)
	if len(target) == 0 {
		return score{}
	}
	if vehiclenlp.Compact(modelText) == vehiclenlp.Compact(catalogModel) {
		return score{tier: tierExact, value: 1}
	}
	if vehiclenlp.ContainsTokens(tokens, target) {
		// More catalog tokens covered is the more specific model.
		return score{tier: tierContains, value: float64(len(target)) / float64(len(tokens))}
	}
	if vehiclenlp.ContainsTokens(target, tokens) {
		return score{tier: tierInside, value: float64(len(tokens)) / float64(len(target))}
	}
	best := vehiclenlp.Similarity(vehiclenlp.Compact(modelText), vehiclenlp.Compact(catalogModel))
	// Trims and engine codes trail the model name, so also compare the
	// leading tokens of the same length as the catalog name.
	if len(tokens) > len(target) {
		head := strings.Join(tokens[:len(target)], "")
		best = max(best, vehiclenlp.Similarity(head, vehiclenlp.Compact(catalogModel)))
	}
	if best >= threshold {
		return score{tier: tierSimilar, value: best}
	}
	return score{}
}
