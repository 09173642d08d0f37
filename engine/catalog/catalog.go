// Package catalog exposes the dealership brand/model catalog as an injected,
// read-only collaborator of the pricing engine.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/WessleyAI/pricing-engine/pkg/vehiclenlp"
)

// Entry is one brand/model pair of the catalog.
type Entry struct {
	BrandID   string `json:"brand_id"`
	BrandName string `json:"brand_name"`
	ModelID   string `json:"model_id"`
	ModelName string `json:"model_name"`
}

// Catalog resolves listing text to catalog identifiers.
type Catalog interface {
	// Resolve performs a case/diacritic-insensitive exact match.
	Resolve(ctx context.Context, brandText, modelText string) (Entry, bool, error)
	// Entries lists every brand/model pair, used for fuzzy matching.
	Entries(ctx context.Context) ([]Entry, error)
	// Lookup finds an entry by its identifiers.
	Lookup(ctx context.Context, brandID, modelID string) (Entry, bool, error)
}

// Refresher is implemented by catalogs that serve a cached snapshot of a
// remote source.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// BrandID derives the identifier used for a brand name: "Mercedes-Benz" -> "mercedes-benz".
func BrandID(name string) string {
	return strings.ReplaceAll(vehiclenlp.Fold(name), " ", "-")
}

// ModelID derives the identifier used for a model of a brand: ("Toyota", "Corolla Cross") -> "toyota-corolla-cross".
func ModelID(brand, model string) string {
	return BrandID(brand) + "-" + strings.ReplaceAll(vehiclenlp.Fold(model), " ", "-")
}

// NewEntry builds an Entry with derived identifiers.
func NewEntry(brand, model string) Entry {
	return Entry{BrandID: BrandID(brand), BrandName: brand, ModelID: ModelID(brand, model), ModelName: model}
}

// Fingerprint identifies a catalog snapshot. It changes whenever an entry is
// added, removed or renamed.
func Fingerprint(entries []Entry) string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.BrandID + "|" + e.ModelID + "|" + e.BrandName + "|" + e.ModelName
	}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(sum[:16])
}

type textKey struct{ brand, model string }

type idKey struct{ brand, model string }

// Static is an immutable in-memory catalog.
type Static struct {
	entries []Entry
	byText  map[textKey]Entry
	byID    map[idKey]Entry
}

// NewStatic indexes entries. Later duplicates of the same ids are ignored.
func NewStatic(entries []Entry) *Static {
	s := &Static{
		byText: make(map[textKey]Entry, len(entries)),
		byID:   make(map[idKey]Entry, len(entries)),
	}
	for _, e := range entries {
		id := idKey{e.BrandID, e.ModelID}
		if _, dup := s.byID[id]; dup {
			continue
		}
		s.byID[id] = e
		s.entries = append(s.entries, e)
		s.byText[textKey{vehiclenlp.Fold(e.BrandName), vehiclenlp.Fold(e.ModelName)}] = e
	}
	return s
}

// Resolve implements Catalog. Brand aliases ("vw", "chevy") are honored.
func (s *Static) Resolve(_ context.Context, brandText, modelText string) (Entry, bool, error) {
	brand := vehiclenlp.Fold(brandText)
	model := vehiclenlp.Fold(modelText)
	if e, ok := s.byText[textKey{brand, model}]; ok {
		return e, true, nil
	}
	if alias := vehiclenlp.CanonicalMake(brand); alias != brand {
		e, ok := s.byText[textKey{alias, model}]
		return e, ok, nil
	}
	return Entry{}, false, nil
}

// Entries implements Catalog.
func (s *Static) Entries(context.Context) ([]Entry, error) {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Lookup implements Catalog.
func (s *Static) Lookup(_ context.Context, brandID, modelID string) (Entry, bool, error) {
	e, ok := s.byID[idKey{brandID, modelID}]
	return e, ok, nil
}

// Len returns the number of entries.
func (s *Static) Len() int { return len(s.entries) }
