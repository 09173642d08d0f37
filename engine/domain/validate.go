package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MinModelYear is the earliest year we accept.
const MinModelYear = 1950

// MaxModelYear returns the latest accepted year (next year's models included).
func MaxModelYear(now time.Time) int { return now.Year() + 1 }

// ValidateRawListing checks a RawListing before it enters the raw store.
func ValidateRawListing(l RawListing, now time.Time) error {
	if !l.Source.Valid() {
		return NewValidationError("source", string(l.Source), ErrUnknownSource)
	}
	if strings.TrimSpace(l.BrandText) == "" {
		return NewValidationError("brand", l.BrandText, ErrMissingField)
	}
	if strings.TrimSpace(l.ModelText) == "" {
		return NewValidationError("model", l.ModelText, ErrMissingField)
	}
	if math.IsNaN(l.Price) || math.IsInf(l.Price, 0) {
		return NewValidationError("price", fmt.Sprintf("%v", l.Price), ErrUnparseable)
	}
	if l.Price <= 0 {
		return NewValidationError("price", fmt.Sprintf("%.2f", l.Price), ErrInvalidPrice)
	}
	if l.Year < MinModelYear || l.Year > MaxModelYear(now) {
		return NewValidationError("year", fmt.Sprintf("%d", l.Year), ErrYearOutOfRange)
	}
	if l.Mileage != nil && *l.Mileage < 0 {
		return NewValidationError("mileage", fmt.Sprintf("%d", *l.Mileage), ErrUnparseable)
	}
	return nil
}

// ValidateVehicle checks the shape of a Vehicle. Catalog membership is
// checked by the analyzer, which owns the catalog.
func ValidateVehicle(v Vehicle) error {
	if v.BrandID == "" {
		return NewValidationError("brand_id", v.BrandID, ErrMissingField)
	}
	if v.ModelID == "" {
		return NewValidationError("model_id", v.ModelID, ErrMissingField)
	}
	if v.ListPrice <= 0 {
		return NewValidationError("list_price", fmt.Sprintf("%.2f", v.ListPrice), ErrInvalidPrice)
	}
	return nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }
