package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation and contract failures.
var (
	ErrInvalidPrice        = errors.New("price must be positive")
	ErrYearOutOfRange      = errors.New("year out of range")
	ErrMissingField        = errors.New("missing required field")
	ErrUnknownSource       = errors.New("unknown source")
	ErrUnparseable         = errors.New("unparseable value")
	ErrInvalidPriceRange   = errors.New("invalid price range")
	ErrInvalidSteps        = errors.New("steps must be positive")
	ErrNoSheets            = errors.New("workbook has no recognized sheets")
	ErrInvalidVehicle      = errors.New("vehicle not in catalog")
	ErrCatalogMismatch     = errors.New("no catalog match")
	ErrConnector           = errors.New("connector failed")
	ErrConcurrencyConflict = errors.New("normalization already running")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ConnectorError reports a failed source connector call.
type ConnectorError struct {
	Source Source
	Err    error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("connector %s: %v", e.Source, e.Err)
}

func (e *ConnectorError) Unwrap() []error { return []error{ErrConnector, e.Err} }

// CatalogMismatchError reports brand/model text that could not be resolved.
type CatalogMismatchError struct {
	BrandText string
	ModelText string
}

func (e *CatalogMismatchError) Error() string {
	return fmt.Sprintf("catalog: no match for %q %q", e.BrandText, e.ModelText)
}

func (e *CatalogMismatchError) Unwrap() error { return ErrCatalogMismatch }

// InvalidVehicleError reports a vehicle whose brand/model is not in the catalog.
type InvalidVehicleError struct {
	VehicleID string
	BrandID   string
	ModelID   string
}

func (e *InvalidVehicleError) Error() string {
	return fmt.Sprintf("invalid vehicle %q: brand %q model %q not in catalog", e.VehicleID, e.BrandID, e.ModelID)
}

func (e *InvalidVehicleError) Unwrap() error { return ErrInvalidVehicle }

// ConcurrencyConflictError is returned when a second normalization run is
// attempted while one is in flight.
type ConcurrencyConflictError struct {
	Operation string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, ErrConcurrencyConflict)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }
