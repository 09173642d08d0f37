package normalize

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCurrency is returned for a currency without a configured rate.
var ErrUnknownCurrency = errors.New("unknown currency")

// CurrencyConverter converts an amount into the dealership base currency.
type CurrencyConverter interface {
	ToBase(amount float64, currency string) (float64, error)
}

// ConverterFunc adapts a function to CurrencyConverter.
type ConverterFunc func(amount float64, currency string) (float64, error)

func (f ConverterFunc) ToBase(amount float64, currency string) (float64, error) {
	return f(amount, currency)
}

// Identity assumes every amount is already in the base currency.
var Identity = ConverterFunc(func(amount float64, _ string) (float64, error) { return amount, nil })

// StaticRates converts with fixed rates: Rates[c] is how many base units one
// unit of c is worth. Empty currency and Base itself convert 1:1.
type StaticRates struct {
	Base  string
	Rates map[string]float64
}

// ToBase implements CurrencyConverter.
func (s StaticRates) ToBase(amount float64, currency string) (float64, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if c == "" || c == strings.ToUpper(s.Base) {
		return amount, nil
	}
	rate, ok := s.Rates[c]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, c)
	}
	return amount * rate, nil
}
