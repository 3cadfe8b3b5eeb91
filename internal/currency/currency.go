package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Converter normalizes prices into the base currency with static rates.
type Converter struct {
	base  string
	rates map[string]decimal.Decimal
}

// NewConverter takes rates as "units of base per unit of currency".
func NewConverter(base string, rates map[string]decimal.Decimal) *Converter {
	normalized := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		normalized[strings.ToUpper(code)] = rate
	}
	return &Converter{base: strings.ToUpper(base), rates: normalized}
}

func (c *Converter) Base() string { return c.base }

// Normalize returns nil for an unknown currency.
func (c *Converter) Normalize(amount decimal.Decimal, code string) *decimal.Decimal {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == c.base {
		v := amount
		return &v
	}
	rate, ok := c.rates[code]
	if !ok {
		return nil
	}
	v := amount.Mul(rate).Round(4)
	return &v
}
