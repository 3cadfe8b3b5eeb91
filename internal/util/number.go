package util

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	reThousandsDot   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reThousandsComma = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	reMixedEuropean  = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+,\d+$`)
	reMixedEnglish   = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+\.\d+$`)
	reNumberish      = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
	currencyNoise    = strings.NewReplacer("$", "", "€", "", "£", "", "USD", "", "EUR", "", "GBP", "", "CAD", "", "AUD", "", " ", "", "\u00a0", "")
)

// ParseDecimal reads a money or quantity cell. Blank or non-numeric input
// yields zero and ok=false; it never fails.
func ParseDecimal(input string) (decimal.Decimal, bool) {
	token := strings.ToUpper(strings.TrimSpace(input))
	if token == "" {
		return decimal.Zero, false
	}
	negative := false
	if strings.HasPrefix(token, "(") && strings.HasSuffix(token, ")") {
		negative = true
		token = strings.TrimSuffix(strings.TrimPrefix(token, "("), ")")
	}
	token = currencyNoise.Replace(token)
	if strings.HasPrefix(token, "-") {
		negative = !negative
		token = strings.TrimPrefix(token, "-")
	}

	token = normalizeNumericToken(token)
	if !reNumberish.MatchString(token) {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		value = value.Neg()
	}
	return value, true
}

// DecimalOrZero is ParseDecimal without the ok flag.
func DecimalOrZero(input string) decimal.Decimal {
	value, _ := ParseDecimal(input)
	return value
}

func normalizeNumericToken(token string) string {
	switch {
	case reMixedEuropean.MatchString(token):
		return strings.ReplaceAll(strings.ReplaceAll(token, ".", ""), ",", ".")
	case reMixedEnglish.MatchString(token):
		return strings.ReplaceAll(token, ",", "")
	case reThousandsDot.MatchString(token):
		return strings.ReplaceAll(token, ".", "")
	case reThousandsComma.MatchString(token):
		return strings.ReplaceAll(token, ",", "")
	case strings.Contains(token, ",") && !strings.Contains(token, "."):
		return strings.ReplaceAll(token, ",", ".")
	}
	return token
}

// RelativeDelta returns |b-a| / |a|. A zero base yields 1 when b differs and 0 otherwise.
func RelativeDelta(a, b decimal.Decimal) float64 {
	if a.IsZero() {
		if b.IsZero() {
			return 0
		}
		return 1
	}
	delta, _ := b.Sub(a).Abs().Div(a.Abs()).Float64()
	return delta
}
