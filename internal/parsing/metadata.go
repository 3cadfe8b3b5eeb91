package parsing

import (
	"regexp"
	"strings"
	"time"

	"invoicepipe/internal"
	"invoicepipe/internal/util"
)

type datePattern struct {
	re      *regexp.Regexp
	layouts []string
}

type metadataPatterns struct {
	number          []*regexp.Regexp
	dates           []datePattern
	total           []*regexp.Regexp
	defaultCurrency string
}

var (
	reCurrencyCode = regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD)\b`)

	englishNumber = regexp.MustCompile(`(?i)invoice\s*(?:no\.?|number|#)\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*)`)
	englishTotal  = regexp.MustCompile(`(?i)\b(?:invoice\s+total|total\s+due|amount\s+due|grand\s+total)\s*:?\s*([$€£]?\s*[\d.,]+)`)
)

// extract applies the header regexes to the page text. Anything not found
// stays zero-valued; the currency falls back to the supplier default.
func (m metadataPatterns) extract(text string) internal.InvoiceMetadata {
	meta := internal.InvoiceMetadata{Currency: detectCurrency(text, m.defaultCurrency)}

	for _, re := range m.number {
		if match := re.FindStringSubmatch(text); len(match) > 1 {
			meta.InvoiceNumber = strings.TrimSpace(match[1])
			break
		}
	}

dates:
	for _, dp := range m.dates {
		match := dp.re.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		value := util.NormalizeSpaces(match[1])
		for _, layout := range dp.layouts {
			if parsed, err := time.Parse(layout, value); err == nil {
				meta.InvoiceDate = &parsed
				break dates
			}
		}
	}

	for _, re := range m.total {
		if match := re.FindStringSubmatch(text); len(match) > 1 {
			if v, ok := util.ParseDecimal(match[1]); ok {
				meta.Total = v
				break
			}
		}
	}
	return meta
}

func detectCurrency(text, fallback string) string {
	if match := reCurrencyCode.FindStringSubmatch(text); len(match) > 1 {
		return match[1]
	}
	switch {
	case strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(text, "£"):
		return "GBP"
	}
	return fallback
}
