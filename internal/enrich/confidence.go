package enrich

import "invoicepipe/internal/catalog"

const (
	ConfidenceNone      = 0
	ConfidenceExact     = 95
	ConfidenceSingle    = 80
	ConfidenceFew       = 60
	ConfidenceAmbiguous = 30
)

// Confidence scores a lookup: a single hit whose title or description names
// the key is near certain, any larger result set is treated as increasingly
// ambiguous.
func Confidence(results []catalog.Result, key string) int {
	switch n := len(results); {
	case n == 0:
		return ConfidenceNone
	case n == 1:
		r := results[0]
		if containsKey(r.Title+" "+r.Description, key) {
			return ConfidenceExact
		}
		return ConfidenceSingle
	case n <= 3:
		return ConfidenceFew
	default:
		return ConfidenceAmbiguous
	}
}

// bestResult prefers the first hit that names the key.
func bestResult(results []catalog.Result, key string) catalog.Result {
	for _, r := range results {
		if containsKey(r.Title+" "+r.Description, key) {
			return r
		}
	}
	return results[0]
}
