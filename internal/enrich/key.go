package enrich

import (
	"fmt"
	"strings"

	"invoicepipe/internal/util"
)

// ValidationError fails a single attempt: the SKU cannot be turned into a
// lookup key.
type ValidationError struct {
	SKU    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("enrich: invalid sku %q: %s", e.SKU, e.Reason)
}

// LookupKey strips known resale prefixes, uppercases and drops separators.
func LookupKey(sku string, resalePrefixes []string) (string, error) {
	s := strings.TrimSpace(sku)
	if s == "" {
		return "", &ValidationError{SKU: sku, Reason: "empty sku"}
	}
	upper := strings.ToUpper(s)
	for _, prefix := range resalePrefixes {
		if p := strings.ToUpper(prefix); p != "" && strings.HasPrefix(upper, p) && len(upper) > len(p) {
			upper = upper[len(p):]
			break
		}
	}

	key := strings.NewReplacer(" ", "", "-", "", "_", "", ".", "", "/", "", "\u00a0", "").Replace(upper)
	if !util.IsAlphanumeric(key) {
		return "", &ValidationError{SKU: sku, Reason: "lookup key must be letters and digits only"}
	}
	return key, nil
}

// containsKey reports whether the key appears in text once both are
// reduced to letters and digits.
func containsKey(text, key string) bool {
	if key == "" {
		return false
	}
	return strings.Contains(util.CompactCode(text), key)
}
