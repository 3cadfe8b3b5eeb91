package supplier

import (
	"strings"

	"invoicepipe/internal"
	"invoicepipe/internal/util"
)

const (
	IdentityWeight  = 0.3
	SignatureWeight = 0.2
)

type Match struct {
	SupplierCode   string   `json:"supplier_code"`
	Confidence     float64  `json:"confidence"`
	MatchedSignals []string `json:"matched_signals"`
}

// UnknownSupplierError is returned when no profile scores above zero.
type UnknownSupplierError struct {
	Supported []string
}

func (e *UnknownSupplierError) Error() string {
	return "supplier: unknown supplier (supported: " + strings.Join(e.Supported, ", ") + ")"
}

type Identifier struct {
	profiles []Profile
}

func NewIdentifier(profiles []Profile) *Identifier {
	return &Identifier{profiles: profiles}
}

func (i *Identifier) Codes() []string {
	out := make([]string, 0, len(i.profiles))
	for _, p := range i.profiles {
		out = append(out, p.Code)
	}
	return out
}

// Identify scores every profile against the page text and table cells.
// The highest score wins; on equal scores the earlier registered profile wins.
func (i *Identifier) Identify(doc internal.Document) (Match, error) {
	raw := documentText(doc)
	normalized := util.NormalizeText(raw)

	best := Match{}
	for _, p := range i.profiles {
		m := score(p, raw, normalized)
		if m.Confidence > best.Confidence {
			best = m
		}
	}
	if best.Confidence <= 0 {
		return Match{}, &UnknownSupplierError{Supported: i.Codes()}
	}
	return best, nil
}

func score(p Profile, raw, normalized string) Match {
	m := Match{SupplierCode: p.Code, MatchedSignals: []string{}}
	total := 0.0
	for _, identity := range p.Identities {
		if strings.Contains(normalized, util.NormalizeText(identity)) {
			total += IdentityWeight
			m.MatchedSignals = append(m.MatchedSignals, "identity:"+identity)
		}
	}
	for _, sig := range p.Signatures {
		if sig.MatchString(raw) {
			total += SignatureWeight
			m.MatchedSignals = append(m.MatchedSignals, "signature:"+sig.String())
		}
	}
	total *= p.Reliability
	if total > 1 {
		total = 1
	}
	m.Confidence = total
	return m
}

func documentText(doc internal.Document) string {
	parts := []string{doc.Text()}
	for _, t := range doc.Tables {
		for _, row := range t.Rows {
			parts = append(parts, strings.Join(row, "  "))
		}
	}
	return strings.Join(parts, "\n")
}
