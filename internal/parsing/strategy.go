package parsing

import (
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"invoicepipe/internal"
)

// ParsingStrategy turns one supplier's document layout into invoice
// metadata and structured line items.
type ParsingStrategy interface {
	SupplierCode() string
	Parse(doc internal.Document) (ParseResult, error)
}

// RowParseError describes a candidate row that could not be structured.
// It is collected on the result, never returned.
type RowParseError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e RowParseError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Reason
}

type ParseResult struct {
	Metadata      internal.InvoiceMetadata
	Items         []internal.LineItem
	RowErrors     []RowParseError
	CandidateRows int
	SuccessRatio  float64
}

func (r *ParseResult) finish() {
	if r.CandidateRows == 0 {
		r.SuccessRatio = 0
		return
	}
	r.SuccessRatio = float64(len(r.Items)) / float64(r.CandidateRows)
}

type Registry struct {
	strategies map[string]ParsingStrategy
}

func NewRegistry(strategies ...ParsingStrategy) (*Registry, error) {
	r := &Registry{strategies: map[string]ParsingStrategy{}}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry holds one strategy per shipped supplier profile.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(NewLawnFawn(), NewRanger(), NewCraftDirect())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Register(s ParsingStrategy) error {
	code := s.SupplierCode()
	if _, exists := r.strategies[code]; exists {
		return eris.Errorf("parsing: strategy already registered for %s", code)
	}
	r.strategies[code] = s
	return nil
}

func (r *Registry) Get(code string) (ParsingStrategy, error) {
	s, ok := r.strategies[code]
	if !ok {
		return nil, eris.Errorf("parsing: no strategy for supplier %s", code)
	}
	return s, nil
}

func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.strategies))
	for code := range r.strategies {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
