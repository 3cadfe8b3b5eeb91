package parsing

import (
	"regexp"

	"invoicepipe/internal"
	"invoicepipe/internal/supplier"
)

// LawnFawn reads direct manufacturer invoices whose description cell is
// "LF1142 - Lawn Cuts - Stitched Rectangle Frames Dies".
type LawnFawn struct {
	layout rowLayout
}

func NewLawnFawn() *LawnFawn {
	return &LawnFawn{layout: rowLayout{
		supplierCode: supplier.CodeLawnFawn,
		manufacturer: "Lawn Fawn",
		separator:    " - ",
		joiner:       " - ",
		meta: metadataPatterns{
			number: []*regexp.Regexp{englishNumber},
			dates: []datePattern{{
				re:      regexp.MustCompile(`(?i)(?:invoice|ship)\s*date\s*:?\s*(\d{1,2}/\d{1,2}/\d{4})`),
				layouts: []string{"1/2/2006"},
			}},
			total:           []*regexp.Regexp{englishTotal},
			defaultCurrency: "USD",
		},
	}}
}

func (s *LawnFawn) SupplierCode() string { return supplier.CodeLawnFawn }

func (s *LawnFawn) Parse(doc internal.Document) (ParseResult, error) {
	return s.layout.parseTables(doc), nil
}
