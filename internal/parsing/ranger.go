package parsing

import (
	"regexp"

	"invoicepipe/internal"
	"invoicepipe/internal/supplier"
)

// Ranger reads pipe separated descriptions: "TDO56010 | Distress Oxide | Black Soot".
type Ranger struct {
	layout rowLayout
}

func NewRanger() *Ranger {
	return &Ranger{layout: rowLayout{
		supplierCode: supplier.CodeRanger,
		manufacturer: "Ranger",
		separator:    "|",
		joiner:       " | ",
		meta: metadataPatterns{
			number: []*regexp.Regexp{
				englishNumber,
				regexp.MustCompile(`(?i)\binv\s*#\s*([A-Z0-9][A-Z0-9\-]*)`),
			},
			dates: []datePattern{
				{
					re:      regexp.MustCompile(`(?i)(?:invoice|ship)\s*date\s*:?\s*([A-Z][a-z]{2,8}\.?\s+\d{1,2},\s*\d{4})`),
					layouts: []string{"Jan 2, 2006", "January 2, 2006", "Jan. 2, 2006"},
				},
				{
					re:      regexp.MustCompile(`(?i)date\s*:?\s*(\d{4}-\d{2}-\d{2})`),
					layouts: []string{"2006-01-02"},
				},
			},
			total:           []*regexp.Regexp{englishTotal},
			defaultCurrency: "USD",
		},
	}}
}

func (s *Ranger) SupplierCode() string { return supplier.CodeRanger }

func (s *Ranger) Parse(doc internal.Document) (ParseResult, error) {
	return s.layout.parseTables(doc), nil
}
