package parsing

import (
	"regexp"

	"invoicepipe/internal"
	"invoicepipe/internal/supplier"
)

// CraftDirect is a distributor. Its descriptions carry the resale SKU
// ("CD-LF1142; Lawn Cuts; Stitched Rectangle Frames Dies"); the resale
// prefix is dropped so the manufacturer SKU is what gets stored, and the
// maker is recognised from that SKU.
type CraftDirect struct {
	layout rowLayout
}

func NewCraftDirect() *CraftDirect {
	makers := supplier.DefaultProfiles()
	return &CraftDirect{layout: rowLayout{
		supplierCode:   supplier.CodeCraftDirect,
		separator:      ";",
		joiner:         "; ",
		resalePrefixes: []string{"CD-"},
		meta: metadataPatterns{
			number: []*regexp.Regexp{
				regexp.MustCompile(`(?i)rechnungs?\s*-?\s*(?:nr\.?|nummer)\s*:?\s*([A-Z0-9][A-Z0-9\-/]*)`),
				englishNumber,
			},
			dates: []datePattern{{
				re:      regexp.MustCompile(`(?i)(?:rechnungsdatum|lieferdatum|datum|invoice\s+date)\s*:?\s*(\d{1,2}\.\d{1,2}\.\d{4})`),
				layouts: []string{"2.1.2006"},
			}},
			total: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:gesamtbetrag|rechnungsbetrag)\s*:?\s*([\d.,]+)`),
				englishTotal,
			},
			defaultCurrency: "EUR",
		},
		manufacturerOf: func(sku string) string {
			return supplier.ManufacturerForSKU(makers, sku)
		},
	}}
}

func (s *CraftDirect) SupplierCode() string { return supplier.CodeCraftDirect }

func (s *CraftDirect) Parse(doc internal.Document) (ParseResult, error) {
	return s.layout.parseTables(doc), nil
}
