package supplier

import (
	"regexp"

	"invoicepipe/internal/util"
)

// LookupSite describes where products of a supplier can be searched and how
// to read the search result page.
type LookupSite struct {
	Domain              string
	SearchURL           string // fmt template, %s is the escaped query
	ResultSelector      string
	TitleSelector       string
	DescriptionSelector string
	ImageSelector       string
	LinkSelector        string
}

type Profile struct {
	Code         string
	Name         string
	Manufacturer string
	// Identities are matched case-insensitively against normalized document text.
	Identities []string
	Signatures []*regexp.Regexp
	// Reliability scales the raw score; distinctive layouts earn more trust.
	Reliability    float64
	ResalePrefixes []string
	// SKUPattern matches the compacted manufacturer SKUs this maker issues.
	SKUPattern *regexp.Regexp
	Lookup     LookupSite
}

const (
	CodeLawnFawn    = "LAWNFAWN"
	CodeRanger      = "RANGER"
	CodeCraftDirect = "CRAFTDIRECT"
)

// DefaultProfiles returns the shipped suppliers in registration order.
// Registration order breaks score ties.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Code:         CodeLawnFawn,
			Name:         "Lawn Fawn",
			Manufacturer: "Lawn Fawn",
			Identities:   []string{"lawn fawn", "lawnfawn.com"},
			Signatures: []*regexp.Regexp{
				regexp.MustCompile(`\bLF\d{3,5}\s+-\s+[^-\n]+\s+-\s+\S`),
				regexp.MustCompile(`(?i)\bdescription\s+qty\s+(?:unit\s+)?price\s+amount\b`),
			},
			Reliability: 1.0,
			SKUPattern:  regexp.MustCompile(`^LF\d{3,5}$`),
			Lookup: LookupSite{
				Domain:              "www.lawnfawn.com",
				SearchURL:           "https://www.lawnfawn.com/search?type=product&q=%s",
				ResultSelector:      ".product-item",
				TitleSelector:       ".product-item__title",
				DescriptionSelector: ".product-item__description",
				ImageSelector:       "img",
				LinkSelector:        "a",
			},
		},
		{
			Code:         CodeRanger,
			Name:         "Ranger Ink & Art Products",
			Manufacturer: "Ranger",
			Identities:   []string{"ranger ink", "rangerink.com", "ranger industries"},
			Signatures: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Z]{3}\d{5}\s*\|\s*[^|\n]+\|`),
				regexp.MustCompile(`(?i)\bitem\s*#?\s+description\s+qty\b`),
			},
			Reliability: 0.9,
			SKUPattern:  regexp.MustCompile(`^[A-Z]{3}\d{5}$`),
			Lookup: LookupSite{
				Domain:              "rangerink.com",
				SearchURL:           "https://rangerink.com/search?q=%s",
				ResultSelector:      ".search-result",
				TitleSelector:       ".search-result__title",
				DescriptionSelector: ".search-result__excerpt",
				ImageSelector:       "img",
				LinkSelector:        "a",
			},
		},
		{
			Code:       CodeCraftDirect,
			Name:       "Craft Direct Distribution",
			Identities: []string{"craft direct", "craftdirect"},
			Signatures: []*regexp.Regexp{
				regexp.MustCompile(`\bCD-[A-Z0-9]+\s*;`),
				regexp.MustCompile(`(?i)\bdistributor\s+invoice\b`),
			},
			Reliability:    0.7,
			ResalePrefixes: []string{"CD-"},
			Lookup: LookupSite{
				Domain:              "www.craftdirect.com",
				SearchURL:           "https://www.craftdirect.com/catalogsearch/result/?q=%s",
				ResultSelector:      "li.product-item",
				TitleSelector:       ".product-item-name",
				DescriptionSelector: ".product-item-description",
				ImageSelector:       "img.product-image-photo",
				LinkSelector:        "a.product-item-link",
			},
		},
	}
}

// ManufacturerForSKU names the maker whose SKU pattern matches sku, or ""
// when no profile claims it.
func ManufacturerForSKU(profiles []Profile, sku string) string {
	code := util.CompactCode(sku)
	if code == "" {
		return ""
	}
	for _, p := range profiles {
		if p.Manufacturer != "" && p.SKUPattern != nil && p.SKUPattern.MatchString(code) {
			return p.Manufacturer
		}
	}
	return ""
}

// AllResalePrefixes collects resale prefixes of every profile.
func AllResalePrefixes(profiles []Profile) []string {
	out := []string{}
	for _, p := range profiles {
		out = append(out, p.ResalePrefixes...)
	}
	return out
}
