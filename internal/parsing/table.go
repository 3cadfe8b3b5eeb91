package parsing

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"invoicepipe/internal"
	"invoicepipe/internal/util"
)

var (
	descProbes  = []string{"description", "bezeichnung", "product", "artikel", "item"}
	qtyProbes   = []string{"qty", "quantity", "menge", "units"}
	priceProbes = []string{"unit price", "price", "each", "preis"}
	totalProbes = []string{"amount", "line total", "total", "betrag", "summe"}

	reSummaryRow = regexp.MustCompile(`(?i)^(sub\s*-?total|total|grand total|shipping|freight|tax|vat|balance|discount|mwst|versand|zwischensumme|gesamt)\b`)
	reSKU        = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-/]*$`)
)

type columns struct {
	desc, qty, price, total int
}

// rowLayout is the part of a supplier layout that differs between strategies.
type rowLayout struct {
	supplierCode string
	manufacturer string
	// manufacturerOf names the maker per SKU for distributor layouts.
	manufacturerOf func(sku string) string
	separator      string
	joiner         string
	resalePrefixes []string
	meta           metadataPatterns
}

func (l rowLayout) manufacturerFor(sku string) string {
	if l.manufacturer == "" && l.manufacturerOf != nil {
		return l.manufacturerOf(sku)
	}
	return l.manufacturer
}

type decomposed struct {
	sku, category, name string
}

// parseTables runs the shared row pipeline: locate the header, filter
// non-product rows, split the composite description, read numbers.
func (l rowLayout) parseTables(doc internal.Document) ParseResult {
	res := ParseResult{Metadata: l.meta.extract(doc.Text())}
	line := 0
	for _, table := range doc.Tables {
		cols, start := detectColumns(table.Rows)
		for _, row := range table.Rows[start:] {
			desc := pickCell(row, cols.desc, 0)
			if !isCandidate(row, desc) {
				continue
			}
			line++
			res.CandidateRows++

			parts, err := l.decompose(desc)
			if err != "" {
				res.RowErrors = append(res.RowErrors, RowParseError{Line: line, Reason: err})
				zap.L().Debug("parsing: skip row",
					zap.String("supplier", l.supplierCode),
					zap.String("file", doc.Filename),
					zap.Int("line", line),
					zap.String("reason", err),
				)
				continue
			}

			item := internal.LineItem{
				LineNo:          line,
				RawDescription:  desc,
				ManufacturerSKU: parts.sku,
				Manufacturer:    l.manufacturerFor(parts.sku),
				Category:        parts.category,
				Name:            parts.name,
				Currency:        res.Metadata.Currency,
			}
			item.Quantity, item.UnitPrice, item.LineTotal = readAmounts(row, cols)
			res.Items = append(res.Items, item)
		}
	}

	if res.Metadata.Total.IsZero() {
		sum := decimal.Zero
		for _, item := range res.Items {
			sum = sum.Add(item.LineTotal)
		}
		res.Metadata.Total = sum
	}
	res.finish()
	return res
}

func (l rowLayout) decompose(desc string) (decomposed, string) {
	raw := strings.Split(desc, l.separator)
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		parts = append(parts, strings.TrimSpace(p))
	}
	if len(parts) < 3 {
		return decomposed{}, "expected SKU" + l.joiner + "Category" + l.joiner + "Name"
	}

	sku := parts[0]
	for _, prefix := range l.resalePrefixes {
		if strings.HasPrefix(strings.ToUpper(sku), prefix) {
			sku = sku[len(prefix):]
			break
		}
	}
	if sku != "" && !reSKU.MatchString(sku) {
		return decomposed{}, "invalid sku " + parts[0]
	}
	name := strings.TrimSpace(strings.Join(parts[2:], l.joiner))
	if name == "" {
		return decomposed{}, "missing product name"
	}
	return decomposed{sku: sku, category: parts[1], name: name}, ""
}

// detectColumns finds the header row and returns the column indexes and the
// first row after it. Tables without a header use the description in the
// first column and positional numbers after it.
func detectColumns(rows [][]string) (columns, int) {
	for i, row := range rows {
		headers := make([]string, 0, len(row))
		for _, c := range row {
			headers = append(headers, strings.ToLower(c))
		}
		desc := findHeaderIndex(headers, descProbes)
		qty := findHeaderIndex(headers, qtyProbes)
		if desc < 0 || qty < 0 {
			continue
		}
		return columns{
			desc:  desc,
			qty:   qty,
			price: findHeaderIndex(headers, priceProbes),
			total: findHeaderIndex(headers, totalProbes),
		}, i + 1
	}
	return columns{desc: 0, qty: -1, price: -1, total: -1}, 0
}

func isCandidate(row []string, desc string) bool {
	if strings.TrimSpace(desc) == "" {
		return false
	}
	if reSummaryRow.MatchString(desc) {
		return false
	}
	others := 0
	for _, c := range row {
		if c != "" && c != desc {
			others++
		}
	}
	return others > 0
}

// readAmounts never fails: unreadable cells become zero, and a missing
// line total is derived from quantity and unit price (or the reverse).
func readAmounts(row []string, cols columns) (qty, price, total decimal.Decimal) {
	if cols.qty < 0 {
		nums := []decimal.Decimal{}
		for i, c := range row {
			if i == cols.desc {
				continue
			}
			if v, ok := util.ParseDecimal(c); ok {
				nums = append(nums, v)
			}
		}
		if len(nums) > 0 {
			qty = nums[0]
		}
		if len(nums) > 1 {
			price = nums[1]
		}
		if len(nums) > 2 {
			total = nums[2]
		}
	} else {
		qty = util.DecimalOrZero(pickCell(row, cols.qty, -1))
		price = util.DecimalOrZero(pickCell(row, cols.price, -1))
		total = util.DecimalOrZero(pickCell(row, cols.total, -1))
	}

	switch {
	case total.IsZero() && !qty.IsZero():
		total = qty.Mul(price)
	case price.IsZero() && !qty.IsZero() && !total.IsZero():
		price = total.Div(qty).Round(4)
	}
	return qty, price, total
}

// findHeaderIndex walks probes in priority order so "description" wins over
// a generic "item" column.
func findHeaderIndex(headers []string, probes []string) int {
	for _, probe := range probes {
		for i, h := range headers {
			if strings.Contains(h, probe) {
				return i
			}
		}
	}
	return -1
}

func pickCell(cells []string, idx int, fallback int) string {
	if idx >= 0 && idx < len(cells) {
		return strings.TrimSpace(cells[idx])
	}
	if fallback >= 0 && fallback < len(cells) {
		return strings.TrimSpace(cells[fallback])
	}
	return ""
}
