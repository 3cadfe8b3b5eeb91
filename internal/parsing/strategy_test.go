package parsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicepipe/internal"
	"invoicepipe/internal/supplier"
)

func TestLawnFawnParse(t *testing.T) {
	doc := internal.Document{
		Filename: "lf-1001.pdf",
		Pages: []string{
			"Lawn Fawn Inc.\nInvoice No: 1001\nInvoice Date: 01/15/2025\nDescription  Qty  Price  Amount",
			"Invoice Total: $24.00",
		},
		Tables: []internal.Table{{Rows: [][]string{
			{"Description", "Qty", "Price", "Amount"},
			{"LF1142 - Lawn Cuts - Stitched Rectangle Frames Dies", "2", "12.00", "24.00"},
			{"Thank you for your order", "Page 1"},
			{"LF9999 Missing Separators", "1", "5.00", "5.00"},
			{"Subtotal", "", "", "29.00"},
			{"", "", "", ""},
		}}},
	}

	res, err := NewLawnFawn().Parse(doc)
	require.NoError(t, err)

	assert.Equal(t, "1001", res.Metadata.InvoiceNumber)
	require.NotNil(t, res.Metadata.InvoiceDate)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), *res.Metadata.InvoiceDate)
	assert.Equal(t, "USD", res.Metadata.Currency)
	assert.Equal(t, "24", res.Metadata.Total.String())

	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, 1, item.LineNo)
	assert.Equal(t, "LF1142", item.ManufacturerSKU)
	assert.Equal(t, "Lawn Cuts", item.Category)
	assert.Equal(t, "Stitched Rectangle Frames Dies", item.Name)
	assert.Equal(t, "Lawn Fawn", item.Manufacturer)
	assert.Equal(t, "LF1142 - Lawn Cuts - Stitched Rectangle Frames Dies", item.RawDescription)
	assert.Equal(t, "2", item.Quantity.String())
	assert.Equal(t, "12", item.UnitPrice.String())
	assert.Equal(t, "24", item.LineTotal.String())
	assert.Equal(t, "USD", item.Currency)

	assert.Equal(t, 3, res.CandidateRows)
	require.Len(t, res.RowErrors, 2)
	assert.Equal(t, 2, res.RowErrors[0].Line)
	assert.Equal(t, 3, res.RowErrors[1].Line)
	assert.Contains(t, res.RowErrors[1].Reason, "expected SKU - Category - Name")
	assert.InDelta(t, 1.0/3.0, res.SuccessRatio, 1e-9)
}

func TestLawnFawnKeepsSeparatorInsideName(t *testing.T) {
	doc := internal.Document{Tables: []internal.Table{{Rows: [][]string{
		{"LF2000 - Stamps - Hello - World", "1", "9.99"},
	}}}}
	res, err := NewLawnFawn().Parse(doc)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Hello - World", res.Items[0].Name)
	assert.Equal(t, "9.99", res.Items[0].LineTotal.String())
	assert.Equal(t, 1.0, res.SuccessRatio)
}

func TestRangerParseWithoutHeader(t *testing.T) {
	doc := internal.Document{
		Pages: []string{"Ranger Ink\nInv # 8812\nInvoice Date: March 4, 2025"},
		Tables: []internal.Table{{Rows: [][]string{
			{"TDO56010 | Distress Oxide | Black Soot", "3", "6.50"},
			{"TDO56027 | Distress Oxide", "1", "6.50"},
		}}},
	}

	res, err := NewRanger().Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "8812", res.Metadata.InvoiceNumber)
	require.NotNil(t, res.Metadata.InvoiceDate)
	assert.Equal(t, time.March, res.Metadata.InvoiceDate.Month())

	require.Len(t, res.Items, 1)
	assert.Equal(t, "TDO56010", res.Items[0].ManufacturerSKU)
	assert.Equal(t, "Black Soot", res.Items[0].Name)
	assert.Equal(t, "19.5", res.Items[0].LineTotal.String())
	assert.Equal(t, "19.5", res.Metadata.Total.String())
	assert.InDelta(t, 0.5, res.SuccessRatio, 1e-9)
}

func TestCraftDirectStripsResalePrefix(t *testing.T) {
	doc := internal.Document{
		Pages: []string{"Craft Direct Distribution\nRechnungsnr.: CD-2025-118\nRechnungsdatum: 15.01.2025\nGesamtbetrag: 25,00 €"},
		Tables: []internal.Table{{Rows: [][]string{
			{"Artikel", "Menge", "Preis", "Betrag"},
			{"CD-LF1142; Lawn Cuts; Stitched Rectangle Frames Dies", "2", "11,00", "22,00"},
			{"CD-TDO56010; Distress Oxide; Worn Lipstick", "1", "6,50", "6,50"},
			{"CD-XYZ9; Misc; Ribbon", "1", "1,00", "1,00"},
			{"CD-RNG 77; Ink; Blue", "1", "3,00", "3,00"},
		}}},
	}

	res, err := NewCraftDirect().Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "CD-2025-118", res.Metadata.InvoiceNumber)
	assert.Equal(t, "EUR", res.Metadata.Currency)
	assert.Equal(t, "25", res.Metadata.Total.String())
	require.NotNil(t, res.Metadata.InvoiceDate)
	assert.Equal(t, 15, res.Metadata.InvoiceDate.Day())

	require.Len(t, res.Items, 3)
	assert.Equal(t, "LF1142", res.Items[0].ManufacturerSKU)
	assert.Equal(t, "Lawn Fawn", res.Items[0].Manufacturer)
	assert.Equal(t, "11", res.Items[0].UnitPrice.String())
	assert.Equal(t, "TDO56010", res.Items[1].ManufacturerSKU)
	assert.Equal(t, "Ranger", res.Items[1].Manufacturer)
	assert.Equal(t, "XYZ9", res.Items[2].ManufacturerSKU)
	assert.Empty(t, res.Items[2].Manufacturer, "unknown maker stays blank")
	require.Len(t, res.RowErrors, 1)
	assert.Contains(t, res.RowErrors[0].Reason, "invalid sku")
}

func TestParseEmptyDocument(t *testing.T) {
	res, err := NewLawnFawn().Parse(internal.Document{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 0, res.CandidateRows)
	assert.Equal(t, 0.0, res.SuccessRatio)
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []string{supplier.CodeCraftDirect, supplier.CodeLawnFawn, supplier.CodeRanger}, reg.Codes())

	s, err := reg.Get(supplier.CodeRanger)
	require.NoError(t, err)
	assert.Equal(t, supplier.CodeRanger, s.SupplierCode())

	_, err = reg.Get("ACME")
	require.Error(t, err)

	require.Error(t, reg.Register(NewRanger()))
}

func TestEveryProfileHasStrategy(t *testing.T) {
	reg := DefaultRegistry()
	for _, p := range supplier.DefaultProfiles() {
		_, err := reg.Get(p.Code)
		assert.NoError(t, err, p.Code)
	}
}
