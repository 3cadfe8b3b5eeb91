package supplier

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicepipe/internal"
)

func textDoc(pages ...string) internal.Document {
	return internal.Document{Filename: "inv.txt", Source: internal.SourceText, Pages: pages}
}

func TestIdentifyLawnFawn(t *testing.T) {
	id := NewIdentifier(DefaultProfiles())
	doc := textDoc("Lawn Fawn Inc.\nInvoice No: 1001\nDescription  Qty  Price  Amount")
	doc.Tables = []internal.Table{{Rows: [][]string{
		{"LF1142 - Lawn Cuts - Stitched Rectangle Frames Dies", "2", "12.00", "24.00"},
	}}}

	m, err := id.Identify(doc)
	require.NoError(t, err)
	assert.Equal(t, CodeLawnFawn, m.SupplierCode)
	assert.InDelta(t, 0.7, m.Confidence, 1e-9)
	assert.Len(t, m.MatchedSignals, 3)
	assert.Contains(t, m.MatchedSignals, "identity:lawn fawn")
}

func TestIdentifyDistributorOverManufacturerMention(t *testing.T) {
	id := NewIdentifier(DefaultProfiles())
	doc := textDoc("Craft Direct Distribution\nDistributor Invoice 5531\nCD-LF1142; Lawn Fawn Lawn Cuts; Frames  2  11.00")

	m, err := id.Identify(doc)
	require.NoError(t, err)
	assert.Equal(t, CodeCraftDirect, m.SupplierCode)
	assert.InDelta(t, 0.49, m.Confidence, 1e-9)
}

func TestIdentifyRangerFromTableOnly(t *testing.T) {
	id := NewIdentifier(DefaultProfiles())
	doc := textDoc("")
	doc.Tables = []internal.Table{{Rows: [][]string{
		{"TDO56010 | Distress Oxide | Black Soot", "3", "6.50"},
	}}}

	m, err := id.Identify(doc)
	require.NoError(t, err)
	assert.Equal(t, CodeRanger, m.SupplierCode)
	assert.InDelta(t, 0.18, m.Confidence, 1e-9)
}

func TestIdentifyUnknownListsSupported(t *testing.T) {
	id := NewIdentifier(DefaultProfiles())
	_, err := id.Identify(textDoc("ACME Hardware\nInvoice 12"))

	var unknown *UnknownSupplierError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, []string{CodeLawnFawn, CodeRanger, CodeCraftDirect}, unknown.Supported)
	assert.Contains(t, err.Error(), "RANGER")
}

func TestIdentifyTieFirstRegisteredWins(t *testing.T) {
	a := Profile{Code: "A", Identities: []string{"acme"}, Reliability: 1}
	b := Profile{Code: "B", Identities: []string{"acme"}, Reliability: 1}
	doc := textDoc("ACME supplies")

	m, err := NewIdentifier([]Profile{a, b}).Identify(doc)
	require.NoError(t, err)
	assert.Equal(t, "A", m.SupplierCode)

	m, err = NewIdentifier([]Profile{b, a}).Identify(doc)
	require.NoError(t, err)
	assert.Equal(t, "B", m.SupplierCode)
}

func TestIdentifyCapsAtOne(t *testing.T) {
	p := Profile{
		Code:        "LOUD",
		Identities:  []string{"loud", "louder", "loudest"},
		Signatures:  []*regexp.Regexp{regexp.MustCompile(`LOUD-\d+`), regexp.MustCompile(`(?i)total`)},
		Reliability: 1.5,
	}
	m, err := NewIdentifier([]Profile{p}).Identify(textDoc("loud louder loudest LOUD-1 total"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Confidence)
}

func TestManufacturerForSKU(t *testing.T) {
	profiles := DefaultProfiles()
	assert.Equal(t, "Lawn Fawn", ManufacturerForSKU(profiles, "LF1142"))
	assert.Equal(t, "Lawn Fawn", ManufacturerForSKU(profiles, "lf-1142"))
	assert.Equal(t, "Ranger", ManufacturerForSKU(profiles, "TDO56010"))
	assert.Empty(t, ManufacturerForSKU(profiles, "XYZ9"))
	assert.Empty(t, ManufacturerForSKU(profiles, ""))
}
