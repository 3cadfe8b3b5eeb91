package util

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "plain", input: "12.00", want: "12", ok: true},
		{name: "currency symbol", input: "$1,299.50", want: "1299.5", ok: true},
		{name: "decimal comma", input: "12,5", want: "12.5", ok: true},
		{name: "european thousands", input: "1.234,56 €", want: "1234.56", ok: true},
		{name: "thousand dot", input: "1.000", want: "1000", ok: true},
		{name: "accounting negative", input: "(4.00)", want: "-4", ok: true},
		{name: "blank", input: "  ", want: "0", ok: false},
		{name: "text", input: "n/a", want: "0", ok: false},
		{name: "mixed garbage", input: "12abc", want: "0", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseDecimal(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestRelativeDelta(t *testing.T) {
	assert.InDelta(t, 0.6666, RelativeDelta(decimal.RequireFromString("12"), decimal.RequireFromString("20")), 0.001)
	assert.InDelta(t, 0.05, RelativeDelta(decimal.RequireFromString("20"), decimal.RequireFromString("21")), 0.0001)
	assert.Equal(t, 0.0, RelativeDelta(decimal.Zero, decimal.Zero))
	assert.Equal(t, 1.0, RelativeDelta(decimal.Zero, decimal.RequireFromString("3")))
}
