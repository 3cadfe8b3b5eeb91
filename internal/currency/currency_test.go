package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	c := NewConverter("usd", map[string]decimal.Decimal{"eur": decimal.RequireFromString("1.08")})

	got := c.Normalize(decimal.RequireFromString("11"), "EUR")
	require.NotNil(t, got)
	assert.Equal(t, "11.88", got.String())

	same := c.Normalize(decimal.RequireFromString("12.5"), "USD")
	require.NotNil(t, same)
	assert.Equal(t, "12.5", same.String())

	assert.Nil(t, c.Normalize(decimal.RequireFromString("3"), "JPY"))
	assert.Equal(t, "USD", c.Base())
}
