package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestCalculateSMA(t *testing.T) {
	sma, err := CalculateSMA(series(1, 2, 3, 4, 5), 2)
	require.NoError(t, err)
	require.NotEmpty(t, sma)
	assert.True(t, sma[len(sma)-1].Equal(decimal.RequireFromString("4.5")))

	_, err = CalculateSMA(series(1), 2)
	assert.Error(t, err)

	_, err = CalculateSMA(series(1, 2), 0)
	assert.Error(t, err)
}

func TestAlign(t *testing.T) {
	aligned := Align(series(7, 8), 4)
	require.Len(t, aligned, 4)
	assert.False(t, aligned[0].Valid)
	assert.False(t, aligned[1].Valid)
	assert.True(t, aligned[2].Valid)
	assert.True(t, aligned[3].Decimal.Equal(decimal.NewFromInt(8)))

	assert.Len(t, Align(series(1, 2, 3), 2), 2)
}
