package query_test

import (
	"testing"

	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func option(t *testing.T, tt ledger.TokenType, strike string) ledger.TokenID {
	t.Helper()
	id, err := ledger.OptionTokenID(tt, 1_700_870_400, fpmath.MustParse(strike))
	require.NoError(t, err)
	return id
}

func TestCompareSeriesSupply(t *testing.T) {
	balanced := option(t, ledger.TokenLongCall, "2000")
	skewed := option(t, ledger.TokenLongPut, "1800")
	orphanShort := option(t, ledger.TokenShortCall, "2200")

	supply := map[ledger.TokenID]fpmath.Fixed{
		balanced:               fpmath.MustParse("3"),
		balanced.Counterpart(): fpmath.MustParse("3"),
		skewed:                 fpmath.MustParse("2"),
		skewed.Counterpart():   fpmath.MustParse("1.5"),
		orphanShort:            fpmath.MustParse("1"),
	}

	got := query.CompareSeriesSupply(supply)
	require.Len(t, got, 2)

	byLong := map[string]query.UnbalancedSeries{}
	for _, u := range got {
		byLong[u.LongToken] = u
	}
	assert.Equal(t, "2", byLong[skewed.Hex()].LongSupply)
	assert.Equal(t, "1.5", byLong[skewed.Hex()].ShortSupply)
	assert.Equal(t, "0", byLong[orphanShort.Counterpart().Hex()].LongSupply)
	assert.NotContains(t, byLong, balanced.Hex())
}

func TestCompareSeriesSupply_Empty(t *testing.T) {
	assert.Empty(t, query.CompareSeriesSupply(nil))
}
