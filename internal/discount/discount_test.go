package discount_test

import (
	"testing"

	"OptionPool/internal/discount"
	fpmath "OptionPool/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_SetAndLookup(t *testing.T) {
	tbl := discount.NewTable()
	addr := common.HexToAddress("0x1000000000000000000000000000000000000001")

	assert.Equal(t, uint32(0), tbl.DiscountOf(addr))
	require.NoError(t, tbl.Set(addr, 2_500))
	assert.Equal(t, uint32(2_500), tbl.DiscountOf(addr))

	require.Error(t, tbl.Set(addr, 10_001))

	require.NoError(t, tbl.Set(addr, 0))
	assert.Empty(t, tbl.Entries())
}

func TestApply(t *testing.T) {
	fee := fpmath.MustParse("1")
	assert.True(t, discount.Apply(fee, 0).Equal(fee))
	assert.True(t, discount.Apply(fee, 2_500).Equal(fpmath.MustParse("0.75")))
	assert.True(t, discount.Apply(fee, 10_000).IsZero())
}
