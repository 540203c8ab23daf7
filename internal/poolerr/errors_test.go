package poolerr_test

import (
	"errors"
	"fmt"
	"testing"

	"OptionPool/internal/poolerr"

	"github.com/stretchr/testify/assert"
)

func TestNew_MatchesSentinelThroughWrapping(t *testing.T) {
	err := poolerr.New(poolerr.ErrOutOfRange, "exp < 1 day")
	wrapped := fmt.Errorf("purchase: %w", err)

	assert.True(t, errors.Is(wrapped, poolerr.ErrOutOfRange))
	assert.False(t, errors.Is(wrapped, poolerr.ErrExpired))
	assert.Equal(t, "purchase: out_of_range: exp < 1 day", wrapped.Error())
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want poolerr.Kind
	}{
		{poolerr.New(poolerr.ErrNotApproved, "x"), poolerr.KindAuthorization},
		{poolerr.New(poolerr.ErrLiquidityLocked, "liq lock 1d"), poolerr.KindState},
		{poolerr.New(poolerr.ErrNoLiquidity, ""), poolerr.KindCapacity},
		{poolerr.New(poolerr.ErrSlippageExceeded, ""), poolerr.KindSlippage},
		{errors.New("plain"), poolerr.KindUnknown},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, poolerr.KindOf(fmt.Errorf("wrap: %w", tc.err)), tc.err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "deposit_cap_exceeded", poolerr.CodeOf(poolerr.New(poolerr.ErrDepositCapExceeded, "")))
	assert.Equal(t, "internal", poolerr.CodeOf(errors.New("boom")))
}
