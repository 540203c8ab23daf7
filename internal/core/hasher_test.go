package core_test

import (
	"crypto/sha256"
	"testing"

	"OptionPool/internal/core"
	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
	"OptionPool/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHasher_Chain(t *testing.T) {
	pool := state.NewPool(state.DefaultPoolParams(), state.DefaultSideParams(true), state.DefaultSideParams(false))
	led := ledger.NewBalanceTracker()

	h := core.NewStateHasher()
	genesis := sha256.Sum256([]byte(core.GenesisHashSeed))
	assert.Equal(t, genesis, h.Tip())

	prev, first, err := h.Link(0, event.CommandTypeDeposit, pool, led)
	require.NoError(t, err)
	assert.Equal(t, genesis, prev)
	assert.Equal(t, first, h.Tip())

	prev, second, err := h.Link(1, event.CommandTypeDeposit, pool, led)
	require.NoError(t, err)
	assert.Equal(t, first, prev)
	assert.NotEqual(t, first, second, "sequence is part of the link")

	other := core.NewStateHasher()
	_, alt, err := other.Link(0, event.CommandTypeWithdraw, pool, led)
	require.NoError(t, err)
	assert.NotEqual(t, first, alt, "command type is part of the link")

	other.Reset(first)
	_, replayed, err := other.Link(1, event.CommandTypeDeposit, pool, led)
	require.NoError(t, err)
	assert.Equal(t, second, replayed)
}
