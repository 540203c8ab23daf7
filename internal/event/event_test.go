package event_test

import (
	"testing"

	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandType_NamesRoundTrip(t *testing.T) {
	for _, ct := range event.CommandTypes() {
		name := ct.String()
		require.NotEqual(t, "unknown", name, "type %d has no name", ct)

		parsed, err := event.ParseCommandType(name)
		require.NoError(t, err)
		assert.Equal(t, ct, parsed)

		cmd, err := event.New(ct)
		require.NoError(t, err)
		assert.Equal(t, ct, cmd.CommandType())
	}

	_, err := event.ParseCommandType("liquidate")
	assert.Error(t, err)
}

func TestDecode_Purchase(t *testing.T) {
	payload := `{
		"idempotency_key": "p-1",
		"caller": "0x00000000000000000000000000000000000000b1",
		"timestamp": 1700006400,
		"maturity": 1702598400,
		"strike": "2000",
		"amount": "1.5",
		"is_call": true,
		"max_cost": "0.5"
	}`

	cmd, err := event.Decode(event.CommandTypePurchase, []byte(payload))
	require.NoError(t, err)

	p, ok := cmd.(*event.Purchase)
	require.True(t, ok, "got %T", cmd)
	assert.Equal(t, "p-1", p.IdempotencyKey())
	assert.Equal(t, common.HexToAddress("0xb1"), p.Caller())
	assert.Equal(t, int64(1700006400), p.Timestamp())
	assert.True(t, p.Amount.Equal(fpmath.MustParse("1.5")))
	assert.Equal(t, "call", p.SideName())
}

func TestSideName_FromToken(t *testing.T) {
	put, err := ledger.OptionTokenID(ledger.TokenShortPut, 1702598400, fpmath.MustParse("1800"))
	require.NoError(t, err)
	call, err := ledger.OptionTokenID(ledger.TokenShortCall, 1702598400, fpmath.MustParse("1800"))
	require.NoError(t, err)

	assert.Equal(t, "put", (&event.Reassign{ShortToken: put}).SideName())
	assert.Equal(t, "", (&event.ReassignBatch{ShortTokens: []ledger.TokenID{put, call}}).SideName())
	assert.Equal(t, "call", (&event.ReassignBatch{ShortTokens: []ledger.TokenID{call, call}}).SideName())
}

func TestHeaderOf(t *testing.T) {
	cmd := &event.Deposit{Header: event.Header{Key: "d-1"}}
	h, ok := event.HeaderOf(cmd)
	require.True(t, ok)
	assert.Equal(t, "d-1", h.Key)
}

func TestDecode_CreditWallet(t *testing.T) {
	payload := `{
		"idempotency_key": "tx-0xabc",
		"caller": "0x0000000000000000000000000000000000000001",
		"timestamp": 1700006400,
		"account": "0x00000000000000000000000000000000000000a1",
		"amount": "12.5",
		"is_call": false
	}`

	cmd, err := event.Decode(event.CommandTypeCreditWallet, []byte(payload))
	require.NoError(t, err)

	c, ok := cmd.(*event.CreditWallet)
	require.True(t, ok, "got %T", cmd)
	assert.Equal(t, common.HexToAddress("0xa1"), c.Account)
	assert.True(t, c.Amount.Equal(fpmath.MustParse("12.5")))
	assert.Equal(t, "put", c.SideName())
	assert.Equal(t, "credit_wallet", c.CommandType().String())
}
