package projection_test

import (
	"testing"

	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/projection"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maturity = 1_700_870_400

var (
	holder = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	writer = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

func series(t *testing.T) (ledger.TokenID, ledger.TokenID) {
	t.Helper()
	long, err := ledger.OptionTokenID(ledger.TokenLongCall, maturity, fpmath.MustParse("2000"))
	require.NoError(t, err)
	return long, long.Counterpart()
}

func TestSeriesDeltas_WriteCountsLongMints(t *testing.T) {
	long, short := series(t)
	b := ledger.NewBatchBuilder("w", 0, 1)
	b.Mint(holder, long, fpmath.MustParse("3"), ledger.JournalTypeLongMint)
	b.Mint(writer, short, fpmath.MustParse("3"), ledger.JournalTypeUnderwrite)

	got := projection.SeriesDeltas(event.CommandTypeWrite, b.Batch())
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[long].Written.String())
	assert.True(t, got[long].Exercised.IsZero())
}

func TestSeriesDeltas_BurnClassification(t *testing.T) {
	long, short := series(t)
	one := fpmath.MustParse("1")

	tests := []struct {
		name string
		ct   event.CommandType
		jt   ledger.JournalType
		pick func(*projection.SeriesDelta) fpmath.Fixed
	}{
		{"exercise", event.CommandTypeExercise, ledger.JournalTypeExercise, func(d *projection.SeriesDelta) fpmath.Fixed { return d.Exercised }},
		{"expiry", event.CommandTypeProcessExpired, ledger.JournalTypeExercise, func(d *projection.SeriesDelta) fpmath.Fixed { return d.Expired }},
		{"annihilate", event.CommandTypeAnnihilate, ledger.JournalTypeAnnihilate, func(d *projection.SeriesDelta) fpmath.Fixed { return d.Annihilated }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ledger.NewBatchBuilder(tt.name, 1, 1)
			b.Burn(holder, long, one, tt.jt)
			b.Burn(writer, short, one, tt.jt)

			got := projection.SeriesDeltas(tt.ct, b.Batch())
			require.Contains(t, got, long)
			assert.True(t, tt.pick(got[long]).Equal(one))
			assert.True(t, got[long].Reassigned.IsZero())
		})
	}
}

func TestSeriesDeltas_ReassignKeyedByLong(t *testing.T) {
	long, short := series(t)
	b := ledger.NewBatchBuilder("r", 2, 1)
	b.Burn(writer, short, fpmath.MustParse("0.5"), ledger.JournalTypeReassign)
	b.Mint(holder, short, fpmath.MustParse("0.5"), ledger.JournalTypeUnderwrite)

	got := projection.SeriesDeltas(event.CommandTypeReassign, b.Batch())
	require.Len(t, got, 1)
	assert.Equal(t, "0.5", got[long].Reassigned.String())
	assert.True(t, got[long].Written.IsZero())
}

func TestSeriesDeltas_IgnoresLiquidity(t *testing.T) {
	b := ledger.NewBatchBuilder("d", 3, 1)
	b.Mint(holder, ledger.FreeLiqToken(true), fpmath.MustParse("10"), ledger.JournalTypeDeposit)

	assert.Empty(t, projection.SeriesDeltas(event.CommandTypeDeposit, b.Batch()))
	assert.Empty(t, projection.SeriesDeltas(event.CommandTypeDeposit, nil))
}
