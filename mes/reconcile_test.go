package mes_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umuxt/Burkol0-sub002/mes"
)

func TestTotalConsumed_Formula(t *testing.T) {
	// GIVEN: produced 90, defects 4, ratio 1.5, input scrap 3, production scrap 2
	// THEN: 3 + 2 + (90 + 4) * 1.5 = 146

	in := mes.ConsumptionInput{
		Produced:        d("90"),
		Defects:         d("4"),
		InputScrap:      mes.ScrapCounts{"M1": d("3"), "M2": d("100")},
		ProductionScrap: mes.ScrapCounts{"M1": d("2")},
	}
	requireDec(t, "146", mes.TotalConsumed("M1", d("1.5"), in))

	// Scrap of another material doesn't leak in
	requireDec(t, "0", mes.TotalConsumed("M3", d("0"), in))
}

func TestDistributeConsumption_LastLotAbsorbsRemainder(t *testing.T) {
	// GIVEN: Reserved A=50, B=70; consumed 100
	// THEN: A = floor(50/120*100, 6), B takes the rest

	shares := mes.DistributeConsumption(d("100"), []decimal.Decimal{d("50"), d("70")})

	require.Len(t, shares, 2)
	requireDec(t, "41.666666", shares[0])
	requireDec(t, "58.333334", shares[1])
}

func TestDistributeConsumption_TinyTotalNeverNegative(t *testing.T) {
	// GIVEN: Four equal lots and a total of two quantity units
	// THEN: Rounding the leading shares never leaves the last lot below zero

	shares := mes.DistributeConsumption(d("0.000002"), []decimal.Decimal{d("1"), d("1"), d("1"), d("1")})

	require.Len(t, shares, 4)
	requireDec(t, "0", shares[0])
	requireDec(t, "0", shares[1])
	requireDec(t, "0", shares[2])
	requireDec(t, "0.000002", shares[3])
}

func TestDistributeConsumption_NothingReserved(t *testing.T) {
	shares := mes.DistributeConsumption(d("7"), []decimal.Decimal{d("0"), d("0")})
	requireDec(t, "0", shares[0])
	requireDec(t, "7", shares[1])

	assert.Empty(t, mes.DistributeConsumption(d("7"), nil))
}

func TestDistributeConsumption_ExactSumProperty(t *testing.T) {
	// GIVEN: Random fractional lot sizes and consumption totals
	// THEN: The shares always sum to the total exactly and none is negative

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(8)
		reserved := make([]decimal.Decimal, n)
		for j := range reserved {
			reserved[j] = decimal.New(rng.Int63n(10_000_000), -int32(rng.Intn(7)))
		}
		total := decimal.New(rng.Int63n(50_000_000), -int32(rng.Intn(7)))

		shares := mes.DistributeConsumption(total, reserved)

		sum := decimal.Zero
		for j, s := range shares {
			require.Falsef(t, s.IsNegative(), "iteration %d: share %d is %s", i, j, s)
			sum = sum.Add(s)
		}
		require.Truef(t, sum.Equal(total), "iteration %d: shares %v sum to %s, want %s", i, shares, sum, total)
	}
}
