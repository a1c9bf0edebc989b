package mes_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umuxt/Burkol0-sub002/mes"
)

// =============================================================================
// LOT SELECTION
// =============================================================================

func TestReserve_SingleLotSufficient(t *testing.T) {
	// GIVEN: M1 has one lot LOT-A with balance 100
	// WHEN: Reserving 50
	// THEN: LOT-A:50 is taken, stock drops by 50 and WIP rises by 50

	f := newFixture(t)
	f.material(t, "M1")
	f.receive(t, "M1", "LOT-A", day(2025, time.November, 1), "100")

	result, err := f.sched.Reservations.Reserve(f.ctx, "A1", []mes.MaterialRequirement{
		{MaterialCode: "M1", RequiredQty: d("50")},
	})
	require.NoError(t, err)

	require.Len(t, result.Reservations, 1)
	r := result.Reservations[0]
	assert.False(t, r.Partial)
	assert.False(t, result.Partial())
	require.Len(t, r.Lots, 1)
	assert.Equal(t, "LOT-A", r.Lots[0].LotNumber)
	requireDec(t, "50", r.Lots[0].Quantity)

	stock, wip := f.stock(t, "M1")
	requireDec(t, "50", stock)
	requireDec(t, "50", wip)
}

func TestReserve_MultiLotFIFO(t *testing.T) {
	// GIVEN: LOT-A (2025-11-01, 50) and LOT-B (2025-11-15, 100), B received first
	// WHEN: Reserving 120
	// THEN: LOT-A:50 then LOT-B:70; LOT-B keeps 30

	f := newFixture(t)
	f.material(t, "M1")
	f.receive(t, "M1", "LOT-B", day(2025, time.November, 15), "100")
	f.receive(t, "M1", "LOT-A", day(2025, time.November, 1), "50")

	result, err := f.sched.Reservations.Reserve(f.ctx, "A1", []mes.MaterialRequirement{
		{MaterialCode: "M1", RequiredQty: d("120")},
	})
	require.NoError(t, err)

	lots := result.Reservations[0].Lots
	require.Len(t, lots, 2)
	assert.Equal(t, "LOT-A", lots[0].LotNumber)
	requireDec(t, "50", lots[0].Quantity)
	assert.Equal(t, "LOT-B", lots[1].LotNumber)
	requireDec(t, "70", lots[1].Quantity)

	requireDec(t, "0", f.lotBalance(t, "M1", "LOT-A"))
	requireDec(t, "30", f.lotBalance(t, "M1", "LOT-B"))

	rows, err := f.store.ListReservations(f.ctx, "A1", mes.ReservationReserved)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	requireDec(t, "120", rows[0].PreProductionQty)
}

func TestReserve_PartialReservation(t *testing.T) {
	// GIVEN: M1 has only LOT-A with balance 80
	// WHEN: Reserving 100
	// THEN: 80 reserved, shortfall 20, one warning naming M1, no error

	f := newFixture(t)
	f.material(t, "M1")
	f.receive(t, "M1", "LOT-A", day(2025, time.November, 1), "80")

	result, err := f.sched.Reservations.Reserve(f.ctx, "A1", []mes.MaterialRequirement{
		{MaterialCode: "M1", RequiredQty: d("100")},
	})
	require.NoError(t, err)

	r := result.Reservations[0]
	assert.True(t, r.Partial)
	requireDec(t, "80", r.Reserved)
	requireDec(t, "20", r.Shortfall)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "M1")

	stock, wip := f.stock(t, "M1")
	requireDec(t, "0", stock)
	requireDec(t, "80", wip)
}

func TestReserve_SkipsEmptyAndNegativeLots(t *testing.T) {
	// GIVEN: An older lot driven negative and an empty lot before a good one
	// WHEN: Reserving
	// THEN: Only the positive lot is used

	f := newFixture(t)
	f.material(t, "M1")
	f.receive(t, "M1", "LOT-OLD", day(2025, time.October, 1), "10")
	_, err := f.sched.Ledger.Post(f.ctx, f.store, "M1", mes.Posting{
		Type: mes.MovementOut, SubType: mes.SubTypeAdjustment, Quantity: d("15"), LotNumber: "LOT-OLD",
	})
	require.NoError(t, err)
	f.receive(t, "M1", "LOT-EMPTY", day(2025, time.October, 15), "5")
	_, err = f.sched.Ledger.Post(f.ctx, f.store, "M1", mes.Posting{
		Type: mes.MovementOut, SubType: mes.SubTypeAdjustment, Quantity: d("5"), LotNumber: "LOT-EMPTY",
	})
	require.NoError(t, err)
	f.receive(t, "M1", "LOT-NEW", day(2025, time.November, 1), "40")

	plan, err := f.sched.Selector.Select(f.ctx, f.store, "M1", d("30"))
	require.NoError(t, err)

	require.Len(t, plan.Lots, 1)
	assert.Equal(t, "LOT-NEW", plan.Lots[0].LotNumber)
	requireDec(t, "40", plan.TotalAvailable)
	assert.False(t, plan.Partial)
}

func TestReserve_InvalidLineAbortsEverything(t *testing.T) {
	// GIVEN: One valid line and one unknown material
	// WHEN: Reserving both
	// THEN: Not-found error, and the valid line made no movement

	f := newFixture(t)
	f.material(t, "M1")
	f.receive(t, "M1", "LOT-A", day(2025, time.November, 1), "100")

	_, err := f.sched.Reservations.Reserve(f.ctx, "A1", []mes.MaterialRequirement{
		{MaterialCode: "M1", RequiredQty: d("10")},
		{MaterialCode: "NOPE", RequiredQty: d("10")},
	})
	require.ErrorIs(t, err, mes.ErrMaterialNotFound)
	assert.Equal(t, 1, f.movementCount(t, "M1"))

	_, err = f.sched.Reservations.Reserve(f.ctx, "A1", []mes.MaterialRequirement{
		{MaterialCode: "M1", RequiredQty: d("0")},
	})
	require.ErrorIs(t, err, mes.ErrInvalidRequirement)
	assert.True(t, mes.IsClientError(err))
}

// =============================================================================
// RELEASE
// =============================================================================

func TestRelease_RestoresStockAndWIP(t *testing.T) {
	// GIVEN: A reservation spanning two lots
	// WHEN: Releasing it
	// THEN: Stock, WIP and lot balances are back where they started

	f := newFixture(t)
	f.material(t, "M1")
	f.receive(t, "M1", "LOT-A", day(2025, time.November, 1), "12.5")
	f.receive(t, "M1", "LOT-B", day(2025, time.November, 2), "30.25")
	stockBefore, wipBefore := f.stock(t, "M1")

	_, err := f.sched.Reservations.Reserve(f.ctx, "A1", []mes.MaterialRequirement{
		{MaterialCode: "M1", RequiredQty: d("20.125")},
	})
	require.NoError(t, err)

	released, err := f.sched.Reservations.Release(f.ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, released.Released, 2)

	stock, wip := f.stock(t, "M1")
	assert.True(t, stock.Equal(stockBefore))
	assert.True(t, wip.Equal(wipBefore))
	requireDec(t, "12.5", f.lotBalance(t, "M1", "LOT-A"))
	requireDec(t, "30.25", f.lotBalance(t, "M1", "LOT-B"))

	rows, err := f.store.ListReservations(f.ctx, "A1", mes.ReservationReserved)
	require.NoError(t, err)
	assert.Empty(t, rows)

	balance, err := f.sched.Ledger.Balance(f.ctx, f.store, "M1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(stock), "ledger sum must equal material stock")
}
