package mes_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/umuxt/Burkol0-sub002/mes"
	"github.com/umuxt/Burkol0-sub002/mes/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, time.November, 20, 8, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func requireDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, got.Equal(d(want)), "expected %s, got %s %v", want, got, msgAndArgs)
}

type fixture struct {
	ctx   context.Context
	store *store.Memory
	sched *mes.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	return &fixture{
		ctx:   context.Background(),
		store: st,
		sched: mes.NewScheduler(st, nil, fixedClock),
	}
}

func (f *fixture) material(t *testing.T, code string) {
	t.Helper()
	require.NoError(t, f.store.SaveMaterial(f.ctx, mes.Material{
		Code: code, Name: code, Unit: "kg", Type: mes.MaterialRaw,
	}))
}

func (f *fixture) receive(t *testing.T, code, lot string, lotDate time.Time, qty string) {
	t.Helper()
	_, err := f.sched.Ledger.Receive(f.ctx, f.store, code, lot, lotDate, d(qty), "PO-1")
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, code string) (stock, wip decimal.Decimal) {
	t.Helper()
	m, err := f.store.GetMaterial(f.ctx, code)
	require.NoError(t, err)
	return m.Stock, m.WIPReserved
}

func (f *fixture) lotBalance(t *testing.T, code, lot string) decimal.Decimal {
	t.Helper()
	lots, err := f.sched.Ledger.LotBalances(f.ctx, f.store, code)
	require.NoError(t, err)
	for _, b := range lots {
		if b.LotNumber == lot {
			return b.Balance
		}
	}
	t.Fatalf("lot %s of %s not found", lot, code)
	return decimal.Zero
}

func (f *fixture) movementCount(t *testing.T, code string) int {
	t.Helper()
	moves, err := f.store.LoadMovements(f.ctx, code)
	require.NoError(t, err)
	return len(moves)
}

// node registers a plan node with one input per (code, required, ratio) triple.
func (f *fixture) node(t *testing.T, id, planID, output string, inputs ...mes.NodeMaterialInput) {
	t.Helper()
	require.NoError(t, f.store.SavePlanNode(f.ctx, mes.PlanNode{
		ID: id, PlanID: planID, OperationID: "op-" + id, Name: id, OutputCode: output,
	}))
	for _, in := range inputs {
		in.NodeID = id
		require.NoError(t, f.store.SaveNodeMaterialInput(f.ctx, in))
	}
}

func input(code, required, ratio string) mes.NodeMaterialInput {
	return mes.NodeMaterialInput{MaterialCode: code, RequiredQuantity: d(required), UnitRatio: d(ratio)}
}

func (f *fixture) substation(t *testing.T, s mes.Substation) {
	t.Helper()
	if s.Status == "" {
		s.Status = mes.SubstationAvailable
	}
	require.NoError(t, f.store.SaveSubstation(f.ctx, s))
}

func (f *fixture) getSubstation(t *testing.T, id string) *mes.Substation {
	t.Helper()
	s, err := f.store.GetSubstation(f.ctx, id)
	require.NoError(t, err)
	return s
}

func (f *fixture) assign(t *testing.T, a mes.WorkerAssignment) {
	t.Helper()
	if a.Status == "" {
		a.Status = mes.StatusPending
	}
	if a.SchedulingMode == "" {
		a.SchedulingMode = mes.ModeFIFO
	}
	if a.ExpectedStart.IsZero() {
		a.ExpectedStart = t0
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t0.Add(-24 * time.Hour)
	}
	if a.PlanID == "" {
		a.PlanID = "P1"
	}
	if a.WorkOrderCode == "" {
		a.WorkOrderCode = "WO-1"
	}
	require.NoError(t, f.store.SaveAssignment(f.ctx, a))
}

func (f *fixture) getAssignment(t *testing.T, id string) *mes.WorkerAssignment {
	t.Helper()
	a, err := f.store.GetAssignment(f.ctx, id)
	require.NoError(t, err)
	return a
}
