package factory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umuxt/Burkol0-sub002/factory"
	"github.com/umuxt/Burkol0-sub002/mes"
	"github.com/umuxt/Burkol0-sub002/mes/store"
)

var seedTime = time.Date(2025, time.November, 20, 8, 0, 0, 0, time.UTC)

func newFactory() *factory.PlantFactory {
	return factory.NewPlantFactory(func() time.Time { return seedTime })
}

func TestParsePlant_Defaults(t *testing.T) {
	jsonStr := `{
		"id": "tiny",
		"materials": [{"code": "M1", "lots": [{"lot_number": "L1", "lot_date": "2025-11-01", "quantity": 12.5}]}],
		"substations": [{"id": "S1"}],
		"nodes": [{"id": "N1", "plan_id": "P1", "operation_id": "OP", "inputs": [{"material_code": "M1", "required_quantity": "5", "unit_ratio": "1"}]}],
		"assignments": [
			{"id": "T1", "node_id": "N1", "worker_id": "W1", "substation_id": "S1", "start_in_minutes": 15},
			{"id": "T2", "node_id": "N1", "worker_id": "W1", "expected_start": "2025-11-21T06:00:00Z", "scheduling_mode": "manual"}
		]
	}`

	plant, err := newFactory().ParsePlant(jsonStr)
	require.NoError(t, err)

	require.Len(t, plant.Materials, 1)
	assert.Equal(t, "M1", plant.Materials[0].Name)
	assert.Equal(t, "pcs", plant.Materials[0].Unit)
	assert.Equal(t, mes.MaterialRaw, plant.Materials[0].Type)

	require.Len(t, plant.Assignments, 2)
	t1, t2 := plant.Assignments[0], plant.Assignments[1]
	assert.Equal(t, "P1", t1.PlanID)
	assert.Equal(t, "WO-P1", t1.WorkOrderCode)
	assert.Equal(t, "OP", t1.OperationID)
	assert.Equal(t, mes.StatusPending, t1.Status)
	assert.Equal(t, mes.ModeFIFO, t1.SchedulingMode)
	assert.True(t, t1.ExpectedStart.Equal(seedTime.Add(15*time.Minute)))
	assert.True(t, t1.CreatedAt.Before(t2.CreatedAt), "file order is the createdAt tie-break")

	assert.Equal(t, mes.ModeManual, t2.SchedulingMode)
	assert.True(t, t2.ExpectedStart.Equal(time.Date(2025, time.November, 21, 6, 0, 0, 0, time.UTC)))
}

func TestParsePlant_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		jsonStr string
		errMsg  string
	}{
		{"malformed", `{"id":`, "failed to parse plant JSON"},
		{"missing id", `{"materials": []}`, "plant ID is required"},
		{"unknown input", `{"id":"x","nodes":[{"id":"N1","plan_id":"P1","inputs":[{"material_code":"NOPE","required_quantity":"1","unit_ratio":"1"}]}]}`, "unknown input material"},
		{"unknown node", `{"id":"x","assignments":[{"id":"T1","node_id":"N9","worker_id":"W1"}]}`, "unknown node"},
		{"unknown substation", `{"id":"x","nodes":[{"id":"N1","plan_id":"P1"}],"assignments":[{"id":"T1","node_id":"N1","worker_id":"W1","substation_id":"S9"}]}`, "unknown substation"},
		{"in-progress status", `{"id":"x","nodes":[{"id":"N1","plan_id":"P1"}],"assignments":[{"id":"T1","node_id":"N1","worker_id":"W1","status":"in_progress"}]}`, "unsupported status"},
		{"bad lot date", `{"id":"x","materials":[{"code":"M1","lots":[{"lot_number":"L1","lot_date":"yesterday","quantity":"1"}]}]}`, "invalid lot_date"},
		{"zero lot", `{"id":"x","materials":[{"code":"M1","lots":[{"lot_number":"L1","lot_date":"2025-11-01","quantity":"0"}]}]}`, "quantity must be positive"},
		{"duplicate material", `{"id":"x","materials":[{"code":"M1"},{"code":"M1"}]}`, "duplicate material"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFactory().ParsePlant(tt.jsonStr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSeed_BooksOpeningLotsThroughLedger(t *testing.T) {
	// GIVEN: The multi-lot preset
	// WHEN: Seeding an empty store
	// THEN: Stock equals the ledger balance and lots come back in FIFO order

	ctx := context.Background()
	st := store.NewMemory()
	ledger := mes.NewLedger(func() time.Time { return seedTime })
	f := newFactory()

	plant, err := f.Preset("multi-lot-fifo")
	require.NoError(t, err)
	require.NoError(t, f.Seed(ctx, st, ledger, plant))

	m, err := st.GetMaterial(ctx, "M1")
	require.NoError(t, err)
	assert.True(t, m.Stock.Equal(decimal.NewFromInt(180)), "stock %s", m.Stock)
	assert.True(t, m.WIPReserved.IsZero())

	balance, err := ledger.Balance(ctx, st, "M1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(m.Stock))

	lots, err := ledger.LotBalances(ctx, st, "M1")
	require.NoError(t, err)
	require.Len(t, lots, 3)
	assert.Equal(t, []string{"L1", "L2", "L3"}, []string{lots[0].LotNumber, lots[1].LotNumber, lots[2].LotNumber})

	sub, err := st.GetSubstation(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, mes.SubstationAvailable, sub.Status)

	inputs, err := st.NodeMaterialInputs(ctx, "N1")
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.True(t, inputs[0].RequiredQuantity.Equal(decimal.NewFromInt(70)))
}

func TestSeed_FailureLeavesStoreUntouched(t *testing.T) {
	// GIVEN: A plant built by hand with a zero-quantity lot after a valid one
	// WHEN: Seeding
	// THEN: The ledger rejects it and nothing from the plant is left behind

	ctx := context.Background()
	st := store.NewMemory()
	ledger := mes.NewLedger(nil)

	plant := &factory.Plant{
		ID:        "broken",
		Materials: []mes.Material{{Code: "M1", Name: "M1", Unit: "kg", Type: mes.MaterialRaw}},
		Lots: map[string][]factory.LotJSON{"M1": {
			{LotNumber: "L1", LotDate: "2025-11-01", Quantity: decimal.NewFromInt(5)},
			{LotNumber: "L2", LotDate: "2025-11-02", Quantity: decimal.Zero},
		}},
		Substations: []mes.Substation{{ID: "S1", Status: mes.SubstationAvailable}},
	}

	err := newFactory().Seed(ctx, st, ledger, plant)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lot L2")

	_, err = st.GetMaterial(ctx, "M1")
	require.ErrorIs(t, err, mes.ErrMaterialNotFound)
	_, err = st.GetSubstation(ctx, "S1")
	require.ErrorIs(t, err, mes.ErrSubstationNotFound)
}

func TestPresets_AllParse(t *testing.T) {
	f := newFactory()
	ids := factory.PresetIDs()
	assert.Equal(t, []string{"cross-plan", "multi-lot-fifo", "partial-stock", "single-lot", "substation-handoff"}, ids)

	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			plant, err := f.Preset(id)
			require.NoError(t, err)
			assert.Equal(t, id, plant.ID)
			assert.NotEmpty(t, plant.Name)
			assert.NotEmpty(t, plant.Assignments)
		})
	}

	_, err := f.Preset("nope")
	require.Error(t, err)
}
