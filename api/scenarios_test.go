/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario loads into a clean database and leaves the
	plant in the documented state. These double as integration tests of
	the factory seeding path against SQLite.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umuxt/Burkol0-sub002/mes"
)

func TestListScenarios(t *testing.T) {
	ts := setupTestServer(t)

	list := decode[[]ScenarioDTO](t, ts.do(t, http.MethodGet, "/api/scenarios", nil))
	require.Len(t, list, 5)
	for _, s := range list {
		assert.NotEmpty(t, s.Name, s.ID)
		assert.NotEmpty(t, s.Category, s.ID)
	}

	rec := ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "null", rec.Body.String())
}

func TestLoadScenario_EveryPresetKeepsLedgerConsistent(t *testing.T) {
	// GIVEN: Each preset loaded in turn into the same database
	// THEN: The previous plant is gone, and stock equals the ledger balance

	ts := setupTestServer(t)
	ctx := context.Background()

	list := decode[[]ScenarioDTO](t, ts.do(t, http.MethodGet, "/api/scenarios", nil))
	for _, s := range list {
		t.Run(s.ID, func(t *testing.T) {
			ts.load(t, s.ID)

			current := decode[ScenarioDTO](t, ts.do(t, http.MethodGet, "/api/scenarios/current", nil))
			assert.Equal(t, s.ID, current.ID)

			materials, err := ts.store.ListMaterials(ctx)
			require.NoError(t, err)
			require.NotEmpty(t, materials)
			for _, m := range materials {
				balance, err := ts.handler.Scheduler.Ledger.Balance(ctx, ts.store, m.Code)
				require.NoError(t, err)
				assert.True(t, balance.Equal(m.Stock), "%s: ledger %s, stock %s", m.Code, balance, m.Stock)
			}
		})
	}
}

func TestLoadScenario_SubstationHandoffStartsFirstTask(t *testing.T) {
	ts := setupTestServer(t)
	ts.load(t, "substation-handoff")
	ctx := context.Background()

	t1, err := ts.store.GetAssignment(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, mes.StatusInProgress, t1.Status)
	assert.Equal(t, mes.MaterialsReserved, t1.MaterialReservationStatus)

	t2, err := ts.store.GetAssignment(ctx, "T2")
	require.NoError(t, err)
	assert.Equal(t, mes.StatusQueued, t2.Status)

	sub, err := ts.store.GetSubstation(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, mes.SubstationInUse, sub.Status)
	assert.Equal(t, "T1", sub.CurrentAssignmentID)
}

func TestLoadScenario_UnknownAndReset(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.load(t, "single-lot")
	rec = ts.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := ts.store.GetMaterial(context.Background(), "M1")
	require.ErrorIs(t, err, mes.ErrMaterialNotFound)

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.JSONEq(t, "null", rec.Body.String())
}
