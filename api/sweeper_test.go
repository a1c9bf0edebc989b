package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umuxt/Burkol0-sub002/mes"
	"github.com/umuxt/Burkol0-sub002/mes/store"
)

// idlePlant has S1 free while T2 waits for it, as after an administrative
// release, plus S2 held by a running task.
func idlePlant(t *testing.T) (*mes.Scheduler, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	require.NoError(t, st.SaveSubstation(ctx, mes.Substation{ID: "S1", Status: mes.SubstationAvailable}))
	require.NoError(t, st.SaveSubstation(ctx, mes.Substation{
		ID: "S2", Status: mes.SubstationInUse, CurrentAssignmentID: "T3", AssignedWorkerID: "W3",
	}))
	for _, a := range []mes.WorkerAssignment{
		{ID: "T2", WorkerID: "W2", SubstationID: "S1", Status: mes.StatusQueued},
		{ID: "T3", WorkerID: "W3", SubstationID: "S2", Status: mes.StatusInProgress},
		{ID: "T4", WorkerID: "W4", SubstationID: "S2", Status: mes.StatusQueued},
	} {
		a.PlanID = "P1"
		a.SchedulingMode = mes.ModeFIFO
		a.ExpectedStart = testNow
		a.CreatedAt = testNow
		require.NoError(t, st.SaveAssignment(ctx, a))
	}

	return mes.NewScheduler(st, nil, func() time.Time { return testNow }), st
}

func TestSweeper_RunNowHandsIdleSubstations(t *testing.T) {
	// GIVEN: S1 idle with T2 queued, S2 held by a live task
	// WHEN: One sweep
	// THEN: Only S1 changes hands; a second sweep is a no-op

	ctx := context.Background()
	scheduler, st := idlePlant(t)
	sw := NewSweeper(scheduler, nil)
	assert.Nil(t, sw.LastRun())

	run := sw.RunNow(ctx)
	assert.Equal(t, 2, run.Checked)
	assert.Equal(t, 1, run.Applied)
	assert.Zero(t, run.Failed)

	s1, err := st.GetSubstation(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, mes.SubstationReserved, s1.Status)
	assert.Equal(t, "T2", s1.CurrentAssignmentID)

	t2, err := st.GetAssignment(ctx, "T2")
	require.NoError(t, err)
	assert.Equal(t, mes.StatusPending, t2.Status)

	s2, err := st.GetSubstation(ctx, "S2")
	require.NoError(t, err)
	assert.Equal(t, "T3", s2.CurrentAssignmentID, "live owner is never displaced")

	again := sw.RunNow(ctx)
	assert.Zero(t, again.Applied)
	require.NotNil(t, sw.LastRun())
	assert.Equal(t, 2, sw.LastRun().Checked)
}

func TestSweeper_StartStop(t *testing.T) {
	scheduler, _ := idlePlant(t)
	sw := NewSweeper(scheduler, nil)
	sw.Interval = 10 * time.Millisecond

	sw.Start()
	require.Eventually(t, func() bool { return sw.LastRun() != nil }, time.Second, 5*time.Millisecond)
	sw.Stop()
	sw.Stop() // idempotent

	disabled := NewSweeper(scheduler, nil)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
	assert.Nil(t, disabled.LastRun())
}

func TestSweepEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	ts.load(t, "single-lot")

	rec := ts.do(t, http.MethodGet, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "null", rec.Body.String())

	run := decode[SweepRun](t, ts.do(t, http.MethodPost, "/api/admin/sweep", nil))
	assert.Equal(t, 1, run.Checked)
	assert.Equal(t, 1, run.Applied, "S1 is reserved for its pending task")

	a := decode[AssignmentDTO](t, ts.do(t, http.MethodGet, "/api/assignments/T1", nil))
	assert.Equal(t, "pending", a.Status)
	rec = ts.do(t, http.MethodPost, "/api/assignments/T1/start", StartTaskRequest{WorkerID: "W1"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
