package mes_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umuxt/Burkol0-sub002/mes"
)

func TestTaskQueue_FIFOOrderFromShuffledInput(t *testing.T) {
	// GIVEN: A worker's tasks inserted in random order
	// WHEN: Reading the queue
	// THEN: urgent first, then expectedStart asc, then createdAt asc;
	//       non-fifo, non-waiting and other workers' rows are excluded

	want := []mes.WorkerAssignment{
		{ID: "urgent-late", IsUrgent: true, ExpectedStart: t0.Add(5 * time.Hour)},
		{ID: "urgent-later", IsUrgent: true, ExpectedStart: t0.Add(6 * time.Hour), Status: mes.StatusReady},
		{ID: "early", ExpectedStart: t0.Add(time.Hour), CreatedAt: t0.Add(-3 * time.Hour)},
		{ID: "early-newer", ExpectedStart: t0.Add(time.Hour), CreatedAt: t0.Add(-2 * time.Hour)},
		{ID: "mid", ExpectedStart: t0.Add(2 * time.Hour), Status: mes.StatusReady},
		{ID: "late", ExpectedStart: t0.Add(9 * time.Hour)},
	}
	noise := []mes.WorkerAssignment{
		{ID: "manual", SchedulingMode: mes.ModeManual},
		{ID: "running", Status: mes.StatusInProgress},
		{ID: "queued", Status: mes.StatusQueued},
		{ID: "done", Status: mes.StatusCompleted, IsUrgent: true},
	}

	f := newFixture(t)
	all := append(append([]mes.WorkerAssignment{}, want...), noise...)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	for _, a := range all {
		a.WorkerID = "W1"
		f.assign(t, a)
	}
	f.assign(t, mes.WorkerAssignment{ID: "other-worker", WorkerID: "W2", IsUrgent: true})

	tasks, err := f.sched.TaskQueue(f.ctx, "W1", 0)
	require.NoError(t, err)

	require.Len(t, tasks, len(want))
	for i, task := range tasks {
		assert.Equal(t, want[i].ID, task.ID, "position %d", i+1)
		assert.Equal(t, i+1, task.FIFOPosition)
	}

	limited, err := f.sched.TaskQueue(f.ctx, "W1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "urgent-late", limited[0].ID)

	next, err := f.sched.NextTask(f.ctx, "W1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "urgent-late", next.ID)
	assert.Equal(t, 1, next.FIFOPosition)
}

func TestTaskQueue_DefaultLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 15; i++ {
		f.assign(t, mes.WorkerAssignment{
			ID:            "T" + string(rune('a'+i)),
			WorkerID:      "W1",
			ExpectedStart: t0.Add(time.Duration(i) * time.Minute),
		})
	}

	tasks, err := f.sched.TaskQueue(f.ctx, "W1", -1)
	require.NoError(t, err)
	assert.Len(t, tasks, mes.DefaultQueueLimit)
	assert.Equal(t, "Ta", tasks[0].ID)
}

func TestTaskStats_Aggregates(t *testing.T) {
	f := newFixture(t)
	f.assign(t, mes.WorkerAssignment{ID: "A", WorkerID: "W1", IsUrgent: true, ExpectedStart: t0.Add(3 * time.Hour), EffectiveTime: d("30")})
	f.assign(t, mes.WorkerAssignment{ID: "B", WorkerID: "W1", Status: mes.StatusReady, ExpectedStart: t0.Add(time.Hour), EffectiveTime: d("12.5")})
	f.assign(t, mes.WorkerAssignment{ID: "C", WorkerID: "W1", ExpectedStart: t0.Add(2 * time.Hour), EffectiveTime: d("7.5")})
	f.assign(t, mes.WorkerAssignment{ID: "D", WorkerID: "W1", Status: mes.StatusInProgress, EffectiveTime: d("100")})

	stats, err := f.sched.TaskStats(f.ctx, "W1")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalPending)
	assert.Equal(t, 1, stats.TotalReady)
	assert.Equal(t, 1, stats.UrgentCount)
	require.NotNil(t, stats.NextTaskDue)
	assert.True(t, stats.NextTaskDue.Equal(t0.Add(time.Hour)))
	requireDec(t, "50", stats.EstimatedWorkload)

	has, err := f.sched.HasTasksInQueue(f.ctx, "W1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestQueueQueries_EmptyQueue(t *testing.T) {
	// GIVEN: A worker with no waiting tasks
	// THEN: nil / empty / zero values, never an error

	f := newFixture(t)

	next, err := f.sched.NextTask(f.ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, next)

	tasks, err := f.sched.TaskQueue(f.ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	stats, err := f.sched.TaskStats(f.ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalPending)
	assert.Nil(t, stats.NextTaskDue)
	requireDec(t, "0", stats.EstimatedWorkload)

	has, err := f.sched.HasTasksInQueue(f.ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, has)
}
