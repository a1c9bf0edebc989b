package mes

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TaskStats aggregates a worker's FIFO queue.
type TaskStats struct {
	WorkerID          string
	TotalPending      int
	TotalReady        int
	UrgentCount       int
	NextTaskDue       *time.Time      // nil when the queue is empty
	EstimatedWorkload decimal.Decimal // sum of effective time, minutes
}

func fifoFilter(workerID string, limit int) AssignmentFilter {
	return AssignmentFilter{
		WorkerID:       workerID,
		Statuses:       []AssignmentStatus{StatusPending, StatusReady},
		SchedulingMode: ModeFIFO,
		Order:          OrderFIFO,
		Limit:          limit,
	}
}

// NextTask returns the head of the worker's FIFO queue, or nil.
func (s *Scheduler) NextTask(ctx context.Context, workerID string) (*Task, error) {
	rows, err := s.Store.ListAssignments(ctx, fifoFilter(workerID, 1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &Task{WorkerAssignment: rows[0], FIFOPosition: 1}, nil
}

// TaskQueue returns up to limit tasks in FIFO order with 1-based positions.
// limit <= 0 means DefaultQueueLimit.
func (s *Scheduler) TaskQueue(ctx context.Context, workerID string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	rows, err := s.Store.ListAssignments(ctx, fifoFilter(workerID, limit))
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, len(rows))
	for i, a := range rows {
		tasks[i] = Task{WorkerAssignment: a, FIFOPosition: i + 1}
	}
	return tasks, nil
}

// TaskStats aggregates the worker's queue. An empty queue yields zeros.
func (s *Scheduler) TaskStats(ctx context.Context, workerID string) (*TaskStats, error) {
	rows, err := s.Store.ListAssignments(ctx, fifoFilter(workerID, 0))
	if err != nil {
		return nil, err
	}

	stats := &TaskStats{WorkerID: workerID, EstimatedWorkload: decimal.Zero}
	for _, a := range rows {
		switch a.Status {
		case StatusPending:
			stats.TotalPending++
		case StatusReady:
			stats.TotalReady++
		}
		if a.IsUrgent {
			stats.UrgentCount++
		}
		if stats.NextTaskDue == nil || a.ExpectedStart.Before(*stats.NextTaskDue) {
			due := a.ExpectedStart
			stats.NextTaskDue = &due
		}
		stats.EstimatedWorkload = stats.EstimatedWorkload.Add(a.EffectiveTime)
	}
	return stats, nil
}

// HasTasksInQueue reports whether the worker has any FIFO task waiting.
func (s *Scheduler) HasTasksInQueue(ctx context.Context, workerID string) (bool, error) {
	rows, err := s.Store.ListAssignments(ctx, fifoFilter(workerID, 1))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
