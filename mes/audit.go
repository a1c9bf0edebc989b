package mes

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusRecorder is the audit hook for assignment transitions. It receives
// the transaction's Store, so a failing write rolls the whole operation back.
type StatusRecorder interface {
	RecordStatusChange(ctx context.Context, s Store, assignmentID string, from, to AssignmentStatus, actorID string, metadata map[string]string) error
}

// HistoryRecorder writes transitions to the store's status history.
type HistoryRecorder struct {
	Now Clock
}

func (h HistoryRecorder) RecordStatusChange(ctx context.Context, s Store, assignmentID string, from, to AssignmentStatus, actorID string, metadata map[string]string) error {
	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now()
	}
	return s.AppendStatusChange(ctx, StatusChange{
		ID:           uuid.NewString(),
		AssignmentID: assignmentID,
		FromStatus:   from,
		ToStatus:     to,
		ActorID:      actorID,
		Metadata:     metadata,
		ChangedAt:    now,
	})
}
