/*
substation.go - Substation release, hand-off and next-task promotion

PURPOSE:
  A substation has one owner at a time. When its owner completes, the
  substation goes to the next waiter in this order:

    1. queued assignment targeting it, oldest expectedStart first
       → promoted queued→pending AND substation reserved for it
    2. pending assignment already targeting it, oldest expectedStart first
       → substation reserved for it, status unchanged

  ApplyDeferredReservation runs the same hand-off outside of a completion
  (e.g. after an administrative release). It never steals: if the current
  holder is still live (pending, ready, in_progress, paused) it returns
  false and writes nothing.

NEXT-TASK PROMOTION (per worker):
  Same (worker, plan) queued task by sequenceNumber first, otherwise any
  queued task of the worker by expectedStart (cross-plan). The candidate
  is promoted only if its substation can be reserved for it in the same
  transaction; otherwise it stays queued until that substation frees up.

SEE ALSO:
  - scheduler.go: CompleteTask calls releaseSubstation and promoteNext
  - types.go: Substation.ReservableFor
*/
package mes

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// releaseSubstation frees the substation held by a and hands it to the next
// waiter. A substation now owned by someone else is left untouched.
func (s *Scheduler) releaseSubstation(ctx context.Context, st Store, a *WorkerAssignment, now time.Time) (*Handoff, error) {
	sub, err := st.GetSubstation(ctx, a.SubstationID)
	if err != nil {
		return nil, err
	}
	if sub.CurrentAssignmentID != "" && sub.CurrentAssignmentID != a.ID {
		return nil, nil
	}

	clearSubstation(sub)
	if err := st.SaveSubstation(ctx, *sub); err != nil {
		return nil, fmt.Errorf("release substation %s: %w", sub.ID, err)
	}
	return s.handOff(ctx, st, sub, now)
}

func clearSubstation(sub *Substation) {
	sub.Status = SubstationAvailable
	sub.CurrentAssignmentID = ""
	sub.AssignedWorkerID = ""
	sub.CurrentOperation = ""
	sub.ReservedAt = nil
}

// handOff reserves an available substation for its next waiter, if any.
func (s *Scheduler) handOff(ctx context.Context, st Store, sub *Substation, now time.Time) (*Handoff, error) {
	queued, err := st.ListAssignments(ctx, AssignmentFilter{
		SubstationID: sub.ID,
		Statuses:     []AssignmentStatus{StatusQueued},
		Order:        OrderExpectedStart,
		Limit:        1,
	})
	if err != nil {
		return nil, fmt.Errorf("find queued assignment for substation %s: %w", sub.ID, err)
	}
	if len(queued) > 0 {
		next := queued[0]
		if err := s.promote(ctx, st, &next); err != nil {
			return nil, err
		}
		if err := reserveSubstation(ctx, st, sub, next, now); err != nil {
			return nil, err
		}
		return &Handoff{SubstationID: sub.ID, AssignmentID: next.ID, WorkerID: next.WorkerID, Promoted: true}, nil
	}

	pending, err := st.ListAssignments(ctx, AssignmentFilter{
		SubstationID: sub.ID,
		Statuses:     []AssignmentStatus{StatusPending},
		Order:        OrderExpectedStart,
		Limit:        1,
	})
	if err != nil {
		return nil, fmt.Errorf("find pending assignment for substation %s: %w", sub.ID, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	next := pending[0]
	if err := reserveSubstation(ctx, st, sub, next, now); err != nil {
		return nil, err
	}
	return &Handoff{SubstationID: sub.ID, AssignmentID: next.ID, WorkerID: next.WorkerID}, nil
}

func reserveSubstation(ctx context.Context, st Store, sub *Substation, a WorkerAssignment, now time.Time) error {
	sub.Status = SubstationReserved
	sub.CurrentAssignmentID = a.ID
	sub.AssignedWorkerID = a.WorkerID
	sub.CurrentOperation = a.OperationID
	sub.ReservedAt = &now
	if err := st.SaveSubstation(ctx, *sub); err != nil {
		return fmt.Errorf("reserve substation %s for %s: %w", sub.ID, a.ID, err)
	}
	return nil
}

// promote moves a queued assignment to pending and records it.
func (s *Scheduler) promote(ctx context.Context, st Store, a *WorkerAssignment) error {
	a.Status = StatusPending
	if err := st.SaveAssignment(ctx, *a); err != nil {
		return fmt.Errorf("promote assignment %s: %w", a.ID, err)
	}
	return s.Recorder.RecordStatusChange(ctx, st, a.ID, StatusQueued, StatusPending, SystemActor, nil)
}

// promoteNext promotes the completing worker's next queued task.
func (s *Scheduler) promoteNext(ctx context.Context, st Store, done *WorkerAssignment, now time.Time) (*Promotion, error) {
	candidates, err := st.ListAssignments(ctx, AssignmentFilter{
		WorkerID: done.WorkerID,
		PlanID:   done.PlanID,
		Statuses: []AssignmentStatus{StatusQueued},
		Order:    OrderSequence,
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("find next task in plan %s: %w", done.PlanID, err)
	}
	crossPlan := false
	if len(candidates) == 0 {
		candidates, err = st.ListAssignments(ctx, AssignmentFilter{
			WorkerID:      done.WorkerID,
			ExcludePlanID: done.PlanID,
			Statuses:      []AssignmentStatus{StatusQueued},
			Order:         OrderExpectedStart,
			Limit:         1,
		})
		if err != nil {
			return nil, fmt.Errorf("find next cross-plan task: %w", err)
		}
		crossPlan = true
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	next := candidates[0]

	var sub *Substation
	if next.SubstationID != "" {
		sub, err = st.GetSubstation(ctx, next.SubstationID)
		if err != nil {
			return nil, err
		}
		if !sub.ReservableFor(next.ID) {
			// Stays queued until that substation is released.
			return nil, nil
		}
	}

	if err := s.promote(ctx, st, &next); err != nil {
		return nil, err
	}
	if sub != nil {
		if err := reserveSubstation(ctx, st, sub, next, now); err != nil {
			return nil, err
		}
	}
	return &Promotion{
		AssignmentID: next.ID,
		PlanID:       next.PlanID,
		CrossPlan:    crossPlan,
		SubstationID: next.SubstationID,
	}, nil
}

// =============================================================================
// DEFERRED RESERVATION
// =============================================================================

// ApplyDeferredReservation hands a free substation to its next waiter. It
// returns false without writing when the substation still has a live owner
// or nobody is waiting. A pointer to a finished or missing assignment is
// cleared first.
func (s *Scheduler) ApplyDeferredReservation(ctx context.Context, substationID string) (bool, error) {
	var handoff *Handoff
	err := s.Store.WithTx(ctx, func(st Store) error {
		sub, err := st.GetSubstation(ctx, substationID)
		if err != nil {
			return err
		}

		if sub.CurrentAssignmentID != "" {
			holder, err := st.GetAssignment(ctx, sub.CurrentAssignmentID)
			switch {
			case err == nil && (holder.Status.Active() || holder.Status.Startable()):
				return nil
			case err != nil && !IsNotFound(err):
				return err
			}
			s.Logger.Debug("clearing stale substation owner",
				zap.String("substation_id", sub.ID),
				zap.String("assignment_id", sub.CurrentAssignmentID))
			clearSubstation(sub)
			if err := st.SaveSubstation(ctx, *sub); err != nil {
				return fmt.Errorf("clear substation %s: %w", sub.ID, err)
			}
		} else if sub.Status != SubstationAvailable {
			clearSubstation(sub)
			if err := st.SaveSubstation(ctx, *sub); err != nil {
				return fmt.Errorf("clear substation %s: %w", sub.ID, err)
			}
		}

		handoff, err = s.handOff(ctx, st, sub, s.Now())
		return err
	})
	if err != nil {
		return false, err
	}
	if handoff == nil {
		return false, nil
	}
	s.Logger.Info("deferred substation reservation applied",
		zap.String("substation_id", handoff.SubstationID),
		zap.String("assignment_id", handoff.AssignmentID),
		zap.Bool("promoted", handoff.Promoted))
	return true, nil
}
