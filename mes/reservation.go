/*
reservation.go - Lot reservation and release

PURPOSE:
  Turns lot plans into ledger reality. When a task starts, the required
  material is taken out of stock into WIP, lot by lot, and the assignment
  remembers which lots it drew from.

RESERVE FLOW:
  ┌───────────────────────────────────────────────────────────────────┐
  │ validate all lines ──▶ per material: plan lots (FIFO)             │
  │                          ──▶ out/reservation movement per lot     │
  │                          ──▶ upsert reservation row per lot       │
  │                          ──▶ stock -= reserved, wip += reserved   │
  └───────────────────────────────────────────────────────────────────┘

  All lines share one transaction. An invalid line (unknown code,
  non-positive quantity) aborts everything. Not enough stock does NOT
  abort: the result carries a warning and the caller decides.

RELEASE:
  The inverse: in/release movement per reserved lot, stock += qty,
  wip -= qty, rows marked released. reserve followed by release leaves
  stock and WIP exactly where they started.

SEE ALSO:
  - lots.go: LotSelector
  - scheduler.go: StartTask calls ReserveIn inside its own transaction
*/
package mes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaterialReservationSummary is the outcome for one requested material.
type MaterialReservationSummary struct {
	MaterialCode string
	Required     decimal.Decimal
	Reserved     decimal.Decimal
	Shortfall    decimal.Decimal
	Partial      bool
	Lots         []LotAllocation
	Movements    []StockMovement
}

// ReservationResult is returned by Reserve. A nil error means success, even
// when Warnings is non-empty.
type ReservationResult struct {
	AssignmentID string
	Reservations []MaterialReservationSummary
	Warnings     []string
}

// Partial reports whether any material was short.
func (r *ReservationResult) Partial() bool {
	return len(r.Warnings) > 0
}

// ReleaseResult lists what was put back.
type ReleaseResult struct {
	AssignmentID string
	Released     []MaterialReservation
	Movements    []StockMovement
}

// =============================================================================
// RESERVATION ENGINE
// =============================================================================

type ReservationEngine struct {
	Store    TxStore
	Ledger   *Ledger
	Selector *LotSelector
	Now      Clock
}

// Reserve runs ReserveIn in its own transaction.
func (re *ReservationEngine) Reserve(ctx context.Context, assignmentID string, reqs []MaterialRequirement) (*ReservationResult, error) {
	var result *ReservationResult
	err := re.Store.WithTx(ctx, func(s Store) error {
		var err error
		result, err = re.ReserveIn(ctx, s, assignmentID, reqs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReserveIn reserves within the caller's transaction. On error the caller
// must roll back; partial writes may already have been made through s.
func (re *ReservationEngine) ReserveIn(ctx context.Context, s Store, assignmentID string, reqs []MaterialRequirement) (*ReservationResult, error) {
	if err := re.validate(ctx, s, reqs); err != nil {
		return nil, err
	}

	result := &ReservationResult{AssignmentID: assignmentID}
	for _, req := range reqs {
		summary, err := re.reserveMaterial(ctx, s, assignmentID, req)
		if err != nil {
			return nil, err
		}
		if summary.Partial {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"insufficient stock for %s: required %s, reserved %s, shortfall %s",
				req.MaterialCode, req.RequiredQty, summary.Reserved, summary.Shortfall))
		}
		result.Reservations = append(result.Reservations, *summary)
	}
	return result, nil
}

func (re *ReservationEngine) validate(ctx context.Context, s Store, reqs []MaterialRequirement) error {
	for _, req := range reqs {
		if req.MaterialCode == "" {
			return &RequirementError{Reason: "material code is required"}
		}
		if !req.RequiredQty.IsPositive() {
			return &RequirementError{
				MaterialCode: req.MaterialCode,
				Reason:       fmt.Sprintf("required quantity must be positive, got %s", req.RequiredQty),
			}
		}
		if _, err := s.GetMaterial(ctx, req.MaterialCode); err != nil {
			return err
		}
	}
	return nil
}

func (re *ReservationEngine) reserveMaterial(ctx context.Context, s Store, assignmentID string, req MaterialRequirement) (*MaterialReservationSummary, error) {
	plan, err := re.Selector.Select(ctx, s, req.MaterialCode, req.RequiredQty)
	if err != nil {
		return nil, err
	}

	summary := &MaterialReservationSummary{
		MaterialCode: req.MaterialCode,
		Required:     req.RequiredQty,
		Reserved:     plan.TotalReserved,
		Shortfall:    plan.Shortfall,
		Partial:      plan.Partial,
		Lots:         plan.Lots,
	}
	if len(plan.Lots) == 0 {
		return summary, nil
	}

	postings := make([]Posting, len(plan.Lots))
	for i, lot := range plan.Lots {
		postings[i] = Posting{
			Type:          MovementOut,
			SubType:       SubTypeReservation,
			Quantity:      lot.Quantity,
			LotNumber:     lot.LotNumber,
			LotDate:       lot.LotDate,
			AssignmentID:  assignmentID,
			Reference:     assignmentID,
			ReferenceType: "assignment",
			Notes:         fmt.Sprintf("FIFO reservation from lot %s", lot.LotNumber),
		}
	}
	moves, err := re.Ledger.PostBatch(ctx, s, req.MaterialCode, plan.TotalReserved, postings)
	if err != nil {
		return nil, err
	}
	summary.Movements = moves

	now := re.now()
	for _, lot := range plan.Lots {
		if err := re.upsertReservation(ctx, s, assignmentID, req, lot, now); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

func (re *ReservationEngine) upsertReservation(ctx context.Context, s Store, assignmentID string, req MaterialRequirement, lot LotAllocation, now time.Time) error {
	existing, err := s.GetReservation(ctx, assignmentID, req.MaterialCode, lot.LotNumber)
	if err != nil {
		return err
	}

	if existing != nil && existing.Status == ReservationReserved {
		existing.ActualReservedQty = existing.ActualReservedQty.Add(lot.Quantity)
		return s.SaveReservation(ctx, *existing)
	}

	r := MaterialReservation{
		ID:                uuid.NewString(),
		AssignmentID:      assignmentID,
		MaterialCode:      req.MaterialCode,
		LotNumber:         lot.LotNumber,
		LotDate:           lot.LotDate,
		PreProductionQty:  req.RequiredQty,
		ActualReservedQty: lot.Quantity,
		ConsumedQty:       decimal.Zero,
		Status:            ReservationReserved,
		CreatedAt:         now,
	}
	if existing != nil {
		// A released or consumed row is reused for the same lot.
		r.ID = existing.ID
	}
	return s.SaveReservation(ctx, r)
}

// Release runs ReleaseIn in its own transaction.
func (re *ReservationEngine) Release(ctx context.Context, assignmentID string) (*ReleaseResult, error) {
	var result *ReleaseResult
	err := re.Store.WithTx(ctx, func(s Store) error {
		var err error
		result, err = re.ReleaseIn(ctx, s, assignmentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseIn reverses every reserved row of an assignment.
func (re *ReservationEngine) ReleaseIn(ctx context.Context, s Store, assignmentID string) (*ReleaseResult, error) {
	rows, err := s.ListReservations(ctx, assignmentID, ReservationReserved)
	if err != nil {
		return nil, err
	}

	result := &ReleaseResult{AssignmentID: assignmentID}
	for _, group := range groupByMaterial(rows) {
		code := group[0].MaterialCode
		total := decimal.Zero
		var postings []Posting
		for _, r := range group {
			if !r.ActualReservedQty.IsPositive() {
				continue
			}
			total = total.Add(r.ActualReservedQty)
			postings = append(postings, Posting{
				Type:          MovementIn,
				SubType:       SubTypeRelease,
				Quantity:      r.ActualReservedQty,
				LotNumber:     r.LotNumber,
				LotDate:       r.LotDate,
				AssignmentID:  assignmentID,
				Reference:     assignmentID,
				ReferenceType: "assignment",
				Notes:         fmt.Sprintf("Reservation released to lot %s", r.LotNumber),
			})
		}

		if len(postings) > 0 {
			moves, err := re.Ledger.PostBatch(ctx, s, code, total.Neg(), postings)
			if err != nil {
				return nil, err
			}
			result.Movements = append(result.Movements, moves...)
		}

		for _, r := range group {
			r.Status = ReservationReleased
			if err := s.SaveReservation(ctx, r); err != nil {
				return nil, err
			}
			result.Released = append(result.Released, r)
		}
	}
	return result, nil
}

func (re *ReservationEngine) now() time.Time {
	if re.Now != nil {
		return re.Now()
	}
	return systemClock()
}

// groupByMaterial keeps the first-seen order of materials and of rows within
// each material.
func groupByMaterial(rows []MaterialReservation) [][]MaterialReservation {
	index := make(map[string]int)
	var groups [][]MaterialReservation
	for _, r := range rows {
		i, ok := index[r.MaterialCode]
		if !ok {
			i = len(groups)
			index[r.MaterialCode] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	return groups
}
