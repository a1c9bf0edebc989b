/*
store.go - Persistence interface for the scheduler and material engine

PURPOSE:
  Defines the boundary between domain logic and the database. The scheduler
  never holds a global connection; it is handed a TxStore and does all of
  its mutating work inside WithTx.

KEY INTERFACES:
  Store:   Every read and write the core needs, one statement at a time
  TxStore: Store + WithTx for all-or-nothing operations

LEDGER CONTRACT:
  Stock movements are append-only: AppendMovement exists, update/delete don't.
  AdjustMaterial is the aggregate counterpart and is only called by Ledger.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with BEGIN IMMEDIATE transactions
  - mes/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: The only caller of AppendMovement / AdjustMaterial
  - scheduler.go: Opens one WithTx per startTask / completeTask
*/
package mes

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUERY FILTERS
// =============================================================================

// AssignmentOrder selects the ORDER BY of an assignment listing.
type AssignmentOrder int

const (
	// OrderFIFO: urgent first, then expectedStart asc, then createdAt asc.
	OrderFIFO AssignmentOrder = iota
	// OrderSequence: sequenceNumber asc, then expectedStart asc.
	OrderSequence
	// OrderExpectedStart: expectedStart asc, then createdAt asc.
	OrderExpectedStart
)

// Less reports whether a sorts before b. Store implementations that sort in
// memory use this; SQL implementations must produce the same order.
func (o AssignmentOrder) Less(a, b WorkerAssignment) bool {
	switch o {
	case OrderFIFO:
		if a.IsUrgent != b.IsUrgent {
			return a.IsUrgent
		}
	case OrderSequence:
		if a.SequenceNumber != b.SequenceNumber {
			return a.SequenceNumber < b.SequenceNumber
		}
	}
	if !a.ExpectedStart.Equal(b.ExpectedStart) {
		return a.ExpectedStart.Before(b.ExpectedStart)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// AssignmentFilter narrows ListAssignments. Zero-valued fields don't filter.
type AssignmentFilter struct {
	WorkerID       string
	PlanID         string
	SubstationID   string
	ExcludePlanID  string
	Statuses       []AssignmentStatus
	SchedulingMode SchedulingMode
	Order          AssignmentOrder
	Limit          int // 0 = unlimited
}

// Matches applies the filter to a single row.
func (f AssignmentFilter) Matches(a WorkerAssignment) bool {
	if f.WorkerID != "" && a.WorkerID != f.WorkerID {
		return false
	}
	if f.PlanID != "" && a.PlanID != f.PlanID {
		return false
	}
	if f.ExcludePlanID != "" && a.PlanID == f.ExcludePlanID {
		return false
	}
	if f.SubstationID != "" && a.SubstationID != f.SubstationID {
		return false
	}
	if f.SchedulingMode != "" && a.SchedulingMode != f.SchedulingMode {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// =============================================================================
// STORE
// =============================================================================

// Store is the persistence surface of the core. Get* methods return a
// not-found sentinel (ErrAssignmentNotFound, ...) when the row is missing,
// except GetReservation and GetPlanNode which return (nil, nil).
type Store interface {
	// Assignments
	GetAssignment(ctx context.Context, id string) (*WorkerAssignment, error)
	SaveAssignment(ctx context.Context, a WorkerAssignment) error
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]WorkerAssignment, error)

	// Substations
	GetSubstation(ctx context.Context, id string) (*Substation, error)
	SaveSubstation(ctx context.Context, s Substation) error
	ListSubstations(ctx context.Context) ([]Substation, error)

	// Materials. SaveMaterial never changes Stock/WIPReserved of an existing row.
	GetMaterial(ctx context.Context, code string) (*Material, error)
	SaveMaterial(ctx context.Context, m Material) error
	AdjustMaterial(ctx context.Context, code string, stockDelta, wipDelta decimal.Decimal) error
	ListMaterials(ctx context.Context) ([]Material, error)

	// Ledger (append-only). LoadMovements orders by MovementDate, then Seq.
	AppendMovement(ctx context.Context, m StockMovement) error
	LoadMovements(ctx context.Context, materialCode string) ([]StockMovement, error)

	// Reservations. SaveReservation upserts on (AssignmentID, MaterialCode, LotNumber).
	// ListReservations orders by creation; status "" lists all.
	GetReservation(ctx context.Context, assignmentID, materialCode, lotNumber string) (*MaterialReservation, error)
	SaveReservation(ctx context.Context, r MaterialReservation) error
	ListReservations(ctx context.Context, assignmentID string, status ReservationStatus) ([]MaterialReservation, error)

	// Planning
	GetPlanNode(ctx context.Context, nodeID string) (*PlanNode, error)
	SavePlanNode(ctx context.Context, n PlanNode) error
	NodeMaterialInputs(ctx context.Context, nodeID string) ([]NodeMaterialInput, error)
	SaveNodeMaterialInput(ctx context.Context, in NodeMaterialInput) error

	// NextLotSequence atomically increments and returns the per-(material, day) counter.
	NextLotSequence(ctx context.Context, materialCode string, day time.Time) (int, error)

	// Status history
	AppendStatusChange(ctx context.Context, c StatusChange) error
	ListStatusChanges(ctx context.Context, assignmentID string) ([]StatusChange, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the handed-in Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
