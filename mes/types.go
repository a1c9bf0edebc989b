/*
Package mes provides the shop-floor execution core: FIFO task scheduling and
lot-based material reservation.

PURPOSE:
  Worker assignments are started and completed strictly in FIFO order. When a
  task starts, raw material is reserved from the oldest lots first. When it
  completes, the real consumption (output + defects + scrap) is reconciled
  against what was reserved, and the difference is posted back to stock.

KEY CONCEPTS IN THIS FILE (types.go):
  - WorkerAssignment: One unit of scheduled work (the "task")
  - Substation: Exclusive physical resource a task holds while running
  - Material: Inventory item with on-hand stock and WIP-reserved quantity
  - StockMovement: Immutable ledger entry (in/out) optionally tied to a lot
  - MaterialReservation: Which lots an assignment drew from, and how much

DESIGN PRINCIPLES:
  1. Append-only stock: Material.Stock only moves through ledger postings
  2. Precision: decimal.Decimal everywhere, so reconciliation never leaks
  3. Single owner: a substation belongs to at most one live assignment
  4. Ordering from data: FIFO order is re-derived from rows on every read

SEE ALSO:
  - ledger.go: Stock postings and lot balances
  - lots.go: FIFO lot selection
  - reservation.go: Reserve / release
  - scheduler.go: Task lifecycle
*/
package mes

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// QuantityScale is the number of decimal places kept for proportional splits.
const QuantityScale = 6

// =============================================================================
// ASSIGNMENT
// =============================================================================

type AssignmentStatus string

const (
	StatusPending    AssignmentStatus = "pending"
	StatusReady      AssignmentStatus = "ready"
	StatusQueued     AssignmentStatus = "queued"
	StatusInProgress AssignmentStatus = "in_progress"
	StatusPaused     AssignmentStatus = "paused"
	StatusCompleted  AssignmentStatus = "completed"
	StatusCancelled  AssignmentStatus = "cancelled"
)

// Startable reports whether startTask accepts an assignment in this status.
func (s AssignmentStatus) Startable() bool {
	return s == StatusPending || s == StatusReady
}

// Active reports whether the assignment still legitimately owns its substation.
func (s AssignmentStatus) Active() bool {
	return s == StatusInProgress || s == StatusPaused
}

type SchedulingMode string

const (
	ModeFIFO   SchedulingMode = "fifo"
	ModeManual SchedulingMode = "manual"
)

// MaterialReservationStatus summarises the material side of an assignment.
type MaterialReservationStatus string

const (
	MaterialsNotRequired MaterialReservationStatus = "not_required"
	MaterialsPending     MaterialReservationStatus = "pending"
	MaterialsReserved    MaterialReservationStatus = "reserved"
	MaterialsPartial     MaterialReservationStatus = "partial"
	MaterialsConsumed    MaterialReservationStatus = "consumed"
)

// WorkerAssignment is one unit of scheduled work.
type WorkerAssignment struct {
	ID            string
	PlanID        string
	WorkOrderCode string
	NodeID        string
	OperationID   string
	WorkerID      string
	SubstationID  string // "" = no substation

	Status         AssignmentStatus
	SchedulingMode SchedulingMode
	IsUrgent       bool
	SequenceNumber int
	ExpectedStart  time.Time
	CreatedAt      time.Time
	EffectiveTime  decimal.Decimal // minutes

	StartedAt                 *time.Time
	CompletedAt               *time.Time
	MaterialReservationStatus MaterialReservationStatus
	ActualQuantity            decimal.Decimal
	DefectQuantity            decimal.Decimal
	InputScrapCount           ScrapCounts
	ProductionScrapCount      ScrapCounts
	Notes                     string
}

// Task is an assignment annotated with its 1-based position in the worker's FIFO queue.
type Task struct {
	WorkerAssignment
	FIFOPosition int
}

// ScrapCounts maps a material code to a scrapped quantity.
type ScrapCounts map[string]decimal.Decimal

// Get returns the count for code, zero when absent.
func (s ScrapCounts) Get(code string) decimal.Decimal {
	if v, ok := s[code]; ok {
		return v
	}
	return decimal.Zero
}

// Codes returns the material codes in sorted order.
func (s ScrapCounts) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Validate rejects empty codes and negative quantities.
func (s ScrapCounts) Validate() error {
	for code, qty := range s {
		if code == "" {
			return &QuantityError{Field: "scrap", Reason: "empty material code"}
		}
		if qty.IsNegative() {
			return &QuantityError{Field: "scrap[" + code + "]", Value: qty, Reason: "must not be negative"}
		}
	}
	return nil
}

// =============================================================================
// SUBSTATION
// =============================================================================

type SubstationStatus string

const (
	SubstationAvailable SubstationStatus = "available"
	SubstationReserved  SubstationStatus = "reserved"
	SubstationInUse     SubstationStatus = "in_use"
)

// Substation is a single-owner physical work resource.
type Substation struct {
	ID                  string
	Status              SubstationStatus
	CurrentAssignmentID string
	AssignedWorkerID    string
	CurrentOperation    string
	ReservedAt          *time.Time
}

// ReservableFor reports whether the substation can be reserved for assignmentID
// without taking it from anyone else.
func (s Substation) ReservableFor(assignmentID string) bool {
	switch s.Status {
	case SubstationAvailable:
		return true
	case SubstationReserved:
		return s.CurrentAssignmentID == assignmentID
	}
	return false
}

// =============================================================================
// MATERIALS AND LEDGER
// =============================================================================

type MaterialType string

const (
	MaterialRaw    MaterialType = "raw"
	MaterialOutput MaterialType = "output"
	MaterialScrap  MaterialType = "scrap"
)

// Material is an inventory item. Stock and WIPReserved are ledger-derived.
type Material struct {
	Code        string
	Name        string
	Unit        string
	Type        MaterialType
	Stock       decimal.Decimal
	WIPReserved decimal.Decimal
}

type MovementType string

const (
	MovementIn  MovementType = "in"
	MovementOut MovementType = "out"
)

type MovementSubType string

const (
	SubTypeReceipt     MovementSubType = "receipt"
	SubTypeReservation MovementSubType = "reservation"
	SubTypeRelease     MovementSubType = "release"
	SubTypeAdjustment  MovementSubType = "adjustment"
	SubTypeProduction  MovementSubType = "production"
	SubTypeScrap       MovementSubType = "scrap"
)

// StockMovement is an immutable ledger entry. Quantity is always positive;
// Type carries the sign.
type StockMovement struct {
	ID            string
	Seq           int64
	MaterialCode  string
	Type          MovementType
	SubType       MovementSubType
	Quantity      decimal.Decimal
	StockBefore   decimal.Decimal
	StockAfter    decimal.Decimal
	LotNumber     string
	LotDate       *time.Time
	MovementDate  time.Time
	AssignmentID  string
	Reference     string
	ReferenceType string
	RelatedPlanID string
	RelatedNodeID string
	Notes         string
}

// Signed returns the quantity with the sign implied by Type.
func (m StockMovement) Signed() decimal.Decimal {
	if m.Type == MovementOut {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
)

// MaterialReservation links an assignment to one lot it drew from.
type MaterialReservation struct {
	ID                string
	AssignmentID      string
	MaterialCode      string
	LotNumber         string
	LotDate           *time.Time
	PreProductionQty  decimal.Decimal
	ActualReservedQty decimal.Decimal
	ConsumedQty       decimal.Decimal
	Status            ReservationStatus
	CreatedAt         time.Time
}

// MaterialRequirement is one line of a reservation request.
type MaterialRequirement struct {
	MaterialCode string
	RequiredQty  decimal.Decimal
}

// =============================================================================
// PLANNING (read-only to this package)
// =============================================================================

// PlanNode is a production-plan node an assignment executes.
type PlanNode struct {
	ID          string
	PlanID      string
	OperationID string
	Name        string
	OutputCode  string // "" = node produces no stocked output
}

// NodeMaterialInput is the static input requirement of a node.
type NodeMaterialInput struct {
	NodeID           string
	MaterialCode     string
	RequiredQuantity decimal.Decimal
	UnitRatio        decimal.Decimal // input consumed per unit of output
}

// StatusChange is one audit-log row.
type StatusChange struct {
	ID           string
	AssignmentID string
	FromStatus   AssignmentStatus
	ToStatus     AssignmentStatus
	ActorID      string
	Metadata     map[string]string
	ChangedAt    time.Time
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
