/*
scheduler.go - Assignment lifecycle: start and complete

PURPOSE:
  Drives a WorkerAssignment through its state machine and keeps the
  material ledgers and substations consistent with it.

STATE MACHINE:
  ┌────────┐ promote ┌─────────┐  start  ┌─────────────┐ complete ┌───────────┐
  │ queued │ ──────▶ │ pending │ ──────▶ │ in_progress │ ───────▶ │ completed │
  └────────┘         │ / ready │         └─────────────┘          └───────────┘
                     └─────────┘

  start:    reserve lots (FIFO) + take the substation + mark in_progress
  complete: reconcile consumption, post output and scrap lots, free the
            substation (handing it to the next waiter) and promote the
            worker's next queued task

ATOMICITY:
  Each StartTask / CompleteTask runs in ONE store transaction. Any error,
  including from the status recorder, rolls back every ledger posting,
  reservation row, substation write and promotion made so far. There is
  no in-process lock; isolation comes from the store.

SEE ALSO:
  - substation.go: Hand-off, deferred reservation, next-task promotion
  - reservation.go: ReserveIn used by StartTask
  - reconcile.go: Consumption formula and proportional split
  - queue.go: FIFO read queries
*/
package mes

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultScrapSuffix derives the scrap material code from its source code.
const DefaultScrapSuffix = "-H"

// DefaultQueueLimit is used by TaskQueue when limit <= 0.
const DefaultQueueLimit = 10

// SystemActor is recorded for transitions the scheduler makes on its own.
const SystemActor = "system"

// =============================================================================
// RESULTS
// =============================================================================

// StartResult is returned by StartTask.
type StartResult struct {
	Assignment          *WorkerAssignment
	MaterialReservation *ReservationResult // nil when the node needs no material
	Substation          *Substation
}

// CompletionData is what the worker reports at completion.
type CompletionData struct {
	QuantityProduced decimal.Decimal
	DefectQuantity   decimal.Decimal
	InputScrap       ScrapCounts
	ProductionScrap  ScrapCounts
	Notes            string
}

// Validate rejects negative quantities.
func (d CompletionData) Validate() error {
	if d.QuantityProduced.IsNegative() {
		return &QuantityError{Field: "quantity produced", Value: d.QuantityProduced, Reason: "must not be negative"}
	}
	if d.DefectQuantity.IsNegative() {
		return &QuantityError{Field: "defect quantity", Value: d.DefectQuantity, Reason: "must not be negative"}
	}
	if err := d.InputScrap.Validate(); err != nil {
		return err
	}
	return d.ProductionScrap.Validate()
}

// Handoff describes who received a freed substation.
type Handoff struct {
	SubstationID string
	AssignmentID string
	WorkerID     string
	Promoted     bool // queued → pending as part of the hand-off
}

// Promotion describes the worker's next task promoted at completion.
type Promotion struct {
	AssignmentID string
	PlanID       string
	CrossPlan    bool
	SubstationID string
}

// CompletionResult is returned by CompleteTask.
type CompletionResult struct {
	Assignment        *WorkerAssignment
	MaterialsConsumed []MaterialConsumption
	Adjustments       []StockMovement
	Production        *StockMovement
	Scrap             []StockMovement
	Handoff           *Handoff
	Promotion         *Promotion
	Warnings          []string
}

// =============================================================================
// SCHEDULER
// =============================================================================

type Scheduler struct {
	Store        TxStore
	Ledger       *Ledger
	Selector     *LotSelector
	Reservations *ReservationEngine
	LotNumbers   LotNumberer
	Recorder     StatusRecorder
	Logger       *zap.Logger
	Now          Clock
	ScrapSuffix  string
}

// NewScheduler wires the default collaborators around a store. A nil logger
// or clock falls back to zap.NewNop and the system clock.
func NewScheduler(store TxStore, logger *zap.Logger, now Clock) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = systemClock
	}
	ledger := NewLedger(now)
	selector := &LotSelector{Ledger: ledger}
	return &Scheduler{
		Store:    store,
		Ledger:   ledger,
		Selector: selector,
		Reservations: &ReservationEngine{
			Store:    store,
			Ledger:   ledger,
			Selector: selector,
			Now:      now,
		},
		LotNumbers:  SequenceLotNumberer{},
		Recorder:    HistoryRecorder{Now: now},
		Logger:      logger,
		Now:         now,
		ScrapSuffix: DefaultScrapSuffix,
	}
}

// ScrapCode returns the scrap material code for a source material.
func (s *Scheduler) ScrapCode(code string) string {
	suffix := s.ScrapSuffix
	if suffix == "" {
		suffix = DefaultScrapSuffix
	}
	return code + suffix
}

// loadOwned loads an assignment and checks worker ownership.
func loadOwned(ctx context.Context, st Store, assignmentID, workerID string) (*WorkerAssignment, error) {
	a, err := st.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.WorkerID != workerID {
		return nil, &WorkerMismatchError{AssignmentID: a.ID, OwnerID: a.WorkerID, WorkerID: workerID}
	}
	return a, nil
}

// =============================================================================
// START
// =============================================================================

// StartTask moves a pending/ready assignment to in_progress, reserving its
// node's materials and taking its substation in the same transaction.
func (s *Scheduler) StartTask(ctx context.Context, assignmentID, workerID string) (*StartResult, error) {
	var result *StartResult
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		result, err = s.startIn(ctx, st, assignmentID, workerID)
		return err
	})
	if err != nil {
		s.Logger.Info("start task rejected",
			zap.String("assignment_id", assignmentID),
			zap.String("worker_id", workerID),
			zap.Error(err))
		return nil, err
	}

	fields := []zap.Field{
		zap.String("assignment_id", assignmentID),
		zap.String("worker_id", workerID),
		zap.String("material_status", string(result.Assignment.MaterialReservationStatus)),
	}
	if result.MaterialReservation != nil && result.MaterialReservation.Partial() {
		s.Logger.Warn("task started with partial material reservation",
			append(fields, zap.Strings("warnings", result.MaterialReservation.Warnings))...)
	} else {
		s.Logger.Info("task started", fields...)
	}
	return result, nil
}

func (s *Scheduler) startIn(ctx context.Context, st Store, assignmentID, workerID string) (*StartResult, error) {
	// 1. Ownership and state
	a, err := loadOwned(ctx, st, assignmentID, workerID)
	if err != nil {
		return nil, err
	}
	if !a.Status.Startable() {
		return nil, &StateError{
			AssignmentID: a.ID,
			Operation:    "start",
			Status:       a.Status,
			Allowed:      []AssignmentStatus{StatusPending, StatusReady},
		}
	}
	previous := a.Status

	// 2. Material requirements of the node
	inputs, err := st.NodeMaterialInputs(ctx, a.NodeID)
	if err != nil {
		return nil, fmt.Errorf("load material inputs for node %s: %w", a.NodeID, err)
	}
	var reqs []MaterialRequirement
	for _, in := range inputs {
		if in.RequiredQuantity.IsZero() {
			continue
		}
		reqs = append(reqs, MaterialRequirement{MaterialCode: in.MaterialCode, RequiredQty: in.RequiredQuantity})
	}

	// 3. Reserve; a short lot is a warning, a bad line aborts
	result := &StartResult{}
	materialStatus := MaterialsNotRequired
	if len(reqs) > 0 {
		reservation, err := s.Reservations.ReserveIn(ctx, st, a.ID, reqs)
		if err != nil {
			return nil, fmt.Errorf("reserve materials for %s: %w", a.ID, err)
		}
		result.MaterialReservation = reservation
		materialStatus = MaterialsReserved
		if reservation.Partial() {
			materialStatus = MaterialsPartial
		}
	}

	// 4. Substation handoff, never taken from another holder
	now := s.Now()
	if a.SubstationID != "" {
		sub, err := s.claimSubstation(ctx, st, a, now)
		if err != nil {
			return nil, err
		}
		result.Substation = sub
	}

	// 5. Assignment
	a.Status = StatusInProgress
	a.StartedAt = &now
	a.MaterialReservationStatus = materialStatus
	if err := st.SaveAssignment(ctx, *a); err != nil {
		return nil, fmt.Errorf("save assignment %s: %w", a.ID, err)
	}
	result.Assignment = a

	// 6. Audit, inside the transaction
	meta := map[string]string{"material_status": string(materialStatus)}
	if err := s.Recorder.RecordStatusChange(ctx, st, a.ID, previous, StatusInProgress, workerID, meta); err != nil {
		return nil, fmt.Errorf("record status change: %w", err)
	}
	return result, nil
}

func (s *Scheduler) claimSubstation(ctx context.Context, st Store, a *WorkerAssignment, now time.Time) (*Substation, error) {
	sub, err := st.GetSubstation(ctx, a.SubstationID)
	if err != nil {
		return nil, err
	}
	if !sub.ReservableFor(a.ID) {
		busy := &SubstationBusyError{
			SubstationID: sub.ID,
			Status:       sub.Status,
			HolderID:     sub.CurrentAssignmentID,
		}
		if sub.CurrentAssignmentID != "" {
			if holder, err := st.GetAssignment(ctx, sub.CurrentAssignmentID); err == nil {
				busy.HolderStatus = holder.Status
			}
		}
		return nil, busy
	}

	sub.Status = SubstationInUse
	sub.CurrentAssignmentID = a.ID
	sub.AssignedWorkerID = a.WorkerID
	sub.CurrentOperation = a.OperationID
	if sub.ReservedAt == nil {
		sub.ReservedAt = &now
	}
	if err := st.SaveSubstation(ctx, *sub); err != nil {
		return nil, fmt.Errorf("save substation %s: %w", sub.ID, err)
	}
	return sub, nil
}

// =============================================================================
// COMPLETE
// =============================================================================

// CompleteTask finishes an in_progress assignment: reconciles consumption
// against reservations, books output and scrap, frees the substation and
// promotes the next task.
func (s *Scheduler) CompleteTask(ctx context.Context, assignmentID, workerID string, data CompletionData) (*CompletionResult, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	var result *CompletionResult
	err := s.Store.WithTx(ctx, func(st Store) error {
		var err error
		result, err = s.completeIn(ctx, st, assignmentID, workerID, data)
		return err
	})
	if err != nil {
		s.Logger.Info("complete task rejected",
			zap.String("assignment_id", assignmentID),
			zap.String("worker_id", workerID),
			zap.Error(err))
		return nil, err
	}

	if h := result.Handoff; h != nil {
		s.Logger.Info("substation handed off",
			zap.String("substation_id", h.SubstationID),
			zap.String("assignment_id", h.AssignmentID),
			zap.String("worker_id", h.WorkerID),
			zap.Bool("promoted", h.Promoted))
	}
	if p := result.Promotion; p != nil {
		if p.CrossPlan {
			s.Logger.Info("next task promoted from another plan",
				zap.String("worker_id", workerID),
				zap.String("assignment_id", p.AssignmentID),
				zap.String("plan_id", p.PlanID))
		} else {
			s.Logger.Info("next task promoted",
				zap.String("worker_id", workerID),
				zap.String("assignment_id", p.AssignmentID))
		}
	}
	for _, w := range result.Warnings {
		s.Logger.Warn("completion warning", zap.String("assignment_id", assignmentID), zap.String("warning", w))
	}
	s.Logger.Info("task completed",
		zap.String("assignment_id", assignmentID),
		zap.String("worker_id", workerID),
		zap.String("produced", data.QuantityProduced.String()),
		zap.String("defects", data.DefectQuantity.String()),
		zap.Int("materials", len(result.MaterialsConsumed)))
	return result, nil
}

func (s *Scheduler) completeIn(ctx context.Context, st Store, assignmentID, workerID string, data CompletionData) (*CompletionResult, error) {
	// 1. Ownership and state
	a, err := loadOwned(ctx, st, assignmentID, workerID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusInProgress {
		return nil, &StateError{
			AssignmentID: a.ID,
			Operation:    "complete",
			Status:       a.Status,
			Allowed:      []AssignmentStatus{StatusInProgress},
		}
	}

	now := s.Now()
	result := &CompletionResult{}
	consumption := ConsumptionInput{
		Produced:        data.QuantityProduced,
		Defects:         data.DefectQuantity,
		InputScrap:      data.InputScrap,
		ProductionScrap: data.ProductionScrap,
	}

	// 2-5. Reconcile every input material against its reserved lots
	if err := s.reconcile(ctx, st, a, consumption, result); err != nil {
		return nil, err
	}

	// 6-7. Output and scrap lots
	node, err := st.GetPlanNode(ctx, a.NodeID)
	if err != nil {
		return nil, fmt.Errorf("load plan node %s: %w", a.NodeID, err)
	}
	outputCode := ""
	if node != nil {
		outputCode = node.OutputCode
	}
	if err := s.postOutput(ctx, st, a, outputCode, data.QuantityProduced, now, result); err != nil {
		return nil, err
	}
	if err := s.postScrap(ctx, st, a, outputCode, data, now, result); err != nil {
		return nil, err
	}

	// 8. Assignment
	a.Status = StatusCompleted
	a.CompletedAt = &now
	a.ActualQuantity = data.QuantityProduced
	a.DefectQuantity = data.DefectQuantity
	a.InputScrapCount = data.InputScrap
	a.ProductionScrapCount = data.ProductionScrap
	a.Notes = data.Notes
	if len(result.MaterialsConsumed) > 0 {
		a.MaterialReservationStatus = MaterialsConsumed
	}
	if err := st.SaveAssignment(ctx, *a); err != nil {
		return nil, fmt.Errorf("save assignment %s: %w", a.ID, err)
	}
	result.Assignment = a

	// 9. Free the substation and hand it on
	if a.SubstationID != "" {
		handoff, err := s.releaseSubstation(ctx, st, a, now)
		if err != nil {
			return nil, err
		}
		result.Handoff = handoff
	}

	// 10. Next task of this worker
	promotion, err := s.promoteNext(ctx, st, a, now)
	if err != nil {
		return nil, err
	}
	result.Promotion = promotion

	// 11. Audit
	meta := map[string]string{
		"quantity_produced": data.QuantityProduced.String(),
		"defect_quantity":   data.DefectQuantity.String(),
	}
	if err := s.Recorder.RecordStatusChange(ctx, st, a.ID, StatusInProgress, StatusCompleted, workerID, meta); err != nil {
		return nil, fmt.Errorf("record status change: %w", err)
	}
	return result, nil
}

// reconcile covers the node's inputs plus any material reserved for the
// assignment that the node no longer lists (ratio 0, scrap only).
func (s *Scheduler) reconcile(ctx context.Context, st Store, a *WorkerAssignment, in ConsumptionInput, result *CompletionResult) error {
	inputs, err := st.NodeMaterialInputs(ctx, a.NodeID)
	if err != nil {
		return fmt.Errorf("load material inputs for node %s: %w", a.NodeID, err)
	}
	rows, err := st.ListReservations(ctx, a.ID, ReservationReserved)
	if err != nil {
		return fmt.Errorf("load reservations for %s: %w", a.ID, err)
	}

	reservedBy := make(map[string][]MaterialReservation)
	for _, g := range groupByMaterial(rows) {
		reservedBy[g[0].MaterialCode] = g
	}

	var codes []string
	ratios := make(map[string]decimal.Decimal)
	for _, input := range inputs {
		if _, seen := ratios[input.MaterialCode]; seen {
			continue
		}
		codes = append(codes, input.MaterialCode)
		ratios[input.MaterialCode] = input.UnitRatio
	}
	for _, g := range groupByMaterial(rows) {
		code := g[0].MaterialCode
		if _, seen := ratios[code]; !seen {
			codes = append(codes, code)
			ratios[code] = decimal.Zero
		}
	}

	for _, code := range codes {
		total := TotalConsumed(code, ratios[code], in)
		group := reservedBy[code]
		if len(group) == 0 && total.IsZero() {
			continue
		}
		if err := s.reconcileMaterial(ctx, st, a, code, ratios[code], total, group, result); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) reconcileMaterial(ctx context.Context, st Store, a *WorkerAssignment, code string, ratio, total decimal.Decimal, rows []MaterialReservation, result *CompletionResult) error {
	mc := reconcileLots(code, ratio, total, rows)

	for i := range rows {
		rows[i].ConsumedQty = mc.Lots[i].Consumed
		rows[i].Status = ReservationConsumed
		if err := st.SaveReservation(ctx, rows[i]); err != nil {
			return fmt.Errorf("save reservation %s/%s: %w", code, rows[i].LotNumber, err)
		}
	}

	var postings []Posting
	base := Posting{
		SubType:       SubTypeAdjustment,
		AssignmentID:  a.ID,
		Reference:     a.ID,
		ReferenceType: "assignment",
		RelatedPlanID: a.PlanID,
		RelatedNodeID: a.NodeID,
	}
	if len(rows) == 0 {
		// Nothing was reserved; the whole consumption comes out of stock unlotted.
		p := base
		p.Type = MovementOut
		p.Quantity = total
		p.Notes = "Consumption without reservation"
		postings = append(postings, p)
	}
	shortfall := decimal.Zero
	for _, lot := range mc.Lots {
		if lot.Delta.IsZero() {
			continue
		}
		if lot.Delta.IsNegative() {
			shortfall = shortfall.Add(lot.Delta.Neg())
			continue
		}
		p := base
		p.Type = MovementIn
		p.Quantity = lot.Delta
		p.LotNumber = lot.LotNumber
		p.LotDate = lotDateOf(rows, lot.LotNumber)
		p.Notes = fmt.Sprintf("Over-reservation returned to lot %s", lot.LotNumber)
		postings = append(postings, p)
	}

	// Returns and the WIP settlement go first so the shortfall draw below
	// sees the lots as they stand after them.
	moves, err := s.Ledger.PostBatch(ctx, st, code, mc.TotalReserved.Neg(), postings)
	if err != nil {
		return fmt.Errorf("post reconciliation for %s: %w", code, err)
	}

	if shortfall.IsPositive() {
		drawn, err := s.drawShortfall(ctx, st, code, shortfall, base, result)
		if err != nil {
			return err
		}
		moves = append(moves, drawn...)
	}

	result.Adjustments = append(result.Adjustments, moves...)
	result.MaterialsConsumed = append(result.MaterialsConsumed, mc)

	if len(moves) > 0 {
		after := moves[len(moves)-1].StockAfter
		if after.IsNegative() {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"stock of %s is negative after reconciliation: %s", code, after))
		}
	}
	return s.warnNegativeLots(ctx, st, code, moves, result)
}

// drawShortfall books consumption beyond the reservation oldest-lot-first
// from lots that still hold stock. Whatever no lot can cover is booked
// unlotted, so a lot balance never goes below zero here.
func (s *Scheduler) drawShortfall(ctx context.Context, st Store, code string, shortfall decimal.Decimal, base Posting, result *CompletionResult) ([]StockMovement, error) {
	plan, err := s.Selector.Select(ctx, st, code, shortfall)
	if err != nil {
		return nil, fmt.Errorf("plan shortfall for %s: %w", code, err)
	}

	var postings []Posting
	for _, lot := range plan.Lots {
		p := base
		p.Type = MovementOut
		p.Quantity = lot.Quantity
		p.LotNumber = lot.LotNumber
		p.LotDate = lot.LotDate
		p.Notes = fmt.Sprintf("Under-reservation drawn from lot %s", lot.LotNumber)
		postings = append(postings, p)
	}
	if plan.Shortfall.IsPositive() {
		p := base
		p.Type = MovementOut
		p.Quantity = plan.Shortfall
		p.Notes = "Under-reservation beyond lot stock"
		postings = append(postings, p)
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"%s of %s consumed beyond lot stock, booked without a lot", plan.Shortfall, code))
	}

	moves, err := s.Ledger.PostBatch(ctx, st, code, decimal.Zero, postings)
	if err != nil {
		return nil, fmt.Errorf("post shortfall for %s: %w", code, err)
	}
	return moves, nil
}

// warnNegativeLots adds a warning for every lot touched by moves whose
// balance ended below zero.
func (s *Scheduler) warnNegativeLots(ctx context.Context, st Store, code string, moves []StockMovement, result *CompletionResult) error {
	touched := make(map[string]bool)
	for _, mv := range moves {
		if mv.LotNumber != "" {
			touched[mv.LotNumber] = true
		}
	}
	if len(touched) == 0 {
		return nil
	}
	lots, err := s.Ledger.LotBalances(ctx, st, code)
	if err != nil {
		return fmt.Errorf("load lots of %s: %w", code, err)
	}
	for _, lot := range lots {
		if touched[lot.LotNumber] && lot.Balance.IsNegative() {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"lot %s of %s is negative after reconciliation: %s", lot.LotNumber, code, lot.Balance))
		}
	}
	return nil
}

func lotDateOf(rows []MaterialReservation, lot string) *time.Time {
	for _, r := range rows {
		if r.LotNumber == lot {
			return r.LotDate
		}
	}
	return nil
}

func (s *Scheduler) postOutput(ctx context.Context, st Store, a *WorkerAssignment, outputCode string, produced decimal.Decimal, now time.Time, result *CompletionResult) error {
	if outputCode == "" || !produced.IsPositive() {
		return nil
	}
	if err := ensureMaterial(ctx, st, Material{Code: outputCode, Name: outputCode, Type: MaterialOutput}); err != nil {
		return err
	}
	lot, err := s.LotNumbers.Generate(ctx, st, outputCode, now)
	if err != nil {
		return err
	}
	mv, err := s.Ledger.Post(ctx, st, outputCode, Posting{
		Type:          MovementIn,
		SubType:       SubTypeProduction,
		Quantity:      produced,
		LotNumber:     lot,
		LotDate:       &now,
		AssignmentID:  a.ID,
		Reference:     a.WorkOrderCode,
		ReferenceType: "work_order",
		RelatedPlanID: a.PlanID,
		RelatedNodeID: a.NodeID,
		Notes:         fmt.Sprintf("Production output of assignment %s", a.ID),
	})
	if err != nil {
		return fmt.Errorf("post production of %s: %w", outputCode, err)
	}
	result.Production = &mv
	return nil
}

func (s *Scheduler) postScrap(ctx context.Context, st Store, a *WorkerAssignment, outputCode string, data CompletionData, now time.Time, result *CompletionResult) error {
	type entry struct {
		code   string
		qty    decimal.Decimal
		source string
	}
	var entries []entry
	for _, code := range data.InputScrap.Codes() {
		entries = append(entries, entry{code, data.InputScrap[code], "input"})
	}
	for _, code := range data.ProductionScrap.Codes() {
		entries = append(entries, entry{code, data.ProductionScrap[code], "production"})
	}
	if outputCode != "" && data.DefectQuantity.IsPositive() {
		entries = append(entries, entry{outputCode, data.DefectQuantity, "defect"})
	}

	for _, e := range entries {
		if !e.qty.IsPositive() {
			continue
		}
		scrapCode := s.ScrapCode(e.code)
		unit := ""
		if src, err := st.GetMaterial(ctx, e.code); err == nil {
			unit = src.Unit
		}
		if err := ensureMaterial(ctx, st, Material{
			Code: scrapCode,
			Name: e.code + " scrap",
			Unit: unit,
			Type: MaterialScrap,
		}); err != nil {
			return err
		}
		lot, err := s.LotNumbers.Generate(ctx, st, scrapCode, now)
		if err != nil {
			return err
		}
		mv, err := s.Ledger.Post(ctx, st, scrapCode, Posting{
			Type:          MovementIn,
			SubType:       SubTypeScrap,
			Quantity:      e.qty,
			LotNumber:     lot,
			LotDate:       &now,
			AssignmentID:  a.ID,
			Reference:     a.ID,
			ReferenceType: "assignment",
			RelatedPlanID: a.PlanID,
			RelatedNodeID: a.NodeID,
			Notes:         fmt.Sprintf("%s scrap of %s", e.source, e.code),
		})
		if err != nil {
			return fmt.Errorf("post scrap of %s: %w", e.code, err)
		}
		result.Scrap = append(result.Scrap, mv)
	}
	return nil
}

// ensureMaterial creates m if its code is unknown.
func ensureMaterial(ctx context.Context, st Store, m Material) error {
	_, err := st.GetMaterial(ctx, m.Code)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return err
	}
	m.Stock = decimal.Zero
	m.WIPReserved = decimal.Zero
	if err := st.SaveMaterial(ctx, m); err != nil {
		return fmt.Errorf("create material %s: %w", m.Code, err)
	}
	return nil
}

// =============================================================================
// RELEASE (cancellation hook)
// =============================================================================

// ReleaseTask returns every lot still reserved by an assignment to stock.
// The status transition to cancelled belongs to the caller.
func (s *Scheduler) ReleaseTask(ctx context.Context, assignmentID string) (*ReleaseResult, error) {
	var result *ReleaseResult
	err := s.Store.WithTx(ctx, func(st Store) error {
		a, err := st.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.Status == StatusCompleted {
			return &StateError{
				AssignmentID: a.ID,
				Operation:    "release",
				Status:       a.Status,
				Allowed:      []AssignmentStatus{StatusPending, StatusReady, StatusQueued, StatusInProgress, StatusPaused, StatusCancelled},
			}
		}
		result, err = s.Reservations.ReleaseIn(ctx, st, assignmentID)
		if err != nil {
			return err
		}
		if len(result.Released) > 0 {
			a.MaterialReservationStatus = MaterialsPending
			return st.SaveAssignment(ctx, *a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("reservations released",
		zap.String("assignment_id", assignmentID),
		zap.Int("lots", len(result.Released)))
	return result, nil
}
