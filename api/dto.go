/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the mes domain model from the external API contract: snake_case names,
  RFC 3339 timestamps and decimal quantities rendered as strings.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Envelopes for mutating operations ({success, ...})

TYPES:
  Assignments:
    AssignmentDTO, TaskDTO, TaskStatsDTO

  Lifecycle:
    StartTaskRequest, StartTaskResponse
    CompleteTaskRequest, CompleteTaskResponse
    ReleaseTaskResponse, DeferredReservationResponse

  Materials:
    LotBalanceDTO, LotPlanDTO, MovementDTO, ReservationDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

ERROR SHAPE:
  Every failure is ErrorResponse: {"success": false, "error": ..., "kind": ...}.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/plant.go: Fixture JSON types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/umuxt/Burkol0-sub002/mes"
)

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// AssignmentDTO represents a worker assignment in API responses.
type AssignmentDTO struct {
	ID                        string                     `json:"id"`
	PlanID                    string                     `json:"plan_id"`
	WorkOrderCode             string                     `json:"work_order_code"`
	NodeID                    string                     `json:"node_id"`
	OperationID               string                     `json:"operation_id,omitempty"`
	WorkerID                  string                     `json:"worker_id"`
	SubstationID              string                     `json:"substation_id,omitempty"`
	Status                    string                     `json:"status"`
	SchedulingMode            string                     `json:"scheduling_mode"`
	IsUrgent                  bool                       `json:"is_urgent"`
	SequenceNumber            int                        `json:"sequence_number"`
	ExpectedStart             string                     `json:"expected_start"`
	CreatedAt                 string                     `json:"created_at"`
	EffectiveTime             decimal.Decimal            `json:"effective_time"`
	StartedAt                 *string                    `json:"started_at,omitempty"`
	CompletedAt               *string                    `json:"completed_at,omitempty"`
	MaterialReservationStatus string                     `json:"material_reservation_status,omitempty"`
	ActualQuantity            decimal.Decimal            `json:"actual_quantity"`
	DefectQuantity            decimal.Decimal            `json:"defect_quantity"`
	InputScrapCount           map[string]decimal.Decimal `json:"input_scrap_count,omitempty"`
	ProductionScrapCount      map[string]decimal.Decimal `json:"production_scrap_count,omitempty"`
	Notes                     string                     `json:"notes,omitempty"`
}

// TaskDTO is an assignment with its position in the worker's queue.
type TaskDTO struct {
	AssignmentDTO
	FIFOPosition int `json:"fifo_position"`
}

// TaskStatsDTO summarizes a worker's queue.
type TaskStatsDTO struct {
	WorkerID          string          `json:"worker_id"`
	TotalPending      int             `json:"total_pending"`
	TotalReady        int             `json:"total_ready"`
	UrgentCount       int             `json:"urgent_count"`
	NextTaskDue       *string         `json:"next_task_due"`
	EstimatedWorkload decimal.Decimal `json:"estimated_workload"`
}

// SubstationDTO represents a substation.
type SubstationDTO struct {
	ID                  string  `json:"id"`
	Status              string  `json:"status"`
	CurrentAssignmentID string  `json:"current_assignment_id,omitempty"`
	AssignedWorkerID    string  `json:"assigned_worker_id,omitempty"`
	CurrentOperation    string  `json:"current_operation,omitempty"`
	ReservedAt          *string `json:"reserved_at,omitempty"`
}

// =============================================================================
// LIFECYCLE REQUESTS AND RESPONSES
// =============================================================================

// StartTaskRequest is the body of POST /api/assignments/{id}/start.
type StartTaskRequest struct {
	WorkerID string `json:"worker_id"`
}

// StartTaskResponse is the success envelope of a task start.
type StartTaskResponse struct {
	Success             bool                  `json:"success"`
	Assignment          AssignmentDTO         `json:"assignment"`
	MaterialReservation *ReservationResultDTO `json:"material_reservation,omitempty"`
	Substation          *SubstationDTO        `json:"substation,omitempty"`
	Warnings            []string              `json:"warnings"`
}

// CompleteTaskRequest is the body of POST /api/assignments/{id}/complete.
type CompleteTaskRequest struct {
	WorkerID         string                     `json:"worker_id"`
	QuantityProduced decimal.Decimal            `json:"quantity_produced"`
	DefectQuantity   decimal.Decimal            `json:"defect_quantity"`
	InputScrap       map[string]decimal.Decimal `json:"input_scrap,omitempty"`
	ProductionScrap  map[string]decimal.Decimal `json:"production_scrap,omitempty"`
	Notes            string                     `json:"notes,omitempty"`
}

// CompleteTaskResponse is the success envelope of a task completion.
type CompleteTaskResponse struct {
	Success           bool                     `json:"success"`
	Assignment        AssignmentDTO            `json:"assignment"`
	MaterialsConsumed []MaterialConsumptionDTO `json:"materials_consumed"`
	Adjustments       []MovementDTO            `json:"adjustments"`
	Production        *MovementDTO             `json:"production,omitempty"`
	Scrap             []MovementDTO            `json:"scrap"`
	Handoff           *HandoffDTO              `json:"handoff,omitempty"`
	Promotion         *PromotionDTO            `json:"promotion,omitempty"`
	Warnings          []string                 `json:"warnings"`
}

// ReleaseTaskResponse lists reservations returned to stock.
type ReleaseTaskResponse struct {
	Success   bool             `json:"success"`
	Released  []ReservationDTO `json:"released"`
	Movements []MovementDTO    `json:"movements"`
}

// DeferredReservationResponse reports whether a waiter received the substation.
type DeferredReservationResponse struct {
	Success    bool           `json:"success"`
	Applied    bool           `json:"applied"`
	Substation *SubstationDTO `json:"substation,omitempty"`
}

// HandoffDTO describes who received a freed substation.
type HandoffDTO struct {
	SubstationID string `json:"substation_id"`
	AssignmentID string `json:"assignment_id"`
	WorkerID     string `json:"worker_id"`
	Promoted     bool   `json:"promoted"`
}

// PromotionDTO describes the worker's next promoted task.
type PromotionDTO struct {
	AssignmentID string `json:"assignment_id"`
	PlanID       string `json:"plan_id"`
	CrossPlan    bool   `json:"cross_plan"`
	SubstationID string `json:"substation_id,omitempty"`
}

// =============================================================================
// MATERIALS
// =============================================================================

// ReservationResultDTO is the outcome of reserving a node's inputs.
type ReservationResultDTO struct {
	Reservations []MaterialReservationSummaryDTO `json:"reservations"`
	Warnings     []string                        `json:"warnings"`
}

// MaterialReservationSummaryDTO is the reservation outcome of one material.
type MaterialReservationSummaryDTO struct {
	MaterialCode string             `json:"material_code"`
	Required     decimal.Decimal    `json:"required"`
	Reserved     decimal.Decimal    `json:"reserved"`
	Shortfall    decimal.Decimal    `json:"shortfall"`
	Partial      bool               `json:"partial"`
	Lots         []LotAllocationDTO `json:"lots"`
}

// LotAllocationDTO is the quantity drawn from one lot.
type LotAllocationDTO struct {
	LotNumber string          `json:"lot_number"`
	LotDate   *string         `json:"lot_date,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// LotPlanDTO is a read-only FIFO preview.
type LotPlanDTO struct {
	MaterialCode   string             `json:"material_code"`
	Required       decimal.Decimal    `json:"required"`
	Lots           []LotAllocationDTO `json:"lots"`
	TotalReserved  decimal.Decimal    `json:"total_reserved"`
	TotalAvailable decimal.Decimal    `json:"total_available"`
	Partial        bool               `json:"partial"`
	Shortfall      decimal.Decimal    `json:"shortfall"`
}

// LotBalanceDTO is the derived balance of one lot.
type LotBalanceDTO struct {
	LotNumber string          `json:"lot_number"`
	LotDate   *string         `json:"lot_date,omitempty"`
	FirstSeen string          `json:"first_seen"`
	Balance   decimal.Decimal `json:"balance"`
}

// MaterialLotsDTO is a material with its lots in FIFO order.
type MaterialLotsDTO struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Type        string          `json:"type"`
	Stock       decimal.Decimal `json:"stock"`
	WIPReserved decimal.Decimal `json:"wip_reserved"`
	Lots        []LotBalanceDTO `json:"lots"`
}

// MovementDTO represents a stock movement.
type MovementDTO struct {
	ID           string          `json:"id"`
	MaterialCode string          `json:"material_code"`
	Type         string          `json:"type"`
	SubType      string          `json:"sub_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	StockBefore  decimal.Decimal `json:"stock_before"`
	StockAfter   decimal.Decimal `json:"stock_after"`
	LotNumber    string          `json:"lot_number,omitempty"`
	MovementDate string          `json:"movement_date"`
	AssignmentID string          `json:"assignment_id,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

// ReservationDTO represents one assignment/lot reservation row.
type ReservationDTO struct {
	MaterialCode      string          `json:"material_code"`
	LotNumber         string          `json:"lot_number"`
	ActualReservedQty decimal.Decimal `json:"actual_reserved_qty"`
	ConsumedQty       decimal.Decimal `json:"consumed_qty"`
	Status            string          `json:"status"`
}

// MaterialConsumptionDTO is the reconciled figure of one material.
type MaterialConsumptionDTO struct {
	MaterialCode  string              `json:"material_code"`
	UnitRatio     decimal.Decimal     `json:"unit_ratio"`
	TotalReserved decimal.Decimal     `json:"total_reserved"`
	TotalConsumed decimal.Decimal     `json:"total_consumed"`
	Delta         decimal.Decimal     `json:"delta"`
	Lots          []LotConsumptionDTO `json:"lots"`
}

// LotConsumptionDTO is the reconciled figure of one lot.
type LotConsumptionDTO struct {
	LotNumber string          `json:"lot_number"`
	Reserved  decimal.Decimal `json:"reserved"`
	Consumed  decimal.Decimal `json:"consumed"`
	Delta     decimal.Decimal `json:"delta"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind"` // validation, not_found, conflict, internal
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format("2006-01-02")
	return &s
}

func toAssignmentDTO(a mes.WorkerAssignment) AssignmentDTO {
	return AssignmentDTO{
		ID:                        a.ID,
		PlanID:                    a.PlanID,
		WorkOrderCode:             a.WorkOrderCode,
		NodeID:                    a.NodeID,
		OperationID:               a.OperationID,
		WorkerID:                  a.WorkerID,
		SubstationID:              a.SubstationID,
		Status:                    string(a.Status),
		SchedulingMode:            string(a.SchedulingMode),
		IsUrgent:                  a.IsUrgent,
		SequenceNumber:            a.SequenceNumber,
		ExpectedStart:             formatTime(a.ExpectedStart),
		CreatedAt:                 formatTime(a.CreatedAt),
		EffectiveTime:             a.EffectiveTime,
		StartedAt:                 formatTimePtr(a.StartedAt),
		CompletedAt:               formatTimePtr(a.CompletedAt),
		MaterialReservationStatus: string(a.MaterialReservationStatus),
		ActualQuantity:            a.ActualQuantity,
		DefectQuantity:            a.DefectQuantity,
		InputScrapCount:           a.InputScrapCount,
		ProductionScrapCount:      a.ProductionScrapCount,
		Notes:                     a.Notes,
	}
}

func toTaskDTOs(tasks []mes.Task) []TaskDTO {
	dtos := make([]TaskDTO, 0, len(tasks))
	for _, t := range tasks {
		dtos = append(dtos, TaskDTO{AssignmentDTO: toAssignmentDTO(t.WorkerAssignment), FIFOPosition: t.FIFOPosition})
	}
	return dtos
}

func toSubstationDTO(s *mes.Substation) *SubstationDTO {
	if s == nil {
		return nil
	}
	return &SubstationDTO{
		ID:                  s.ID,
		Status:              string(s.Status),
		CurrentAssignmentID: s.CurrentAssignmentID,
		AssignedWorkerID:    s.AssignedWorkerID,
		CurrentOperation:    s.CurrentOperation,
		ReservedAt:          formatTimePtr(s.ReservedAt),
	}
}

func toLotAllocationDTOs(lots []mes.LotAllocation) []LotAllocationDTO {
	dtos := make([]LotAllocationDTO, 0, len(lots))
	for _, l := range lots {
		dtos = append(dtos, LotAllocationDTO{LotNumber: l.LotNumber, LotDate: formatDatePtr(l.LotDate), Quantity: l.Quantity})
	}
	return dtos
}

func toReservationResultDTO(r *mes.ReservationResult) *ReservationResultDTO {
	if r == nil {
		return nil
	}
	dto := &ReservationResultDTO{
		Reservations: make([]MaterialReservationSummaryDTO, 0, len(r.Reservations)),
		Warnings:     nonNil(r.Warnings),
	}
	for _, s := range r.Reservations {
		dto.Reservations = append(dto.Reservations, MaterialReservationSummaryDTO{
			MaterialCode: s.MaterialCode,
			Required:     s.Required,
			Reserved:     s.Reserved,
			Shortfall:    s.Shortfall,
			Partial:      s.Partial,
			Lots:         toLotAllocationDTOs(s.Lots),
		})
	}
	return dto
}

func toLotPlanDTO(p *mes.LotPlan) LotPlanDTO {
	return LotPlanDTO{
		MaterialCode:   p.MaterialCode,
		Required:       p.Required,
		Lots:           toLotAllocationDTOs(p.Lots),
		TotalReserved:  p.TotalReserved,
		TotalAvailable: p.TotalAvailable,
		Partial:        p.Partial,
		Shortfall:      p.Shortfall,
	}
}

func toMovementDTO(m mes.StockMovement) MovementDTO {
	return MovementDTO{
		ID:           m.ID,
		MaterialCode: m.MaterialCode,
		Type:         string(m.Type),
		SubType:      string(m.SubType),
		Quantity:     m.Quantity,
		StockBefore:  m.StockBefore,
		StockAfter:   m.StockAfter,
		LotNumber:    m.LotNumber,
		MovementDate: formatTime(m.MovementDate),
		AssignmentID: m.AssignmentID,
		Reference:    m.Reference,
		Notes:        m.Notes,
	}
}

func toMovementDTOs(moves []mes.StockMovement) []MovementDTO {
	dtos := make([]MovementDTO, 0, len(moves))
	for _, m := range moves {
		dtos = append(dtos, toMovementDTO(m))
	}
	return dtos
}

func toReservationDTOs(rows []mes.MaterialReservation) []ReservationDTO {
	dtos := make([]ReservationDTO, 0, len(rows))
	for _, r := range rows {
		dtos = append(dtos, ReservationDTO{
			MaterialCode:      r.MaterialCode,
			LotNumber:         r.LotNumber,
			ActualReservedQty: r.ActualReservedQty,
			ConsumedQty:       r.ConsumedQty,
			Status:            string(r.Status),
		})
	}
	return dtos
}

func toConsumptionDTOs(mcs []mes.MaterialConsumption) []MaterialConsumptionDTO {
	dtos := make([]MaterialConsumptionDTO, 0, len(mcs))
	for _, mc := range mcs {
		dto := MaterialConsumptionDTO{
			MaterialCode:  mc.MaterialCode,
			UnitRatio:     mc.UnitRatio,
			TotalReserved: mc.TotalReserved,
			TotalConsumed: mc.TotalConsumed,
			Delta:         mc.Delta,
			Lots:          make([]LotConsumptionDTO, 0, len(mc.Lots)),
		}
		for _, l := range mc.Lots {
			dto.Lots = append(dto.Lots, LotConsumptionDTO{LotNumber: l.LotNumber, Reserved: l.Reserved, Consumed: l.Consumed, Delta: l.Delta})
		}
		dtos = append(dtos, dto)
	}
	return dtos
}

func toCompleteTaskResponse(r *mes.CompletionResult) CompleteTaskResponse {
	resp := CompleteTaskResponse{
		Success:           true,
		Assignment:        toAssignmentDTO(*r.Assignment),
		MaterialsConsumed: toConsumptionDTOs(r.MaterialsConsumed),
		Adjustments:       toMovementDTOs(r.Adjustments),
		Scrap:             toMovementDTOs(r.Scrap),
		Warnings:          nonNil(r.Warnings),
	}
	if r.Production != nil {
		p := toMovementDTO(*r.Production)
		resp.Production = &p
	}
	if r.Handoff != nil {
		resp.Handoff = &HandoffDTO{
			SubstationID: r.Handoff.SubstationID,
			AssignmentID: r.Handoff.AssignmentID,
			WorkerID:     r.Handoff.WorkerID,
			Promoted:     r.Handoff.Promoted,
		}
	}
	if r.Promotion != nil {
		resp.Promotion = &PromotionDTO{
			AssignmentID: r.Promotion.AssignmentID,
			PlanID:       r.Promotion.PlanID,
			CrossPlan:    r.Promotion.CrossPlan,
			SubstationID: r.Promotion.SubstationID,
		}
	}
	return resp
}

func toTaskStatsDTO(s *mes.TaskStats) TaskStatsDTO {
	return TaskStatsDTO{
		WorkerID:          s.WorkerID,
		TotalPending:      s.TotalPending,
		TotalReady:        s.TotalReady,
		UrgentCount:       s.UrgentCount,
		NextTaskDue:       formatTimePtr(s.NextTaskDue),
		EstimatedWorkload: s.EstimatedWorkload,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
