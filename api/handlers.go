/*
handlers.go - HTTP API handlers for the shop-floor scheduler

PURPOSE:
  Exposes the mes scheduler and material engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Workers (read-only FIFO queries):
    GET    /api/workers/{id}/next-task     First task in the worker's queue
    GET    /api/workers/{id}/queue         Ordered queue (?limit=)
    GET    /api/workers/{id}/stats         Queue aggregates
    GET    /api/workers/{id}/has-tasks     Whether anything is waiting

  Assignments:
    GET    /api/assignments/{id}           Assignment details
    GET    /api/assignments/{id}/history   Status transitions
    POST   /api/assignments/{id}/start     Start (reserve lots, take substation)
    POST   /api/assignments/{id}/complete  Complete (reconcile, hand off)
    POST   /api/assignments/{id}/release   Return reserved lots to stock

  Substations:
    GET    /api/substations                      List substations
    POST   /api/substations/{id}/deferred-reservation  Hand to next waiter

  Materials:
    GET    /api/materials/{code}/lots            Lots in FIFO order
    GET    /api/materials/{code}/lot-plan?qty=   Read-only FIFO preview
    GET    /api/materials/{code}/movements       Ledger entries

  Admin:
    POST   /api/admin/sweep                Run one deferred-reservation sweep
    GET    /api/admin/sweep                Last sweep summary

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access (reads go straight to it)
  - Scheduler: Every mutating operation, each in one transaction
  - Plants: JSON fixture factory for demo scenarios

ERROR HANDLING:
  Errors are returned as {"success": false, "error": ...} with a status
  chosen from the error category, never from the message:
  - 400: Validation errors (wrong worker, wrong state, bad quantity)
  - 404: Assignment, substation or material not found
  - 409: Substation held by another assignment
  - 500: Infrastructure errors (logged)

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/umuxt/Burkol0-sub002/factory"
	"github.com/umuxt/Burkol0-sub002/mes"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the transactional store plus a
// reset for demo scenarios.
type Store interface {
	mes.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Store
	Scheduler  *mes.Scheduler
	Plants     *factory.PlantFactory
	Sweeper    *Sweeper // optional
	Logger     *zap.Logger
	QueueLimit int

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around a store and its scheduler.
func NewHandler(store Store, scheduler *mes.Scheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:      store,
		Scheduler:  scheduler,
		Plants:     factory.NewPlantFactory(scheduler.Now),
		Logger:     logger,
		QueueLimit: mes.DefaultQueueLimit,
	}
}

// =============================================================================
// WORKER QUEUE HANDLERS
// =============================================================================

// GetNextTask returns the first task in the worker's FIFO queue, or null.
func (h *Handler) GetNextTask(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "id")

	task, err := h.Scheduler.NextTask(r.Context(), workerID)
	if err != nil {
		h.writeDomainError(w, "Failed to get next task", err)
		return
	}
	if task == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTOs([]mes.Task{*task})[0])
}

// GetTaskQueue returns the worker's ordered queue.
func (h *Handler) GetTaskQueue(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "id")

	limit := h.QueueLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	tasks, err := h.Scheduler.TaskQueue(r.Context(), workerID, limit)
	if err != nil {
		h.writeDomainError(w, "Failed to get task queue", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTOs(tasks))
}

// GetTaskStats returns the worker's queue aggregates.
func (h *Handler) GetTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Scheduler.TaskStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get task stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskStatsDTO(stats))
}

// HasTasks reports whether the worker has anything waiting.
func (h *Handler) HasTasks(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "id")

	has, err := h.Scheduler.HasTasksInQueue(r.Context(), workerID)
	if err != nil {
		h.writeDomainError(w, "Failed to check task queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker_id": workerID, "has_tasks": has})
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// GetAssignment returns a single assignment.
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(*a))
}

// GetAssignmentHistory returns the status transitions of an assignment.
func (h *Handler) GetAssignmentHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetAssignment(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to get assignment", err)
		return
	}

	changes, err := h.Store.ListStatusChanges(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get status history", err)
		return
	}

	dtos := make([]map[string]any, 0, len(changes))
	for _, c := range changes {
		dtos = append(dtos, map[string]any{
			"from_status": c.FromStatus,
			"to_status":   c.ToStatus,
			"actor_id":    c.ActorID,
			"metadata":    c.Metadata,
			"changed_at":  formatTime(c.ChangedAt),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// StartTask starts an assignment for the worker in the body.
func (h *Handler) StartTask(w http.ResponseWriter, r *http.Request) {
	var req StartTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required", nil)
		return
	}

	result, err := h.Scheduler.StartTask(r.Context(), chi.URLParam(r, "id"), req.WorkerID)
	if err != nil {
		h.writeDomainError(w, "Failed to start task", err)
		return
	}

	resp := StartTaskResponse{
		Success:             true,
		Assignment:          toAssignmentDTO(*result.Assignment),
		MaterialReservation: toReservationResultDTO(result.MaterialReservation),
		Substation:          toSubstationDTO(result.Substation),
		Warnings:            []string{},
	}
	if result.MaterialReservation != nil {
		resp.Warnings = nonNil(result.MaterialReservation.Warnings)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CompleteTask completes an assignment with the reported quantities.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	var req CompleteTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required", nil)
		return
	}

	data := mes.CompletionData{
		QuantityProduced: req.QuantityProduced,
		DefectQuantity:   req.DefectQuantity,
		InputScrap:       mes.ScrapCounts(req.InputScrap),
		ProductionScrap:  mes.ScrapCounts(req.ProductionScrap),
		Notes:            req.Notes,
	}

	result, err := h.Scheduler.CompleteTask(r.Context(), chi.URLParam(r, "id"), req.WorkerID, data)
	if err != nil {
		h.writeDomainError(w, "Failed to complete task", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompleteTaskResponse(result))
}

// ReleaseTask returns an assignment's reserved lots to stock.
func (h *Handler) ReleaseTask(w http.ResponseWriter, r *http.Request) {
	result, err := h.Scheduler.ReleaseTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to release task", err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseTaskResponse{
		Success:   true,
		Released:  toReservationDTOs(result.Released),
		Movements: toMovementDTOs(result.Movements),
	})
}

// =============================================================================
// SUBSTATION HANDLERS
// =============================================================================

// ListSubstations returns every substation.
func (h *Handler) ListSubstations(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Store.ListSubstations(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list substations", err)
		return
	}

	dtos := make([]*SubstationDTO, 0, len(subs))
	for i := range subs {
		dtos = append(dtos, toSubstationDTO(&subs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApplyDeferredReservation hands a free substation to its next waiter.
func (h *Handler) ApplyDeferredReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	applied, err := h.Scheduler.ApplyDeferredReservation(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to apply deferred reservation", err)
		return
	}

	sub, err := h.Store.GetSubstation(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get substation", err)
		return
	}
	writeJSON(w, http.StatusOK, DeferredReservationResponse{
		Success:    true,
		Applied:    applied,
		Substation: toSubstationDTO(sub),
	})
}

// =============================================================================
// MATERIAL HANDLERS
// =============================================================================

// GetMaterialLots returns a material and its lots in FIFO order.
func (h *Handler) GetMaterialLots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m, err := h.Store.GetMaterial(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, "Failed to get material", err)
		return
	}

	lots, err := h.Scheduler.Ledger.LotBalances(ctx, h.Store, m.Code)
	if err != nil {
		h.writeDomainError(w, "Failed to get lots", err)
		return
	}

	dto := MaterialLotsDTO{
		Code:        m.Code,
		Name:        m.Name,
		Unit:        m.Unit,
		Type:        string(m.Type),
		Stock:       m.Stock,
		WIPReserved: m.WIPReserved,
		Lots:        make([]LotBalanceDTO, 0, len(lots)),
	}
	for _, l := range lots {
		dto.Lots = append(dto.Lots, LotBalanceDTO{
			LotNumber: l.LotNumber,
			LotDate:   formatDatePtr(l.LotDate),
			FirstSeen: formatTime(l.FirstSeen),
			Balance:   l.Balance,
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetLotPlan previews which lots a reservation of ?qty= would draw from.
func (h *Handler) GetLotPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")

	qty, err := decimal.NewFromString(r.URL.Query().Get("qty"))
	if err != nil || !qty.IsPositive() {
		writeError(w, http.StatusBadRequest, "qty must be a positive number", err)
		return
	}
	if _, err := h.Store.GetMaterial(ctx, code); err != nil {
		h.writeDomainError(w, "Failed to get material", err)
		return
	}

	plan, err := h.Scheduler.Selector.Select(ctx, h.Store, code, qty)
	if err != nil {
		h.writeDomainError(w, "Failed to plan lots", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotPlanDTO(plan))
}

// GetMovements returns the ledger entries of a material.
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")

	if _, err := h.Store.GetMaterial(ctx, code); err != nil {
		h.writeDomainError(w, "Failed to get material", err)
		return
	}
	moves, err := h.Store.LoadMovements(ctx, code)
	if err != nil {
		h.writeDomainError(w, "Failed to get movements", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(moves))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Kind: errorKind(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps an error from the mes package to a status code.
// Only infrastructure errors are logged; the rest are the caller's problem.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var status int
	switch {
	case mes.IsNotFound(err):
		status = http.StatusNotFound
	case mes.IsConflict(err):
		status = http.StatusConflict
	case mes.IsClientError(err):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func errorKind(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	}
	return "internal"
}
