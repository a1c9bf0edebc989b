/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built plants that populate the database with realistic
	data for testing and demos. Each scenario is a JSON fixture from the
	factory package, optionally followed by lifecycle calls that put the
	plant into an interesting state.

AVAILABLE SCENARIOS:

	single-lot:          One lot covers the requirement (over-reservation on completion)
	multi-lot-fifo:      Reservation spans the two oldest of three lots
	partial-stock:       Requirement exceeds stock; start succeeds with a warning
	substation-handoff:  W1 is running on S1, W2 is queued behind it
	cross-plan:          W1 is running in P1; next task lives in another plan

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Parse the plant fixture via factory
 3. Seed materials (opening lots through the ledger), substations, nodes, assignments
 4. Run the scenario's follow-up steps, if any

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "substation-handoff"}

ADDING NEW SCENARIOS:
 1. Add factory/plants/<id>.json
 2. If it needs follow-up steps, add them to scenarioSteps

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and error mapping
  - factory/plant.go: Plant JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/umuxt/Burkol0-sub002/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// scenarioSteps run after seeding to leave the plant mid-shift.
var scenarioSteps = map[string]func(ctx context.Context, h *Handler) error{
	"substation-handoff": startFirstTask("T1", "W1"),
	"cross-plan":         startFirstTask("T1", "W1"),
}

func startFirstTask(assignmentID, workerID string) func(ctx context.Context, h *Handler) error {
	return func(ctx context.Context, h *Handler) error {
		_, err := h.Scheduler.StartTask(ctx, assignmentID, workerID)
		return err
	}
}

// scenarios lists the built-in plant fixtures.
func (h *Handler) scenarios() ([]ScenarioDTO, error) {
	ids := factory.PresetIDs()
	list := make([]ScenarioDTO, 0, len(ids))
	for _, id := range ids {
		plant, err := h.Plants.Preset(id)
		if err != nil {
			return nil, fmt.Errorf("preset %s: %w", id, err)
		}
		list = append(list, ScenarioDTO{
			ID:          plant.ID,
			Name:        plant.Name,
			Description: plant.Description,
			Category:    plant.Category,
		})
	}
	return list, nil
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := h.scenarios()
	if err != nil {
		h.writeDomainError(w, "Failed to list scenarios", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	list, err := h.scenarios()
	if err != nil {
		h.writeDomainError(w, "Failed to list scenarios", err)
		return
	}
	for _, s := range list {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined plant.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plant, err := h.Plants.Preset(req.ScenarioID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		h.writeDomainError(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := h.Plants.Seed(ctx, h.Store, h.Scheduler.Ledger, plant); err != nil {
		h.writeDomainError(w, "Failed to load scenario", err)
		return
	}
	if step, ok := scenarioSteps[plant.ID]; ok {
		if err := step(ctx, h); err != nil {
			h.writeDomainError(w, "Failed to prepare scenario", err)
			return
		}
	}

	h.currentScenario = plant.ID
	h.Logger.Info("scenario loaded", zap.String("scenario", plant.ID))

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "loaded", "scenario": plant.ID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeDomainError(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}
