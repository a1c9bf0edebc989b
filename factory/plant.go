/*
Package factory provides JSON to Go plant fixture conversion.

PURPOSE:
  Converts a JSON plant definition (materials with their opening lots,
  substations, plan nodes and worker assignments) into store rows. Opening
  stock is booked through the ledger as lot receipts, so a seeded plant
  satisfies the same invariants as one built by real postings.

JSON SCHEMA:
  {
    "id": "single-lot",
    "name": "Single lot, over-reserved",
    "materials": [
      {
        "code": "M1", "name": "Steel sheet", "unit": "kg", "type": "raw",
        "lots": [
          {"lot_number": "L1", "lot_date": "2025-11-01", "quantity": "200"}
        ]
      }
    ],
    "substations": [{"id": "S1"}],
    "nodes": [
      {
        "id": "N1", "plan_id": "P1", "operation_id": "OP-CUT", "output_code": "OUT1",
        "inputs": [{"material_code": "M1", "required_quantity": "100", "unit_ratio": "1"}]
      }
    ],
    "assignments": [
      {
        "id": "T1", "plan_id": "P1", "node_id": "N1", "worker_id": "W1",
        "substation_id": "S1", "status": "pending", "start_in_minutes": 0
      }
    ]
  }

KEY FEATURES:
  - Validates references (node inputs, assignment nodes and substations)
  - Sets sensible defaults (fifo mode, pending status, raw material)
  - Times are relative to the seed clock unless given as RFC 3339
  - Seeding is one transaction: a bad fixture leaves the store untouched

USAGE:
  f := NewPlantFactory(nil)
  plant, err := f.ParsePlant(jsonString)
  err = f.Seed(ctx, store, ledger, plant)

SEE ALSO:
  - mes/ledger.go: Receive used for opening lots
  - api/scenarios.go: Demo plants built from embedded fixtures
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/umuxt/Burkol0-sub002/mes"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlantJSON is the JSON representation of a plant fixture.
type PlantJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Materials   []MaterialJSON   `json:"materials"`
	Substations []SubstationJSON `json:"substations,omitempty"`
	Nodes       []NodeJSON       `json:"nodes,omitempty"`
	Assignments []AssignmentJSON `json:"assignments,omitempty"`
}

// MaterialJSON is one inventory item and its opening lots.
type MaterialJSON struct {
	Code string    `json:"code"`
	Name string    `json:"name,omitempty"`
	Unit string    `json:"unit,omitempty"` // default "pcs"
	Type string    `json:"type,omitempty"` // raw, output, scrap
	Lots []LotJSON `json:"lots,omitempty"`
}

// LotJSON is an opening receipt.
type LotJSON struct {
	LotNumber string          `json:"lot_number"`
	LotDate   string          `json:"lot_date"` // YYYY-MM-DD
	Quantity  decimal.Decimal `json:"quantity"`
}

// SubstationJSON is a work station. Fixtures always start it available.
type SubstationJSON struct {
	ID string `json:"id"`
}

// NodeJSON is a production plan node and its inputs.
type NodeJSON struct {
	ID          string      `json:"id"`
	PlanID      string      `json:"plan_id"`
	OperationID string      `json:"operation_id,omitempty"`
	Name        string      `json:"name,omitempty"`
	OutputCode  string      `json:"output_code,omitempty"`
	Inputs      []InputJSON `json:"inputs,omitempty"`
}

// InputJSON is one material input of a node.
type InputJSON struct {
	MaterialCode     string          `json:"material_code"`
	RequiredQuantity decimal.Decimal `json:"required_quantity"`
	UnitRatio        decimal.Decimal `json:"unit_ratio"`
}

// AssignmentJSON is one worker assignment.
type AssignmentJSON struct {
	ID             string          `json:"id"`
	PlanID         string          `json:"plan_id,omitempty"` // default: the node's plan
	WorkOrderCode  string          `json:"work_order_code,omitempty"`
	NodeID         string          `json:"node_id"`
	WorkerID       string          `json:"worker_id"`
	SubstationID   string          `json:"substation_id,omitempty"`
	Status         string          `json:"status,omitempty"`          // default pending
	SchedulingMode string          `json:"scheduling_mode,omitempty"` // default fifo
	IsUrgent       bool            `json:"is_urgent,omitempty"`
	SequenceNumber int             `json:"sequence_number,omitempty"`
	ExpectedStart  string          `json:"expected_start,omitempty"` // RFC 3339, overrides start_in_minutes
	StartInMinutes int             `json:"start_in_minutes,omitempty"`
	EffectiveTime  decimal.Decimal `json:"effective_time,omitempty"` // minutes
}

// Plant is a parsed, validated fixture ready to seed.
type Plant struct {
	ID          string
	Name        string
	Description string
	Category    string
	Materials   []mes.Material
	Lots        map[string][]LotJSON // by material code
	Substations []mes.Substation
	Nodes       []mes.PlanNode
	Inputs      []mes.NodeMaterialInput
	Assignments []mes.WorkerAssignment
}

// =============================================================================
// PLANT FACTORY
// =============================================================================

// PlantFactory converts JSON plant fixtures to store rows.
type PlantFactory struct {
	Now mes.Clock
}

// NewPlantFactory creates a plant factory. Relative times in fixtures are
// resolved against now; nil means the wall clock.
func NewPlantFactory(now mes.Clock) *PlantFactory {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &PlantFactory{Now: now}
}

// ParsePlant parses a JSON string into a Plant.
func (f *PlantFactory) ParsePlant(jsonStr string) (*Plant, error) {
	var pj PlantJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse plant JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts a PlantJSON to a Plant.
func (f *PlantFactory) FromJSON(pj PlantJSON) (*Plant, error) {
	if pj.ID == "" {
		return nil, fmt.Errorf("plant ID is required")
	}

	plant := &Plant{
		ID:          pj.ID,
		Name:        pj.Name,
		Description: pj.Description,
		Category:    pj.Category,
		Lots:        make(map[string][]LotJSON),
	}

	materials := make(map[string]bool)
	for _, mj := range pj.Materials {
		m, err := f.parseMaterial(mj)
		if err != nil {
			return nil, err
		}
		if materials[m.Code] {
			return nil, fmt.Errorf("duplicate material %s", m.Code)
		}
		materials[m.Code] = true
		plant.Materials = append(plant.Materials, m)
		if len(mj.Lots) > 0 {
			plant.Lots[m.Code] = mj.Lots
		}
	}

	substations := make(map[string]bool)
	for _, sj := range pj.Substations {
		if sj.ID == "" {
			return nil, fmt.Errorf("substation ID is required")
		}
		substations[sj.ID] = true
		plant.Substations = append(plant.Substations, mes.Substation{ID: sj.ID, Status: mes.SubstationAvailable})
	}

	nodes := make(map[string]mes.PlanNode)
	for _, nj := range pj.Nodes {
		if nj.ID == "" || nj.PlanID == "" {
			return nil, fmt.Errorf("node requires id and plan_id")
		}
		node := mes.PlanNode{
			ID:          nj.ID,
			PlanID:      nj.PlanID,
			OperationID: nj.OperationID,
			Name:        nj.Name,
			OutputCode:  nj.OutputCode,
		}
		nodes[node.ID] = node
		plant.Nodes = append(plant.Nodes, node)

		for _, in := range nj.Inputs {
			if !materials[in.MaterialCode] {
				return nil, fmt.Errorf("node %s: unknown input material %q", nj.ID, in.MaterialCode)
			}
			if in.RequiredQuantity.IsNegative() || in.UnitRatio.IsNegative() {
				return nil, fmt.Errorf("node %s: negative quantity for %s", nj.ID, in.MaterialCode)
			}
			plant.Inputs = append(plant.Inputs, mes.NodeMaterialInput{
				NodeID:           nj.ID,
				MaterialCode:     in.MaterialCode,
				RequiredQuantity: in.RequiredQuantity,
				UnitRatio:        in.UnitRatio,
			})
		}
	}

	now := f.Now()
	for i, aj := range pj.Assignments {
		node, ok := nodes[aj.NodeID]
		if !ok {
			return nil, fmt.Errorf("assignment %s: unknown node %q", aj.ID, aj.NodeID)
		}
		if aj.SubstationID != "" && !substations[aj.SubstationID] {
			return nil, fmt.Errorf("assignment %s: unknown substation %q", aj.ID, aj.SubstationID)
		}
		a, err := f.parseAssignment(aj, node, now, i)
		if err != nil {
			return nil, err
		}
		plant.Assignments = append(plant.Assignments, a)
	}

	return plant, nil
}

func (f *PlantFactory) parseMaterial(mj MaterialJSON) (mes.Material, error) {
	if mj.Code == "" {
		return mes.Material{}, fmt.Errorf("material code is required")
	}
	m := mes.Material{
		Code: mj.Code,
		Name: mj.Name,
		Unit: mj.Unit,
		Type: mes.MaterialRaw,
	}
	if m.Name == "" {
		m.Name = mj.Code
	}
	if m.Unit == "" {
		m.Unit = "pcs"
	}
	switch mj.Type {
	case "", "raw":
	case "output":
		m.Type = mes.MaterialOutput
	case "scrap":
		m.Type = mes.MaterialScrap
	default:
		return mes.Material{}, fmt.Errorf("material %s: unknown type %q", mj.Code, mj.Type)
	}

	for _, lot := range mj.Lots {
		if lot.LotNumber == "" {
			return mes.Material{}, fmt.Errorf("material %s: lot number is required", mj.Code)
		}
		if !lot.Quantity.IsPositive() {
			return mes.Material{}, fmt.Errorf("material %s lot %s: quantity must be positive", mj.Code, lot.LotNumber)
		}
		if _, err := time.Parse("2006-01-02", lot.LotDate); err != nil {
			return mes.Material{}, fmt.Errorf("material %s lot %s: invalid lot_date: %w", mj.Code, lot.LotNumber, err)
		}
	}
	return m, nil
}

func (f *PlantFactory) parseAssignment(aj AssignmentJSON, node mes.PlanNode, now time.Time, index int) (mes.WorkerAssignment, error) {
	if aj.ID == "" || aj.WorkerID == "" {
		return mes.WorkerAssignment{}, fmt.Errorf("assignment requires id and worker_id")
	}

	a := mes.WorkerAssignment{
		ID:             aj.ID,
		PlanID:         aj.PlanID,
		WorkOrderCode:  aj.WorkOrderCode,
		NodeID:         node.ID,
		OperationID:    node.OperationID,
		WorkerID:       aj.WorkerID,
		SubstationID:   aj.SubstationID,
		Status:         mes.StatusPending,
		SchedulingMode: mes.ModeFIFO,
		IsUrgent:       aj.IsUrgent,
		SequenceNumber: aj.SequenceNumber,
		ExpectedStart:  now.Add(time.Duration(aj.StartInMinutes) * time.Minute),
		// Preserve file order as the createdAt tie-break.
		CreatedAt:                 now.Add(-time.Hour).Add(time.Duration(index) * time.Second),
		EffectiveTime:             aj.EffectiveTime,
		MaterialReservationStatus: mes.MaterialsPending,
	}
	if a.PlanID == "" {
		a.PlanID = node.PlanID
	}
	if a.WorkOrderCode == "" {
		a.WorkOrderCode = "WO-" + a.PlanID
	}

	if aj.ExpectedStart != "" {
		t, err := time.Parse(time.RFC3339, aj.ExpectedStart)
		if err != nil {
			return mes.WorkerAssignment{}, fmt.Errorf("assignment %s: invalid expected_start: %w", aj.ID, err)
		}
		a.ExpectedStart = t.UTC()
	}

	switch mes.AssignmentStatus(aj.Status) {
	case "":
	case mes.StatusPending, mes.StatusReady, mes.StatusQueued, mes.StatusPaused, mes.StatusCompleted, mes.StatusCancelled:
		a.Status = mes.AssignmentStatus(aj.Status)
	default:
		return mes.WorkerAssignment{}, fmt.Errorf("assignment %s: unsupported status %q", aj.ID, aj.Status)
	}

	switch mes.SchedulingMode(aj.SchedulingMode) {
	case "":
	case mes.ModeFIFO, mes.ModeManual:
		a.SchedulingMode = mes.SchedulingMode(aj.SchedulingMode)
	default:
		return mes.WorkerAssignment{}, fmt.Errorf("assignment %s: unknown scheduling mode %q", aj.ID, aj.SchedulingMode)
	}

	return a, nil
}

// =============================================================================
// SEEDING
// =============================================================================

// Seed writes the plant into the store in one transaction. Opening lots are
// booked with ledger receipts referencing the plant ID.
func (f *PlantFactory) Seed(ctx context.Context, store mes.TxStore, ledger *mes.Ledger, plant *Plant) error {
	return store.WithTx(ctx, func(st mes.Store) error {
		for _, m := range plant.Materials {
			if err := st.SaveMaterial(ctx, m); err != nil {
				return fmt.Errorf("save material %s: %w", m.Code, err)
			}
			for _, lot := range plant.Lots[m.Code] {
				date, _ := time.Parse("2006-01-02", lot.LotDate)
				if _, err := ledger.Receive(ctx, st, m.Code, lot.LotNumber, date, lot.Quantity, plant.ID); err != nil {
					return fmt.Errorf("receive %s lot %s: %w", m.Code, lot.LotNumber, err)
				}
			}
		}
		for _, s := range plant.Substations {
			if err := st.SaveSubstation(ctx, s); err != nil {
				return fmt.Errorf("save substation %s: %w", s.ID, err)
			}
		}
		for _, n := range plant.Nodes {
			if err := st.SavePlanNode(ctx, n); err != nil {
				return fmt.Errorf("save node %s: %w", n.ID, err)
			}
		}
		for _, in := range plant.Inputs {
			if err := st.SaveNodeMaterialInput(ctx, in); err != nil {
				return fmt.Errorf("save input %s/%s: %w", in.NodeID, in.MaterialCode, err)
			}
		}
		for _, a := range plant.Assignments {
			if err := st.SaveAssignment(ctx, a); err != nil {
				return fmt.Errorf("save assignment %s: %w", a.ID, err)
			}
		}
		return nil
	})
}
