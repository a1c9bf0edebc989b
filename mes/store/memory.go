// Package store provides in-process mes.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/umuxt/Burkol0-sub002/mes"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a mes.TxStore kept in maps. All access is serialized by one
// RWMutex; WithTx holds the write lock for the whole callback.
type Memory struct {
	mu sync.RWMutex
	data
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

type resKey struct {
	AssignmentID string
	MaterialCode string
	LotNumber    string
}

type lotKey struct {
	MaterialCode string
	Day          string
}

type storedReservation struct {
	mes.MaterialReservation
	order int64
}

// data holds the tables. Its methods assume the caller holds the lock.
type data struct {
	assignments map[string]mes.WorkerAssignment
	substations map[string]mes.Substation
	materials   map[string]mes.Material
	movements   map[string][]mes.StockMovement
	reservation map[resKey]storedReservation
	nodes       map[string]mes.PlanNode
	inputs      map[string][]mes.NodeMaterialInput
	lotSeq      map[lotKey]int
	history     map[string][]mes.StatusChange
	seq         int64
}

func newData() data {
	return data{
		assignments: make(map[string]mes.WorkerAssignment),
		substations: make(map[string]mes.Substation),
		materials:   make(map[string]mes.Material),
		movements:   make(map[string][]mes.StockMovement),
		reservation: make(map[resKey]storedReservation),
		nodes:       make(map[string]mes.PlanNode),
		inputs:      make(map[string][]mes.NodeMaterialInput),
		lotSeq:      make(map[lotKey]int),
		history:     make(map[string][]mes.StatusChange),
	}
}

// clone copies every table. Row values are immutable once stored (maps
// inside rows are cloned on the way in and out), so copying the outer
// containers is enough.
func (d *data) clone() data {
	c := newData()
	for k, v := range d.assignments {
		c.assignments[k] = v
	}
	for k, v := range d.substations {
		c.substations[k] = v
	}
	for k, v := range d.materials {
		c.materials[k] = v
	}
	for k, v := range d.movements {
		c.movements[k] = append([]mes.StockMovement(nil), v...)
	}
	for k, v := range d.reservation {
		c.reservation[k] = v
	}
	for k, v := range d.nodes {
		c.nodes[k] = v
	}
	for k, v := range d.inputs {
		c.inputs[k] = append([]mes.NodeMaterialInput(nil), v...)
	}
	for k, v := range d.lotSeq {
		c.lotSeq[k] = v
	}
	for k, v := range d.history {
		c.history[k] = append([]mes.StatusChange(nil), v...)
	}
	c.seq = d.seq
	return c
}

func cloneScrap(s mes.ScrapCounts) mes.ScrapCounts {
	if s == nil {
		return nil
	}
	c := make(mes.ScrapCounts, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

func cloneAssignment(a mes.WorkerAssignment) mes.WorkerAssignment {
	a.InputScrapCount = cloneScrap(a.InputScrapCount)
	a.ProductionScrapCount = cloneScrap(a.ProductionScrapCount)
	return a
}

// Assignments

func (d *data) getAssignment(id string) (*mes.WorkerAssignment, error) {
	a, ok := d.assignments[id]
	if !ok {
		return nil, mes.ErrAssignmentNotFound
	}
	a = cloneAssignment(a)
	return &a, nil
}

func (d *data) saveAssignment(a mes.WorkerAssignment) {
	d.assignments[a.ID] = cloneAssignment(a)
}

func (d *data) listAssignments(f mes.AssignmentFilter) []mes.WorkerAssignment {
	var out []mes.WorkerAssignment
	for _, a := range d.assignments {
		if f.Matches(a) {
			out = append(out, cloneAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return f.Order.Less(out[i], out[j]) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Substations

func (d *data) getSubstation(id string) (*mes.Substation, error) {
	s, ok := d.substations[id]
	if !ok {
		return nil, mes.ErrSubstationNotFound
	}
	return &s, nil
}

func (d *data) listSubstations() []mes.Substation {
	out := make([]mes.Substation, 0, len(d.substations))
	for _, s := range d.substations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Materials

func (d *data) getMaterial(code string) (*mes.Material, error) {
	m, ok := d.materials[code]
	if !ok {
		return nil, mes.ErrMaterialNotFound
	}
	return &m, nil
}

func (d *data) saveMaterial(m mes.Material) {
	if existing, ok := d.materials[m.Code]; ok {
		m.Stock = existing.Stock
		m.WIPReserved = existing.WIPReserved
	}
	d.materials[m.Code] = m
}

func (d *data) adjustMaterial(code string, stockDelta, wipDelta decimal.Decimal) error {
	m, ok := d.materials[code]
	if !ok {
		return mes.ErrMaterialNotFound
	}
	m.Stock = m.Stock.Add(stockDelta)
	m.WIPReserved = m.WIPReserved.Add(wipDelta)
	d.materials[code] = m
	return nil
}

func (d *data) listMaterials() []mes.Material {
	out := make([]mes.Material, 0, len(d.materials))
	for _, m := range d.materials {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Ledger

func (d *data) appendMovement(m mes.StockMovement) error {
	if _, ok := d.materials[m.MaterialCode]; !ok {
		return mes.ErrMaterialNotFound
	}
	d.seq++
	m.Seq = d.seq
	moves := d.movements[m.MaterialCode]

	// Binary search for insertion point, keeping (MovementDate, Seq) order
	i := sort.Search(len(moves), func(i int) bool {
		return moves[i].MovementDate.After(m.MovementDate)
	})
	moves = append(moves, mes.StockMovement{})
	copy(moves[i+1:], moves[i:])
	moves[i] = m
	d.movements[m.MaterialCode] = moves
	return nil
}

func (d *data) loadMovements(code string) []mes.StockMovement {
	return append([]mes.StockMovement(nil), d.movements[code]...)
}

// Reservations

func (d *data) getReservation(assignmentID, code, lot string) *mes.MaterialReservation {
	r, ok := d.reservation[resKey{assignmentID, code, lot}]
	if !ok {
		return nil
	}
	return &r.MaterialReservation
}

func (d *data) saveReservation(r mes.MaterialReservation) {
	k := resKey{r.AssignmentID, r.MaterialCode, r.LotNumber}
	stored, ok := d.reservation[k]
	if !ok {
		d.seq++
		stored.order = d.seq
	}
	stored.MaterialReservation = r
	d.reservation[k] = stored
}

func (d *data) listReservations(assignmentID string, status mes.ReservationStatus) []mes.MaterialReservation {
	var rows []storedReservation
	for k, r := range d.reservation {
		if k.AssignmentID != assignmentID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].order < rows[j].order
	})
	out := make([]mes.MaterialReservation, len(rows))
	for i, r := range rows {
		out[i] = r.MaterialReservation
	}
	return out
}

// Planning

func (d *data) getPlanNode(id string) *mes.PlanNode {
	n, ok := d.nodes[id]
	if !ok {
		return nil
	}
	return &n
}

func (d *data) saveNodeMaterialInput(in mes.NodeMaterialInput) {
	inputs := d.inputs[in.NodeID]
	for i, existing := range inputs {
		if existing.MaterialCode == in.MaterialCode {
			inputs[i] = in
			return
		}
	}
	d.inputs[in.NodeID] = append(inputs, in)
}

func (d *data) nextLotSequence(code string, day time.Time) int {
	k := lotKey{MaterialCode: code, Day: day.UTC().Format("2006-01-02")}
	d.lotSeq[k]++
	return d.lotSeq[k]
}

// History

func (d *data) appendStatusChange(c mes.StatusChange) {
	if c.Metadata != nil {
		meta := make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		c.Metadata = meta
	}
	d.history[c.AssignmentID] = append(d.history[c.AssignmentID], c)
}

func (d *data) listStatusChanges(assignmentID string) []mes.StatusChange {
	return append([]mes.StatusChange(nil), d.history[assignmentID]...)
}

// =============================================================================
// mes.Store (locking)
// =============================================================================

func (m *Memory) GetAssignment(_ context.Context, id string) (*mes.WorkerAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAssignment(id)
}

func (m *Memory) SaveAssignment(_ context.Context, a mes.WorkerAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveAssignment(a)
	return nil
}

func (m *Memory) ListAssignments(_ context.Context, f mes.AssignmentFilter) ([]mes.WorkerAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAssignments(f), nil
}

func (m *Memory) GetSubstation(_ context.Context, id string) (*mes.Substation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSubstation(id)
}

func (m *Memory) SaveSubstation(_ context.Context, s mes.Substation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.substations[s.ID] = s
	return nil
}

func (m *Memory) ListSubstations(_ context.Context) ([]mes.Substation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSubstations(), nil
}

func (m *Memory) GetMaterial(_ context.Context, code string) (*mes.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMaterial(code)
}

func (m *Memory) SaveMaterial(_ context.Context, mat mes.Material) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveMaterial(mat)
	return nil
}

func (m *Memory) AdjustMaterial(_ context.Context, code string, stockDelta, wipDelta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustMaterial(code, stockDelta, wipDelta)
}

func (m *Memory) ListMaterials(_ context.Context) ([]mes.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMaterials(), nil
}

func (m *Memory) AppendMovement(_ context.Context, mv mes.StockMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendMovement(mv)
}

func (m *Memory) LoadMovements(_ context.Context, code string) ([]mes.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadMovements(code), nil
}

func (m *Memory) GetReservation(_ context.Context, assignmentID, code, lot string) (*mes.MaterialReservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReservation(assignmentID, code, lot), nil
}

func (m *Memory) SaveReservation(_ context.Context, r mes.MaterialReservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveReservation(r)
	return nil
}

func (m *Memory) ListReservations(_ context.Context, assignmentID string, status mes.ReservationStatus) ([]mes.MaterialReservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listReservations(assignmentID, status), nil
}

func (m *Memory) GetPlanNode(_ context.Context, id string) (*mes.PlanNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPlanNode(id), nil
}

func (m *Memory) SavePlanNode(_ context.Context, n mes.PlanNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = n
	return nil
}

func (m *Memory) NodeMaterialInputs(_ context.Context, nodeID string) ([]mes.NodeMaterialInput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]mes.NodeMaterialInput(nil), m.inputs[nodeID]...), nil
}

func (m *Memory) SaveNodeMaterialInput(_ context.Context, in mes.NodeMaterialInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveNodeMaterialInput(in)
	return nil
}

func (m *Memory) NextLotSequence(_ context.Context, code string, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLotSequence(code, day), nil
}

func (m *Memory) AppendStatusChange(_ context.Context, c mes.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendStatusChange(c)
	return nil
}

func (m *Memory) ListStatusChanges(_ context.Context, assignmentID string) ([]mes.StatusChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listStatusChanges(assignmentID), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot restored when fn
// returns an error or panics.
func (m *Memory) WithTx(ctx context.Context, fn func(mes.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	committed := false
	defer func() {
		if !committed {
			m.data = snapshot
		}
	}()

	if err := fn(&txView{d: &m.data}); err != nil {
		return err
	}
	committed = true
	return nil
}

// txView is the Store handed to WithTx callbacks; the lock is already held.
type txView struct {
	d *data
}

func (tv *txView) GetAssignment(_ context.Context, id string) (*mes.WorkerAssignment, error) {
	return tv.d.getAssignment(id)
}

func (tv *txView) SaveAssignment(_ context.Context, a mes.WorkerAssignment) error {
	tv.d.saveAssignment(a)
	return nil
}

func (tv *txView) ListAssignments(_ context.Context, f mes.AssignmentFilter) ([]mes.WorkerAssignment, error) {
	return tv.d.listAssignments(f), nil
}

func (tv *txView) GetSubstation(_ context.Context, id string) (*mes.Substation, error) {
	return tv.d.getSubstation(id)
}

func (tv *txView) SaveSubstation(_ context.Context, s mes.Substation) error {
	tv.d.substations[s.ID] = s
	return nil
}

func (tv *txView) ListSubstations(_ context.Context) ([]mes.Substation, error) {
	return tv.d.listSubstations(), nil
}

func (tv *txView) GetMaterial(_ context.Context, code string) (*mes.Material, error) {
	return tv.d.getMaterial(code)
}

func (tv *txView) SaveMaterial(_ context.Context, mat mes.Material) error {
	tv.d.saveMaterial(mat)
	return nil
}

func (tv *txView) AdjustMaterial(_ context.Context, code string, stockDelta, wipDelta decimal.Decimal) error {
	return tv.d.adjustMaterial(code, stockDelta, wipDelta)
}

func (tv *txView) ListMaterials(_ context.Context) ([]mes.Material, error) {
	return tv.d.listMaterials(), nil
}

func (tv *txView) AppendMovement(_ context.Context, mv mes.StockMovement) error {
	return tv.d.appendMovement(mv)
}

func (tv *txView) LoadMovements(_ context.Context, code string) ([]mes.StockMovement, error) {
	return tv.d.loadMovements(code), nil
}

func (tv *txView) GetReservation(_ context.Context, assignmentID, code, lot string) (*mes.MaterialReservation, error) {
	return tv.d.getReservation(assignmentID, code, lot), nil
}

func (tv *txView) SaveReservation(_ context.Context, r mes.MaterialReservation) error {
	tv.d.saveReservation(r)
	return nil
}

func (tv *txView) ListReservations(_ context.Context, assignmentID string, status mes.ReservationStatus) ([]mes.MaterialReservation, error) {
	return tv.d.listReservations(assignmentID, status), nil
}

func (tv *txView) GetPlanNode(_ context.Context, id string) (*mes.PlanNode, error) {
	return tv.d.getPlanNode(id), nil
}

func (tv *txView) SavePlanNode(_ context.Context, n mes.PlanNode) error {
	tv.d.nodes[n.ID] = n
	return nil
}

func (tv *txView) NodeMaterialInputs(_ context.Context, nodeID string) ([]mes.NodeMaterialInput, error) {
	return append([]mes.NodeMaterialInput(nil), tv.d.inputs[nodeID]...), nil
}

func (tv *txView) SaveNodeMaterialInput(_ context.Context, in mes.NodeMaterialInput) error {
	tv.d.saveNodeMaterialInput(in)
	return nil
}

func (tv *txView) NextLotSequence(_ context.Context, code string, day time.Time) (int, error) {
	return tv.d.nextLotSequence(code, day), nil
}

func (tv *txView) AppendStatusChange(_ context.Context, c mes.StatusChange) error {
	tv.d.appendStatusChange(c)
	return nil
}

func (tv *txView) ListStatusChanges(_ context.Context, assignmentID string) ([]mes.StatusChange, error) {
	return tv.d.listStatusChanges(assignmentID), nil
}

var (
	_ mes.TxStore = (*Memory)(nil)
	_ mes.Store   = (*txView)(nil)
)
