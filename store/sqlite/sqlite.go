/*
Package sqlite provides a SQLite-backed implementation of mes.TxStore.

PURPOSE:
  Persists assignments, substations, materials, the stock-movement ledger,
  lot reservations and the assignment status history. The same schema
  ports to PostgreSQL with only minor dialect changes.

INTERFACES IMPLEMENTED:
  mes.Store:   Row-level reads and writes
  mes.TxStore: WithTx for all-or-nothing scheduler operations

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on stock_movements
  - Corrections are new adjustment movements
  - materials.stock / wip_reserved only change through AdjustMaterial

KEY TABLES:
  worker_assignments:        Scheduled work, FIFO attributes, completion data
  substations:               Single-owner resources
  materials:                 Stock and WIP aggregates
  stock_movements:           Immutable ledger (seq gives insertion order)
  material_reservations:     Lots drawn per assignment, unique per lot
  plan_nodes:                Output material per node
  node_material_inputs:      Input requirement and unit ratio per node
  lot_sequences:             Per-(material, day) lot counter
  assignment_status_history: Audit log of transitions

INDEXES:
  - idx_assignments_fifo: Worker queue reads (hot path)
  - idx_assignments_substation: Hand-off lookups on completion
  - idx_movements_material: Lot balance replay

CONCURRENCY:
  There is no in-process lock. Transactions are opened with BEGIN IMMEDIATE
  (_txlock=immediate), so two writers never interleave their reads of lot
  balances and counters; the second waits on busy_timeout. Readers use WAL
  and are never blocked.

STORAGE FORMATS:
  Quantities are TEXT (decimal.Decimal's exact string). Times are TEXT in a
  fixed-width UTC layout so ORDER BY on them is chronological.

USAGE:
  store, err := sqlite.New("./data/mes.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  sched := mes.NewScheduler(store, logger, nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - mes/store.go: Interface definitions
  - mes/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/umuxt/Burkol0-sub002/mes"
)

// timeLayout is fixed-width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements mes.TxStore using SQLite.
type Store struct {
	db *sql.DB
	queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, queries: queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS worker_assignments (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		work_order_code TEXT,
		node_id TEXT NOT NULL,
		operation_id TEXT,
		worker_id TEXT NOT NULL,
		substation_id TEXT,
		status TEXT NOT NULL,
		scheduling_mode TEXT NOT NULL DEFAULT 'fifo',
		is_urgent INTEGER NOT NULL DEFAULT 0,
		sequence_number INTEGER NOT NULL DEFAULT 0,
		expected_start TEXT NOT NULL,
		created_at TEXT NOT NULL,
		effective_time TEXT NOT NULL DEFAULT '0',
		started_at TEXT,
		completed_at TEXT,
		material_reservation_status TEXT,
		actual_quantity TEXT NOT NULL DEFAULT '0',
		defect_quantity TEXT NOT NULL DEFAULT '0',
		input_scrap_json TEXT,
		production_scrap_json TEXT,
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_fifo
		ON worker_assignments(worker_id, status, scheduling_mode, is_urgent, expected_start);
	CREATE INDEX IF NOT EXISTS idx_assignments_substation
		ON worker_assignments(substation_id, status, expected_start);
	CREATE INDEX IF NOT EXISTS idx_assignments_plan
		ON worker_assignments(worker_id, plan_id, status, sequence_number);

	CREATE TABLE IF NOT EXISTS substations (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'available',
		current_assignment_id TEXT,
		assigned_worker_id TEXT,
		current_operation TEXT,
		reserved_at TEXT
	);

	CREATE TABLE IF NOT EXISTS materials (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit TEXT,
		type TEXT NOT NULL DEFAULT 'raw',
		stock TEXT NOT NULL DEFAULT '0',
		wip_reserved TEXT NOT NULL DEFAULT '0'
	);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS stock_movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		material_code TEXT NOT NULL REFERENCES materials(code),
		type TEXT NOT NULL CHECK (type IN ('in', 'out')),
		sub_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		stock_before TEXT NOT NULL,
		stock_after TEXT NOT NULL,
		lot_number TEXT,
		lot_date TEXT,
		movement_date TEXT NOT NULL,
		assignment_id TEXT,
		reference TEXT,
		reference_type TEXT,
		related_plan_id TEXT,
		related_node_id TEXT,
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_movements_material
		ON stock_movements(material_code, movement_date, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_assignment
		ON stock_movements(assignment_id) WHERE assignment_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS material_reservations (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		material_code TEXT NOT NULL REFERENCES materials(code),
		lot_number TEXT NOT NULL,
		lot_date TEXT,
		pre_production_qty TEXT NOT NULL,
		actual_reserved_qty TEXT NOT NULL,
		consumed_qty TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (assignment_id, material_code, lot_number)
	);

	CREATE TABLE IF NOT EXISTS plan_nodes (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		operation_id TEXT,
		name TEXT,
		output_code TEXT
	);

	CREATE TABLE IF NOT EXISTS node_material_inputs (
		node_id TEXT NOT NULL,
		material_code TEXT NOT NULL,
		required_quantity TEXT NOT NULL,
		unit_ratio TEXT NOT NULL,
		PRIMARY KEY (node_id, material_code)
	);

	CREATE TABLE IF NOT EXISTS lot_sequences (
		material_code TEXT NOT NULL,
		lot_date TEXT NOT NULL,
		last_seq INTEGER NOT NULL,
		PRIMARY KEY (material_code, lot_date)
	);

	CREATE TABLE IF NOT EXISTS assignment_status_history (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		actor_id TEXT,
		metadata_json TEXT,
		changed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_history_assignment
		ON assignment_status_history(assignment_id, changed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (mes.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store mes.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// AdjustMaterial is a read-modify-write, so outside WithTx it opens its own
// transaction.
func (s *Store) AdjustMaterial(ctx context.Context, code string, stockDelta, wipDelta decimal.Decimal) error {
	return s.WithTx(ctx, func(st mes.Store) error {
		return st.AdjustMaterial(ctx, code, stockDelta, wipDelta)
	})
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"assignment_status_history", "material_reservations", "stock_movements", "lot_sequences",
		"node_material_inputs", "plan_nodes", "worker_assignments", "substations", "materials",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store and the transaction view
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

const assignmentColumns = `
	id, plan_id, work_order_code, node_id, operation_id, worker_id, substation_id,
	status, scheduling_mode, is_urgent, sequence_number, expected_start, created_at,
	effective_time, started_at, completed_at, material_reservation_status,
	actual_quantity, defect_quantity, input_scrap_json, production_scrap_json, notes`

func (s *queries) GetAssignment(ctx context.Context, id string) (*mes.WorkerAssignment, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+assignmentColumns+" FROM worker_assignments WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}
	list, err := scanAssignments(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, mes.ErrAssignmentNotFound
	}
	return &list[0], nil
}

func (s *queries) SaveAssignment(ctx context.Context, a mes.WorkerAssignment) error {
	inputScrap, err := marshalScrap(a.InputScrapCount)
	if err != nil {
		return err
	}
	productionScrap, err := marshalScrap(a.ProductionScrapCount)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO worker_assignments (` + assignmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plan_id = excluded.plan_id,
			work_order_code = excluded.work_order_code,
			node_id = excluded.node_id,
			operation_id = excluded.operation_id,
			worker_id = excluded.worker_id,
			substation_id = excluded.substation_id,
			status = excluded.status,
			scheduling_mode = excluded.scheduling_mode,
			is_urgent = excluded.is_urgent,
			sequence_number = excluded.sequence_number,
			expected_start = excluded.expected_start,
			effective_time = excluded.effective_time,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			material_reservation_status = excluded.material_reservation_status,
			actual_quantity = excluded.actual_quantity,
			defect_quantity = excluded.defect_quantity,
			input_scrap_json = excluded.input_scrap_json,
			production_scrap_json = excluded.production_scrap_json,
			notes = excluded.notes
	`
	_, err = s.q.ExecContext(ctx, query,
		a.ID, a.PlanID, nullString(a.WorkOrderCode), a.NodeID, nullString(a.OperationID), a.WorkerID,
		nullString(a.SubstationID), string(a.Status), string(a.SchedulingMode), a.IsUrgent, a.SequenceNumber,
		formatTime(a.ExpectedStart), formatTime(a.CreatedAt), a.EffectiveTime,
		nullTime(a.StartedAt), nullTime(a.CompletedAt), nullString(string(a.MaterialReservationStatus)),
		a.ActualQuantity, a.DefectQuantity, inputScrap, productionScrap, nullString(a.Notes),
	)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (s *queries) ListAssignments(ctx context.Context, f mes.AssignmentFilter) ([]mes.WorkerAssignment, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkerID != "" {
		where = append(where, "worker_id = ?")
		args = append(args, f.WorkerID)
	}
	if f.PlanID != "" {
		where = append(where, "plan_id = ?")
		args = append(args, f.PlanID)
	}
	if f.ExcludePlanID != "" {
		where = append(where, "plan_id <> ?")
		args = append(args, f.ExcludePlanID)
	}
	if f.SubstationID != "" {
		where = append(where, "substation_id = ?")
		args = append(args, f.SubstationID)
	}
	if f.SchedulingMode != "" {
		where = append(where, "scheduling_mode = ?")
		args = append(args, string(f.SchedulingMode))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + assignmentColumns + " FROM worker_assignments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch f.Order {
	case mes.OrderFIFO:
		query += " ORDER BY is_urgent DESC, expected_start ASC, created_at ASC, id ASC"
	case mes.OrderSequence:
		query += " ORDER BY sequence_number ASC, expected_start ASC, created_at ASC, id ASC"
	default:
		query += " ORDER BY expected_start ASC, created_at ASC, id ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	return scanAssignments(rows)
}

func scanAssignments(rows *sql.Rows) ([]mes.WorkerAssignment, error) {
	defer rows.Close()

	var list []mes.WorkerAssignment
	for rows.Next() {
		var (
			a                                  mes.WorkerAssignment
			workOrder, operation, substationID sql.NullString
			status, mode                       string
			expectedStart, createdAt           string
			startedAt, completedAt             sql.NullString
			materialStatus, notes              sql.NullString
			inputScrap, productionScrap        sql.NullString
		)
		err := rows.Scan(
			&a.ID, &a.PlanID, &workOrder, &a.NodeID, &operation, &a.WorkerID, &substationID,
			&status, &mode, &a.IsUrgent, &a.SequenceNumber, &expectedStart, &createdAt,
			&a.EffectiveTime, &startedAt, &completedAt, &materialStatus,
			&a.ActualQuantity, &a.DefectQuantity, &inputScrap, &productionScrap, &notes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}

		a.WorkOrderCode = workOrder.String
		a.OperationID = operation.String
		a.SubstationID = substationID.String
		a.Status = mes.AssignmentStatus(status)
		a.SchedulingMode = mes.SchedulingMode(mode)
		a.MaterialReservationStatus = mes.MaterialReservationStatus(materialStatus.String)
		a.Notes = notes.String
		if a.ExpectedStart, err = parseTime(expectedStart); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if a.StartedAt, err = parseNullTime(startedAt); err != nil {
			return nil, err
		}
		if a.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		if a.InputScrapCount, err = unmarshalScrap(inputScrap); err != nil {
			return nil, err
		}
		if a.ProductionScrapCount, err = unmarshalScrap(productionScrap); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// =============================================================================
// SUBSTATIONS
// =============================================================================

func (s *queries) GetSubstation(ctx context.Context, id string) (*mes.Substation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, status, current_assignment_id, assigned_worker_id, current_operation, reserved_at
		FROM substations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query substation: %w", err)
	}
	list, err := scanSubstations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, mes.ErrSubstationNotFound
	}
	return &list[0], nil
}

func (s *queries) SaveSubstation(ctx context.Context, sub mes.Substation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO substations (id, status, current_assignment_id, assigned_worker_id, current_operation, reserved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_assignment_id = excluded.current_assignment_id,
			assigned_worker_id = excluded.assigned_worker_id,
			current_operation = excluded.current_operation,
			reserved_at = excluded.reserved_at`,
		sub.ID, string(sub.Status), nullString(sub.CurrentAssignmentID), nullString(sub.AssignedWorkerID),
		nullString(sub.CurrentOperation), nullTime(sub.ReservedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save substation: %w", err)
	}
	return nil
}

func (s *queries) ListSubstations(ctx context.Context) ([]mes.Substation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, status, current_assignment_id, assigned_worker_id, current_operation, reserved_at
		FROM substations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query substations: %w", err)
	}
	return scanSubstations(rows)
}

func scanSubstations(rows *sql.Rows) ([]mes.Substation, error) {
	defer rows.Close()

	var list []mes.Substation
	for rows.Next() {
		var (
			sub                           mes.Substation
			status                        string
			current, worker, op, reserved sql.NullString
		)
		if err := rows.Scan(&sub.ID, &status, &current, &worker, &op, &reserved); err != nil {
			return nil, fmt.Errorf("failed to scan substation: %w", err)
		}
		sub.Status = mes.SubstationStatus(status)
		sub.CurrentAssignmentID = current.String
		sub.AssignedWorkerID = worker.String
		sub.CurrentOperation = op.String
		var err error
		if sub.ReservedAt, err = parseNullTime(reserved); err != nil {
			return nil, err
		}
		list = append(list, sub)
	}
	return list, rows.Err()
}

// =============================================================================
// MATERIALS
// =============================================================================

func (s *queries) GetMaterial(ctx context.Context, code string) (*mes.Material, error) {
	var (
		m    mes.Material
		unit sql.NullString
		typ  string
	)
	err := s.q.QueryRowContext(ctx,
		"SELECT code, name, unit, type, stock, wip_reserved FROM materials WHERE code = ?", code,
	).Scan(&m.Code, &m.Name, &unit, &typ, &m.Stock, &m.WIPReserved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mes.ErrMaterialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get material: %w", err)
	}
	m.Unit = unit.String
	m.Type = mes.MaterialType(typ)
	return &m, nil
}

// SaveMaterial inserts a material or updates its descriptive columns.
// Stock and WIP of an existing row are left to the ledger.
func (s *queries) SaveMaterial(ctx context.Context, m mes.Material) error {
	typ := m.Type
	if typ == "" {
		typ = mes.MaterialRaw
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO materials (code, name, unit, type, stock, wip_reserved)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			unit = excluded.unit,
			type = excluded.type`,
		m.Code, m.Name, nullString(m.Unit), string(typ), m.Stock, m.WIPReserved,
	)
	if err != nil {
		return fmt.Errorf("failed to save material: %w", err)
	}
	return nil
}

func (s *queries) AdjustMaterial(ctx context.Context, code string, stockDelta, wipDelta decimal.Decimal) error {
	var stock, wip decimal.Decimal
	err := s.q.QueryRowContext(ctx,
		"SELECT stock, wip_reserved FROM materials WHERE code = ?", code,
	).Scan(&stock, &wip)
	if errors.Is(err, sql.ErrNoRows) {
		return mes.ErrMaterialNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read material: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		"UPDATE materials SET stock = ?, wip_reserved = ? WHERE code = ?",
		stock.Add(stockDelta), wip.Add(wipDelta), code,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust material: %w", err)
	}
	return nil
}

func (s *queries) ListMaterials(ctx context.Context) ([]mes.Material, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT code, name, unit, type, stock, wip_reserved FROM materials ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query materials: %w", err)
	}
	defer rows.Close()

	var list []mes.Material
	for rows.Next() {
		var (
			m    mes.Material
			unit sql.NullString
			typ  string
		)
		if err := rows.Scan(&m.Code, &m.Name, &unit, &typ, &m.Stock, &m.WIPReserved); err != nil {
			return nil, fmt.Errorf("failed to scan material: %w", err)
		}
		m.Unit = unit.String
		m.Type = mes.MaterialType(typ)
		list = append(list, m)
	}
	return list, rows.Err()
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

// AppendMovement inserts a movement. Seq is assigned by the database.
func (s *queries) AppendMovement(ctx context.Context, m mes.StockMovement) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO stock_movements
		(id, material_code, type, sub_type, quantity, stock_before, stock_after, lot_number, lot_date,
		 movement_date, assignment_id, reference, reference_type, related_plan_id, related_node_id, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.MaterialCode, string(m.Type), string(m.SubType), m.Quantity, m.StockBefore, m.StockAfter,
		nullString(m.LotNumber), nullTime(m.LotDate), formatTime(m.MovementDate),
		nullString(m.AssignmentID), nullString(m.Reference), nullString(m.ReferenceType),
		nullString(m.RelatedPlanID), nullString(m.RelatedNodeID), nullString(m.Notes),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return mes.ErrMaterialNotFound
		}
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

func (s *queries) LoadMovements(ctx context.Context, materialCode string) ([]mes.StockMovement, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT seq, id, material_code, type, sub_type, quantity, stock_before, stock_after, lot_number,
		       lot_date, movement_date, assignment_id, reference, reference_type, related_plan_id,
		       related_node_id, notes
		FROM stock_movements
		WHERE material_code = ?
		ORDER BY movement_date ASC, seq ASC`, materialCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var list []mes.StockMovement
	for rows.Next() {
		var (
			m                              mes.StockMovement
			typ, subType, movementDate     string
			lot, lotDate, assignment, ref  sql.NullString
			refType, planID, nodeID, notes sql.NullString
		)
		err := rows.Scan(&m.Seq, &m.ID, &m.MaterialCode, &typ, &subType, &m.Quantity, &m.StockBefore,
			&m.StockAfter, &lot, &lotDate, &movementDate, &assignment, &ref, &refType, &planID, &nodeID, &notes)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.Type = mes.MovementType(typ)
		m.SubType = mes.MovementSubType(subType)
		m.LotNumber = lot.String
		m.AssignmentID = assignment.String
		m.Reference = ref.String
		m.ReferenceType = refType.String
		m.RelatedPlanID = planID.String
		m.RelatedNodeID = nodeID.String
		m.Notes = notes.String
		if m.LotDate, err = parseNullTime(lotDate); err != nil {
			return nil, err
		}
		if m.MovementDate, err = parseTime(movementDate); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = `
	id, assignment_id, material_code, lot_number, lot_date, pre_production_qty,
	actual_reserved_qty, consumed_qty, status, created_at`

func (s *queries) GetReservation(ctx context.Context, assignmentID, materialCode, lotNumber string) (*mes.MaterialReservation, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+reservationColumns+`
		FROM material_reservations
		WHERE assignment_id = ? AND material_code = ? AND lot_number = ?`,
		assignmentID, materialCode, lotNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservation: %w", err)
	}
	list, err := scanReservations(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// SaveReservation upserts on (assignment_id, material_code, lot_number);
// the original id and created_at are kept.
func (s *queries) SaveReservation(ctx context.Context, r mes.MaterialReservation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO material_reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(assignment_id, material_code, lot_number) DO UPDATE SET
			lot_date = excluded.lot_date,
			pre_production_qty = excluded.pre_production_qty,
			actual_reserved_qty = excluded.actual_reserved_qty,
			consumed_qty = excluded.consumed_qty,
			status = excluded.status`,
		r.ID, r.AssignmentID, r.MaterialCode, r.LotNumber, nullTime(r.LotDate), r.PreProductionQty,
		r.ActualReservedQty, r.ConsumedQty, string(r.Status), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

func (s *queries) ListReservations(ctx context.Context, assignmentID string, status mes.ReservationStatus) ([]mes.MaterialReservation, error) {
	query := "SELECT " + reservationColumns + " FROM material_reservations WHERE assignment_id = ?"
	args := []any{assignmentID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	return scanReservations(rows)
}

func scanReservations(rows *sql.Rows) ([]mes.MaterialReservation, error) {
	defer rows.Close()

	var list []mes.MaterialReservation
	for rows.Next() {
		var (
			r                 mes.MaterialReservation
			lotDate           sql.NullString
			status, createdAt string
		)
		err := rows.Scan(&r.ID, &r.AssignmentID, &r.MaterialCode, &r.LotNumber, &lotDate,
			&r.PreProductionQty, &r.ActualReservedQty, &r.ConsumedQty, &status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		r.Status = mes.ReservationStatus(status)
		if r.LotDate, err = parseNullTime(lotDate); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// =============================================================================
// PLANNING
// =============================================================================

func (s *queries) GetPlanNode(ctx context.Context, nodeID string) (*mes.PlanNode, error) {
	var (
		n                    mes.PlanNode
		op, name, outputCode sql.NullString
	)
	err := s.q.QueryRowContext(ctx,
		"SELECT id, plan_id, operation_id, name, output_code FROM plan_nodes WHERE id = ?", nodeID,
	).Scan(&n.ID, &n.PlanID, &op, &name, &outputCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan node: %w", err)
	}
	n.OperationID = op.String
	n.Name = name.String
	n.OutputCode = outputCode.String
	return &n, nil
}

func (s *queries) SavePlanNode(ctx context.Context, n mes.PlanNode) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plan_nodes (id, plan_id, operation_id, name, output_code)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plan_id = excluded.plan_id,
			operation_id = excluded.operation_id,
			name = excluded.name,
			output_code = excluded.output_code`,
		n.ID, n.PlanID, nullString(n.OperationID), nullString(n.Name), nullString(n.OutputCode),
	)
	if err != nil {
		return fmt.Errorf("failed to save plan node: %w", err)
	}
	return nil
}

func (s *queries) NodeMaterialInputs(ctx context.Context, nodeID string) ([]mes.NodeMaterialInput, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT node_id, material_code, required_quantity, unit_ratio
		FROM node_material_inputs WHERE node_id = ? ORDER BY rowid`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node inputs: %w", err)
	}
	defer rows.Close()

	var list []mes.NodeMaterialInput
	for rows.Next() {
		var in mes.NodeMaterialInput
		if err := rows.Scan(&in.NodeID, &in.MaterialCode, &in.RequiredQuantity, &in.UnitRatio); err != nil {
			return nil, fmt.Errorf("failed to scan node input: %w", err)
		}
		list = append(list, in)
	}
	return list, rows.Err()
}

func (s *queries) SaveNodeMaterialInput(ctx context.Context, in mes.NodeMaterialInput) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO node_material_inputs (node_id, material_code, required_quantity, unit_ratio)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(node_id, material_code) DO UPDATE SET
			required_quantity = excluded.required_quantity,
			unit_ratio = excluded.unit_ratio`,
		in.NodeID, in.MaterialCode, in.RequiredQuantity, in.UnitRatio,
	)
	if err != nil {
		return fmt.Errorf("failed to save node input: %w", err)
	}
	return nil
}

// NextLotSequence increments the per-(material, day) counter in a single
// statement, so concurrent callers never see the same value.
func (s *queries) NextLotSequence(ctx context.Context, materialCode string, day time.Time) (int, error) {
	var seq int
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO lot_sequences (material_code, lot_date, last_seq)
		VALUES (?, ?, 1)
		ON CONFLICT(material_code, lot_date) DO UPDATE SET last_seq = last_seq + 1
		RETURNING last_seq`,
		materialCode, day.UTC().Format("2006-01-02"),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate lot sequence: %w", err)
	}
	return seq, nil
}

// =============================================================================
// STATUS HISTORY
// =============================================================================

func (s *queries) AppendStatusChange(ctx context.Context, c mes.StatusChange) error {
	var metadata sql.NullString
	if len(c.Metadata) > 0 {
		b, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode status metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assignment_status_history (id, assignment_id, from_status, to_status, actor_id, metadata_json, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AssignmentID, nullString(string(c.FromStatus)), string(c.ToStatus),
		nullString(c.ActorID), metadata, formatTime(c.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append status change: %w", err)
	}
	return nil
}

func (s *queries) ListStatusChanges(ctx context.Context, assignmentID string) ([]mes.StatusChange, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, assignment_id, from_status, to_status, actor_id, metadata_json, changed_at
		FROM assignment_status_history
		WHERE assignment_id = ?
		ORDER BY changed_at ASC, rowid ASC`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var list []mes.StatusChange
	for rows.Next() {
		var (
			c                     mes.StatusChange
			from, actor, metadata sql.NullString
			to, changedAt         string
		)
		if err := rows.Scan(&c.ID, &c.AssignmentID, &from, &to, &actor, &metadata, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		c.FromStatus = mes.AssignmentStatus(from.String)
		c.ToStatus = mes.AssignmentStatus(to)
		c.ActorID = actor.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode status metadata: %w", err)
			}
		}
		if c.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalScrap(s mes.ScrapCounts) (sql.NullString, error) {
	if len(s) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode scrap counts: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalScrap(s sql.NullString) (mes.ScrapCounts, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var counts mes.ScrapCounts
	if err := json.Unmarshal([]byte(s.String), &counts); err != nil {
		return nil, fmt.Errorf("failed to decode scrap counts: %w", err)
	}
	return counts, nil
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ mes.TxStore = (*Store)(nil)
