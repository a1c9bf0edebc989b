/*
ledger.go - Append-only stock movement log

PURPOSE:
  The movement log is the source of truth for material quantities. Every
  receipt, reservation, release, reconciliation adjustment, production and
  scrap posting is a StockMovement. Material.Stock is the running aggregate
  and is only ever moved here, together with the movements that explain it.

LOT BALANCES:
  A lot's balance is the signed sum of its movements (in = +, out = -).
  There is no separate "lot" table that could drift from the log.

BATCHED POSTINGS:
  PostBatch writes N movements for one material with stockBefore/stockAfter
  taken from a local running counter, then issues ONE aggregate update.
  The reservation engine uses this so a multi-lot reservation touches the
  materials row once.

SEE ALSO:
  - lots.go: Uses LotBalances for FIFO selection
  - reservation.go, scheduler.go: Callers of PostBatch
*/
package mes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Posting describes one movement to append. StockBefore/StockAfter and the ID
// are filled in by the ledger.
type Posting struct {
	Type          MovementType
	SubType       MovementSubType
	Quantity      decimal.Decimal
	LotNumber     string
	LotDate       *time.Time
	AssignmentID  string
	Reference     string
	ReferenceType string
	RelatedPlanID string
	RelatedNodeID string
	Notes         string
}

// LotBalance is the derived balance of one lot.
type LotBalance struct {
	MaterialCode string
	LotNumber    string
	LotDate      *time.Time
	FirstSeen    time.Time
	Balance      decimal.Decimal
}

// sortKey is the date a lot ages from: its lot date, or its first movement.
func (b LotBalance) sortKey() time.Time {
	if b.LotDate != nil {
		return *b.LotDate
	}
	return b.FirstSeen
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Now Clock
}

func NewLedger(now Clock) *Ledger {
	if now == nil {
		now = systemClock
	}
	return &Ledger{Now: now}
}

// Post appends a single movement and updates the material aggregate.
func (l *Ledger) Post(ctx context.Context, s Store, code string, p Posting) (StockMovement, error) {
	moves, err := l.PostBatch(ctx, s, code, decimal.Zero, []Posting{p})
	if err != nil {
		return StockMovement{}, err
	}
	return moves[0], nil
}

// PostBatch appends postings for one material and applies a single aggregate
// update: stock += Σ signed quantities, wipReserved += wipDelta.
func (l *Ledger) PostBatch(ctx context.Context, s Store, code string, wipDelta decimal.Decimal, postings []Posting) ([]StockMovement, error) {
	m, err := s.GetMaterial(ctx, code)
	if err != nil {
		return nil, err
	}

	now := l.Now()
	running := m.Stock
	total := decimal.Zero
	moves := make([]StockMovement, 0, len(postings))

	for _, p := range postings {
		if !p.Quantity.IsPositive() {
			return nil, &QuantityError{Field: "movement quantity", Value: p.Quantity, Reason: "must be positive"}
		}
		if p.Type != MovementIn && p.Type != MovementOut {
			return nil, fmt.Errorf("unknown movement type %q", p.Type)
		}

		mv := StockMovement{
			ID:            uuid.NewString(),
			MaterialCode:  code,
			Type:          p.Type,
			SubType:       p.SubType,
			Quantity:      p.Quantity,
			StockBefore:   running,
			LotNumber:     p.LotNumber,
			LotDate:       p.LotDate,
			MovementDate:  now,
			AssignmentID:  p.AssignmentID,
			Reference:     p.Reference,
			ReferenceType: p.ReferenceType,
			RelatedPlanID: p.RelatedPlanID,
			RelatedNodeID: p.RelatedNodeID,
			Notes:         p.Notes,
		}
		running = running.Add(mv.Signed())
		mv.StockAfter = running
		total = total.Add(mv.Signed())

		if err := s.AppendMovement(ctx, mv); err != nil {
			return nil, fmt.Errorf("append movement for %s: %w", code, err)
		}
		moves = append(moves, mv)
	}

	if !total.IsZero() || !wipDelta.IsZero() {
		if err := s.AdjustMaterial(ctx, code, total, wipDelta); err != nil {
			return nil, fmt.Errorf("adjust material %s: %w", code, err)
		}
	}
	return moves, nil
}

// Receive books incoming material into a lot.
func (l *Ledger) Receive(ctx context.Context, s Store, code, lotNumber string, lotDate time.Time, qty decimal.Decimal, reference string) (StockMovement, error) {
	d := lotDate.UTC()
	return l.Post(ctx, s, code, Posting{
		Type:          MovementIn,
		SubType:       SubTypeReceipt,
		Quantity:      qty,
		LotNumber:     lotNumber,
		LotDate:       &d,
		Reference:     reference,
		ReferenceType: "receipt",
	})
}

// =============================================================================
// DERIVED BALANCES
// =============================================================================

// LotBalances replays the movement log of a material and returns every lot
// (including empty and negative ones) in FIFO order. Movements without a lot
// number are not part of any lot.
func (l *Ledger) LotBalances(ctx context.Context, s Store, code string) ([]LotBalance, error) {
	moves, err := s.LoadMovements(ctx, code)
	if err != nil {
		return nil, err
	}

	byLot := make(map[string]*LotBalance)
	for _, mv := range moves {
		if mv.LotNumber == "" {
			continue
		}
		b, ok := byLot[mv.LotNumber]
		if !ok {
			b = &LotBalance{
				MaterialCode: code,
				LotNumber:    mv.LotNumber,
				FirstSeen:    mv.MovementDate,
				Balance:      decimal.Zero,
			}
			byLot[mv.LotNumber] = b
		}
		if b.LotDate == nil && mv.LotDate != nil {
			d := *mv.LotDate
			b.LotDate = &d
		}
		if mv.MovementDate.Before(b.FirstSeen) {
			b.FirstSeen = mv.MovementDate
		}
		b.Balance = b.Balance.Add(mv.Signed())
	}

	lots := make([]LotBalance, 0, len(byLot))
	for _, b := range byLot {
		lots = append(lots, *b)
	}
	sort.Slice(lots, func(i, j int) bool {
		ki, kj := lots[i].sortKey(), lots[j].sortKey()
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		if !lots[i].FirstSeen.Equal(lots[j].FirstSeen) {
			return lots[i].FirstSeen.Before(lots[j].FirstSeen)
		}
		return lots[i].LotNumber < lots[j].LotNumber
	})
	return lots, nil
}

// Balance is the signed sum of every movement of a material. It must equal
// Material.Stock; a mismatch means something wrote stock outside the ledger.
func (l *Ledger) Balance(ctx context.Context, s Store, code string) (decimal.Decimal, error) {
	moves, err := s.LoadMovements(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, mv := range moves {
		total = total.Add(mv.Signed())
	}
	return total, nil
}
