package mes

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LotAllocation is the quantity to draw from one lot.
type LotAllocation struct {
	LotNumber string
	LotDate   *time.Time
	Quantity  decimal.Decimal
}

// LotPlan is an ordered consumption plan for one material.
type LotPlan struct {
	MaterialCode   string
	Required       decimal.Decimal
	Lots           []LotAllocation
	TotalReserved  decimal.Decimal
	TotalAvailable decimal.Decimal
	Partial        bool
	Shortfall      decimal.Decimal
}

// LotSelector plans oldest-lot-first consumption. It only reads, so it is
// safe to call against a plain Store for previews.
type LotSelector struct {
	Ledger *Ledger
}

// Select greedily takes min(available, remaining) from each positive lot in
// FIFO order. Running out of lots is a partial plan, not an error.
func (ls *LotSelector) Select(ctx context.Context, s Store, code string, required decimal.Decimal) (*LotPlan, error) {
	lots, err := ls.Ledger.LotBalances(ctx, s, code)
	if err != nil {
		return nil, err
	}

	plan := &LotPlan{
		MaterialCode:   code,
		Required:       required,
		TotalReserved:  decimal.Zero,
		TotalAvailable: decimal.Zero,
		Shortfall:      decimal.Zero,
	}

	remaining := required
	for _, lot := range lots {
		if !lot.Balance.IsPositive() {
			continue
		}
		plan.TotalAvailable = plan.TotalAvailable.Add(lot.Balance)
		if !remaining.IsPositive() {
			continue
		}

		take := decimal.Min(lot.Balance, remaining)
		plan.Lots = append(plan.Lots, LotAllocation{
			LotNumber: lot.LotNumber,
			LotDate:   lot.LotDate,
			Quantity:  take,
		})
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		plan.Partial = true
		plan.Shortfall = remaining
	}
	plan.TotalReserved = required.Sub(plan.Shortfall)
	return plan, nil
}
