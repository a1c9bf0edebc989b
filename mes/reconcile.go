/*
reconcile.go - Completion-time consumption reconciliation

PURPOSE:
  At completion the real input consumption is known:

    totalConsumed = inputScrap[code] + productionScrap[code]
                  + (produced + defects) * unitRatio[code]

  It is spread over the lots reserved at start in proportion to what each
  lot contributed. The last lot takes whatever is left after the others are
  rounded, so the per-lot figures always sum to totalConsumed exactly.

  reserved − consumed per lot is then posted back as an adjustment. A
  positive delta returns stock to the lot. Negative deltas are summed and
  drawn oldest-lot-first from lots that still hold stock; what no lot can
  cover is booked unlotted and drives stock negative with a warning.

EXAMPLE:
  Reserved lots: A=50, B=70 (total 120). Consumed: 100.
    A: floor(50/120 * 100) = 41.666666
    B: 100 − 41.666666    = 58.333334
  Deltas: A +8.333334, B +11.666666 → two in/adjustment movements.

SEE ALSO:
  - scheduler.go: CompleteTask drives this inside its transaction
*/
package mes

import (
	"github.com/shopspring/decimal"
)

// ConsumptionInput is what a completion reports for the consumption formula.
type ConsumptionInput struct {
	Produced        decimal.Decimal
	Defects         decimal.Decimal
	InputScrap      ScrapCounts
	ProductionScrap ScrapCounts
}

// TotalConsumed applies the consumption formula for one input material.
func TotalConsumed(code string, unitRatio decimal.Decimal, in ConsumptionInput) decimal.Decimal {
	units := in.Produced.Add(in.Defects)
	return in.InputScrap.Get(code).
		Add(in.ProductionScrap.Get(code)).
		Add(units.Mul(unitRatio))
}

// DistributeConsumption splits total over lots proportionally to reserved.
// Every share but the last is rounded down to QuantityScale; the last absorbs
// the remainder, so the result sums to total exactly and no share is negative. When nothing was reserved
// the whole total lands on the last lot.
func DistributeConsumption(total decimal.Decimal, reserved []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(reserved))
	if len(reserved) == 0 {
		return shares
	}

	sum := decimal.Zero
	for _, r := range reserved {
		sum = sum.Add(r)
	}

	remaining := total
	last := len(reserved) - 1
	for i, r := range reserved {
		if i == last {
			shares[i] = remaining
			break
		}
		share := decimal.Zero
		if sum.IsPositive() {
			share = r.Mul(total).Div(sum).RoundDown(QuantityScale)
		}
		shares[i] = share
		remaining = remaining.Sub(share)
	}
	return shares
}

// LotConsumption is the reconciled figure for one reserved lot.
type LotConsumption struct {
	LotNumber string
	Reserved  decimal.Decimal
	Consumed  decimal.Decimal
	Delta     decimal.Decimal // reserved − consumed
}

// MaterialConsumption is the reconciled figure for one material.
type MaterialConsumption struct {
	MaterialCode  string
	UnitRatio     decimal.Decimal
	TotalReserved decimal.Decimal
	TotalConsumed decimal.Decimal
	Delta         decimal.Decimal // reserved − consumed; > 0 returns stock
	Lots          []LotConsumption
}

// reconcileLots computes per-lot consumption for one material's reserved rows.
func reconcileLots(code string, ratio, totalConsumed decimal.Decimal, rows []MaterialReservation) MaterialConsumption {
	reserved := make([]decimal.Decimal, len(rows))
	totalReserved := decimal.Zero
	for i, r := range rows {
		reserved[i] = r.ActualReservedQty
		totalReserved = totalReserved.Add(r.ActualReservedQty)
	}

	mc := MaterialConsumption{
		MaterialCode:  code,
		UnitRatio:     ratio,
		TotalReserved: totalReserved,
		TotalConsumed: totalConsumed,
		Delta:         totalReserved.Sub(totalConsumed),
	}
	for i, share := range DistributeConsumption(totalConsumed, reserved) {
		mc.Lots = append(mc.Lots, LotConsumption{
			LotNumber: rows[i].LotNumber,
			Reserved:  reserved[i],
			Consumed:  share,
			Delta:     reserved[i].Sub(share),
		})
	}
	return mc
}
