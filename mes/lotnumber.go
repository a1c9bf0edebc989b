package mes

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LotNumberer issues lot numbers for newly booked output and scrap.
// Implementations must be safe under concurrent callers of the same store.
type LotNumberer interface {
	Generate(ctx context.Context, s Store, materialCode string, at time.Time) (string, error)
}

// SequenceLotNumberer formats LOT-<CODE>-<YYYYMMDD>-<NNN>, where NNN comes
// from the store's per-(material, day) counter. Codes are upper-cased before
// keying the counter, so m1 and M1 share one sequence.
type SequenceLotNumberer struct {
	Prefix string
}

func (g SequenceLotNumberer) Generate(ctx context.Context, s Store, materialCode string, at time.Time) (string, error) {
	if materialCode == "" {
		return "", &RequirementError{Reason: "material code is required for lot numbering"}
	}
	code := strings.ToUpper(materialCode)
	day := at.UTC().Truncate(24 * time.Hour)
	seq, err := s.NextLotSequence(ctx, code, day)
	if err != nil {
		return "", fmt.Errorf("allocate lot sequence for %s: %w", materialCode, err)
	}

	prefix := g.Prefix
	if prefix == "" {
		prefix = "LOT"
	}
	return fmt.Sprintf("%s-%s-%s-%03d", prefix, code, day.Format("20060102"), seq), nil
}

// GenerateLotNumber allocates a lot number in its own transaction.
func GenerateLotNumber(ctx context.Context, ts TxStore, g LotNumberer, materialCode string, at time.Time) (string, error) {
	var lot string
	err := ts.WithTx(ctx, func(s Store) error {
		var err error
		lot, err = g.Generate(ctx, s, materialCode, at)
		return err
	})
	return lot, err
}
