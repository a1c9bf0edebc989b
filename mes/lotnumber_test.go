package mes_test

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/umuxt/Burkol0-sub002/mes"
)

func TestLotNumber_Format(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2025, time.November, 20, 23, 59, 0, 0, time.UTC)

	lot, err := mes.GenerateLotNumber(f.ctx, f.store, mes.SequenceLotNumberer{}, "out-1", at)
	require.NoError(t, err)
	assert.Equal(t, "LOT-OUT-1-20251120-001", lot)

	lot, err = mes.GenerateLotNumber(f.ctx, f.store, mes.SequenceLotNumberer{}, "out-1", at)
	require.NoError(t, err)
	assert.Equal(t, "LOT-OUT-1-20251120-002", lot)

	// New day, new counter
	lot, err = mes.GenerateLotNumber(f.ctx, f.store, mes.SequenceLotNumberer{}, "out-1", at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "LOT-OUT-1-20251121-001", lot)

	_, err = mes.GenerateLotNumber(f.ctx, f.store, mes.SequenceLotNumberer{}, "", at)
	require.ErrorIs(t, err, mes.ErrInvalidRequirement)
}

func TestLotNumber_CaseVariantsShareOneCounter(t *testing.T) {
	// GIVEN: Lots generated for m1 and then M1 on the same day
	// THEN: They print the same code, so they must not reuse a sequence number

	f := newFixture(t)

	lower, err := mes.GenerateLotNumber(f.ctx, f.store, mes.SequenceLotNumberer{}, "m1", t0)
	require.NoError(t, err)
	upper, err := mes.GenerateLotNumber(f.ctx, f.store, mes.SequenceLotNumberer{}, "M1", t0)
	require.NoError(t, err)

	assert.Equal(t, "LOT-M1-20251120-001", lower)
	assert.Equal(t, "LOT-M1-20251120-002", upper)
}

func TestLotNumber_ConcurrentCallsAreUniqueAndSequential(t *testing.T) {
	// GIVEN: N goroutines generating for the same material and day
	// THEN: N distinct numbers, exactly 001..N

	const n = 25
	f := newFixture(t)

	var (
		g    errgroup.Group
		mu   sync.Mutex
		lots []string
	)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			lot, err := mes.GenerateLotNumber(f.ctx, f.store, mes.SequenceLotNumberer{}, "M1", t0)
			if err != nil {
				return err
			}
			mu.Lock()
			lots = append(lots, lot)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(lots)
	require.Len(t, lots, n)
	for i, lot := range lots {
		assert.Equal(t, fmt.Sprintf("LOT-M1-20251120-%03d", i+1), lot)
	}
}
