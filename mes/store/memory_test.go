package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umuxt/Burkol0-sub002/mes"
	"github.com/umuxt/Burkol0-sub002/mes/store"
)

func TestWithTx_ErrorRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveSubstation(ctx, mes.Substation{ID: "S1", Status: mes.SubstationAvailable}))

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(s mes.Store) error {
		require.NoError(t, s.SaveSubstation(ctx, mes.Substation{ID: "S1", Status: mes.SubstationInUse, CurrentAssignmentID: "T1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	sub, err := st.GetSubstation(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, mes.SubstationAvailable, sub.Status)
	assert.Empty(t, sub.CurrentAssignmentID)
}

func TestWithTx_PanicRestoresSnapshotAndReleasesLock(t *testing.T) {
	// GIVEN: A callback that writes and then panics
	// WHEN: The panic propagates out of WithTx
	// THEN: The write is gone and the store still accepts transactions

	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveSubstation(ctx, mes.Substation{ID: "S1", Status: mes.SubstationAvailable}))

	assert.Panics(t, func() {
		_ = st.WithTx(ctx, func(s mes.Store) error {
			_ = s.SaveSubstation(ctx, mes.Substation{ID: "S1", Status: mes.SubstationInUse, CurrentAssignmentID: "T1"})
			_ = s.SaveSubstation(ctx, mes.Substation{ID: "S2", Status: mes.SubstationAvailable})
			panic("half way")
		})
	})

	sub, err := st.GetSubstation(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, mes.SubstationAvailable, sub.Status)
	_, err = st.GetSubstation(ctx, "S2")
	assert.True(t, mes.IsNotFound(err))

	require.NoError(t, st.WithTx(ctx, func(s mes.Store) error {
		return s.SaveSubstation(ctx, mes.Substation{ID: "S2", Status: mes.SubstationAvailable})
	}))
}
