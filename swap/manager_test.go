package swap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localswap/types"
)

func TestManagerReopensAfterStop(t *testing.T) {
	coord := &fakeCoordinator{}
	rb := &manualRebuilder{}
	created := 0
	m := NewManager(func() (*Controller, error) {
		created++
		c, _ := newTestController(t, coord, rb)
		return c, nil
	})
	ctx := context.Background()

	assert.Nil(t, m.Current())
	first, err := m.Begin(ctx)
	require.NoError(t, err)
	again, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, types.StateStart, first.Snapshot().State)

	m.Stop(ctx)
	assert.Nil(t, m.Current())
	assert.True(t, first.Snapshot().Closed)

	second, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, created)
}

func TestManagerForgetsSessionEndedByBack(t *testing.T) {
	coord := &fakeCoordinator{}
	m := NewManager(func() (*Controller, error) {
		c, _ := newTestController(t, coord, &manualRebuilder{})
		return c, nil
	})
	ctx := context.Background()
	c, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.False(t, c.Back(ctx))
	assert.Nil(t, m.Current())
}

func TestManagerDetachThenBeginResumes(t *testing.T) {
	coord := &fakeCoordinator{}
	rb := &manualRebuilder{}
	m := NewManager(func() (*Controller, error) {
		c, _ := newTestController(t, coord, rb)
		return c, nil
	})
	ctx := context.Background()

	first, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Advance(ctx))
	require.NoError(t, first.RequestAdvanceFromSelectApps(types.NewSelection("A")))
	rb.finish(rb.nextID, types.RebuildSucceeded, types.NewSelection("A"), nil)
	require.NoError(t, first.Advance(ctx))
	require.Equal(t, types.StateNetworkQrReady, first.Snapshot().State)

	m.Detach()
	assert.Nil(t, m.Current())
	assert.True(t, coord.networkRunning)

	second, err := m.Begin(ctx)
	require.NoError(t, err)
	snap := second.Snapshot()
	assert.Equal(t, types.StateNetworkQrReady, snap.State)
	assert.Equal(t, []types.SessionState{types.StateStart, types.StateSelectApps, types.StateJoinNetwork}, snap.History)
	assert.Equal(t, 2, coord.networkStarts, "resuming refreshes the idle timer")

	m.OnTransportChanged()
	m.Stop(ctx)
	assert.False(t, coord.networkRunning)
}
