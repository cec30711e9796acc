package xdebug

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swdprobe/xdebug/internal/queue"
)

func newAttachableContext(t *testing.T) (*Context, *MockEndpoint) {
	t.Helper()
	ep := NewMockEndpoint()
	dc, err := New(ep, nil)
	require.NoError(t, err)
	return dc, ep
}

// TestAttachSequence exercises the attach sequence directly: a
// fresh context reaches ATTACHED after wake + power-up, with
// DP.DPIDR's version bits correctly classified.
func TestAttachSequence(t *testing.T) {
	dc, _ := newAttachableContext(t)
	ctx := context.Background()

	ok, err := dc.tryAttach(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, queue.DPv1, dc.dpVersion)
}

func TestPeriodicDrivesOfflineToAttached(t *testing.T) {
	dc, _ := newAttachableContext(t)
	ctx := context.Background()

	require.Equal(t, StatusOffline, dc.Status())
	for i := 0; i < 5 && dc.Status() != StatusAttached; i++ {
		dc.Periodic(ctx)
	}
	require.Equal(t, StatusAttached, dc.Status())
}

func TestDetachReturnsToUnconfig(t *testing.T) {
	dc, _ := newAttachableContext(t)
	ctx := context.Background()

	ok, err := dc.tryAttach(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, dc.Detach())
	require.Equal(t, StatusUnconfig, dc.Status())
}

func TestMultidropWakeSelectsTarget(t *testing.T) {
	ep := NewMockEndpoint()
	sel := uint32(0x01002927)
	dc, err := New(ep, &Options{TargetSel: &sel})
	require.NoError(t, err)

	ok, err := dc.tryAttach(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}
