package xdebug

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeriodicTimingPerStatus(t *testing.T) {
	ep := NewMockEndpoint()
	dc, err := New(ep, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// OFFLINE -> UNCONFIG (reconnect succeeds on the already-open mock).
	d := dc.Periodic(ctx)
	require.Equal(t, StatusUnconfig, dc.Status())
	require.Greater(t, d, time.Duration(0))

	// UNCONFIG -> DETACHED (Connect succeeds), then DETACHED -> ATTACHED.
	d = dc.Periodic(ctx)
	require.Equal(t, StatusDetached, dc.Status())
	require.Greater(t, d, time.Duration(0))

	d = dc.Periodic(ctx)
	require.Equal(t, StatusAttached, dc.Status())
	require.Equal(t, attachedPollDelay(), d)
}

func TestLivenessFailureMovesToFailure(t *testing.T) {
	ep := NewMockEndpoint()
	dc, err := New(ep, nil)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := dc.tryAttach(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	dc.setStatus(StatusAttached)

	ep.FaultOnce = true
	dc.Periodic(ctx)
	require.Equal(t, StatusFailure, dc.Status())

	// StatusFailure unconditionally falls back to StatusOffline on the
	// next tick, restarting the reconnect/configure/attach cycle.
	dc.Periodic(ctx)
	require.Equal(t, StatusOffline, dc.Status())
}

// TestReconnectReopensDroppedEndpoint exercises OFFLINE's usb_connect
// step when the existing Endpoint is gone (e.g. after a mid-session
// I/O failure): reconnect must call reconnectFunc to obtain a fresh
// one rather than getting stuck re-probing a nil pointer, and Periodic
// must then carry it all the way to ATTACHED.
func TestReconnectReopensDroppedEndpoint(t *testing.T) {
	ep := NewMockEndpoint()
	dc, err := New(ep, nil)
	require.NoError(t, err)
	ctx := context.Background()

	dc.ep = nil
	fresh := NewMockEndpoint()
	dc.reconnectFunc = func() (Endpoint, error) { return fresh, nil }
	dc.setStatus(StatusOffline)

	d := dc.Periodic(ctx)
	require.Equal(t, StatusUnconfig, dc.Status())
	require.Greater(t, d, time.Duration(0))
	require.Same(t, fresh, dc.ep)

	for i := 0; i < 5 && dc.Status() != StatusAttached; i++ {
		dc.Periodic(ctx)
	}
	require.Equal(t, StatusAttached, dc.Status())
}

func attachedPollDelay() time.Duration {
	return 100 * time.Millisecond
}
