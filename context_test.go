package xdebug

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsNilEndpoint(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	require.True(t, IsKind(err, KindBadParams))
}

func TestNewProbesPacketSizeAndStartsOffline(t *testing.T) {
	ep := NewMockEndpoint()
	ep.PacketSize = 512
	dc, err := New(ep, nil)
	require.NoError(t, err)
	require.Equal(t, StatusOffline, dc.Status())
	require.NotNil(t, dc.Metrics())
}

func TestStatusChangesDropsOldestWhenFull(t *testing.T) {
	ep := NewMockEndpoint()
	dc, err := New(ep, nil)
	require.NoError(t, err)

	for i := 0; i < 16; i++ {
		dc.setStatus(Status(i % 5))
	}
	// Channel has bounded capacity; draining should not block or panic,
	// and the most recent status should be the last one observed.
	var last Status
	for {
		select {
		case s := <-dc.StatusChanges():
			last = s
			continue
		default:
		}
		break
	}
	require.Equal(t, dc.Status(), last)
}

func TestInterruptBumpsAttention(t *testing.T) {
	ep := NewMockEndpoint()
	dc, err := New(ep, nil)
	require.NoError(t, err)

	before := dc.Attention()
	dc.Interrupt()
	require.Equal(t, before+1, dc.Attention())
}
