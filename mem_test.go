package xdebug

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func attachedContext(t *testing.T) (*Context, *MockEndpoint) {
	t.Helper()
	ep := NewMockEndpoint()
	dc, err := New(ep, nil)
	require.NoError(t, err)
	ok, err := dc.tryAttach(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	dc.setStatus(StatusAttached)
	return dc, ep
}

func TestMemWriteThenReadRoundTrips(t *testing.T) {
	dc, _ := attachedContext(t)
	ctx := context.Background()

	require.NoError(t, dc.MemWrite32(ctx, 0x20000000, 0xDEADBEEF))
	v, err := dc.MemRead32(ctx, 0x20000000)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), v)
}

func TestMemRead32RejectsUnalignedAddress(t *testing.T) {
	dc, _ := attachedContext(t)
	_, err := dc.MemRead32(context.Background(), 0x20000001)
	require.Error(t, err)
	require.True(t, IsKind(err, KindBadParams))
}

func TestMemOpsRejectedWhenNotAttached(t *testing.T) {
	ep := NewMockEndpoint()
	dc, err := New(ep, nil)
	require.NoError(t, err)

	_, err = dc.MemRead32(context.Background(), 0x20000000)
	require.Error(t, err)
	require.True(t, IsKind(err, KindDetached))
}

// TestMemReadWordsCrossesWrapBoundary exercises the 1024-byte TAR
// auto-increment wrap: a run starting 4 words before the boundary must
// split into two queue batches around it.
func TestMemReadWordsCrossesWrapBoundary(t *testing.T) {
	dc, ep := attachedContext(t)
	ctx := context.Background()

	base := uint32(0x20000000 + 1024 - 4*4) // 4 words before the wrap
	for i := 0; i < 8; i++ {
		ep.Mem[base+uint32(i*4)] = uint32(0x1000 + i)
	}

	dest := make([]uint32, 8)
	require.NoError(t, dc.MemReadWords(ctx, base, dest))
	for i := 0; i < 8; i++ {
		require.Equal(t, uint32(0x1000+i), dest[i])
	}
}

func TestMemWriteWords(t *testing.T) {
	dc, ep := attachedContext(t)
	ctx := context.Background()

	src := []uint32{1, 2, 3, 4, 5}
	require.NoError(t, dc.MemWriteWords(ctx, 0x20001000, src))
	for i, want := range src {
		require.Equal(t, want, ep.Mem[0x20001000+uint32(i*4)])
	}
}

func TestMemMatch32(t *testing.T) {
	dc, ep := attachedContext(t)
	ctx := context.Background()

	ep.Mem[0x20002000] = 0x42
	require.NoError(t, dc.MemMatch32(ctx, 0x20002000, 0xFFFFFFFF, 0x42))
}
