package xdebug

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoreHaltResume(t *testing.T) {
	dc, ep := attachedContext(t)
	ctx := context.Background()

	require.NoError(t, dc.CoreHalt(ctx))
	require.True(t, ep.IsHalted())

	halted, err := dc.CoreIsHalted(ctx)
	require.NoError(t, err)
	require.True(t, halted)

	require.NoError(t, dc.CoreResume(ctx))
	require.False(t, ep.IsHalted())
}

func TestCoreStep(t *testing.T) {
	dc, ep := attachedContext(t)
	ctx := context.Background()

	require.NoError(t, dc.CoreHalt(ctx))
	require.NoError(t, dc.CoreStep(ctx, true))
	require.True(t, ep.IsHalted())
}

func TestRegWriteReadRoundTrips(t *testing.T) {
	dc, _ := attachedContext(t)
	ctx := context.Background()

	require.NoError(t, dc.CoreHalt(ctx))
	require.NoError(t, dc.RegWrite(ctx, 0, 0x12345678))
	v, err := dc.RegRead(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x12345678), v)
}

func TestRegReadList(t *testing.T) {
	dc, _ := attachedContext(t)
	ctx := context.Background()

	require.NoError(t, dc.CoreHalt(ctx))
	require.NoError(t, dc.RegWrite(ctx, 0, 1))
	require.NoError(t, dc.RegWrite(ctx, 1, 2))

	dest := make([]uint32, 2)
	require.NoError(t, dc.RegReadList(ctx, []uint32{0, 1}, dest))
	require.Equal(t, []uint32{1, 2}, dest)
}

func TestCoreHaltPreservesMaskIntsWhenDebugAlreadyEnabled(t *testing.T) {
	dc, ep := attachedContext(t)
	ctx := context.Background()

	// Debug already enabled with C_MASKINTS set, simulating a prior
	// session's halt/resume cycle that left interrupts masked.
	ep.debugEn = true
	ep.maskInts = true

	require.NoError(t, dc.CoreHalt(ctx))
	require.True(t, ep.MaskIntsSet())

	require.NoError(t, dc.CoreResume(ctx))
	require.True(t, ep.MaskIntsSet())
}

func TestCoreHaltForcesMaskIntsOffWhenDebugNotYetEnabled(t *testing.T) {
	dc, ep := attachedContext(t)
	ctx := context.Background()

	ep.debugEn = false
	ep.maskInts = true // stale bit from before attach; must be forced off

	require.NoError(t, dc.CoreHalt(ctx))
	require.False(t, ep.MaskIntsSet())
}

func TestResetStopHaltsCoreAfterReset(t *testing.T) {
	dc, ep := attachedContext(t)
	ctx := context.Background()

	before := ep.ResetCount()
	require.NoError(t, dc.ResetStop(ctx))
	require.Greater(t, ep.ResetCount(), before)
	require.True(t, ep.IsHalted())
}
