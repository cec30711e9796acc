package xdebug

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testAgentLoadAddr  = 0x20000000
	testAgentDataAddr  = 0x20000100
	testAgentDataSize  = 64
	testAgentFlashAddr = 0x08000000
	testAgentFlashSize = 0x00010000
)

func buildTestAgentImage(flags uint32) []byte {
	hdr := []uint32{
		flashAgentMagic,
		flashAgentVersion,
		flags,
		testAgentLoadAddr,
		testAgentDataAddr,
		testAgentDataSize,
		testAgentFlashAddr,
		testAgentFlashSize,
		testAgentLoadAddr + 0x20, // setup_fn
		testAgentLoadAddr + 0x30, // erase_fn
		testAgentLoadAddr + 0x40, // write_fn
		0,                        // ioctl_fn
	}
	img := make([]byte, len(hdr)*4)
	for i, w := range hdr {
		binary.LittleEndian.PutUint32(img[i*4:i*4+4], w)
	}
	return img
}

func TestSetArchValidatesHeader(t *testing.T) {
	RegisterFlashAgent("test-ok", buildTestAgentImage(0))
	RegisterFlashAgent("test-bootrom", buildTestAgentImage(flashAgentFlagBootROMHack))

	dc, _ := attachedContext(t)

	agent, err := dc.SetArch("test-ok")
	require.NoError(t, err)
	require.Equal(t, uint32(testAgentLoadAddr), agent.Header.LoadAddr)

	_, err = dc.SetArch("test-bootrom")
	require.Error(t, err)
	require.True(t, IsKind(err, KindUnsupported))

	_, err = dc.SetArch("does-not-exist")
	require.Error(t, err)
	require.True(t, IsKind(err, KindBadParams))
}

func TestSetArchRejectsBadMagicAndVersion(t *testing.T) {
	bad := buildTestAgentImage(0)
	binary.LittleEndian.PutUint32(bad[0:4], 0xFFFFFFFF)
	RegisterFlashAgent("test-badmagic", bad)

	dc, _ := attachedContext(t)
	_, err := dc.SetArch("test-badmagic")
	require.Error(t, err)
	require.True(t, IsKind(err, KindBadParams))

	wrongVersion := buildTestAgentImage(0)
	binary.LittleEndian.PutUint32(wrongVersion[4:8], 99)
	RegisterFlashAgent("test-badversion", wrongVersion)
	_, err = dc.SetArch("test-badversion")
	require.Error(t, err)
	require.True(t, IsKind(err, KindUnsupported))
}

func TestEraseAndFlashInvokeAgent(t *testing.T) {
	RegisterFlashAgent("test-invoke", buildTestAgentImage(0))
	dc, ep := attachedContext(t)
	ep.AutoCompleteInvoke = true
	ctx := context.Background()

	agent, err := dc.SetArch("test-invoke")
	require.NoError(t, err)

	require.NoError(t, dc.EraseAll(ctx, agent))

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, dc.Flash(ctx, agent, testAgentFlashAddr, data))
}

func TestFlashRejectsOutOfBoundsRange(t *testing.T) {
	RegisterFlashAgent("test-bounds", buildTestAgentImage(0))
	dc, ep := attachedContext(t)
	ep.AutoCompleteInvoke = true
	ctx := context.Background()

	agent, err := dc.SetArch("test-bounds")
	require.NoError(t, err)

	err = dc.Erase(ctx, agent, testAgentFlashAddr-4, 16)
	require.Error(t, err)
	require.True(t, IsKind(err, KindBadParams))
}

func TestAgentNonzeroResultReportsFailure(t *testing.T) {
	RegisterFlashAgent("test-fail", buildTestAgentImage(0))
	dc, ep := attachedContext(t)
	ep.AutoCompleteInvoke = true
	ep.InvokeResult = 1 // agent ABI: unsupported part
	ctx := context.Background()

	agent, err := dc.SetArch("test-fail")
	require.NoError(t, err)

	err = dc.EraseAll(ctx, agent)
	require.Error(t, err)
	require.True(t, IsKind(err, KindUnsupported))
}
