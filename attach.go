package xdebug

import (
	"context"

	"github.com/swdprobe/xdebug/internal/constants"
	"github.com/swdprobe/xdebug/internal/dap"
	"github.com/swdprobe/xdebug/internal/queue"
)

// tryAttach drives the SWD wake sequence and DP power-up handshake. It
// returns (false, nil) if the target did not respond this attempt (a
// normal, retryable outcome while DETACHED — e.g. target held in
// reset) and (false, err) only for a probe-level failure.
func (c *Context) tryAttach(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	var err error
	if c.targetSel != nil {
		err = c.wakeMultidrop(*c.targetSel)
	} else {
		err = c.wake()
	}
	if err != nil {
		return false, err
	}

	var dpidr uint32
	if err := c.readDPIDR(&dpidr); err != nil {
		// A silent/bogus ack here means nothing answered the line
		// reset — the target isn't present or isn't powered, not a
		// transport failure.
		if IsKind(err, KindSWDSilent) || IsKind(err, KindSWDBogus) || IsKind(err, KindTimeout) {
			return false, nil
		}
		return false, err
	}

	c.dpVersion = dpVersionFromIDR(dpidr)
	c.q.Init(c.dpVersion, c.memAPBase)

	if err := c.powerUp(); err != nil {
		return false, err
	}

	if base, ok := c.discoverMemAPBase(); ok {
		c.memAPBase = base
		c.q.SetAPBase(base)
	}

	c.mapCSWKeep = c.readCSWKeep()

	return true, nil
}

// readCSWKeep reads the AP's current CSW and masks it down to the
// implementation-defined bits (constants.CSWKeepMask: the high byte
// and bits 8-15) a target may require preserved on every subsequent
// transfer; on any read failure it returns 0, so later CSW writes set
// those bits to zero, rather than failing attach over the readback.
func (c *Context) readCSWKeep() uint32 {
	var csw uint32
	if err := c.q.APRead(constants.MAPCSW, &csw); err != nil {
		return 0
	}
	if err := c.flush("attach_read_csw"); err != nil {
		return 0
	}
	return csw & constants.CSWKeepMask
}

// wake issues the standard SWD wake-up sequence: a line reset (>=50
// SWCLK cycles with SWDIO high), the JTAG-to-SWD escape, a second line
// reset, and a trailing idle cycle, per the attach sequence every
// CMSIS-DAP host uses before the first DP register access.
func (c *Context) wake() error {
	seqs := []dap.SWDSequenceEntry{
		{Info: sequenceInfo(len(constants.LineResetOnes) * 8), Data: constants.LineResetOnes},
		{Info: sequenceInfo(16), Data: constants.JTAGToSWD},
		{Info: sequenceInfo(len(constants.LineResetOnes) * 8), Data: constants.LineResetOnes},
		{Info: sequenceInfo(8), Data: []byte{0x00}},
	}
	return c.cmds.SWDSequence(seqs)
}

// wakeMultidrop issues the SWDv2 multidrop wake sequence (selection
// alert plus activation code) instead of the plain JTAG-to-SWD escape,
// for targets exposing more than one DP on the same SWD bus.
func (c *Context) wakeMultidrop(targetSel uint32) error {
	seqs := []dap.SWDSequenceEntry{
		{Info: sequenceInfo(len(constants.LineResetOnes) * 8), Data: constants.LineResetOnes},
		// The 128-bit alert exceeds one entry's 64-cycle maximum.
		{Info: sequenceInfo(64), Data: constants.SWDv2SelectionAlert[:8]},
		{Info: sequenceInfo(64), Data: constants.SWDv2SelectionAlert[8:]},
		{Info: sequenceInfo(4), Data: []byte{0x00}},
		{Info: sequenceInfo(16), Data: constants.SWDv2ActivationCode},
	}
	if err := c.cmds.SWDSequence(seqs); err != nil {
		return err
	}
	return c.q.DPWrite(constants.DPTargetSel, targetSel)
}

// sequenceInfo encodes a SWD_Sequence entry's cycle count (0 means 64
// cycles per the CMSIS-DAP spec).
func sequenceInfo(bits int) byte {
	if bits >= 64 {
		return 0
	}
	return byte(bits)
}

func (c *Context) readDPIDR(dest *uint32) error {
	if err := c.q.DPRead(constants.DPIDR, dest); err != nil {
		return err
	}
	return c.flush("attach_read_dpidr")
}

// dpVersionFromIDR decodes DPIDR bits [15:12] (DP version) into the
// banking scheme Queue needs; unrecognized values are treated as the
// conservative DPv2 4-bit banking scheme.
func dpVersionFromIDR(dpidr uint32) queue.DPVersion {
	switch (dpidr >> 12) & 0xF {
	case 1:
		return queue.DPv1
	case 3:
		return queue.DPv3
	default:
		return queue.DPv2
	}
}

// powerUp requests debug and system power-up via DP.CTRL/STAT and
// polls for both acknowledgment bits, per the power-up handshake every
// ADIv5 host performs before any AP access.
func (c *Context) powerUp() error {
	req := uint32(constants.CSCSYSPwrUpReq | constants.CSCDbgPwrUpReq)
	if err := c.q.DPWrite(constants.DPCS, req); err != nil {
		return err
	}
	if err := c.flush("attach_powerup"); err != nil {
		return err
	}

	for i := 0; i < constants.HaltPollIterations; i++ {
		var cs uint32
		if err := c.q.DPRead(constants.DPCS, &cs); err != nil {
			return err
		}
		if err := c.flush("attach_powerup_poll"); err != nil {
			return err
		}
		if cs&constants.CSCSYSPwrUpAck != 0 && cs&constants.CSCDbgPwrUpAck != 0 {
			return nil
		}
	}
	return NewError("attach_powerup", KindTimeout, "power-up acknowledgment not observed")
}

// discoverMemAPBase best-effort reads MAP.BASE once and, if its present
// and format bits are both set, returns it as the DPv3 MEM-AP base; it
// does not walk ROM table entries. (false) leaves the caller's
// current/default base (constants.DefaultMemAPBaseV3) in place on any
// failure or unusable BASE, since not every DPv3 implementation
// publishes a usable one.
func (c *Context) discoverMemAPBase() (uint32, bool) {
	if c.dpVersion != queue.DPv3 {
		return 0, false
	}
	var base uint32
	if err := c.q.APRead(constants.MAPBASE, &base); err != nil {
		return 0, false
	}
	if err := c.flush("attach_rom_table"); err != nil {
		return 0, false
	}
	const basePresent = 1 << 1
	const baseFormat = 1 << 0
	if base&basePresent == 0 || base&baseFormat == 0 {
		return 0, false
	}
	return base &^ 0xFFF, true
}

// Detach issues Disconnect and returns the Context to StatusUnconfig,
// for a clean hand-back of the probe without closing its Endpoint.
func (c *Context) Detach() error {
	if err := c.cmds.Disconnect(); err != nil {
		return WrapIOError("detach", err)
	}
	c.mapCSWKeep = 0
	c.setStatus(StatusUnconfig)
	return nil
}
