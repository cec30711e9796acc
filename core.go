package xdebug

import (
	"context"
	"time"

	"github.com/swdprobe/xdebug/internal/constants"
)

// dhcsrMaskIntsBit reads DHCSR and returns the C_MASKINTS bit a
// following control write should carry: preserved iff C_DEBUGEN was
// already set (the core was already under debug control), forced to 0
// otherwise, so first-time debug enable never inherits a stale mask
// bit from whatever ran before the probe attached.
func (c *Context) dhcsrMaskIntsBit(ctx context.Context) (uint32, error) {
	cur, err := c.MemRead32(ctx, constants.DHCSR)
	if err != nil {
		return 0, err
	}
	if cur&constants.DHCSRCDebugEn == 0 {
		return 0, nil
	}
	return cur & constants.DHCSRCMaskInts, nil
}

// CoreHalt halts the core (DHCSR.C_HALT) and waits for S_HALT to read
// back set, returning once the core is confirmed halted.
func (c *Context) CoreHalt(ctx context.Context) error {
	maskInts, err := c.dhcsrMaskIntsBit(ctx)
	if err != nil {
		return err
	}
	bits := uint32(constants.DHCSRDbgKey|constants.DHCSRCDebugEn|constants.DHCSRCHalt) | maskInts
	if err := c.MemWrite32(ctx, constants.DHCSR, bits); err != nil {
		return err
	}
	return c.waitHalted(ctx)
}

// CoreResume clears DHCSR.C_HALT, letting the core run.
func (c *Context) CoreResume(ctx context.Context) error {
	maskInts, err := c.dhcsrMaskIntsBit(ctx)
	if err != nil {
		return err
	}
	bits := uint32(constants.DHCSRDbgKey|constants.DHCSRCDebugEn) | maskInts
	if err := c.MemWrite32(ctx, constants.DHCSR, bits); err != nil {
		return err
	}
	c.coreHalted = false
	return nil
}

// CoreStep single-steps the core (DHCSR.C_STEP), with interrupts
// masked only when maskInterrupts is true, then waits for it to
// re-enter halt.
func (c *Context) CoreStep(ctx context.Context, maskInterrupts bool) error {
	bits := uint32(constants.DHCSRDbgKey | constants.DHCSRCDebugEn | constants.DHCSRCStep)
	if maskInterrupts {
		bits |= constants.DHCSRCMaskInts
	}
	if err := c.MemWrite32(ctx, constants.DHCSR, bits); err != nil {
		return err
	}
	return c.waitHalted(ctx)
}

// CoreIsHalted reads DHCSR.S_HALT directly, without waiting.
func (c *Context) CoreIsHalted(ctx context.Context) (bool, error) {
	dhcsr, err := c.MemRead32(ctx, constants.DHCSR)
	if err != nil {
		return false, err
	}
	halted := dhcsr&constants.DHCSRSHalt != 0
	c.coreHalted = halted
	return halted, nil
}

// waitHalted polls DHCSR.S_HALT for up to constants.HaltPollIterations
// rounds, honoring both ctx cancellation and Interrupt().
func (c *Context) waitHalted(ctx context.Context) error {
	snapshot := c.Attention()
	for i := 0; i < constants.HaltPollIterations; i++ {
		if c.interrupted(ctx, snapshot) {
			return NewError("core_wait_halt", KindInterrupted, "canceled while waiting for halt")
		}
		halted, err := c.CoreIsHalted(ctx)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
	return NewError("core_wait_halt", KindTimeout, "core did not halt")
}

// RegRead reads a core register via DCRSR/DCRDR: write the register
// selector to DCRSR with RegWnR clear, wait for S_REGRDY, then read
// DCRDR.
func (c *Context) RegRead(ctx context.Context, regSel uint32) (uint32, error) {
	if err := c.MemWrite32(ctx, constants.DCRSR, regSel); err != nil {
		return 0, err
	}
	if err := c.waitRegReady(ctx); err != nil {
		return 0, err
	}
	return c.MemRead32(ctx, constants.DCRDR)
}

// RegWrite writes a core register: load DCRDR, then write the
// register selector to DCRSR with RegWnR set.
func (c *Context) RegWrite(ctx context.Context, regSel, value uint32) error {
	if err := c.MemWrite32(ctx, constants.DCRDR, value); err != nil {
		return err
	}
	if err := c.MemWrite32(ctx, constants.DCRSR, regSel|constants.DCRSRRegWnR); err != nil {
		return err
	}
	return c.waitRegReady(ctx)
}

// RegReadList reads each of sels in turn into the matching entry of
// dest (len(dest) must equal len(sels)) — a convenience for dumping
// the general-purpose register file without hand-rolling the loop.
func (c *Context) RegReadList(ctx context.Context, sels []uint32, dest []uint32) error {
	for i, sel := range sels {
		v, err := c.RegRead(ctx, sel)
		if err != nil {
			return err
		}
		dest[i] = v
	}
	return nil
}

func (c *Context) waitRegReady(ctx context.Context) error {
	snapshot := c.Attention()
	for i := 0; i < constants.HaltPollIterations; i++ {
		if c.interrupted(ctx, snapshot) {
			return NewError("core_reg_wait", KindInterrupted, "canceled waiting for S_REGRDY")
		}
		dhcsr, err := c.MemRead32(ctx, constants.DHCSR)
		if err != nil {
			return err
		}
		if dhcsr&constants.DHCSRSRegRdy != 0 {
			return nil
		}
	}
	return NewError("core_reg_wait", KindTimeout, "S_REGRDY not observed")
}

// ResetStop halts the core, arms a reset-vector catch, then drives the
// target's reset via a plain AIRCR.SYSRESETREQ memory write (not the
// probe's ResetTarget command — on a CMSIS-DAP probe that just toggles
// the nRESET pin, which a reset-vector catch can race), and waits for
// the core to come back up already halted at the vector.
func (c *Context) ResetStop(ctx context.Context) error {
	if err := c.CoreHalt(ctx); err != nil {
		return err
	}

	demcr := uint32(constants.DEMCRTRCEna | constants.DEMCRVCCoreReset)
	if err := c.MemWrite32(ctx, constants.DEMCR, demcr); err != nil {
		return err
	}

	aircr := uint32(constants.AIRCRVectKey | constants.AIRCRSysResetReq)
	if err := c.MemWrite32(ctx, constants.AIRCR, aircr); err != nil {
		return WrapIOError("reset_stop", err)
	}

	// Give the target a moment to complete its reset sequence before
	// the first post-reset DP access; a cold reset briefly drops the
	// debug power domain on some Cortex-M implementations.
	select {
	case <-time.After(2 * time.Millisecond):
	case <-ctx.Done():
		return NewError("reset_stop", KindInterrupted, ctx.Err().Error())
	}

	if err := c.waitHalted(ctx); err != nil {
		return err
	}
	// Clear VC_CORERESET now that the halt-on-reset vector catch has
	// served its purpose, so a later CoreResume doesn't re-arm it.
	return c.MemWrite32(ctx, constants.DEMCR, constants.DEMCRTRCEna)
}
