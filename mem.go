package xdebug

import (
	"context"

	"github.com/swdprobe/xdebug/internal/constants"
)

// memCSW returns the CSW value for a 32-bit MEM-AP transfer with the
// given address-increment mode (constants.CSWIncOff for single-word
// accesses, constants.CSWIncSingle for bulk runs), preserving the
// implementation-defined "keep" bits (prot/cache/mode) from keep, which
// the caller obtained from a prior CSW read (0 sets those bits to zero).
func memCSW(keep, inc uint32) uint32 {
	return (keep & constants.CSWKeepMask) | constants.CSWSize32 | inc | constants.CSWDeviceEn
}

// MemRead32 reads one 32-bit word at addr.
func (c *Context) MemRead32(ctx context.Context, addr uint32) (uint32, error) {
	if ctx.Err() != nil {
		return 0, NewError("mem_rd32", KindInterrupted, ctx.Err().Error())
	}
	if err := c.requireAttached("mem_rd32"); err != nil {
		return 0, err
	}
	if addr%4 != 0 {
		return 0, NewAddrError("mem_rd32", addr, KindBadParams, "address not word-aligned")
	}

	if err := c.q.SetCSW(memCSW(c.mapCSWKeep, constants.CSWIncOff)); err != nil {
		return 0, err
	}
	if err := c.q.SetTAR(addr); err != nil {
		return 0, err
	}
	var value uint32
	if err := c.q.APRead(constants.MAPDRW, &value); err != nil {
		return 0, err
	}
	if err := c.flush("mem_rd32"); err != nil {
		return 0, err
	}
	c.metrics.RecordMemRead(4)
	return value, nil
}

// MemWrite32 writes one 32-bit word to addr.
func (c *Context) MemWrite32(ctx context.Context, addr, value uint32) error {
	if ctx.Err() != nil {
		return NewError("mem_wr32", KindInterrupted, ctx.Err().Error())
	}
	if err := c.requireAttached("mem_wr32"); err != nil {
		return err
	}
	if addr%4 != 0 {
		return NewAddrError("mem_wr32", addr, KindBadParams, "address not word-aligned")
	}

	if err := c.q.SetCSW(memCSW(c.mapCSWKeep, constants.CSWIncOff)); err != nil {
		return err
	}
	if err := c.q.SetTAR(addr); err != nil {
		return err
	}
	if err := c.q.APWrite(constants.MAPDRW, value); err != nil {
		return err
	}
	if err := c.flush("mem_wr32"); err != nil {
		return err
	}
	c.metrics.RecordMemWrite(4)
	return nil
}

// MemMatch32 polls addr until its value equals want under mask, or
// mismatches KindMatch after the probe's configured match-retry count
// is exhausted. core.go's and flash.go's halt waits poll DHCSR with
// MemRead32 instead of using it.
func (c *Context) MemMatch32(ctx context.Context, addr, mask, want uint32) error {
	if ctx.Err() != nil {
		return NewError("mem_match32", KindInterrupted, ctx.Err().Error())
	}
	if err := c.requireAttached("mem_match32"); err != nil {
		return err
	}
	if err := c.q.SetCSW(memCSW(c.mapCSWKeep, constants.CSWIncOff)); err != nil {
		return err
	}
	if err := c.q.SetTAR(addr); err != nil {
		return err
	}
	if err := c.q.SetMask(true, mask); err != nil {
		return err
	}
	if err := c.q.APMatch(constants.MAPDRW, want); err != nil {
		return err
	}
	return c.flush("mem_match32")
}

// MemReadWords reads a contiguous run of n 32-bit words starting at
// addr into dest (len(dest) must equal n), chunking the transfer at
// the MEM-AP TAR auto-increment wrap boundary (constants.
// TARWrapBoundary) so a single queue batch never crosses it.
func (c *Context) MemReadWords(ctx context.Context, addr uint32, dest []uint32) error {
	if err := c.requireAttached("mem_rd_words"); err != nil {
		return err
	}
	if addr%4 != 0 {
		return NewAddrError("mem_rd_words", addr, KindBadParams, "address not word-aligned")
	}

	if err := c.q.SetCSW(memCSW(c.mapCSWKeep, constants.CSWIncSingle)); err != nil {
		return err
	}

	snapshot := c.Attention()
	remaining := dest
	cur := addr
	for len(remaining) > 0 {
		if c.interrupted(ctx, snapshot) {
			return NewAddrError("mem_rd_words", cur, KindInterrupted, "canceled")
		}
		n := wordsUntilWrap(cur, len(remaining))
		if err := c.q.SetTAR(cur); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := c.q.APRead(constants.MAPDRW, &remaining[i]); err != nil {
				return err
			}
		}
		if err := c.flush("mem_rd_words"); err != nil {
			return err
		}
		c.q.InvalidateTAR() // auto-increment leaves TAR unknown across a wrap
		cur += uint32(n * 4)
		remaining = remaining[n:]
	}
	c.metrics.RecordMemRead(uint64(len(dest)) * 4)
	return nil
}

// MemWriteWords writes src as a contiguous run of 32-bit words
// starting at addr, with the same wrap-boundary chunking as
// MemReadWords.
func (c *Context) MemWriteWords(ctx context.Context, addr uint32, src []uint32) error {
	if err := c.requireAttached("mem_wr_words"); err != nil {
		return err
	}
	if addr%4 != 0 {
		return NewAddrError("mem_wr_words", addr, KindBadParams, "address not word-aligned")
	}

	if err := c.q.SetCSW(memCSW(c.mapCSWKeep, constants.CSWIncSingle)); err != nil {
		return err
	}

	snapshot := c.Attention()
	remaining := src
	cur := addr
	for len(remaining) > 0 {
		if c.interrupted(ctx, snapshot) {
			return NewAddrError("mem_wr_words", cur, KindInterrupted, "canceled")
		}
		n := wordsUntilWrap(cur, len(remaining))
		if err := c.q.SetTAR(cur); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := c.q.APWrite(constants.MAPDRW, remaining[i]); err != nil {
				return err
			}
		}
		if err := c.flush("mem_wr_words"); err != nil {
			return err
		}
		c.q.InvalidateTAR()
		cur += uint32(n * 4)
		remaining = remaining[n:]
	}
	c.metrics.RecordMemWrite(uint64(len(src)) * 4)
	return nil
}

// wordsUntilWrap returns how many of the next want words can be
// transferred before cur's TAR auto-increment would cross a
// TARWrapBoundary-aligned boundary.
func wordsUntilWrap(cur uint32, want int) int {
	untilWrap := (constants.TARWrapBoundary - int(cur%constants.TARWrapBoundary)) / 4
	if want < untilWrap {
		return want
	}
	return untilWrap
}

// requireAttached rejects mem/core/flash operations issued outside
// StatusAttached, since the queue's shadow cache and SELECT banking
// are only meaningful once the power-up handshake has completed.
func (c *Context) requireAttached(op string) error {
	if c.Status() != StatusAttached {
		return NewError(op, KindDetached, "context is not attached")
	}
	return nil
}
