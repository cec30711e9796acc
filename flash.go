package xdebug

import (
	"context"
	"encoding/binary"

	"github.com/swdprobe/xdebug/internal/constants"
)

const (
	flashAgentMagic         = 0x464C5348 // "FLSH"
	flashAgentVersion       = 1
	flashAgentHeaderWords   = 12
	flashAgentFlagBootROMHack = 1 << 0

	// bkptInstrPair overwrites the agent header's magic word once
	// loaded: two Thumb BKPT #0 instructions (0xBE00), so the agent
	// halting on return to its own header trips a breakpoint rather
	// than executing whatever bytes happened to be there.
	bkptInstrPair = 0xBE00BE00
)

// AgentHeader is a flash agent's fixed 12-word header, read back from
// target RAM after setup in case the agent filled in load-time values
// (e.g. a device-specific data_addr/data_size).
type AgentHeader struct {
	Magic     uint32
	Version   uint32
	Flags     uint32
	LoadAddr  uint32
	DataAddr  uint32
	DataSize  uint32
	FlashAddr uint32
	FlashSize uint32
	SetupFn   uint32
	EraseFn   uint32
	WriteFn   uint32
	IoctlFn   uint32
}

func decodeAgentHeader(words []uint32) AgentHeader {
	return AgentHeader{
		Magic: words[0], Version: words[1], Flags: words[2],
		LoadAddr: words[3], DataAddr: words[4], DataSize: words[5],
		FlashAddr: words[6], FlashSize: words[7],
		SetupFn: words[8], EraseFn: words[9], WriteFn: words[10], IoctlFn: words[11],
	}
}

// FlashAgent is a loaded, ready-to-invoke target-resident program.
type FlashAgent struct {
	Arch   string
	Image  []byte // full agent image, header included, as loaded into target RAM
	Header AgentHeader
}

// flashAgentTable is the built-in set of agents this transport knows
// how to load by architecture name; real deployments populate it at
// startup from compiled-in or filesystem-resident agent images (the
// images themselves are an external collaborator this package never
// builds, per the flash-agent firmware being out of scope here).
var flashAgentTable = map[string][]byte{}

// RegisterFlashAgent makes image available to SetArch under name. A
// caller embeds or loads the actual agent bytes; this package only
// implements the invocation protocol.
func RegisterFlashAgent(name string, image []byte) {
	flashAgentTable[name] = image
}

// SetArch selects and validates the flash agent for name, ready for
// Flash/Erase/EraseAll.
func (c *Context) SetArch(name string) (*FlashAgent, error) {
	image, ok := flashAgentTable[name]
	if !ok {
		return nil, NewError("set_arch", KindBadParams, "unknown architecture: "+name)
	}
	if len(image) < flashAgentHeaderWords*4 {
		return nil, NewError("set_arch", KindBadParams, "agent image shorter than its header")
	}
	words := make([]uint32, flashAgentHeaderWords)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(image[i*4 : i*4+4])
	}
	hdr := decodeAgentHeader(words)
	if hdr.Magic != flashAgentMagic {
		return nil, NewError("set_arch", KindBadParams, "agent magic mismatch")
	}
	if hdr.Version != flashAgentVersion {
		return nil, NewError("set_arch", KindUnsupported, "agent version mismatch")
	}
	if hdr.Flags&flashAgentFlagBootROMHack != 0 {
		return nil, NewError("set_arch", KindUnsupported, "FLAG_BOOT_ROM_HACK is not supported")
	}
	return &FlashAgent{Arch: name, Image: image, Header: hdr}, nil
}

// loadAndSetup resets the target to a known halted state,
// copies agent into target RAM with its header magic overwritten by a
// breakpoint pair, invokes setup(load_addr, 0, 0, 0), and re-reads the
// header in case setup filled in any fields.
func (c *Context) loadAndSetup(ctx context.Context, agent *FlashAgent) error {
	if err := c.ResetStop(ctx); err != nil {
		return err
	}

	image := make([]byte, len(agent.Image))
	copy(image, agent.Image)
	binary.LittleEndian.PutUint32(image[0:4], bkptInstrPair)

	words := bytesToWords(image)
	if err := c.MemWriteWords(ctx, agent.Header.LoadAddr, words); err != nil {
		return err
	}

	result, err := c.invoke(ctx, agent.Header.LoadAddr, agent.Header.SetupFn, 0, 0, 0, 0)
	if err != nil {
		return err
	}
	if result != 0 {
		return agentResultError("set_up", result)
	}

	hdrWords := make([]uint32, flashAgentHeaderWords)
	if err := c.MemReadWords(ctx, agent.Header.LoadAddr, hdrWords); err != nil {
		return err
	}
	agent.Header = decodeAgentHeader(hdrWords)
	return nil
}

// Erase erases [addr, addr+length) using agent, after loading and
// invoking its setup entry point.
func (c *Context) Erase(ctx context.Context, agent *FlashAgent, addr, length uint32) error {
	if err := c.loadAndSetup(ctx, agent); err != nil {
		return err
	}
	if err := c.checkFlashBounds(agent, addr, length); err != nil {
		return err
	}
	result, err := c.invoke(ctx, agent.Header.LoadAddr, agent.Header.EraseFn, addr, length, 0, 0)
	if err != nil {
		return err
	}
	if result != 0 {
		return agentResultError("erase", result)
	}
	return nil
}

// EraseAll erases the agent's entire flash region via its erase entry
// point with a zero length, the agent-side convention for "whole chip".
func (c *Context) EraseAll(ctx context.Context, agent *FlashAgent) error {
	if err := c.loadAndSetup(ctx, agent); err != nil {
		return err
	}
	result, err := c.invoke(ctx, agent.Header.LoadAddr, agent.Header.EraseFn, agent.Header.FlashAddr, 0, 0, 0)
	if err != nil {
		return err
	}
	if result != 0 {
		return agentResultError("erase_all", result)
	}
	return nil
}

// Flash erases [addr, addr+len(data)) and then writes data, streaming
// it through the agent's data buffer in data_size-sized chunks.
func (c *Context) Flash(ctx context.Context, agent *FlashAgent, addr uint32, data []byte) error {
	if err := c.Erase(ctx, agent, addr, uint32(len(data))); err != nil {
		return err
	}

	chunkSize := int(agent.Header.DataSize)
	if chunkSize <= 0 {
		return NewError("flash", KindBadParams, "agent reports zero data_size")
	}

	snapshot := c.Attention()
	for off := 0; off < len(data); off += chunkSize {
		if c.interrupted(ctx, snapshot) {
			return NewError("flash", KindInterrupted, "canceled")
		}
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		words := bytesToWords(padToWord(chunk))
		if err := c.MemWriteWords(ctx, agent.Header.DataAddr, words); err != nil {
			return err
		}
		result, err := c.invoke(ctx, agent.Header.LoadAddr, agent.Header.WriteFn,
			addr+uint32(off), agent.Header.DataAddr, uint32(len(chunk)), 0)
		if err != nil {
			return err
		}
		if result != 0 {
			return agentResultError("write", result)
		}
	}
	return nil
}

func (c *Context) checkFlashBounds(agent *FlashAgent, addr, length uint32) error {
	end := addr + length
	flashEnd := agent.Header.FlashAddr + agent.Header.FlashSize
	if addr < agent.Header.FlashAddr || end > flashEnd {
		return NewAddrError("flash_bounds", addr, KindBadParams, "range outside agent flash_addr..flash_addr+flash_size")
	}
	return nil
}

// invoke drives the Cortex-M flash-agent call convention: arguments in
// r0-r3, sp = load_addr-4, lr = load_addr|1 (Thumb return to the
// breakpoint pair at the agent's header), pc = fn|1, PSR's Thumb bit
// set, pending exception state cleared via AIRCR.VECTCLRACTIVE. It
// resumes, waits for halt, verifies pc landed back at load_addr, and
// returns r0 as the agent's result code.
func (c *Context) invoke(ctx context.Context, loadAddr, fn, a0, a1, a2, a3 uint32) (uint32, error) {
	regs := []struct {
		sel, val uint32
	}{
		{regR0, a0}, {regR1, a1}, {regR2, a2}, {regR3, a3},
		{regSP, loadAddr - 4},
		{regLR, loadAddr | 1},
		{regPC, fn | 1},
		{regPSR, 0x01000000},
	}
	for _, r := range regs {
		if err := c.RegWrite(ctx, r.sel, r.val); err != nil {
			return 0, err
		}
	}
	if err := c.MemWrite32(ctx, constants.AIRCR, constants.AIRCRVectKey|constants.AIRCRVectClrActive); err != nil {
		return 0, err
	}
	if err := c.CoreResume(ctx); err != nil {
		return 0, err
	}
	if err := c.waitHalted(ctx); err != nil {
		return 0, err
	}

	pc, err := c.RegRead(ctx, regPC)
	if err != nil {
		return 0, err
	}
	if pc&^1 != loadAddr {
		return 0, NewAddrError("invoke", pc, KindFailed, "agent did not return to its load address")
	}
	return c.RegRead(ctx, regR0)
}

// Core register selectors for DCRSR (the subset invoke needs).
const (
	regR0  = 0
	regR1  = 1
	regR2  = 2
	regR3  = 3
	regSP  = 13
	regLR  = 14
	regPC  = 15
	regPSR = 16
)

func agentResultError(op string, result uint32) error {
	const agentInvalid = 1 // unsupported-part, per the agent ABI
	if result == agentInvalid {
		return NewError(op, KindUnsupported, "agent reports unsupported part")
	}
	return NewError(op, KindFailed, "agent returned nonzero result")
}

func bytesToWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return words
}

func padToWord(b []byte) []byte {
	if len(b)%4 == 0 {
		return b
	}
	padded := make([]byte, (len(b)+3)&^3)
	copy(padded, b)
	return padded
}
