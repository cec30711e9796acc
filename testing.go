package xdebug

import (
	"encoding/binary"
	"sync"

	"github.com/swdprobe/xdebug/internal/constants"
)

// MockEndpoint simulates a CMSIS-DAP probe attached to a single
// Cortex-M target: enough of Info/Connect/Transfer/WriteABORT/
// ResetTarget semantics to drive attach, memory, core, and flash-agent
// logic in tests without real USB hardware. It implements
// internal/interfaces.Endpoint directly, so it plugs in under
// internal/dap.Commands exactly where a usbio.Endpoint would.
type MockEndpoint struct {
	mu sync.Mutex

	// Capabilities reported by Info().
	PacketSize uint32
	DPIDR      uint32

	// DP/AP simulated register state.
	selectVal uint32
	csw       uint32
	tar       uint32
	apBase    uint32
	apIDR     uint32

	// Target memory, word-addressed (word-aligned accesses only, which
	// is all this transport ever issues).
	Mem map[uint32]uint32

	halted      bool
	debugEn     bool
	maskInts    bool
	resetCount  int
	lastRsp     []byte
	regs        map[uint32]uint32 // core register file, moved to/from DCRDR on DCRSR writes
	ConnectCalls    int
	TransferCalls   int
	WriteAbortCalls int

	// FaultOnce, if set, causes the next Transfer to report a single
	// SWD_FAULT on its first op and zero completions, then clears
	// itself — used to exercise fault-recovery paths.
	FaultOnce bool

	// AutoCompleteInvoke simulates a target-resident flash-agent call
	// completing instantly: a resume immediately re-halts with PC set
	// to the caller's LR (the breakpoint pair at load_addr) and R0 set
	// to InvokeResult, rather than actually executing agent code.
	AutoCompleteInvoke bool
	InvokeResult        uint32
}

// NewMockEndpoint creates a MockEndpoint with architecturally typical
// defaults: a Cortex-M0+ DPIDR, a 64-byte USB packet, and DHCSR
// reporting the core running (not halted).
func NewMockEndpoint() *MockEndpoint {
	m := &MockEndpoint{
		PacketSize: 64,
		DPIDR:      0x0BC11477, // SW-DP, ARM JEP106, DPv1
		apIDR:      0x24770011, // AHB-AP, MEM-AP
		Mem:        make(map[uint32]uint32),
		regs:       make(map[uint32]uint32),
		debugEn:    true,
	}
	m.Mem[constants.DHCSR] = constants.DHCSRCDebugEn | constants.DHCSRSRegRdy
	m.Mem[constants.DFSR] = 0
	m.Mem[constants.AIRCR] = 0
	return m
}

// Write implements interfaces.Endpoint: it synchronously computes the
// response to req and stashes it for the following Read.
func (m *MockEndpoint) Write(req []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRsp = m.handle(req)
	return len(req), nil
}

// Read implements interfaces.Endpoint.
func (m *MockEndpoint) Read(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(buf, m.lastRsp)
	return n, nil
}

// Close implements interfaces.Endpoint.
func (m *MockEndpoint) Close() error { return nil }

// IsHalted reports whether the simulated core is currently halted.
func (m *MockEndpoint) IsHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// ResetCount returns the number of simulated ResetTarget/AIRCR resets observed.
func (m *MockEndpoint) ResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCount
}

func (m *MockEndpoint) handle(req []byte) []byte {
	if len(req) == 0 {
		return nil
	}
	switch req[0] {
	case constants.CmdInfo:
		return m.handleInfo(req)
	case constants.CmdConnect:
		m.ConnectCalls++
		return []byte{req[0], req[1]}
	case constants.CmdDisconnect:
		return []byte{req[0], 0}
	case constants.CmdHostStatus:
		return []byte{req[0]}
	case constants.CmdTransferConfigure:
		return []byte{req[0], 0}
	case constants.CmdSWJClock:
		return []byte{req[0], 0}
	case constants.CmdSWDConfigure:
		return []byte{req[0], 0}
	case constants.CmdSWJPins:
		return []byte{req[0], req[1]} // echo requested pin state back as current state
	case constants.CmdWriteABORT:
		m.WriteAbortCalls++
		return []byte{req[0]}
	case constants.CmdDelay:
		return []byte{req[0], 0}
	case constants.CmdResetTarget:
		m.resetCount++
		// A target reset with DEMCR.VC_CORERESET armed halts at the
		// reset vector instead of running; without it the core comes
		// back up running.
		m.halted = m.Mem[constants.DEMCR]&constants.DEMCRVCCoreReset != 0
		return []byte{req[0], 0, 1}
	case constants.CmdSWDSequence:
		return []byte{req[0], 0}
	case constants.CmdTransfer:
		return m.handleTransfer(req)
	default:
		return []byte{req[0]}
	}
}

func (m *MockEndpoint) handleInfo(req []byte) []byte {
	id := req[1]
	var payload []byte
	switch id {
	case constants.InfoPacketSize:
		payload = make([]byte, 2)
		binary.LittleEndian.PutUint16(payload, uint16(m.PacketSize))
	case constants.InfoPacketCount:
		payload = []byte{4}
	case constants.InfoCapabilities:
		payload = []byte{0x01} // bit0: SWD supported
	default:
		payload = nil
	}
	resp := []byte{req[0], byte(len(payload))}
	return append(resp, payload...)
}

// handleTransfer decodes a CmdTransfer request body and simulates each
// op against the DP/AP/memory model, honoring FaultOnce and the
// probe's completed-prefix-on-fault convention.
func (m *MockEndpoint) handleTransfer(req []byte) []byte {
	m.TransferCalls++
	count := int(req[2])
	body := req[3:]

	completed := 0
	status := byte(constants.AckOK)
	var reads []uint32

	i := 0
	for opIdx := 0; opIdx < count; opIdx++ {
		if i >= len(body) {
			break
		}
		b := body[i]
		i++
		apnDP := b&constants.XferAPnDP != 0
		read := b&constants.XferRnW != 0
		addr2 := (b & constants.XferAddrMask) >> constants.XferAddrShift
		valueMatch := b&constants.XferValueMatch != 0
		matchMask := b&constants.XferMatchMask != 0

		var wdata uint32
		if !read || valueMatch {
			if i+4 > len(body) {
				break
			}
			wdata = binary.LittleEndian.Uint32(body[i : i+4])
			i += 4
		}

		if m.FaultOnce {
			m.FaultOnce = false
			status = constants.AckFAULT
			break
		}

		localAddr := addr2 << 2
		if matchMask {
			// Match-mask write: accepted unconditionally, value ignored
			// by this simulation (no register actually gates on it).
			completed++
			continue
		}
		if valueMatch {
			got := m.readReg(apnDP, localAddr)
			if got != wdata {
				status = constants.AckOK | constants.AckValueMismatch
				completed++
				break
			}
			completed++
			continue
		}
		if read {
			reads = append(reads, m.readReg(apnDP, localAddr))
		} else {
			m.writeReg(apnDP, localAddr, wdata)
		}
		completed++
	}

	resp := []byte{req[0], byte(completed), status}
	for _, w := range reads {
		var b4 [4]byte
		binary.LittleEndian.PutUint32(b4[:], w)
		resp = append(resp, b4[:]...)
	}
	return resp
}

func (m *MockEndpoint) readReg(apnDP bool, localAddr byte) uint32 {
	if !apnDP {
		switch localAddr {
		case constants.DPIDR:
			return m.DPIDR
		case constants.DPCS:
			return constants.CSCSYSPwrUpAck | constants.CSCDbgPwrUpAck
		case constants.DPRDBuff:
			return 0
		default:
			return 0
		}
	}
	apBank := byte((m.selectVal >> 4) & 0xF)
	apAddr := (apBank << 4) | localAddr
	switch apAddr {
	case constants.MAPCSW:
		return m.csw
	case constants.MAPTAR:
		return m.tar
	case constants.MAPDRW:
		v := m.readMemWord(m.tar)
		if m.csw&constants.CSWIncSingle != 0 {
			m.tar += 4
		}
		return v
	case constants.MAPBASE:
		return m.apBase
	case constants.MAPIDR:
		return m.apIDR
	default:
		return 0
	}
}

func (m *MockEndpoint) writeReg(apnDP bool, localAddr byte, value uint32) {
	if !apnDP {
		switch localAddr {
		case constants.DPSelect:
			m.selectVal = value
		case constants.DPAbort:
			// sticky-flag clear: nothing to simulate, accepted unconditionally.
		}
		return
	}
	apBank := byte((m.selectVal >> 4) & 0xF)
	apAddr := (apBank << 4) | localAddr
	switch apAddr {
	case constants.MAPCSW:
		m.csw = value
	case constants.MAPTAR:
		m.tar = value
	case constants.MAPDRW:
		m.writeMem(m.tar, value)
		if m.csw&constants.CSWIncSingle != 0 {
			m.tar += 4
		}
	}
}

// readMemWord synthesizes DHCSR's live status bits (S_HALT, S_REGRDY)
// from simulated core state rather than returning a stale stored word.
func (m *MockEndpoint) readMemWord(addr uint32) uint32 {
	if addr == constants.DHCSR {
		v := uint32(constants.DHCSRSRegRdy)
		if m.debugEn {
			v |= constants.DHCSRCDebugEn
		}
		if m.halted {
			v |= constants.DHCSRSHalt
		}
		if m.maskInts {
			v |= constants.DHCSRCMaskInts
		}
		return v
	}
	return m.Mem[addr]
}

// MaskIntsSet reports the DHCSR.C_MASKINTS bit last observed on a
// keyed DHCSR write, for tests asserting CoreHalt/CoreResume preserve
// or clear it correctly.
func (m *MockEndpoint) MaskIntsSet() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maskInts
}

func (m *MockEndpoint) writeMem(addr, value uint32) {
	if addr == constants.DHCSR {
		if value&0xFFFF0000 == constants.DHCSRDbgKey {
			bits := value & 0xFFFF
			m.halted = bits&constants.DHCSRCHalt != 0
			m.maskInts = bits&constants.DHCSRCMaskInts != 0
			m.debugEn = bits&constants.DHCSRCDebugEn != 0
			if bits&constants.DHCSRCStep != 0 {
				// A single step executes one instruction and re-enters halt.
				m.halted = true
			}
			if !m.halted && m.AutoCompleteInvoke {
				const regLR, regPC, regR0 = 14, 15, 0
				m.regs[regPC] = m.regs[regLR] &^ 1
				m.regs[regR0] = m.InvokeResult
				m.halted = true
			}
		}
		return
	}
	if addr == constants.AIRCR {
		if value&0xFFFF0000 == constants.AIRCRVectKey && value&constants.AIRCRSysResetReq != 0 {
			m.resetCount++
			// Mirrors CmdResetTarget's simulation: a reset-vector catch
			// armed in DEMCR halts the core as it comes back up, rather
			// than letting it run.
			m.halted = m.Mem[constants.DEMCR]&constants.DEMCRVCCoreReset != 0
		}
		return
	}
	if addr == constants.DCRSR {
		// Real hardware moves a value between the register file and
		// DCRDR the instant DCRSR is written; simulate that transfer
		// here rather than leaving DCRDR as an untouched scratch cell.
		sel := value & 0xFFFF
		if value&constants.DCRSRRegWnR != 0 {
			m.regs[sel] = m.Mem[constants.DCRDR]
		} else {
			m.Mem[constants.DCRDR] = m.regs[sel]
		}
		m.Mem[addr] = value
		return
	}
	m.Mem[addr] = value
}
