// Package constants holds the wire-level and protocol-level constant
// values used throughout the transport: CMSIS-DAP command bytes, ARM
// debug register addresses, and the timing values the source transport
// used for polling and retry loops.
package constants

import "time"

// CMSIS-DAP command bytes (CMSIS-DAP v2 specification).
const (
	CmdInfo              = 0x00
	CmdHostStatus        = 0x01
	CmdConnect           = 0x02
	CmdDisconnect        = 0x03
	CmdTransferConfigure = 0x04
	CmdTransfer          = 0x05
	CmdTransferBlock     = 0x06
	CmdWriteABORT        = 0x08
	CmdDelay             = 0x09
	CmdResetTarget       = 0x0A
	CmdSWJPins           = 0x10
	CmdSWJClock          = 0x11
	CmdSWDConfigure      = 0x13
	CmdSWDSequence       = 0x1D
)

// Info request IDs (subset actually consumed by this transport).
const (
	InfoCapabilities    = 0xF0
	InfoPacketCount     = 0xFE
	InfoPacketSize      = 0xFF
	InfoProtocolVersion = 0x13
)

// Connect() port selectors.
const (
	PortDefault = 0
	PortSWD     = 1
	PortJTAG    = 2
)

// Transfer request byte bit fields (per-op header in a Transfer packet).
const (
	XferAPnDP      = 1 << 0 // 0 = DP, 1 = AP
	XferRnW        = 1 << 1 // 0 = write, 1 = read
	XferA2         = 1 << 2
	XferA3         = 1 << 3
	XferValueMatch = 1 << 4
	XferMatchMask  = 1 << 5

	XferAddrShift = 2
	XferAddrMask  = 0x3 << XferAddrShift
)

// Transfer response status byte bit fields.
const (
	AckOK    = 1
	AckWAIT  = 2
	AckFAULT = 4

	AckProtocolError = 0x08
	AckValueMismatch = 0x10
)

// DP register addresses (4-bit address space, bits [3:2] of the DPv1/v2
// short address; DPv3 banked registers reuse the low nybble the same way).
const (
	DPIDR     = 0x00 // RO
	DPAbort   = 0x00 // WO
	DPCS      = 0x04
	DPSelect  = 0x08
	DPRDBuff  = 0x0C
	DPTargetID = 0x24 // banked: SELECT.DPBANK=2
	DPDLPIDR   = 0x34 // banked: SELECT.DPBANK=3
	DPTargetSel = 0x0C // WO, DPv2 multidrop
	DPSelect1   = 0x54 // DPv3 only
)

// DP.ABORT bit fields.
const (
	AbortDAPAbort   = 1 << 0
	AbortSTKCmpClr  = 1 << 1
	AbortSTKErrClr  = 1 << 2
	AbortWDErrClr   = 1 << 3
	AbortORUNErrClr = 1 << 4
	AbortALLCLR     = AbortSTKCmpClr | AbortSTKErrClr | AbortWDErrClr | AbortORUNErrClr
)

// DP.CS (CTRL/STAT) bit fields.
const (
	CSCSYSPwrUpAck = 1 << 31
	CSCDbgPwrUpAck = 1 << 29
	CSCSYSPwrUpReq = 1 << 30
	CSCDbgPwrUpReq = 1 << 28
	CSStickyErr    = 1 << 5
	CSStickyCmp    = 1 << 4
	CSStickyOrun   = 1 << 1
)

// MEM-AP register addresses (bank 0 short addresses).
const (
	MAPCSW  = 0x00
	MAPTAR  = 0x04
	MAPDRW  = 0x0C
	MAPBASE = 0xF8
	MAPCFG  = 0xF4
	MAPCFG1 = 0xF0
	MAPIDR  = 0xFC
)

// MAP.CSW bit fields.
const (
	CSWSize32    = 0x02
	CSWIncOff    = 0x00
	CSWIncSingle = 0x10
	CSWDeviceEn  = 1 << 6
)

// CSWKeepMask preserves the high byte plus bits 8-15 of a read CSW value
// across writes (implementation-defined "keep" bits per the source
// transport: prot/cache/mode fields the debugger must not clobber).
const CSWKeepMask = 0xFF00FF00

// Core-debug registers (ARMv6-M / ARMv7-M), fixed addresses.
const (
	DHCSR = 0xE000EDF0
	DCRSR = 0xE000EDF4
	DCRDR = 0xE000EDF8
	DEMCR = 0xE000EDFC
)

// DHCSR bit fields.
const (
	DHCSRDbgKey    = 0xA05F0000
	DHCSRCDebugEn  = 1 << 0
	DHCSRCHalt     = 1 << 1
	DHCSRCStep     = 1 << 2
	DHCSRCMaskInts = 1 << 3
	DHCSRSRegRdy   = 1 << 16
	DHCSRSHalt     = 1 << 17
	DHCSRSSleep    = 1 << 18
	DHCSRSLockup   = 1 << 19
	DHCSRSResetSt  = 1 << 25
)

// DCRSR bit fields.
const DCRSRRegWnR = 1 << 16

// DEMCR bit fields.
const (
	DEMCRVCCoreReset = 1 << 0
	DEMCRTRCEna      = 1 << 24
)

// System control block registers.
const (
	AIRCR = 0xE000ED0C
	DFSR  = 0xE000ED30
)

// AIRCR bit fields.
const (
	AIRCRVectKey         = 0x05FA0000
	AIRCRVectClrActive   = 1 << 1
	AIRCRSysResetReq     = 1 << 2
)

// TARWrapBoundary is the worst-case-portable MEM-AP TAR auto-increment
// wrap boundary (10-bit counter, 1024 bytes).
const TARWrapBoundary = 1024

// DefaultMemAPBaseV3 is the architecturally-common DPv3 MEM-AP register
// base offset used when the MAP.BASE read (discoverMemAPBase in attach.go)
// cannot discover the real base. Not universal across DPv3 implementations.
const DefaultMemAPBaseV3 = 0x2D00

// Wake sequence bytes (bit-packed LSB-first, consumed by SWD_Sequence).
// These match the xdebug source's fixed attach byte sequence.
var (
	// LineResetOnes is >=50 cycles of SWDIO=1 for a line reset.
	LineResetOnes = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

	// JTAGToSWD is the 16-bit JTAG-to-SWD escape sequence, 0xE79E, LSB first.
	JTAGToSWD = []byte{0x9E, 0xE7}

	// SWDv2SelectionAlert is the 128-bit SWD v2 multidrop selection alert sequence.
	SWDv2SelectionAlert = []byte{
		0x92, 0xF3, 0x09, 0x62, 0x95, 0x2D, 0x85, 0x86,
		0xE9, 0xAF, 0xDD, 0xE3, 0xA2, 0x0E, 0xBC, 0x19,
	}

	// SWDv2ActivationCode selects the SWD protocol after the alert sequence.
	SWDv2ActivationCode = []byte{0x00, 0x1A}
)

// Timing constants governing the lifecycle tick and retry loops.
const (
	// OfflineRetryDelay is the periodic-tick delay after a failed
	// reconnect attempt while OFFLINE.
	OfflineRetryDelay = 500 * time.Millisecond

	// OfflineReconnectedDelay is the periodic-tick delay after a
	// successful reconnect, before the next liveness check.
	OfflineReconnectedDelay = 100 * time.Millisecond

	// AttachedPollDelay is the periodic-tick delay between liveness
	// probes while ATTACHED.
	AttachedPollDelay = 100 * time.Millisecond

	// DetachedPollDelay is the periodic-tick delay between probe
	// liveness pings while DETACHED/UNCONFIG/FAILURE.
	DetachedPollDelay = 500 * time.Millisecond

	// USBTimeout is the strict per-call timeout for a single USB
	// bulk read or write.
	USBTimeout = 5 * time.Second

	// HaltPollIterations bounds the DHCSR.S_HALT and S_REGRDY polls and
	// the attach power-up acknowledgment poll before giving up with
	// TIMEOUT.
	HaltPollIterations = 64
)
