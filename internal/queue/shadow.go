package queue

// DPVersion identifies the Debug Port architecture version, which
// changes how DP.SELECT banking for AP/DP register access works.
type DPVersion int

const (
	DPv1 DPVersion = 1
	DPv2 DPVersion = 2
	DPv3 DPVersion = 3
)

// selDPBankMask / selAPBankMask cover the DPv1/v2 SELECT register
// fields: bits[3:0] DPBANKSEL, bits[7:4] APBANKSEL, bits[31:24] APSEL.
const (
	selDPBankMask = 0x0000000F
	selAPSelMask  = 0xFF000000
	selAPBankMask = 0x000000F0
)

// dpBankSensitive reports whether DP register addr has low nybble 0x4
// and therefore requires a DPBANKSEL write before access (§4.4).
func dpBankSensitive(addr byte) bool {
	return addr&0xF == 0x4
}

// shadow holds the cached target-side register state invalidated on
// q_init, reconnect, attach, and fault-clearing (invariant 3). A nil
// pointer means "unknown" — the next access of that family always
// re-emits its write.
type shadow struct {
	dpSelect  *uint32
	mapCSW    *uint32
	mapTAR    *uint32
	matchMask *uint32
}

func (s *shadow) invalidate() {
	s.dpSelect = nil
	s.mapCSW = nil
	s.mapTAR = nil
	s.matchMask = nil
}

// selectForDP returns the SELECT value required to access DP register
// addr, given the current shadow, and whether a write is needed. Only
// called for dpBankSensitive addresses; other DP registers never touch
// SELECT (§4.4).
func selectForDP(cur *uint32, addr byte) (next uint32, needWrite bool) {
	bank := uint32(addr>>4) & 0xF
	var base uint32
	if cur != nil {
		base = *cur &^ selDPBankMask
	}
	next = base | bank
	needWrite = cur == nil || *cur != next
	return next, needWrite
}

// selectForAPv12 returns the SELECT value and the local (4-bit) register
// address to present in the Transfer op's addr[3:2] field for an AP
// access, for DPv1/DPv2 where APSEL is a coarse 8-bit AP index and
// APBANKSEL selects a 4-register window within it. This transport only
// ever attaches a single MEM-AP, selected at APSEL=0.
func selectForAPv12(cur *uint32, apAddr byte) (next uint32, needWrite bool, localAddr byte) {
	apbank := uint32(apAddr>>4) & 0xF
	var base uint32
	if cur != nil {
		base = *cur &^ (selAPSelMask | selAPBankMask)
	}
	next = base | (apbank << 4) // APSEL stays 0
	needWrite = cur == nil || *cur != next
	return next, needWrite, apAddr & 0xF
}

// selectForAPv3 returns the SELECT value and local register address
// for DPv3, where SELECT is a linear 32-bit address over the AP's
// register space starting at apBase (§4.4).
func selectForAPv3(cur *uint32, apBase uint32, apAddr byte) (next uint32, needWrite bool, localAddr byte) {
	full := apBase + uint32(apAddr)
	next = full &^ 0xF
	needWrite = cur == nil || *cur != next
	return next, needWrite, byte(full & 0xF)
}
