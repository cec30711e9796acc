// Package dap encodes and decodes single CMSIS-DAP commands against a
// byte-stream Endpoint. Each command is exactly one write followed by
// one read (internal/interfaces.Endpoint); this package owns only the
// wire framing for a single request/response pair — batching many
// DP/AP transactions into one Transfer packet is internal/queue's job.
package dap

import (
	"encoding/binary"
	"fmt"

	"github.com/swdprobe/xdebug/internal/constants"
	"github.com/swdprobe/xdebug/internal/interfaces"
)

// Commands wraps an Endpoint with one method per CMSIS-DAP command
// used by this transport.
type Commands struct {
	ep     interfaces.Endpoint
	logger interfaces.Logger
	// maxPacket is the negotiated USB packet size (from InfoPacketSize);
	// callers needing the queue's capacity read it via MaxPacket.
	maxPacket int
}

// New wraps ep. logger may be nil (logging becomes a no-op).
func New(ep interfaces.Endpoint, logger interfaces.Logger) *Commands {
	return &Commands{ep: ep, logger: logger}
}

func (c *Commands) debugf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Debugf(format, args...)
	}
}

// roundTrip writes req and reads a response into a fresh buffer sized
// to the probe's negotiated packet size (or a conservative default
// before that's known), verifying the response starts with the same
// command byte as the request.
func (c *Commands) roundTrip(req []byte) ([]byte, error) {
	if c.ep == nil {
		return nil, fmt.Errorf("dap: no endpoint")
	}
	if _, err := c.ep.Write(req); err != nil {
		return nil, err
	}
	bufSize := c.maxPacket
	if bufSize <= 0 {
		bufSize = 1024
	}
	resp := make([]byte, bufSize)
	n, err := c.ep.Read(resp)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("dap: zero-length response to cmd %#02x", req[0])
	}
	resp = resp[:n]
	if resp[0] != req[0] {
		return nil, fmt.Errorf("dap: response cmd %#02x does not match request cmd %#02x", resp[0], req[0])
	}
	return resp, nil
}

// SetMaxPacket records the probe-reported packet size so future
// round trips allocate response buffers of the right size.
func (c *Commands) SetMaxPacket(n int) { c.maxPacket = n }

// MaxPacket returns the last value set by SetMaxPacket, or 0 if unset.
func (c *Commands) MaxPacket() int { return c.maxPacket }

// Info issues an Info(id) command and returns its raw payload bytes
// (the length-prefix byte is consumed and validated, not returned).
func (c *Commands) Info(id byte) ([]byte, error) {
	resp, err := c.roundTrip([]byte{constants.CmdInfo, id})
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("dap: Info response too short")
	}
	length := int(resp[1])
	if len(resp) < 2+length {
		return nil, fmt.Errorf("dap: Info declared length %d exceeds response size %d", length, len(resp)-2)
	}
	return resp[2 : 2+length], nil
}

// InfoU32 issues an Info(id) command expecting a 1-, 2- or 4-byte
// little-endian numeric payload (e.g. InfoPacketSize, InfoCapabilities).
func (c *Commands) InfoU32(id byte) (uint32, error) {
	payload, err := c.Info(id)
	if err != nil {
		return 0, err
	}
	switch len(payload) {
	case 1:
		return uint32(payload[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(payload)), nil
	case 4:
		return binary.LittleEndian.Uint32(payload), nil
	default:
		return 0, fmt.Errorf("dap: Info(%#02x) unexpected payload length %d", id, len(payload))
	}
}

// Connect issues Connect(port) and returns the port the probe actually
// selected. The core requires this to echo back PortSWD.
func (c *Commands) Connect(port byte) (byte, error) {
	resp, err := c.roundTrip([]byte{constants.CmdConnect, port})
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 {
		return 0, fmt.Errorf("dap: Connect response too short")
	}
	return resp[1], nil
}

// Disconnect issues Disconnect().
func (c *Commands) Disconnect() error {
	_, err := c.roundTrip([]byte{constants.CmdDisconnect})
	return err
}

func checkStatusByte(cmdName string, resp []byte) error {
	if len(resp) < 2 {
		return fmt.Errorf("dap: %s response too short", cmdName)
	}
	if resp[1] != 0 {
		return fmt.Errorf("dap: %s failed, status=%#02x", cmdName, resp[1])
	}
	return nil
}

// HostStatus sets the probe's connect/running LEDs.
func (c *Commands) HostStatus(connected, running bool) error {
	req := []byte{constants.CmdHostStatus, 0, 0}
	if connected {
		req[1] = 1
	}
	if running {
		req[2] = 1
	}
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if len(resp) < 1 {
		return fmt.Errorf("dap: HostStatus response too short")
	}
	return nil
}

// TransferConfigure sets the probe's idle-cycle count and wait/match
// retry counts, used for every subsequent Transfer.
func (c *Commands) TransferConfigure(idleCycles byte, waitRetry, matchRetry uint16) error {
	req := make([]byte, 6)
	req[0] = constants.CmdTransferConfigure
	req[1] = idleCycles
	binary.LittleEndian.PutUint16(req[2:4], waitRetry)
	binary.LittleEndian.PutUint16(req[4:6], matchRetry)
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	return checkStatusByte("TransferConfigure", resp)
}

// SWJClock sets the SWD/JTAG clock rate in Hz.
func (c *Commands) SWJClock(hz uint32) error {
	req := make([]byte, 5)
	req[0] = constants.CmdSWJClock
	binary.LittleEndian.PutUint32(req[1:5], hz)
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	return checkStatusByte("SWJ_Clock", resp)
}

// SWDConfigure sets the SWD turnaround/data-phase configuration byte.
func (c *Commands) SWDConfigure(cfg byte) error {
	resp, err := c.roundTrip([]byte{constants.CmdSWDConfigure, cfg})
	if err != nil {
		return err
	}
	return checkStatusByte("SWD_Configure", resp)
}

// SWJPins drives/reads the raw SWDIO/SWCLK/nRESET pin state, waiting
// up to waitUs microseconds for the pins to settle.
func (c *Commands) SWJPins(output, selectMask byte, waitUs uint32) (byte, error) {
	req := make([]byte, 7)
	req[0] = constants.CmdSWJPins
	req[1] = output
	req[2] = selectMask
	binary.LittleEndian.PutUint32(req[3:7], waitUs)
	resp, err := c.roundTrip(req)
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 {
		return 0, fmt.Errorf("dap: SWJ_Pins response too short")
	}
	return resp[1], nil
}

// WriteABORT writes the DP.ABORT register directly via the dedicated
// command (used outside the transaction queue to clear sticky errors
// even when the queue itself has latched an error).
func (c *Commands) WriteABORT(value uint32) error {
	req := make([]byte, 6)
	req[0] = constants.CmdWriteABORT
	req[1] = 0 // DAP index
	binary.LittleEndian.PutUint32(req[2:6], value)
	_, err := c.roundTrip(req)
	return err
}

// Delay requests the probe sleep for us microseconds.
func (c *Commands) Delay(us uint16) error {
	req := make([]byte, 3)
	req[0] = constants.CmdDelay
	binary.LittleEndian.PutUint16(req[1:3], us)
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	return checkStatusByte("Delay", resp)
}

// ResetTarget pulses the target's nRESET line via the probe.
func (c *Commands) ResetTarget() error {
	resp, err := c.roundTrip([]byte{constants.CmdResetTarget})
	if err != nil {
		return err
	}
	if len(resp) < 3 {
		return fmt.Errorf("dap: ResetTarget response too short")
	}
	return nil
}

// SWDSequenceEntry is one entry of a SWD_Sequence command: info encodes
// the cycle count (0 means 64) and direction; data carries the bits to
// clock out (ignored, may be nil, for an input sequence).
type SWDSequenceEntry struct {
	Info byte
	Data []byte
}

// SWDSequence clocks raw SWDIO bit sequences — used only for the
// attach wake/line-reset/multidrop-select sequences, never for DP/AP
// transactions.
func (c *Commands) SWDSequence(seqs []SWDSequenceEntry) error {
	req := []byte{constants.CmdSWDSequence, byte(len(seqs))}
	for _, s := range seqs {
		req = append(req, s.Info)
		req = append(req, s.Data...)
	}
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	return checkStatusByte("SWD_Sequence", resp)
}

// TransferResult is the decoded response to a Transfer command.
type TransferResult struct {
	// Completed is the number of transactions the probe actually
	// executed (may be less than requested on FAULT/WAIT exhaustion).
	Completed int
	// Status is the raw ACK+flags status byte of the last attempted op.
	Status byte
	// Reads holds the 32-bit little-endian words returned for each
	// read/match-read op that completed, in enqueue order.
	Reads []uint32
}

// Transfer sends a pre-encoded batch of DP/AP transactions. reqBody is
// the already-assembled per-op bytes (status byte + optional 4-byte
// word, repeated); count is the number of ops it encodes. The queue
// package owns assembling reqBody; this method only owns the command
// envelope and response decoding.
func (c *Commands) Transfer(dapIndex byte, count int, reqBody []byte) (TransferResult, error) {
	req := make([]byte, 0, 3+len(reqBody))
	req = append(req, constants.CmdTransfer, dapIndex, byte(count))
	req = append(req, reqBody...)

	resp, err := c.roundTrip(req)
	if err != nil {
		return TransferResult{}, err
	}
	if len(resp) < 3 {
		return TransferResult{}, fmt.Errorf("dap: Transfer response too short")
	}
	result := TransferResult{
		Completed: int(resp[1]),
		Status:    resp[2],
	}
	payload := resp[3:]
	nReads := len(payload) / 4
	for i := 0; i < nReads; i++ {
		result.Reads = append(result.Reads, binary.LittleEndian.Uint32(payload[i*4:i*4+4]))
	}
	c.debugf("transfer: requested=%d completed=%d status=%#02x", count, result.Completed, result.Status)
	return result, nil
}

// EncodeTransferOp appends one Transfer request op to buf: the status
// byte plus, for writes and value-matches, a little-endian 32-bit word.
func EncodeTransferOp(buf []byte, apnDP bool, read bool, addr byte, matchMask, valueMatch bool, wdata uint32) []byte {
	var req byte
	if apnDP {
		req |= constants.XferAPnDP
	}
	if read {
		req |= constants.XferRnW
	}
	req |= (addr << constants.XferAddrShift) & constants.XferAddrMask
	if matchMask {
		req |= constants.XferMatchMask
	}
	if valueMatch {
		req |= constants.XferValueMatch
	}
	buf = append(buf, req)
	if !read || valueMatch {
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], wdata)
		buf = append(buf, w[:]...)
	}
	return buf
}
