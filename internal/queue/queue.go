// Package queue implements the transaction queue and register shadow
// cache that sit between the memory/core/flash layers and a single
// CMSIS-DAP Transfer command: DP/AP register accesses are accumulated
// here and flushed as one wire round trip, bounded by the probe's
// negotiated packet size, with DP.SELECT banking and CSW/TAR caching
// done automatically and read results fanned out to caller-supplied
// destinations in enqueue order.
package queue

import (
	"fmt"
	"time"

	"github.com/swdprobe/xdebug/internal/constants"
	"github.com/swdprobe/xdebug/internal/dap"
	"github.com/swdprobe/xdebug/internal/interfaces"
	"github.com/swdprobe/xdebug/internal/xkind"
)

// defaultMaxPacket is used until the probe's real packet size (from
// Info(InfoPacketSize)) is known.
const defaultMaxPacket = 64

// transferHeaderBytes is the Transfer command's own envelope: cmd,
// DAP index, count.
const transferHeaderBytes = 3

type opKind int

const (
	opWrite opKind = iota
	opRead
	opMatch
	opMask
)

type queuedOp struct {
	kind opKind
	dest *uint32
}

// Queue batches DP/AP register transactions into CMSIS-DAP Transfer
// commands. It is not safe for concurrent use; callers serialize
// access to a Context's queue themselves.
type Queue struct {
	cmds     *dap.Commands
	observer interfaces.Observer
	logger   interfaces.Logger

	dpVersion DPVersion
	apBase    uint32
	shadow    shadow

	pendingReq []byte
	pendingOps []queuedOp

	// qerror is the first error observed since the last Init. Every
	// public method returns it immediately without touching the wire
	// until Init clears it (invariant: errors latch until reset).
	qerror error
}

// New creates a Queue driving cmds. observer and logger may be nil.
func New(cmds *dap.Commands, observer interfaces.Observer, logger interfaces.Logger) *Queue {
	return &Queue{cmds: cmds, observer: observer, logger: logger, dpVersion: DPv2}
}

// Init resets the queue for a fresh attach: clears the latched error,
// drops any pending (unflushed) ops, and invalidates the shadow cache
// so the next access of every banked/cached register re-establishes
// its wire state.
func (q *Queue) Init(version DPVersion, apBase uint32) {
	q.dpVersion = version
	q.apBase = apBase
	q.shadow.invalidate()
	q.pendingReq = q.pendingReq[:0]
	q.pendingOps = q.pendingOps[:0]
	q.qerror = nil
}

// SetAPBase updates the DPv3 MEM-AP register base address, e.g. after
// attach's MAP.BASE read discovers it following Init's fallback default.
func (q *Queue) SetAPBase(apBase uint32) {
	q.apBase = apBase
	q.shadow.dpSelect = nil // base shift invalidates the cached SELECT value
}

func (q *Queue) debugf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Debugf(format, args...)
	}
}

func (q *Queue) maxPacket() int {
	if q.cmds != nil {
		if n := q.cmds.MaxPacket(); n > 0 {
			return n
		}
	}
	return defaultMaxPacket
}

// reqCapacity is the usable body length of a single Transfer request,
// after its fixed 3-byte command envelope.
func (q *Queue) reqCapacity() int {
	return q.maxPacket() - transferHeaderBytes
}

// rspCapacity is the usable body length of a single Transfer response,
// after its fixed 3-byte (cmd, completed, status) envelope.
func (q *Queue) rspCapacity() int {
	return q.maxPacket() - transferHeaderBytes
}

func (q *Queue) readWordsPending() int {
	n := 0
	for _, op := range q.pendingOps {
		if op.kind == opRead {
			n++
		}
	}
	return n
}

// willFit reports whether one more op of encodedLen request bytes,
// producing producesWord response bytes if it's a plain read, still
// fits within the probe's negotiated packet size.
func (q *Queue) willFit(encodedLen int, producesWord bool) bool {
	if len(q.pendingReq)+encodedLen > q.reqCapacity() {
		return false
	}
	if producesWord && (q.readWordsPending()+1)*4 > q.rspCapacity() {
		return false
	}
	return true
}

// enqueueRaw appends one already-encoded Transfer op to the pending
// batch, auto-flushing first if it would not fit (invariant: a queue
// never grows past the negotiated packet size).
func (q *Queue) enqueueRaw(kind opKind, apnDP bool, read bool, opAddr byte, matchMask, valueMatch bool, wdata uint32, dest *uint32) error {
	if q.qerror != nil {
		return q.qerror
	}
	encodedLen := 1
	if !read || valueMatch {
		encodedLen += 4
	}
	producesWord := kind == opRead
	if !q.willFit(encodedLen, producesWord) {
		if err := q.Exec(); err != nil {
			return err
		}
	}
	q.pendingReq = dap.EncodeTransferOp(q.pendingReq, apnDP, read, opAddr, matchMask, valueMatch, wdata)
	q.pendingOps = append(q.pendingOps, queuedOp{kind: kind, dest: dest})
	return nil
}

// ensureSelectForDP queues a DP.SELECT write if accessing addr
// requires a bank not currently shadowed (only addresses with low
// nybble 0x4 bank at all).
func (q *Queue) ensureSelectForDP(addr byte) error {
	if !dpBankSensitive(addr) {
		return nil
	}
	next, needWrite := selectForDP(q.shadow.dpSelect, addr)
	if !needWrite {
		return nil
	}
	if err := q.enqueueRaw(opWrite, false, false, localToOpAddr(constants.DPSelect), false, false, next, nil); err != nil {
		return err
	}
	q.shadow.dpSelect = &next
	return nil
}

// ensureSelectForAP queues a DP.SELECT write if needed and returns the
// local 2-bit address to present to Transfer for apAddr.
func (q *Queue) ensureSelectForAP(apAddr byte) (byte, error) {
	var next uint32
	var needWrite bool
	var local byte
	if q.dpVersion == DPv3 {
		next, needWrite, local = selectForAPv3(q.shadow.dpSelect, q.apBase, apAddr)
	} else {
		next, needWrite, local = selectForAPv12(q.shadow.dpSelect, apAddr)
	}
	if needWrite {
		if err := q.enqueueRaw(opWrite, false, false, localToOpAddr(constants.DPSelect), false, false, next, nil); err != nil {
			return 0, err
		}
		q.shadow.dpSelect = &next
	}
	return localToOpAddr(local), nil
}

// localToOpAddr converts a 4-bit register-bank-local address to the
// 2-bit addr[3:2] field a Transfer op's request byte carries.
func localToOpAddr(local byte) byte {
	return (local >> 2) & 0x3
}

// DPRead queues a DP register read, writing its result into *dest once
// Exec (explicit or auto-flush) completes, provided the op was among
// the batch's completed prefix.
func (q *Queue) DPRead(addr byte, dest *uint32) error {
	if err := q.ensureSelectForDP(addr); err != nil {
		return err
	}
	return q.enqueueRaw(opRead, false, true, localToOpAddr(addr), false, false, 0, dest)
}

// DPWrite queues a DP register write.
func (q *Queue) DPWrite(addr byte, value uint32) error {
	if err := q.ensureSelectForDP(addr); err != nil {
		return err
	}
	return q.enqueueRaw(opWrite, false, false, localToOpAddr(addr), false, false, value, nil)
}

// APRead queues an AP register read (apAddr is the AP's own 8-bit
// register address, e.g. constants.MAPDRW).
func (q *Queue) APRead(apAddr byte, dest *uint32) error {
	opAddr, err := q.ensureSelectForAP(apAddr)
	if err != nil {
		return err
	}
	return q.enqueueRaw(opRead, true, true, opAddr, false, false, 0, dest)
}

// APWrite queues an AP register write.
func (q *Queue) APWrite(apAddr byte, value uint32) error {
	opAddr, err := q.ensureSelectForAP(apAddr)
	if err != nil {
		return err
	}
	return q.enqueueRaw(opWrite, true, false, opAddr, false, false, value, nil)
}

// SetCSW queues a MEM-AP CSW write only if value differs from the
// shadowed CSW (§4.4/§4.5 CSW/TAR caching); callers pass the full
// desired CSW value with implementation-keep bits already merged in.
func (q *Queue) SetCSW(value uint32) error {
	if q.shadow.mapCSW != nil && *q.shadow.mapCSW == value {
		return nil
	}
	if err := q.APWrite(constants.MAPCSW, value); err != nil {
		return err
	}
	q.shadow.mapCSW = &value
	return nil
}

// SetTAR queues a MEM-AP TAR write only if value differs from the
// shadowed TAR.
func (q *Queue) SetTAR(value uint32) error {
	if q.shadow.mapTAR != nil && *q.shadow.mapTAR == value {
		return nil
	}
	if err := q.APWrite(constants.MAPTAR, value); err != nil {
		return err
	}
	q.shadow.mapTAR = &value
	return nil
}

// InvalidateTAR forgets the shadowed TAR value without writing
// anything, used after an auto-increment run whose final address this
// caller did not track precisely.
func (q *Queue) InvalidateTAR() {
	q.shadow.mapTAR = nil
}

// SetMask queues a Transfer Match Mask write for the given port (DP or
// AP), used before an APMatch/DPMatch value-compare op.
func (q *Queue) SetMask(apnDP bool, mask uint32) error {
	if q.shadow.matchMask != nil && *q.shadow.matchMask == mask {
		return nil
	}
	if err := q.enqueueRaw(opMask, apnDP, false, 0, true, false, mask, nil); err != nil {
		return err
	}
	q.shadow.matchMask = &mask
	return nil
}

// APMatch queues a value-compare read against an AP register: the
// probe retries internally (per TransferConfigure's match-retry count)
// and reports failure via the response status byte's ValueMismatch bit.
func (q *Queue) APMatch(apAddr byte, value uint32) error {
	opAddr, err := q.ensureSelectForAP(apAddr)
	if err != nil {
		return err
	}
	return q.enqueueRaw(opMatch, true, true, opAddr, false, true, value, nil)
}

// DPMatch queues a value-compare read against a DP register.
func (q *Queue) DPMatch(addr byte, value uint32) error {
	if err := q.ensureSelectForDP(addr); err != nil {
		return err
	}
	return q.enqueueRaw(opMatch, false, true, localToOpAddr(addr), false, true, value, nil)
}

// Exec flushes any pending ops as one Transfer command, fans out read
// results in enqueue order, and returns the latched error (if any).
// Ops past the probe-reported completed count are left untouched
// rather than zeroed, matching a probe that stops mid-batch on fault.
func (q *Queue) Exec() error {
	if q.qerror != nil {
		return q.qerror
	}
	if len(q.pendingOps) == 0 {
		return nil
	}

	reqBody := q.pendingReq
	ops := q.pendingOps
	count := len(ops)

	q.pendingReq = nil
	q.pendingOps = nil

	start := time.Now()
	result, err := q.cmds.Transfer(0, count, reqBody)
	latency := uint64(time.Since(start).Nanoseconds())

	if err != nil {
		q.qerror = fmt.Errorf("q_exec: transfer failed: %w", err)
		if q.observer != nil {
			q.observer.ObserveExec(count, latency, false)
		}
		return q.qerror
	}

	kind := decodeStatus(result.Status)
	success := kind == xkind.OK

	readIdx := 0
	for i, op := range ops {
		if i >= result.Completed {
			break
		}
		if op.kind == opRead {
			if readIdx < len(result.Reads) && op.dest != nil {
				*op.dest = result.Reads[readIdx]
			}
			readIdx++
		}
	}

	if q.observer != nil {
		q.observer.ObserveExec(count, latency, success)
	}

	switch kind {
	case xkind.OK:
		return nil
	case xkind.Match:
		// A value-compare miss is an expected polling outcome, not a
		// transport fault: it does not latch qerror, so the caller can
		// retry APMatch/DPMatch in a fresh batch.
		return &Error{Kind: xkind.Match, Msg: fmt.Sprintf("value mismatch (completed %d/%d)", result.Completed, count)}
	case xkind.SWDFault:
		if q.observer != nil {
			q.observer.ObserveFault()
		}
		q.qerror = &Error{Kind: xkind.SWDFault, Msg: fmt.Sprintf("completed %d/%d", result.Completed, count)}
		if abortErr := q.cmds.WriteABORT(constants.AbortALLCLR); abortErr != nil {
			q.debugf("q_exec: ABORT clear after fault failed: %v", abortErr)
		}
		q.shadow.invalidate()
		return q.qerror
	default:
		q.qerror = &Error{Kind: kind, Msg: fmt.Sprintf("completed %d/%d", result.Completed, count)}
		return q.qerror
	}
}

// Error is a queue-level failure tagged with the taxonomy Kind the
// root package re-exports, so callers can translate it with
// errors.As without this package importing the root package.
type Error struct {
	Kind xkind.Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Err returns the latched error, if any, without forcing a flush.
func (q *Queue) Err() error {
	return q.qerror
}

// decodeStatus classifies a Transfer response status byte into the
// transport's error taxonomy (§4.3): a protocol-error bit always wins,
// then the 3-bit ACK field, with all-bits-set and reserved ACK values
// mapped to the silent/bogus fallbacks a real target never produces.
func decodeStatus(status byte) xkind.Kind {
	if status&constants.AckProtocolError != 0 {
		return xkind.SWDParity
	}
	ack := status & (constants.AckOK | constants.AckWAIT | constants.AckFAULT)
	switch ack {
	case constants.AckOK:
		if status&constants.AckValueMismatch != 0 {
			return xkind.Match
		}
		return xkind.OK
	case constants.AckWAIT:
		return xkind.Timeout
	case constants.AckFAULT:
		return xkind.SWDFault
	case constants.AckOK | constants.AckWAIT | constants.AckFAULT:
		return xkind.SWDSilent
	default:
		return xkind.SWDBogus
	}
}
