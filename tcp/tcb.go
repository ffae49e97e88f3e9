package tcp

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/ctrlcdev/tunstack/internal"
)

// RandSource produces uniformly distributed 32-bit values for initial
// sequence numbers and ephemeral ports. See internal/rand.go for the
// CSPRNG-backed implementation this stack wires in.
type RandSource interface {
	Uint32() uint32
}

// Clock produces the current instant. In production this is just
// time.Now, but tests supply a fake so RTO and TIME_WAIT math is
// deterministic.
type Clock interface {
	Now() time.Time
}

// timeWaitDuration is 2*MSL taken as 60s total.
const timeWaitDuration = 60 * time.Second

// TCB is the Transmission Control Block: one per active connection. It
// owns the full RFC 793 state machine, the retransmission queue and RTO
// estimator, and the send/receive buffers. A TCB is always reached through
// the demultiplexer's four-tuple table; a Socket Handle holds a shared
// reference to the same instance.
//
// Every exported method that mutates state takes tcb.mu itself except the
// *Locked family, which assumes the caller already holds it — that family
// exists so a Socket Handle can call into the TCB and then Wait on the
// condition without releasing the lock in between.
type TCB struct {
	mu   sync.Mutex
	cond *sync.Cond

	sourceIP, destIP     [4]byte
	sourcePort, destPort uint16

	sndUNA, sndNXT Value
	rcvNXT         Value
	synSeq         Value
	hasFin         bool
	finSeq         Value

	sendWin *sendRing
	recvWin recvQueue
	partial partialSegments
	rtx     retransmitQueue
	rto     rtoEstimator

	// advertisedWindow is the receive window this stack offers the peer.
	// Fixed for the life of the connection: this revision has no flow
	// control beyond RTO-based retransmission, so the window never shrinks.
	advertisedWindow Size

	state       State
	timeWaitAt  time.Time
	timeWaitSet bool

	datagramID uint16

	segsIn, segsOut uint64
	retransmits     uint64

	out chan<- []byte
	rng RandSource
	clk Clock
	log *slog.Logger
	id  xid.ID

	zonePrinter internal.ZonePrinter
}

// Snapshot is a point-in-time, lock-free copy of counters and estimator
// state exposed for metrics and diagnostics.
type Snapshot struct {
	ID          string
	State       State
	SRTT, RTO   float64
	SegsIn      uint64
	SegsOut     uint64
	Retransmits uint64
}

// Snapshot copies out the current counters and RTO estimate under the lock.
func (t *TCB) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:          t.id.String(),
		State:       t.state,
		SRTT:        t.rto.srtt,
		RTO:         t.rto.rto,
		SegsIn:      t.segsIn,
		SegsOut:     t.segsOut,
		Retransmits: t.retransmits,
	}
}

// NewTCB constructs a TCB bound to the given four-tuple, in CLOSED state.
// out is the demultiplexer's outbound transmit channel; rng and clk are
// the random source and monotonic clock collaborators.
func NewTCB(sourceIP, destIP [4]byte, sourcePort, destPort uint16, out chan<- []byte, rng RandSource, clk Clock, log *slog.Logger) *TCB {
	t := &TCB{
		sourceIP:         sourceIP,
		destIP:           destIP,
		sourcePort:       sourcePort,
		destPort:         destPort,
		advertisedWindow: 65535,
		state:            StateClosed,
		rto:              newRTOEstimator(),
		out:              out,
		rng:              rng,
		clk:              clk,
		log:              log,
		id:               xid.New(),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Lock acquires the TCB's lock. Used by a Socket Handle around a
// *Locked call plus condition wait.
func (t *TCB) Lock() { t.mu.Lock() }

// Unlock releases the TCB's lock.
func (t *TCB) Unlock() { t.mu.Unlock() }

// Wait blocks on the TCB's readiness condition. Must be called with the
// lock held; releases it for the duration of the wait per sync.Cond.
func (t *TCB) Wait() { t.cond.Wait() }

// SourcePort, DestPort, SourceIP and DestIP identify the quad this TCB is bound to.
func (t *TCB) SourcePort() uint16 { return t.sourcePort }
func (t *TCB) DestPort() uint16   { return t.destPort }
func (t *TCB) SourceIP() [4]byte  { return t.sourceIP }
func (t *TCB) DestIP() [4]byte    { return t.destIP }

// StateLocked returns the current connection state. Caller must hold the lock.
func (t *TCB) StateLocked() State { return t.state }

// OnPacket dispatches an inbound segment to the state machine. Self-locking:
// used directly by the demultiplexer, which never needs to wait on the
// condition afterwards.
func (t *TCB) OnPacket(seg Segment) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onPacketLocked(seg)
}

// Tick drives retransmission and TIME_WAIT expiry. Returns true when the
// TCB should be removed from the demultiplexer's table. Self-locking.
func (t *TCB) Tick(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tickLocked(now)
}

func (t *TCB) onPacketLocked(seg Segment) error {
	t.traceSeg("recv", seg)
	t.segsIn++
	switch t.state {
	case StateClosed:
		return t.handleClosed(seg)
	case StateSynSent:
		return t.handleSynSent(seg)
	case StateListen, StateSynReceived:
		return ErrNotImplemented
	default:
		return t.handleSynchronized(seg)
	}
}

// handleClosed implements §4.4 "CLOSED inbound handling": idempotent RST
// generation for any non-RST segment, and silence for RST.
func (t *TCB) handleClosed(seg Segment) error {
	if seg.Flags.Has(FlagRST) {
		return nil
	}
	var seq, ack Value
	flags := FlagRST
	if !seg.Flags.Has(FlagACK) {
		seq = 0
		ack = seg.SEQ.Add(seg.Len())
		flags |= FlagACK
	} else {
		seq = seg.ACK
	}
	return t.transmit(seq, ack, flags, nil)
}

// handleSynSent implements the SYN_SENT inbound handling of §4.4.
func (t *TCB) handleSynSent(seg Segment) error {
	if !seg.Flags.Has(FlagACK) {
		return nil
	}
	if seg.Flags.Has(FlagRST) {
		t.state = StateClosed
		t.cond.Broadcast()
		return nil
	}
	if seg.ACK != t.sndNXT {
		// Deviation from RFC 793 (which would stay in SYN_SENT or go to
		// CLOSED): this stack's documented behavior is to answer the
		// mismatched ACK with a RST and settle in CLOSE_WAIT. See DESIGN.md.
		err := t.transmit(seg.ACK, 0, FlagRST, nil)
		t.state = StateCloseWait
		t.cond.Broadcast()
		return err
	}
	if !seg.Flags.Has(FlagSYN) {
		return nil
	}
	t.rcvNXT = seg.SEQ.Add(1)
	t.sndUNA = seg.ACK
	if sentAt, retransmitted, ok := t.rtx.PurgeBefore(t.sndUNA); ok && !retransmitted {
		t.rto.Sample(t.clk.Now().Sub(sentAt).Seconds())
	}
	w := seg.WND
	if w == 0 {
		w = 1
	}
	t.sendWin = newSendRing(w)
	t.state = StateEstablished
	t.cond.Broadcast()
	return t.transmit(t.sndNXT, t.rcvNXT, FlagACK, nil)
}

// handleSynchronized implements the §4.4 inbound handling shared by
// ESTABLISHED, FIN_WAIT_1, FIN_WAIT_2, CLOSE_WAIT, CLOSING, LAST_ACK and
// TIME_WAIT, steps 1 through 8 in order.
func (t *TCB) handleSynchronized(seg Segment) error {
	// 1. Acceptability check.
	if !Acceptable(seg.SEQ, seg.Len(), t.rcvNXT, t.advertisedWindow) {
		if !seg.Flags.Has(FlagRST) {
			return t.transmit(t.sndNXT, t.rcvNXT, FlagACK, nil)
		}
		return nil
	}
	// 2. RST.
	if seg.Flags.Has(FlagRST) {
		if seg.SEQ == t.rcvNXT {
			t.state = StateClosed
			t.cond.Broadcast()
			return nil
		}
		// RFC 5961 challenge ACK for an out-of-window RST.
		return t.transmit(t.sndNXT, t.rcvNXT, FlagACK, nil)
	}
	// 3. SYN mid-stream is a protocol error.
	if seg.Flags.Has(FlagSYN) {
		return ErrProtocolViolation
	}
	// 4. No ACK.
	if !seg.Flags.Has(FlagACK) {
		return nil
	}
	// 5. ACK processing.
	finAckedThisSegment := false
	if t.sndUNA.LessThan(seg.ACK) && seg.ACK.LessThanEq(t.sndNXT) {
		if sentAt, retransmitted, ok := t.rtx.PurgeBefore(seg.ACK); ok && !retransmitted {
			t.rto.Sample(t.clk.Now().Sub(sentAt).Seconds())
		}
		t.sndUNA = seg.ACK
		// The FIN consumes sequence number finSeq, so it is fully acked once
		// SND.UNA reaches finSeq+1, not finSeq itself.
		if t.hasFin && t.sndUNA == t.finSeq.Add(1) {
			finAckedThisSegment = true
			switch t.state {
			case StateFinWait1:
				t.state = StateFinWait2
			case StateClosing:
				t.enterTimeWait()
			case StateLastAck:
				t.state = StateClosed
				t.cond.Broadcast()
				return nil
			case StateTimeWait:
				t.timeWaitAt = t.clk.Now()
				if err := t.transmit(t.sndNXT, t.rcvNXT, FlagACK, nil); err != nil {
					return err
				}
			}
		}
	}
	// 6. Payload.
	if len(seg.Payload) > 0 && (t.state == StateEstablished || t.state == StateFinWait1 || t.state == StateFinWait2) {
		if seg.SEQ == t.rcvNXT {
			t.recvWin.Append(seg.Payload)
			t.rcvNXT = t.rcvNXT.Add(seg.Len())
			t.rcvNXT = t.partial.DrainContiguous(t.rcvNXT, t.recvWin.Append)
		} else {
			t.partial.Insert(seg.SEQ, seg.Payload)
		}
		if err := t.transmit(t.sndNXT, t.rcvNXT, FlagACK, nil); err != nil {
			return err
		}
	}
	// 7. FIN.
	if seg.Flags.Has(FlagFIN) && seg.SEQ == t.rcvNXT {
		t.rcvNXT = t.rcvNXT.Add(1)
		if err := t.transmit(t.sndNXT, t.rcvNXT, FlagACK, nil); err != nil {
			return err
		}
		switch t.state {
		case StateEstablished:
			t.state = StateCloseWait
		case StateFinWait1:
			if finAckedThisSegment {
				t.enterTimeWait()
			} else {
				// RFC 793 reaches CLOSING here rather than collapsing
				// straight to TIME_WAIT; it resolves to TIME_WAIT once our
				// own FIN is acked (step 5, enterTimeWait from StateClosing).
				t.state = StateClosing
			}
		case StateFinWait2:
			t.enterTimeWait()
		case StateTimeWait:
			t.timeWaitAt = t.clk.Now()
		}
	}
	// 8. Notify waiters.
	t.cond.Broadcast()
	return nil
}

func (t *TCB) enterTimeWait() {
	t.state = StateTimeWait
	t.timeWaitAt = t.clk.Now()
	t.timeWaitSet = true
}

// ConnectLocked performs active open: chooses a random ISS, arms the SYN
// timer and transmits the initial SYN. Caller must hold the lock.
func (t *TCB) ConnectLocked() error {
	if t.state != StateClosed {
		return ErrNotConnected
	}
	iss := Value(t.rng.Uint32())
	t.sndUNA = iss
	t.sndNXT = iss.Add(1)
	t.synSeq = iss
	t.rtx.Insert(iss, t.clk.Now())
	t.state = StateSynSent
	t.cond.Broadcast()
	return t.transmit(iss, 0, FlagSYN, nil)
}

// tickLocked implements §4.4 "tick". Caller must hold the lock.
func (t *TCB) tickLocked(now time.Time) bool {
	if t.state == StateClosed {
		return true
	}
	t.rtx.PurgeBefore(t.sndUNA) // step 1: idempotent safety-net purge.

	if oldest := t.rtx.Oldest(); oldest != nil && now.Sub(oldest.sentAt) >= t.rto.RTO() {
		oldest.retransmitted = true
		oldest.sentAt = now
		t.rto.Backoff()
		t.retransmits++
		var err error
		switch {
		case oldest.seq == t.synSeq && t.state == StateSynSent:
			err = t.transmit(t.synSeq, 0, FlagSYN, nil)
		case t.hasFin && oldest.seq == t.finSeq:
			err = t.transmit(t.finSeq, t.rcvNXT, FlagFIN|FlagACK, nil)
		default:
			payload := t.sendWin.Read(nil, oldest.seq, t.sndNXT)
			err = t.transmit(oldest.seq, t.rcvNXT, FlagACK|FlagPSH, payload)
		}
		if err != nil {
			t.logerr("retransmit failed", err)
		}
		t.traceSendWindow()
	} else if t.rtx.Oldest() == nil && !t.hasFin && (t.state == StateFinWait1 || t.state == StateLastAck) {
		t.finSeq = t.sndNXT
		t.hasFin = true
		t.rtx.Insert(t.finSeq, now)
		// FIN consumes one sequence number, same as the SYN in ConnectLocked:
		// the peer's ACK of this FIN will carry ACK = finSeq+1.
		t.sndNXT = t.sndNXT.Add(1)
		if err := t.transmit(t.finSeq, t.rcvNXT, FlagFIN|FlagACK, nil); err != nil {
			t.logerr("fin send failed", err)
		}
	} else if t.state == StateTimeWait && t.timeWaitSet && now.Sub(t.timeWaitAt) > timeWaitDuration {
		return true
	}
	t.cond.Broadcast()
	return false
}

// ReadLocked implements §4.4 "read". Caller must hold the lock.
func (t *TCB) ReadLocked(dst []byte) (int, error) {
	switch t.state {
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
	default:
		if t.recvWin.Len() > 0 {
			return t.recvWin.Drain(dst), nil
		}
		return 0, ErrNotConnected
	}
	if t.recvWin.Len() == 0 {
		return 0, nil
	}
	return t.recvWin.Drain(dst), nil
}

// WriteLocked implements §4.4 "write". Caller must hold the lock.
func (t *TCB) WriteLocked(p []byte) (int, error) {
	if t.state != StateEstablished {
		return 0, ErrNotConnected
	}
	avail := t.sendWin.Available(t.sndUNA, t.sndNXT, Size(len(p)))
	if avail == 0 {
		return 0, nil
	}
	n := t.sendWin.Write(t.sndNXT, p[:avail])
	seq := t.sndNXT
	t.rtx.Insert(seq, t.clk.Now())
	if err := t.transmit(seq, t.rcvNXT, FlagACK|FlagPSH, p[:n]); err != nil {
		return 0, err
	}
	t.sndNXT = t.sndNXT.Add(Size(n))
	return n, nil
}

// CloseLocked implements §4.4 "close". Caller must hold the lock.
func (t *TCB) CloseLocked() error {
	switch t.state {
	case StateSynSent:
		t.state = StateClosed
	case StateEstablished:
		t.state = StateFinWait1
	case StateCloseWait:
		t.state = StateLastAck
	default:
		return nil
	}
	t.cond.Broadcast()
	return nil
}

// transmit builds and hands a datagram to the outbound channel. Each call
// derives a fresh segment from the TCB's current send/receive state, the
// equivalent of cloning a header template for a single transmission.
func (t *TCB) transmit(seq, ack Value, flags Flags, payload []byte) error {
	buf := make([]byte, 40+len(payload))
	t.datagramID++
	n, err := Encode(buf, t.sourceIP, t.destIP, t.sourcePort, t.destPort, t.datagramID,
		Segment{SEQ: seq, ACK: ack, WND: t.advertisedWindow, Flags: flags}, payload)
	if err != nil {
		return err
	}
	t.traceSeg("send", Segment{SEQ: seq, ACK: ack, Flags: flags, Payload: payload})
	t.segsOut++
	return t.send(buf[:n])
}

func (t *TCB) send(datagram []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrChannelClosed
		}
	}()
	t.out <- datagram
	return nil
}
