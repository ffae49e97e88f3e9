package tcp

import (
	"math"
	"time"
)

// timerEntry is one outstanding retransmission timer, keyed externally by
// the sequence number at which the segment it covers began.
type timerEntry struct {
	seq           Value
	retransmitted bool
	sentAt        time.Time
}

// retransmitQueue is the ordered map of §3/§4.2: one entry per originally
// transmitted sequence-consuming segment (SYN, data write, FIN), keyed by
// the sequence number assigned at the moment it was first sent. Entries
// are always inserted with a key greater than or equal to every existing
// key, since SND.NXT only advances, so a plain append-ordered slice serves
// as the ordered map without needing a sorted insert.
type retransmitQueue struct {
	entries []timerEntry
}

// Insert records a freshly sent segment starting at seq.
func (q *retransmitQueue) Insert(seq Value, now time.Time) {
	q.entries = append(q.entries, timerEntry{seq: seq, sentAt: now})
}

// Oldest returns the earliest outstanding timer, or nil if the queue is empty.
func (q *retransmitQueue) Oldest() *timerEntry {
	if len(q.entries) == 0 {
		return nil
	}
	return &q.entries[0]
}

// PurgeBefore removes every entry keyed strictly before newUna (now
// cumulatively acknowledged). It reports the sent_at/retransmitted_flag of
// the most recently sent among the purged entries — the one "the ACK
// matches" per §4.2 — so the caller can feed it to an RTT sample subject to
// Karn's algorithm. ok is false if nothing was purged.
func (q *retransmitQueue) PurgeBefore(newUna Value) (sentAt time.Time, retransmitted bool, ok bool) {
	i := 0
	for i < len(q.entries) && q.entries[i].seq.LessThan(newUna) {
		sentAt = q.entries[i].sentAt
		retransmitted = q.entries[i].retransmitted
		ok = true
		i++
	}
	q.entries = q.entries[i:]
	return sentAt, retransmitted, ok
}

// rtoEstimator holds the RFC 6298 smoothed RTT state of §4.2: srtt, rttvar
// and rto, all in seconds. The zero value is not ready to use; call
// newRTOEstimator.
type rtoEstimator struct {
	srtt, rttvar, rto float64
}

func newRTOEstimator() rtoEstimator {
	return rtoEstimator{rto: 1.0}
}

// RTO returns the current retransmission timeout as a duration.
func (e *rtoEstimator) RTO() time.Duration {
	return time.Duration(e.rto * float64(time.Second))
}

func rtoFloor(rttvar float64) float64 {
	return math.Max(4*rttvar, 0.01)
}

// Sample folds a new RTT measurement r (seconds) into the estimator.
//
// The reset-vs-update branch preserves the source's stated heuristic
// verbatim: a fresh srtt OR an RTO that has drifted into backoff territory
// (rto exceeding srtt plus the rttvar floor) both restart the estimator
// from the new sample rather than blending it in.
func (e *rtoEstimator) Sample(r float64) {
	if e.srtt == 0 || e.rto > e.srtt+rtoFloor(e.rttvar) {
		e.srtt = r
		e.rttvar = r / 2
	} else {
		e.rttvar = 0.75*e.rttvar + 0.25*math.Abs(e.srtt-r)
		e.srtt = 0.875*e.srtt + 0.125*r
	}
	e.rto = math.Max(e.srtt+rtoFloor(e.rttvar), 1.0)
}

// Backoff doubles the RTO up to a 60s cap, called on every retransmission.
func (e *rtoEstimator) Backoff() {
	e.rto = math.Min(2*e.rto, 60.0)
}
