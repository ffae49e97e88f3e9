// Package socket provides the thread-safe, blocking byte-stream facade
// applications use to talk to a connection: it bridges application
// threads to a TCB through the TCB's own lock and condition variable,
// looping on short reads/writes rather than polling.
package socket

import (
	"github.com/ctrlcdev/tunstack/tcp"
)

// Handle is a thread-safe façade over a TCB. Multiple goroutines may call
// Read, Write and Close concurrently; each method acquires the TCB's lock
// for its own duration.
type Handle struct {
	tcb *tcp.TCB
}

// New wraps an already-established TCB, such as the one returned by
// demux.Connect, in a Handle.
func New(tcb *tcp.TCB) *Handle {
	return &Handle{tcb: tcb}
}

// Read blocks until at least one byte is available (n, nil), or until the
// connection state forbids reading and the receive buffer is empty
// (0, ErrNotConnected). End of stream is not reported as (0, nil): after
// the peer's FIN (CLOSE_WAIT) with the receive buffer drained, Read keeps
// waiting until the state changes.
func (h *Handle) Read(buf []byte) (int, error) {
	h.tcb.Lock()
	defer h.tcb.Unlock()
	for {
		n, err := h.tcb.ReadLocked(buf)
		if err != nil || n > 0 {
			return n, err
		}
		h.tcb.Wait()
	}
}

// Write blocks until the whole buffer has been accepted into the send
// window, looping on the TCB's short-write contract.
func (h *Handle) Write(buf []byte) (int, error) {
	h.tcb.Lock()
	defer h.tcb.Unlock()
	total := 0
	for total < len(buf) {
		n, err := h.tcb.WriteLocked(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			h.tcb.Wait()
			continue
		}
		total += n
	}
	return total, nil
}

// Close half-closes the connection, driving orderly shutdown through
// FIN_WAIT_1/LAST_ACK. It does not block for the shutdown to complete.
func (h *Handle) Close() error {
	h.tcb.Lock()
	defer h.tcb.Unlock()
	return h.tcb.CloseLocked()
}

// State reports the current connection state.
func (h *Handle) State() tcp.State {
	h.tcb.Lock()
	defer h.tcb.Unlock()
	return h.tcb.StateLocked()
}
