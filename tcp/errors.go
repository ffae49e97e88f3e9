package tcp

import "errors"

// Error kinds surfaced by the TCB and Socket Handle.
var (
	// ErrTunnelIO marks a read or write against the tunnel as failed; fatal
	// to the demultiplexer loop.
	ErrTunnelIO = errors.New("tcp: tunnel i/o failed")

	// ErrNotConnected is returned by an application read/write issued in a
	// state that forbids it. The connection itself is not altered.
	ErrNotConnected = errors.New("tcp: not connected")

	// ErrProtocolViolation marks an inbound segment that violates the
	// current state's expectations in an unrecoverable way, e.g. a SYN
	// arriving mid-stream. The connection is left as-is for a caller to
	// decide what to do; this stack does not auto-abort on it.
	ErrProtocolViolation = errors.New("tcp: protocol violation")

	// ErrChannelClosed indicates the outbound transmit channel has no
	// receiver, i.e. the writer thread has exited. Aborts the caller's
	// current operation.
	ErrChannelClosed = errors.New("tcp: outbound channel closed")

	// ErrNotImplemented is returned for passive-open (LISTEN, SYN_RECEIVED)
	// requests. This revision only implements active open.
	ErrNotImplemented = errors.New("tcp: not implemented")
)
