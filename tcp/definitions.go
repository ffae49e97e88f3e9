package tcp

import "fmt"

// Flags is the set of TCP control bits carried in a header. This stack
// never sets ECE, CWR or NS: no congestion control beyond RTO backoff is
// implemented.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// Has reports whether all bits in mask are set in f.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Any reports whether any bit in mask is set in f.
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "[]"
	}
	s := "["
	for _, fl := range []struct {
		bit  Flags
		name string
	}{
		{FlagFIN, "FIN"}, {FlagSYN, "SYN"}, {FlagRST, "RST"},
		{FlagPSH, "PSH"}, {FlagACK, "ACK"}, {FlagURG, "URG"},
	} {
		if f.Has(fl.bit) {
			if len(s) > 1 {
				s += ","
			}
			s += fl.name
		}
	}
	return s + "]"
}

// State is one of the 11 TCP connection states of RFC 793. LISTEN and
// SYN_RECEIVED name the passive-open branch, which this stack does not
// drive into: no code path ever produces a TCB in either state, and any
// inbound traffic that would require one is rejected (see ErrNotImplemented).
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Segment is the decoded view of an inbound TCP header plus payload handed
// to the TCB by the demultiplexer. Payload aliases the datagram buffer and
// must not be retained past the call to OnPacket.
type Segment struct {
	SEQ, ACK Value
	WND      Size
	Flags    Flags
	Payload  []byte
}

// Len returns the number of sequence numbers this segment consumes from the
// data stream, i.e. the payload length. SYN and FIN each additionally
// consume one sequence number of their own, accounted for separately by
// the state machine.
func (s Segment) Len() Size { return Size(len(s.Payload)) }

func (s Segment) String() string {
	return fmt.Sprintf("%s SEQ=%d ACK=%d WND=%d LEN=%d", s.Flags, s.SEQ, s.ACK, s.WND, len(s.Payload))
}
