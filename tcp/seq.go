package tcp

// Value is a 32-bit TCP sequence number. All arithmetic on Value wraps
// modulo 2^32 and all comparisons are cyclic, never linear: a Value on its
// own carries no notion of "bigger" or "smaller", only "before" or "after"
// relative to another Value.
type Value uint32

// Size is a byte count or advertised window, always non-negative and never
// wrapped; the sequence space window in this stack never approaches 2^31.
type Size uint32

// Add returns v advanced by n sequence numbers, wrapping on overflow.
func (v Value) Add(n Size) Value { return v + Value(n) }

// Sub returns the number of sequence numbers separating a from b, i.e. the
// n such that b.Add(n) == a, wrapping. Only meaningful when a is "at or
// after" b in cyclic order for some n < 2^31.
func (a Value) Sub(b Value) Size { return Size(a - b) }

// LessThan reports whether a precedes b in cyclic sequence-space order,
// i.e. a lies in the half of the space "before" b.
func (a Value) LessThan(b Value) bool { return int32(a-b) < 0 }

// LessThanEq reports whether a precedes or equals b in cyclic order.
func (a Value) LessThanEq(b Value) bool { return a == b || a.LessThan(b) }

// InWindow reports whether v lies in the half-open cyclic window
// [start, start+length), i.e. start ≤ v < start+length taken cyclically.
func InWindow(v, start Value, length Size) bool {
	return Size(v-start) < length
}

// Acceptable implements the RFC 793 "SEG in window" acceptability test of
// an inbound segment of length L starting at seq, against receiver state
// rcvNxt and advertised window wnd.
func Acceptable(seq Value, length Size, rcvNxt Value, wnd Size) bool {
	if length == 0 {
		return InWindow(seq, rcvNxt, wnd)
	}
	if InWindow(seq, rcvNxt, wnd) {
		return true
	}
	last := seq.Add(length - 1)
	return InWindow(last, rcvNxt, wnd)
}
