package ipv4

// Flags holds fragmentation field data of an IPv4 header. It is 16 bits long.
// This stack never fragments outgoing datagrams and sets DontFragment on
// every frame it builds.
type Flags uint16

// FlagDontFragment is the IPv4 "don't fragment" bit. This stack sets it on
// every outgoing datagram since it never fragments or expects fragments.
const FlagDontFragment Flags = 0x4000

// IsEvil returns true if the evil bit is set, see [RFC3514].
//
// [RFC3514]: https://datatracker.ietf.org/doc/html/rfc3514
func (f Flags) IsEvil() bool { return f&0x8000 != 0 }

// DontFragment specifies whether the datagram can not be fragmented.
func (f Flags) DontFragment() bool { return f&0x4000 != 0 }

// MoreFragments is cleared for unfragmented packets.
func (f Flags) MoreFragments() bool { return f&0x2000 != 0 }

// FragmentOffset specifies the offset of a particular fragment relative to the
// beginning of the original unfragmented IP datagram, in units of 8 bytes.
func (f Flags) FragmentOffset() uint16 { return uint16(f) & 0x1fff }
