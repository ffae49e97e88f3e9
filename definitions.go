// Package tunstack holds wire-format primitives shared by the ipv4 and tcp
// packages: checksum helpers, protocol numbers and frame validation.
package tunstack

const (
	SizeHeaderIPv4 = 20
	SizeHeaderTCP  = 20
)

// IPToS represents the Traffic Class (a.k.a Type of Service).
type IPToS uint8

// DS returns the top 6 bits of the IPv4 ToS holding the Differentiated Services field
// which is used to classify packets.
func (tos IPToS) DS() uint8 { return uint8(tos) >> 2 }

// ECN is the Explicit Congestion Notification which provides congestion control and non-congestion control traffic.
func (tos IPToS) ECN() uint8 { return uint8(tos & 0b11) }

// IPv4Flags holds fragmentation field data of an IPv4 header.
type IPv4Flags uint16

// DontFragment specifies whether the datagram can not be fragmented.
func (f IPv4Flags) DontFragment() bool { return f&0x4000 != 0 }

// MoreFragments is cleared for unfragmented packets.
func (f IPv4Flags) MoreFragments() bool { return f&0x2000 != 0 }

// FragmentOffset specifies the offset of a particular fragment relative to the
// beginning of the original unfragmented IP datagram, in units of 8 bytes.
func (f IPv4Flags) FragmentOffset() uint16 { return uint16(f) & 0x1fff }

// IPProto represents the IP protocol number carried in the IPv4 protocol field.
type IPProto uint8

// IP protocol numbers in use by this stack. Only TCP is actually routed;
// the others are named so the demultiplexer can reject/log them by name.
const (
	IPProtoICMP IPProto = 1  // Internet Control Message [RFC792]
	IPProtoTCP  IPProto = 6  // Transmission Control [RFC793]
	IPProtoUDP  IPProto = 17 // User Datagram [RFC768]
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	default:
		return "unknown"
	}
}
