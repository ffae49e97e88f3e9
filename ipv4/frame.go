// Package ipv4 implements a minimal RFC 791 IPv4 header codec: a thin,
// zero-copy view over a byte buffer used to read and write the fixed-size
// header fields the rest of the stack needs. No options, no fragmentation,
// no IPv6 — this stack only ever emits unfragmented datagrams.
package ipv4

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/ctrlcdev/tunstack"
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than the fixed IPv4 header.
// Users should still call [Frame.ValidateSize] before working with the
// payload/options of a frame to avoid panics on malformed input.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < tunstack.SizeHeaderIPv4 {
		return Frame{buf: nil}, tunstack.ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an IPv4 packet and provides methods for
// manipulating, validating and retrieving fields and payload data. See [RFC791].
//
// [RFC791]: https://tools.ietf.org/html/rfc791
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

// HeaderLength returns the length of the IPv4 header as calculated using IHL.
// This stack never emits or expects IP options, so this is always 20 for
// frames it builds, but incoming frames are read honestly.
func (ifrm Frame) HeaderLength() int {
	return int(ifrm.ihl()) * 4
}

func (ifrm Frame) ihl() uint8     { return ifrm.buf[0] & 0xf }
func (ifrm Frame) version() uint8 { return ifrm.buf[0] >> 4 }

// VersionAndIHL returns the version and IHL fields in the IPv4 header. Version should always be 4.
func (ifrm Frame) VersionAndIHL() (version, IHL uint8) {
	v := ifrm.buf[0]
	return v >> 4, v & 0xf
}

// SetVersionAndIHL sets the version and IHL fields in the IPv4 header. Version should always be 4.
func (ifrm Frame) SetVersionAndIHL(version, IHL uint8) { ifrm.buf[0] = version<<4 | IHL&0xf }

// ToS returns the Type of Service / DSCP+ECN field. This stack always writes zero.
func (ifrm Frame) ToS() tunstack.IPToS {
	return tunstack.IPToS(ifrm.buf[1])
}

// SetToS sets ToS field. See [Frame.ToS].
func (ifrm Frame) SetToS(tos tunstack.IPToS) { ifrm.buf[1] = byte(tos) }

// TotalLength defines the entire packet size in bytes, including IP header and data.
func (ifrm Frame) TotalLength() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[2:4])
}

// SetTotalLength sets TotalLength field. See [Frame.TotalLength].
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID is an identification field, primarily used for reassembling fragments.
// This stack never fragments, but the field is still set to a unique value
// per outgoing datagram as RFC 791 expects non-fragmented traffic to do.
func (ifrm Frame) ID() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[4:6])
}

// SetID sets ID field. See [Frame.ID].
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

// Flags returns the fragmentation [Flags] of the IP packet.
func (ifrm Frame) Flags() Flags {
	return Flags(binary.BigEndian.Uint16(ifrm.buf[6:8]))
}

// SetFlags sets the IPv4 flags+fragment-offset field. See [Flags].
func (ifrm Frame) SetFlags(flags Flags) {
	binary.BigEndian.PutUint16(ifrm.buf[6:8], uint16(flags))
}

// TTL is an eight-bit time to live field that limits a datagram's lifetime.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[8] }

// SetTTL sets the IP frame's TTL field. See [Frame.TTL].
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[8] = ttl }

// Protocol field defines the protocol used in the data portion of the IP datagram. TCP is 6.
func (ifrm Frame) Protocol() tunstack.IPProto { return tunstack.IPProto(ifrm.buf[9]) }

// SetProtocol sets protocol field. See [Frame.Protocol].
func (ifrm Frame) SetProtocol(proto tunstack.IPProto) { ifrm.buf[9] = uint8(proto) }

// CRC returns the header checksum field of the IPv4 header.
func (ifrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[10:12])
}

// SetCRC sets the CRC field of the IP packet. See [Frame.CRC].
func (ifrm Frame) SetCRC(cs uint16) {
	binary.BigEndian.PutUint16(ifrm.buf[10:12], cs)
}

// CalculateHeaderCRC calculates the IPv4 header checksum for this frame.
// The CRC field itself (bytes 10-11) is skipped, so its current value does
// not affect the result.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc tunstack.CRC791
	crc.WriteEven(ifrm.buf[0:10])
	crc.WriteEven(ifrm.buf[12:20])
	return crc.Sum16()
}

// CRCWriteTCPPseudo feeds the IPv4 pseudo-header used by the TCP checksum into crc.
func (ifrm Frame) CRCWriteTCPPseudo(crc *tunstack.CRC791) {
	crc.WriteEven(ifrm.SourceAddr()[:])
	crc.WriteEven(ifrm.DestinationAddr()[:])
	crc.AddUint16(ifrm.TotalLength() - 4*uint16(ifrm.ihl()))
	crc.AddUint16(uint16(ifrm.Protocol()))
}

// SourceAddr returns pointer to the source IPv4 address in the IP header.
func (ifrm Frame) SourceAddr() *[4]byte {
	return (*[4]byte)(ifrm.buf[12:16])
}

// DestinationAddr returns pointer to the destination IPv4 address in the IP header.
func (ifrm Frame) DestinationAddr() *[4]byte {
	return (*[4]byte)(ifrm.buf[16:20])
}

// Payload returns the contents of the IPv4 packet, which may be zero sized.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (ifrm Frame) Payload() []byte {
	off := ifrm.HeaderLength()
	l := ifrm.TotalLength()
	return ifrm.buf[off:l]
}

// Options returns the options portion of the IPv4 header, always zero length
// for frames this stack builds. May be non-zero for received frames.
func (ifrm Frame) Options() []byte {
	off := ifrm.HeaderLength()
	return ifrm.buf[tunstack.SizeHeaderIPv4:off]
}

// ClearHeader zeros out the fixed (non-variable) header contents.
func (ifrm Frame) ClearHeader() {
	for i := range ifrm.buf[:tunstack.SizeHeaderIPv4] {
		ifrm.buf[i] = 0
	}
}

// ValidateSize checks the frame's size fields and compares with the actual
// buffer backing the frame. It adds an error to v for each inconsistency found.
func (ifrm Frame) ValidateSize(v *tunstack.Validator) {
	ihl := ifrm.ihl()
	tl := ifrm.TotalLength()
	if tl < tunstack.SizeHeaderIPv4 {
		v.AddError(tunstack.ErrBadIPv4TL)
	}
	if int(tl) > len(ifrm.RawData()) {
		v.AddError(tunstack.ErrShortIPv4)
	}
	if ihl < 5 {
		v.AddError(tunstack.ErrBadIPv4IHL)
	}
}

// ValidateExceptCRC checks for invalid frame values but does not check the header checksum.
func (ifrm Frame) ValidateExceptCRC(v *tunstack.Validator) {
	ifrm.ValidateSize(v)
	flags := ifrm.Flags()
	if ifrm.version() != 4 {
		v.AddError(tunstack.ErrBadIPVersion)
	}
	if v.Flags()&tunstack.ValidateEvilBit != 0 && flags.IsEvil() {
		v.AddError(tunstack.ErrEvilPacket)
	}
}

// ValidateCRC checks the header checksum found in the frame against the
// checksum recomputed over its fixed fields, appending ErrBadCRC on mismatch.
// Unlike CalculateHeaderCRC, which skips the CRC field, this includes the
// stored checksum in the running sum, and a correct checksum folds that sum
// to zero.
func (ifrm Frame) ValidateCRC(v *tunstack.Validator) {
	var crc tunstack.CRC791
	crc.WriteEven(ifrm.buf[0:tunstack.SizeHeaderIPv4])
	if crc.Sum16() != 0 {
		v.AddError(tunstack.ErrBadCRC)
	}
}

func (ifrm Frame) String() string {
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	src := netip.AddrFrom4(*ifrm.SourceAddr())

	hl := ifrm.HeaderLength()
	tl := int(ifrm.TotalLength())
	ttl := ifrm.TTL()
	id := ifrm.ID()
	proto := ifrm.Protocol()
	tos := ifrm.ToS()
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d OPT=%d TTL=%d ID=%d ToS=0x%x", proto.String(), src.String(), dst.String(), tl, tl-hl, ttl, id, tos)
}
