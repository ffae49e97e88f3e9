package tcp

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ctrlcdev/tunstack"
	"github.com/ctrlcdev/tunstack/ipv4"
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than the fixed TCP header.
// Users should still call [Frame.ValidateSize] before working
// with payload/options of frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < tunstack.SizeHeaderTCP {
		return Frame{buf: nil}, tunstack.ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a TCP segment and provides methods for
// manipulating, validating and retrieving fields and payload data. See [RFC9293].
// This stack never emits or expects TCP options.
//
// [RFC9293]: https://datatracker.ietf.org/doc/html/rfc9293
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (tfrm Frame) RawData() []byte { return tfrm.buf }

// SourcePort identifies the sending port of the TCP packet. Must be non-zero.
func (tfrm Frame) SourcePort() uint16 {
	return binary.BigEndian.Uint16(tfrm.buf[0:2])
}

// SetSourcePort sets TCP source port. See [Frame.SourcePort].
func (tfrm Frame) SetSourcePort(src uint16) {
	binary.BigEndian.PutUint16(tfrm.buf[0:2], src)
}

// DestinationPort identifies the receiving port for the TCP packet. Must be non-zero.
func (tfrm Frame) DestinationPort() uint16 {
	return binary.BigEndian.Uint16(tfrm.buf[2:4])
}

// SetDestinationPort sets TCP destination port. See [Frame.DestinationPort].
func (tfrm Frame) SetDestinationPort(dst uint16) {
	binary.BigEndian.PutUint16(tfrm.buf[2:4], dst)
}

// Seq returns the sequence number of the first data octet in this segment
// (except when SYN is present, in which case this is the ISS and the
// first data octet is ISN+1).
func (tfrm Frame) Seq() Value {
	return Value(binary.BigEndian.Uint32(tfrm.buf[4:8]))
}

// SetSeq sets the Seq field. See [Frame.Seq].
func (tfrm Frame) SetSeq(v Value) {
	binary.BigEndian.PutUint32(tfrm.buf[4:8], uint32(v))
}

// Ack is the next sequence number the sender is expecting to receive, valid
// only when ACK is set.
func (tfrm Frame) Ack() Value {
	return Value(binary.BigEndian.Uint32(tfrm.buf[8:12]))
}

// SetAck sets the Ack field. See [Frame.Ack].
func (tfrm Frame) SetAck(v Value) {
	binary.BigEndian.PutUint32(tfrm.buf[8:12], uint32(v))
}

// OffsetAndFlags returns the data offset (header length in 32-bit words)
// and flag fields of the TCP header.
func (tfrm Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	v := binary.BigEndian.Uint16(tfrm.buf[12:14])
	offset = uint8(v >> 12)
	flags = Flags(v) & 0x3f
	return offset, flags
}

// SetOffsetAndFlags sets the data offset and flags fields. See [Frame.OffsetAndFlags].
func (tfrm Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	v := uint16(offset)<<12 | uint16(flags&0x3f)
	binary.BigEndian.PutUint16(tfrm.buf[12:14], v)
}

// HeaderLength uses the data offset field to calculate the total length of
// the TCP header including options. Performs no validation.
func (tfrm Frame) HeaderLength() int {
	offset, _ := tfrm.OffsetAndFlags()
	return 4 * int(offset)
}

func (tfrm Frame) WindowSize() uint16 { return binary.BigEndian.Uint16(tfrm.buf[14:16]) }
func (tfrm Frame) SetWindowSize(v uint16) {
	binary.BigEndian.PutUint16(tfrm.buf[14:16], v)
}

// CRC returns the checksum field of the TCP header.
func (tfrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(tfrm.buf[16:18])
}

// SetCRC sets the checksum field of the TCP header. See [Frame.CRC].
func (tfrm Frame) SetCRC(checksum uint16) {
	binary.BigEndian.PutUint16(tfrm.buf[16:18], checksum)
}

func (tfrm Frame) UrgentPtr() uint16      { return binary.BigEndian.Uint16(tfrm.buf[18:20]) }
func (tfrm Frame) SetUrgentPtr(up uint16) { binary.BigEndian.PutUint16(tfrm.buf[18:20], up) }

// Payload returns the payload content section of the TCP packet (not
// including TCP options). Be sure to call [Frame.ValidateSize] beforehand
// to avoid panic.
func (tfrm Frame) Payload() []byte {
	return tfrm.buf[tfrm.HeaderLength():]
}

// Options returns the TCP option buffer portion of the frame. Always empty
// for frames this stack builds; may be non-zero for received frames.
func (tfrm Frame) Options() []byte {
	return tfrm.buf[tunstack.SizeHeaderTCP:tfrm.HeaderLength()]
}

// Segment returns the [Segment] view of this frame's header and payload.
// The returned Payload slice aliases the frame's backing buffer.
func (tfrm Frame) Segment() Segment {
	_, flags := tfrm.OffsetAndFlags()
	return Segment{
		SEQ:     tfrm.Seq(),
		ACK:     tfrm.Ack(),
		WND:     Size(tfrm.WindowSize()),
		Flags:   flags,
		Payload: tfrm.Payload(),
	}
}

// SetSegment sets the sequence, acknowledgment, flags and window fields of
// the TCP header from seg. Does not touch the payload.
func (tfrm Frame) SetSegment(seg Segment) {
	if seg.WND > math.MaxUint16 {
		panic("tcp window overflow")
	}
	tfrm.SetSeq(seg.SEQ)
	tfrm.SetAck(seg.ACK)
	tfrm.SetOffsetAndFlags(5, seg.Flags)
	tfrm.SetWindowSize(uint16(seg.WND))
}

// ClearHeader zeros out the fixed (non-variable) header contents.
func (tfrm Frame) ClearHeader() {
	for i := range tfrm.buf[:tunstack.SizeHeaderTCP] {
		tfrm.buf[i] = 0
	}
}

func (tfrm Frame) String() string {
	src := tfrm.SourcePort()
	dst := tfrm.DestinationPort()
	return fmt.Sprintf("TCP :%d -> :%d %s", src, dst, tfrm.Segment().String())
}

// ValidateSize checks the frame's size fields and compares with the actual
// buffer backing the frame. It adds an error to v for each inconsistency
// found.
func (tfrm Frame) ValidateSize(v *tunstack.Validator) {
	off := tfrm.HeaderLength()
	if off < tunstack.SizeHeaderTCP {
		v.AddError(tunstack.ErrBadTCPOffset)
	}
	if off > len(tfrm.RawData()) {
		v.AddError(tunstack.ErrShortTCP)
	}
}

func (tfrm Frame) ValidateExceptCRC(v *tunstack.Validator) {
	tfrm.ValidateSize(v)
	if tfrm.DestinationPort() == 0 {
		v.AddError(tunstack.ErrZeroDstPort)
	}
	if tfrm.SourcePort() == 0 {
		v.AddError(tunstack.ErrZeroSrcPort)
	}
}

// ValidateCRC checks the TCP checksum against ifrm's pseudo-header,
// appending ErrBadCRC on mismatch. As with [ipv4.Frame.ValidateCRC], the
// stored checksum is included in the running sum rather than zeroed first.
func (tfrm Frame) ValidateCRC(ifrm ipv4.Frame, v *tunstack.Validator) {
	var crc tunstack.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	if crc.PayloadSum16(tfrm.RawData()) != 0 {
		v.AddError(tunstack.ErrBadCRC)
	}
}
