package tcp

import (
	"errors"

	"github.com/ctrlcdev/tunstack"
	"github.com/ctrlcdev/tunstack/ipv4"
)

var errEncodeShort = errors.New("tcp: destination buffer too small to encode datagram")

// datagramTTL is the outgoing IPv4 TTL this stack stamps on every segment it builds.
const datagramTTL = 64

// Encode serializes seg plus payload as a complete IPv4/TCP datagram from
// src to dst into buf, computing both the IPv4 header checksum and the TCP
// checksum over the pseudo-header plus segment. Returns the datagram length.
func Encode(buf []byte, src, dst [4]byte, srcPort, dstPort uint16, id uint16, seg Segment, payload []byte) (int, error) {
	tcpLen := tunstack.SizeHeaderTCP + len(payload)
	total := tunstack.SizeHeaderIPv4 + tcpLen
	if len(buf) < total {
		return 0, errEncodeShort
	}

	ifrm, err := ipv4.NewFrame(buf[:total])
	if err != nil {
		return 0, err
	}
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetToS(0)
	ifrm.SetTotalLength(uint16(total))
	ifrm.SetID(id)
	ifrm.SetFlags(ipv4.FlagDontFragment)
	ifrm.SetTTL(datagramTTL)
	ifrm.SetProtocol(tunstack.IPProtoTCP)
	*ifrm.SourceAddr() = src
	*ifrm.DestinationAddr() = dst

	tfrm, err := NewFrame(ifrm.Payload())
	if err != nil {
		return 0, err
	}
	tfrm.ClearHeader()
	tfrm.SetSourcePort(srcPort)
	tfrm.SetDestinationPort(dstPort)
	tfrm.SetSegment(seg)
	tfrm.SetUrgentPtr(0)
	copy(tfrm.Payload(), payload)

	tfrm.SetCRC(0)
	var crc tunstack.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.SetCRC(tunstack.NeverZeroChecksum(crc.PayloadSum16(tfrm.RawData())))

	ifrm.SetCRC(0)
	ifrm.SetCRC(tunstack.NeverZeroChecksum(ifrm.CalculateHeaderCRC()))

	return total, nil
}

// Decode parses buf as an IPv4 datagram, validating both checksums and
// returning ok=false on any malformed, non-TCP, or corrupt input. On success
// it returns the decoded segment; callers must not retain seg.Payload past
// the lifetime of buf.
func Decode(buf []byte) (src, dst [4]byte, seg Segment, srcPort, dstPort uint16, ok bool) {
	ifrm, err := ipv4.NewFrame(buf)
	if err != nil {
		return src, dst, seg, 0, 0, false
	}
	var v tunstack.Validator
	ifrm.ValidateExceptCRC(&v)
	if v.Err() != nil {
		return src, dst, seg, 0, 0, false
	}
	if ifrm.Protocol() != tunstack.IPProtoTCP {
		return src, dst, seg, 0, 0, false
	}
	ifrm.ValidateCRC(&v)
	if v.Err() != nil {
		return src, dst, seg, 0, 0, false
	}
	tfrm, err := NewFrame(ifrm.Payload())
	if err != nil {
		return src, dst, seg, 0, 0, false
	}
	var v2 tunstack.Validator
	tfrm.ValidateExceptCRC(&v2)
	if v2.Err() != nil {
		return src, dst, seg, 0, 0, false
	}
	tfrm.ValidateCRC(ifrm, &v2)
	if v2.Err() != nil {
		return src, dst, seg, 0, 0, false
	}
	return *ifrm.SourceAddr(), *ifrm.DestinationAddr(), tfrm.Segment(), tfrm.SourcePort(), tfrm.DestinationPort(), true
}
