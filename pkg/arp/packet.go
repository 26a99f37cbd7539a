package arp

import (
	"encoding/binary"
	"net"
	"net/netip"
)

const (
	// headerLen is the fixed ARP header: hardware type, protocol type,
	// hardware length, protocol length, opcode.
	headerLen = 8

	// maxHWLen caps the hardware address length we will encode or accept.
	maxHWLen = 20

	ipv4Len = 4

	// MaxFrameLen is the largest ARP payload this package reads or writes.
	MaxFrameLen = headerLen + 2*(maxHWLen+ipv4Len)
)

// Message is a decoded inbound ARP frame. It is only valid for the duration
// of conflict dispatch; the dispatcher does not retain it.
type Message struct {
	SenderHW net.HardwareAddr
	SenderIP netip.Addr
	TargetHW net.HardwareAddr
	TargetIP netip.Addr
	Op       uint16
}

// EncodeRequest builds an ARP request frame for ifc with the given sender and
// target protocol addresses. Probes pass the unspecified address as sender,
// announcements pass the claimed address as both.
func EncodeRequest(ifc Iface, sender, target netip.Addr) ([]byte, error) {
	hwlen := len(ifc.HWAddr)
	need := headerLen + 2*(hwlen+ipv4Len)
	if need > MaxFrameLen {
		return nil, ErrFrameTooLarge
	}

	sip := sender.As4()
	tip := target.As4()

	b := make([]byte, need)
	binary.BigEndian.PutUint16(b[0:2], ifc.HWType)
	binary.BigEndian.PutUint16(b[2:4], etherTypeIPv4)
	b[4] = byte(hwlen)
	b[5] = ipv4Len
	binary.BigEndian.PutUint16(b[6:8], opRequest)

	p := b[headerLen:]
	copy(p[:hwlen], ifc.HWAddr)
	copy(p[hwlen:hwlen+ipv4Len], sip[:])
	// Target hardware address stays zeroed.
	copy(p[2*hwlen+ipv4Len:], tip[:])

	return b, nil
}

// Decode parses an inbound ARP frame. The hardware and protocol length fields
// are peer controlled, so the claimed layout is validated against len(b)
// before anything is copied out.
func Decode(b []byte) (*Message, error) {
	if len(b) < headerLen {
		return nil, ErrFrameTruncated
	}

	hwlen := int(b[4])
	plen := int(b[5])
	if headerLen+2*(hwlen+plen) > len(b) {
		return nil, ErrFrameTruncated
	}
	if plen != ipv4Len {
		return nil, ErrNotIPv4
	}

	m := &Message{Op: binary.BigEndian.Uint16(b[6:8])}

	p := b[headerLen:]
	m.SenderHW = net.HardwareAddr(append([]byte(nil), p[:hwlen]...))
	m.SenderIP = netip.AddrFrom4([4]byte(p[hwlen : hwlen+ipv4Len]))
	p = p[hwlen+ipv4Len:]
	m.TargetHW = net.HardwareAddr(append([]byte(nil), p[:hwlen]...))
	m.TargetIP = netip.AddrFrom4([4]byte(p[hwlen : hwlen+ipv4Len]))

	return m, nil
}
