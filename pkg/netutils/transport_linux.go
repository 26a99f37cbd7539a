package netutils

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/tomvil/acd/pkg/arp"
)

// PacketTransport exchanges ARP payloads over cooked AF_PACKET sockets, one
// per interface. SOCK_DGRAM strips the Ethernet header both ways, so frames
// match the codec's layout exactly.
type PacketTransport struct{}

func NewPacketTransport() PacketTransport { return PacketTransport{} }

var broadcastHW = [8]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// We expect a little-endian system.
func htons(i uint16) uint16 {
	return i>>8 | i<<8
}

func (PacketTransport) Open(ifc arp.Iface) (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET,
		unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC,
		int(htons(unix.ETH_P_ARP)))
	if err != nil {
		return -1, err
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ARP),
		Ifindex:  ifc.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func (PacketTransport) Send(ifc arp.Iface, fd int, etherType uint16, frame []byte) (int, error) {
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(etherType),
		Ifindex:  ifc.Index,
		Halen:    uint8(len(ifc.HWAddr)),
		Addr:     broadcastHW,
	}
	if err := unix.Sendto(fd, frame, 0, sa); err != nil {
		return 0, err
	}
	return len(frame), nil
}

// Read returns one datagram. The socket is non-blocking, so a would-block
// result marks the end of the current batch.
func (PacketTransport) Read(ifc arp.Iface, fd int, buf []byte) (int, bool, error) {
	n, _, err := unix.Recvfrom(fd, buf, 0)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, false, nil
}

func (PacketTransport) Close(fd int) error {
	return unix.Close(fd)
}

// Classic BPF opcodes, enough to assemble the ARP interest filter.
const (
	bpfLdHalfAbs = 0x28 // BPF_LD | BPF_H | BPF_ABS
	bpfLdByteAbs = 0x30 // BPF_LD | BPF_B | BPF_ABS
	bpfLdWordAbs = 0x20 // BPF_LD | BPF_W | BPF_ABS
	bpfJEqK      = 0x15 // BPF_JMP | BPF_JEQ | BPF_K
	bpfRetK      = 0x06 // BPF_RET | BPF_K
)

func stmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

// InstallFilter attaches a classic BPF program passing only IPv4 ARP frames
// whose sender or target protocol address is in the interest set. An empty
// set drops everything.
func (PacketTransport) InstallFilter(ifc arp.Iface, fd int, interest []netip.Addr) error {
	hwlen := uint32(len(ifc.HWAddr))
	spaOff := 8 + hwlen
	tpaOff := 8 + 2*hwlen + 4

	var prog []unix.SockFilter
	if len(interest) > 0 {
		// Header checks, each falling through to the final drop.
		prog = append(prog,
			stmt(bpfLdHalfAbs, 0), // ar_hrd
			stmt(bpfJEqK, uint32(ifc.HWType)),
			stmt(bpfLdHalfAbs, 2), // ar_pro
			stmt(bpfJEqK, 0x0800),
			stmt(bpfLdByteAbs, 4), // ar_hln
			stmt(bpfJEqK, hwlen),
			stmt(bpfLdByteAbs, 5), // ar_pln
			stmt(bpfJEqK, 4),
			stmt(bpfLdWordAbs, spaOff),
		)
		for _, a := range interest {
			prog = append(prog, stmt(bpfJEqK, addrWord(a)))
		}
		prog = append(prog, stmt(bpfLdWordAbs, tpaOff))
		for _, a := range interest {
			prog = append(prog, stmt(bpfJEqK, addrWord(a)))
		}
	}
	accept := len(prog) + 1
	prog = append(prog,
		stmt(bpfRetK, 0),
		stmt(bpfRetK, uint32(arp.MaxFrameLen)),
	)

	// Patch the jumps now that accept/drop indices are known.
	drop := accept - 1
	matchTarget := drop
	for i := range prog {
		if prog[i].Code != bpfJEqK {
			if prog[i].Code == bpfLdWordAbs {
				// Address comparisons jump to accept on match.
				matchTarget = accept
			}
			continue
		}
		if matchTarget == accept {
			prog[i].Jt = uint8(accept - i - 1)
			prog[i].Jf = 0
		} else {
			prog[i].Jt = 0
			prog[i].Jf = uint8(drop - i - 1)
		}
	}

	fprog := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog)
}

func addrWord(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
