package arp

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"
)

// fakeScheduler records timers and readable registrations; tests fire timers
// by hand. Sessions keep at most one timer outstanding, so FIFO firing
// matches deadline order.
type fakeTimer struct {
	d         time.Duration
	tag       interface{}
	fn        func()
	fired     bool
	cancelled bool
}

type fakeScheduler struct {
	timers   []*fakeTimer
	readable map[int]func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{readable: make(map[int]func())}
}

func (f *fakeScheduler) ScheduleAfter(d time.Duration, tag interface{}, fn func()) {
	f.timers = append(f.timers, &fakeTimer{d: d, tag: tag, fn: fn})
}

func (f *fakeScheduler) CancelAll(tag interface{}) {
	for _, tm := range f.timers {
		if tm.tag == tag {
			tm.cancelled = true
		}
	}
}

func (f *fakeScheduler) RegisterReadable(fd int, fn func()) {
	f.readable[fd] = fn
}

func (f *fakeScheduler) DeregisterReadable(fd int) {
	delete(f.readable, fd)
}

func (f *fakeScheduler) pending() int {
	n := 0
	for _, tm := range f.timers {
		if !tm.fired && !tm.cancelled {
			n++
		}
	}
	return n
}

// fireNext runs the oldest pending timer and returns the delay it was
// scheduled with.
func (f *fakeScheduler) fireNext(t *testing.T) time.Duration {
	t.Helper()
	for _, tm := range f.timers {
		if tm.fired || tm.cancelled {
			continue
		}
		tm.fired = true
		tm.fn()
		return tm.d
	}
	t.Fatal("no pending timer to fire")
	return 0
}

type sentFrame struct {
	ifc       Iface
	etherType uint16
	frame     []byte
}

// fakeTransport serves reads from a queued inbox and records sends and
// filter installs.
type fakeTransport struct {
	nextFD  int
	open    map[int]bool
	opens   int
	sent    []sentFrame
	filters [][]netip.Addr
	inbox   [][]byte

	openErr error
	sendErr error
	readErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextFD: 100, open: make(map[int]bool)}
}

func (ft *fakeTransport) Open(ifc Iface) (int, error) {
	if ft.openErr != nil {
		return -1, ft.openErr
	}
	ft.opens++
	fd := ft.nextFD
	ft.nextFD++
	ft.open[fd] = true
	return fd, nil
}

func (ft *fakeTransport) Send(ifc Iface, fd int, etherType uint16, frame []byte) (int, error) {
	if ft.sendErr != nil {
		return 0, ft.sendErr
	}
	ft.sent = append(ft.sent, sentFrame{ifc: ifc, etherType: etherType,
		frame: append([]byte(nil), frame...)})
	return len(frame), nil
}

func (ft *fakeTransport) Read(ifc Iface, fd int, buf []byte) (int, bool, error) {
	if ft.readErr != nil {
		err := ft.readErr
		ft.readErr = nil
		return 0, false, err
	}
	if len(ft.inbox) == 0 {
		return 0, true, nil
	}
	frame := ft.inbox[0]
	ft.inbox = ft.inbox[1:]
	return copy(buf, frame), false, nil
}

func (ft *fakeTransport) Close(fd int) error {
	delete(ft.open, fd)
	return nil
}

func (ft *fakeTransport) InstallFilter(ifc Iface, fd int, interest []netip.Addr) error {
	ft.filters = append(ft.filters, append([]netip.Addr(nil), interest...))
	return nil
}

func (ft *fakeTransport) lastFilter() []netip.Addr {
	if len(ft.filters) == 0 {
		return nil
	}
	return ft.filters[len(ft.filters)-1]
}

type fakeRegistry struct {
	ifaces []Iface
}

func (r *fakeRegistry) Lookup(name string) (Iface, error) {
	for _, ifc := range r.ifaces {
		if ifc.Name == name {
			return ifc, nil
		}
	}
	return Iface{}, errors.New("link not found")
}

func (r *fakeRegistry) List() []Iface {
	return r.ifaces
}

var (
	testIface = Iface{
		Name:   "eth0",
		Index:  2,
		HWType: 1,
		HWAddr: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
	}
	peerHW = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, 0x01}

	addrA = netip.MustParseAddr("192.168.1.10")
	addrB = netip.MustParseAddr("192.168.1.11")
	addrC = netip.MustParseAddr("192.168.1.12")
)

func newTestManager(cfg Config) (*Manager, *fakeScheduler, *fakeTransport) {
	fs := newFakeScheduler()
	ft := newFakeTransport()
	reg := &fakeRegistry{ifaces: []Iface{testIface}}
	return NewManager(fs, ft, reg, cfg), fs, ft
}

// peerFrame builds an inbound ARP frame from a foreign host.
func peerFrame(t *testing.T, op uint16, sender, target netip.Addr) []byte {
	t.Helper()
	frame, err := EncodeRequest(Iface{HWType: 1, HWAddr: peerHW}, sender, target)
	if err != nil {
		t.Fatalf("encode peer frame: %v", err)
	}
	frame[6] = byte(op >> 8)
	frame[7] = byte(op)
	return frame
}
