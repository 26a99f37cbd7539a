package arp

import (
	"net"
	"net/netip"
	"time"
)

// Iface describes a network interface as reported by the Registry.
type Iface struct {
	Name   string
	Index  int
	HWType uint16
	HWAddr net.HardwareAddr
}

// Registry enumerates local interfaces. Decoded frames whose sender hardware
// address belongs to any listed interface are treated as our own reflections
// and dropped.
type Registry interface {
	Lookup(name string) (Iface, error)
	List() []Iface
}

// Transport exchanges raw ARP frames on a link. Implementations are expected
// to deliver only ARP traffic; the descriptor is an opaque handle owned by
// the per-interface context.
//
// Read drains one datagram from the descriptor and reports whether it was the
// last one available for the current readiness notification. Some raw
// mechanisms cannot return exactly one packet per syscall, so the read
// handler keeps calling Read until the flag is set.
type Transport interface {
	Open(ifc Iface) (int, error)
	Send(ifc Iface, fd int, etherType uint16, frame []byte) (int, error)
	Read(ifc Iface, fd int, buf []byte) (n int, lastInBatch bool, err error)
	Close(fd int) error

	// InstallFilter narrows the descriptor's receive filter to the given
	// interest set. Called on every session-collection change.
	InstallFilter(ifc Iface, fd int, interest []netip.Addr) error
}

// Scheduler is the slice of the event loop this package relies on. All
// callbacks run on the loop goroutine; nothing here is safe for concurrent
// use from elsewhere.
type Scheduler interface {
	// ScheduleAfter runs fn once after d. The tag groups timers for
	// CancelAll.
	ScheduleAfter(d time.Duration, tag interface{}, fn func())

	// CancelAll drops every pending timer carrying tag, including timers
	// already due but not yet dispatched.
	CancelAll(tag interface{})

	RegisterReadable(fd int, fn func())
	DeregisterReadable(fd int)
}
