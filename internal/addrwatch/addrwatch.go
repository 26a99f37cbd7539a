// Package addrwatch feeds kernel address events into the ARP manager. Under
// the kernel-assisted strategy the OS performs the actual probing; this
// watcher translates the resulting address flags into duplicate/usable
// verdicts.
package addrwatch

import (
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/tomvil/acd/pkg/arp"
)

// Poster hands closures to the event loop goroutine.
type Poster interface {
	Post(fn func())
}

// Manager is the slice of arp.Manager the watcher needs.
type Manager interface {
	HandleAddrChange(ev arp.AddressEvent)
}

// Watch subscribes to address updates and posts each IPv4 event onto the
// loop until done is closed.
func Watch(loop Poster, mgr Manager, done chan struct{}) error {
	updates := make(chan netlink.AddrUpdate)
	if err := netlink.AddrSubscribe(updates, done); err != nil {
		return err
	}

	go func() {
		for update := range updates {
			ev, ok := toEvent(update)
			if !ok {
				continue
			}
			loop.Post(func() { mgr.HandleAddrChange(ev) })
		}
	}()

	return nil
}

func toEvent(update netlink.AddrUpdate) (arp.AddressEvent, bool) {
	ip := update.LinkAddress.IP.To4()
	if ip == nil {
		return arp.AddressEvent{}, false
	}
	return arp.AddressEvent{
		LinkIndex:  update.LinkIndex,
		Addr:       netip.AddrFrom4([4]byte(ip)),
		Deleted:    !update.NewAddr,
		Duplicated: update.Flags&unix.IFA_F_DADFAILED != 0,
		Usable:     update.Flags&(unix.IFA_F_TENTATIVE|unix.IFA_F_DADFAILED) == 0,
	}, true
}
