package netutils

import (
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/tomvil/acd/internal/logger"
	"github.com/tomvil/acd/pkg/arp"
)

// NetlinkRegistry resolves interfaces through rtnetlink.
type NetlinkRegistry struct{}

func NewRegistry() NetlinkRegistry { return NetlinkRegistry{} }

func (NetlinkRegistry) Lookup(name string) (arp.Iface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return arp.Iface{}, err
	}
	return linkToIface(link), nil
}

func (NetlinkRegistry) List() []arp.Iface {
	links, err := netlink.LinkList()
	if err != nil {
		logger.Error("failed to list links: %v", err)
		return nil
	}
	ifaces := make([]arp.Iface, 0, len(links))
	for _, link := range links {
		ifaces = append(ifaces, linkToIface(link))
	}
	return ifaces
}

func linkToIface(link netlink.Link) arp.Iface {
	attrs := link.Attrs()
	return arp.Iface{
		Name:   attrs.Name,
		Index:  attrs.Index,
		HWType: encapToHWType(attrs.EncapType),
		HWAddr: attrs.HardwareAddr,
	}
}

func encapToHWType(encap string) uint16 {
	switch encap {
	case "ether":
		return unix.ARPHRD_ETHER
	case "loopback":
		return unix.ARPHRD_LOOPBACK
	case "infiniband":
		return unix.ARPHRD_INFINIBAND
	case "ieee802":
		return unix.ARPHRD_IEEE802
	}
	return unix.ARPHRD_ETHER
}
