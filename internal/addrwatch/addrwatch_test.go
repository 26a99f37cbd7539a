package addrwatch

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

func update(ip string, flags int, newAddr bool) netlink.AddrUpdate {
	return netlink.AddrUpdate{
		LinkAddress: net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(24, 32)},
		LinkIndex:   3,
		Flags:       flags,
		NewAddr:     newAddr,
	}
}

func TestToEventUsable(t *testing.T) {
	ev, ok := toEvent(update("192.168.1.10", 0, true))
	require.True(t, ok)
	assert.Equal(t, 3, ev.LinkIndex)
	assert.Equal(t, netip.MustParseAddr("192.168.1.10"), ev.Addr)
	assert.False(t, ev.Deleted)
	assert.False(t, ev.Duplicated)
	assert.True(t, ev.Usable)
}

func TestToEventDADFailed(t *testing.T) {
	ev, ok := toEvent(update("192.168.1.10", unix.IFA_F_DADFAILED, true))
	require.True(t, ok)
	assert.True(t, ev.Duplicated)
	assert.False(t, ev.Usable)
}

func TestToEventTentative(t *testing.T) {
	ev, ok := toEvent(update("192.168.1.10", unix.IFA_F_TENTATIVE, true))
	require.True(t, ok)
	assert.False(t, ev.Duplicated)
	assert.False(t, ev.Usable, "a tentative address is not usable yet")
}

func TestToEventDeleted(t *testing.T) {
	ev, ok := toEvent(update("192.168.1.10", 0, false))
	require.True(t, ok)
	assert.True(t, ev.Deleted)
}

func TestToEventSkipsIPv6(t *testing.T) {
	u := netlink.AddrUpdate{
		LinkAddress: net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		LinkIndex:   3,
		NewAddr:     true,
	}
	_, ok := toEvent(u)
	assert.False(t, ok)
}
