package netutils

import (
	"net"
	"net/netip"

	"github.com/j-keck/arping"

	"github.com/tomvil/acd/internal/logger"
)

// ConfirmConflict probes the address once over the interface and returns the
// hardware address answering for it. Used after a conflict was reported
// without a captured frame to name the offender.
func ConfirmConflict(addr netip.Addr, ifaceName string) (net.HardwareAddr, error) {
	ip := net.IP(addr.AsSlice())
	hw, _, err := arping.PingOverIfaceByName(ip, ifaceName)
	if err != nil {
		logger.Error("Failed to send ARP request to %s: %v", ip.String(), err)
		return nil, err
	}
	return hw, nil
}
