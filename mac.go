package paradox

import (
	"fmt"
	"net"

	"github.com/j-keck/arping"
)

// MacAddress resolves the hardware address of the IP150. Needs raw socket
// capabilities.
func MacAddress(ip string) (string, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("could not get the mac address: %q is not an ip", ip)
	}
	hw, _, err := arping.Ping(addr)
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}
