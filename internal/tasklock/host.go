package tasklock

import (
	"net"
	"os"
)

// HostIP returns the first non-loopback IPv4 address of this machine, or
// the hostname when none is found.
func HostIP() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "unknown"
}
