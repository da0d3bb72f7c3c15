package mapping

import (
	"net"
	"strings"
)

func parseIP(s string) net.IP {
	return net.ParseIP(s)
}

// controlURLHost extracts the host portion of a control URL, without any
// port, used as the router-IP cache entry for the router that answered —
// UPnP has no single "router IP" concept the way PMP/PCP do, since the
// control URL already names the device.
func controlURLHost(controlURL string) string {
	rest := controlURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if host, _, err := net.SplitHostPort(rest); err == nil {
		rest = host
	}
	return rest
}
