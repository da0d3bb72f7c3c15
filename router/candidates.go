// Package router implements the wave-based router-candidate strategy: given
// a cache of previously-successful gateway IPs and the host's own LAN
// addresses, it produces two ordered batches of candidate router IPs for the
// NAT-PMP and PCP clients to fan out against, cheapest-first.
package router

import (
	"github.com/openholepunch/portkeeper/ipaddr"
)

// DefaultIPs lists the gateway addresses most residential routers answer on.
// Treated as an immutable ordered set: every Waves call copies out of it, it
// is never appended to in place.
var DefaultIPs = []string{
	"192.168.0.1", "192.168.1.1", "192.168.2.1", "192.168.1.254",
	"192.168.0.254", "192.168.100.1", "192.168.8.1", "192.168.10.1",
	"192.168.20.1", "192.168.50.1", "192.168.88.1", "10.0.0.1",
	"10.0.0.138", "10.0.1.1", "10.1.1.1", "10.10.10.1",
	"10.0.0.2", "192.168.3.1", "192.168.4.1", "192.168.5.1",
}

// Probe ports reserved for support detection so they can never collide with
// a real mapping request issued in the same process run.
const (
	ProbePortNatPMP = 55555
	ProbePortPCP    = 55556
	ProbePortUPnP   = 55557
)

// Waves splits candidate router IPs into a matched wave (cache entries plus
// whichever default IP best matches each local IP by longest prefix) and an
// other wave (every remaining default not already in the matched wave).
// Callers try the matched wave first and only fall through to other if
// nothing in matched responds.
func Waves(cache []string, localIPs []string) (matched, other []string) {
	matchedSet := append([]string{}, cache...)
	for _, local := range localIPs {
		if best, ok := ipaddr.LongestPrefixMatch(DefaultIPs, local); ok {
			matchedSet = append(matchedSet, best)
		}
	}
	matchedSet = ipaddr.Dedup(matchedSet)

	inMatched := make(map[string]bool, len(matchedSet))
	for _, ip := range matchedSet {
		inMatched[ip] = true
	}

	for _, ip := range DefaultIPs {
		if !inMatched[ip] {
			other = append(other, ip)
		}
	}
	return matchedSet, other
}
