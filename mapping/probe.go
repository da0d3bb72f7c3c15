package mapping

import (
	"context"
	"time"

	"github.com/openholepunch/portkeeper/ipaddr"
	"github.com/openholepunch/portkeeper/natpmp"
	"github.com/openholepunch/portkeeper/pcp"
	"github.com/openholepunch/portkeeper/router"
)

// ProbeProtocolSupport runs all three protocol probes (plus UPnP control-URL
// discovery) in parallel against reserved, never-reused probe ports, and
// populates the tri-state support cache with the outcome of each.
func (m *Manager) ProbeProtocolSupport(ctx context.Context) (natPmpOK, pcpOK, upnpOK bool) {
	privateIPs, err := m.GetPrivateIPs(ctx)
	if err != nil || len(privateIPs) == 0 {
		m.setSupport(func(s *SupportCache) { s.NatPMP, s.PCP, s.UPnP = Unsupported, Unsupported, Unsupported })
		return false, false, false
	}
	matched, other := m.waves(privateIPs)

	type probeOutcome struct {
		ok       bool
		routerIP string
	}
	results := make(chan struct {
		proto Protocol
		out   probeOutcome
	}, 3)

	go func() {
		start := time.Now()
		ok, routerIP := m.probeNatPMP(ctx, matched, other)
		m.observeProbeDuration(ProtocolNatPMP, start)
		results <- struct {
			proto Protocol
			out   probeOutcome
		}{ProtocolNatPMP, probeOutcome{ok, routerIP}}
	}()
	go func() {
		start := time.Now()
		ok, routerIP := m.probePCP(ctx, privateIPs, matched, other)
		m.observeProbeDuration(ProtocolPCP, start)
		results <- struct {
			proto Protocol
			out   probeOutcome
		}{ProtocolPCP, probeOutcome{ok, routerIP}}
	}()
	go func() {
		start := time.Now()
		ok := m.probeUPnP(ctx)
		m.observeProbeDuration(ProtocolUPnP, start)
		results <- struct {
			proto Protocol
			out   probeOutcome
		}{ProtocolUPnP, probeOutcome{ok, ""}}
	}()

	for i := 0; i < 3; i++ {
		res := <-results
		supported := Unsupported
		if res.out.ok {
			supported = Supported
			if res.out.routerIP != "" {
				m.rememberRouterIP(res.out.routerIP)
			}
		}
		switch res.proto {
		case ProtocolNatPMP:
			natPmpOK = res.out.ok
			m.setSupport(func(s *SupportCache) { s.NatPMP = supported })
		case ProtocolPCP:
			pcpOK = res.out.ok
			m.setSupport(func(s *SupportCache) { s.PCP = supported })
		case ProtocolUPnP:
			upnpOK = res.out.ok
			m.setSupport(func(s *SupportCache) { s.UPnP = supported })
		}
	}
	return natPmpOK, pcpOK, upnpOK
}

func (m *Manager) probeNatPMP(ctx context.Context, matched, other []string) (bool, string) {
	buildReq := func(string) *natpmp.PortMappingRequest {
		return &natpmp.PortMappingRequest{
			Protocol:                   natpmp.ProtocolTCP,
			InternalPort:               router.ProbePortNatPMP,
			SuggestedExternalPort:      router.ProbePortNatPMP,
			RequestedLifetimeInSeconds: 120,
		}
	}
	routerIP, resp, err := m.natpmp.AddMappingWave(ctx, matched, other, buildReq)
	if err != nil || resp.ExternalPort == 0 {
		return false, ""
	}
	return true, routerIP
}

func (m *Manager) probePCP(ctx context.Context, privateIPs, matched, other []string) (bool, string) {
	nonce, err := m.pcp.NewNonce()
	if err != nil {
		return false, ""
	}
	buildReq := func(routerIP string) *pcp.MapRequest {
		localIP, _ := ipaddr.LongestPrefixMatch(privateIPs, routerIP)
		if localIP == "" {
			localIP = privateIPs[0]
		}
		return &pcp.MapRequest{
			ClientIP:                   parseIP(localIP),
			RequestedLifetimeInSeconds: 120,
			Nonce:                      nonce,
			Protocol:                   pcp.ProtocolUDP,
			InternalPort:               router.ProbePortPCP,
			SuggestedExternalPort:      router.ProbePortPCP,
		}
	}
	routerIP, resp, err := m.pcp.MapWave(ctx, matched, other, buildReq)
	if err != nil || resp.ExternalPort == 0 {
		return false, ""
	}
	return true, routerIP
}

func (m *Manager) probeUPnP(ctx context.Context) bool {
	controlURL, err := m.upnp.Discover(ctx)
	if err != nil {
		return false
	}
	m.setSupport(func(s *SupportCache) { s.UPnPControlURL = controlURL })

	privateIPs, err := m.GetPrivateIPs(ctx)
	if err != nil || len(privateIPs) == 0 {
		return false
	}
	err = m.upnp.AddPortMapping(ctx, controlURL, router.ProbePortUPnP, router.ProbePortUPnP, privateIPs[0], "TCP", 120)
	return err == nil
}

func (m *Manager) observeProbeDuration(proto Protocol, start time.Time) {
	if m.met != nil {
		m.met.ProbeDuration.WithLabelValues(string(proto)).Observe(time.Since(start).Seconds())
	}
}
