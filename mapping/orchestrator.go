package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openholepunch/portkeeper/ipaddr"
	"github.com/openholepunch/portkeeper/natpmp"
	"github.com/openholepunch/portkeeper/pcp"
	"github.com/openholepunch/portkeeper/router"
	"github.com/openholepunch/portkeeper/utility"
)

const staticRefreshInterval = 24 * time.Hour

// AddMapping opens or renews a port forwarding. It tries protocols in
// cached-preference order (or probes NAT-PMP, then PCP, then UPnP, in that
// order, the first time support is unknown), and on success schedules
// whatever refresh or expiry timer the granted lifetime calls for.
func (m *Manager) AddMapping(ctx context.Context, internalPort, suggestedExternalPort uint16, lifetime uint32) Mapping {
	privateIPs, err := m.GetPrivateIPs(ctx)
	if err != nil || len(privateIPs) == 0 {
		return failedMapping("", internalPort, fmt.Sprintf("no local ip available: %v", err))
	}
	fallbackInternalIP := privateIPs[0]

	result, err := m.tryProtocols(ctx, privateIPs, internalPort, suggestedExternalPort, lifetime)
	if err != nil {
		m.log.Warn().Err(err).Uint16("internalPort", internalPort).Msg("addMapping: all protocols failed")
		reason := "No protocols are supported from last probe"
		if !errors.Is(err, ErrAllProtocolsFailed) {
			reason = err.Error()
		}
		return failedMapping(fallbackInternalIP, internalPort, reason)
	}

	// The router now holds a live mapping; registering it locally (cache +
	// timer) is a second step that must not leave that mapping orphaned at
	// the router if it fails, so it's wrapped the way the teacher wraps its
	// own two-step router-then-local operations.
	txn := utility.NewTransaction()
	txn.AddRollback(func() error {
		deleteCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return m.deleterFor(result.mapping)(deleteCtx)
	})

	m.rememberRouterIP(result.routerIP)
	if err := m.scheduleMapping(ctx, internalPort, lifetime, *result); err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			m.log.Warn().Err(rbErr).Msg("addMapping: rollback of orphaned router mapping failed")
		}
		return failedMapping(result.mapping.InternalIP, internalPort, fmt.Sprintf("schedule failed: %v", err))
	}
	_ = txn.Commit()
	return result.mapping
}

type addResult struct {
	mapping  Mapping
	routerIP string
}

// tryProtocols dispatches to the known-supported protocol directly, or walks
// NAT-PMP → PCP → UPnP in order when support is still unknown, stopping at
// the first success and recording the outcome of every probe it performs
// along the way.
func (m *Manager) tryProtocols(ctx context.Context, privateIPs []string, internalPort, suggestedExternalPort uint16, lifetime uint32) (*addResult, error) {
	support := m.supportSnapshot()

	if support.NatPMP == Unsupported && support.PCP == Unsupported && support.UPnP == Unsupported {
		return nil, fmt.Errorf("mapping: %w", ErrAllProtocolsFailed)
	}

	order := []Protocol{ProtocolNatPMP, ProtocolPCP, ProtocolUPnP}
	if support.NatPMP == Supported {
		order = []Protocol{ProtocolNatPMP}
	} else if support.PCP == Supported {
		order = []Protocol{ProtocolPCP}
	} else if support.UPnP == Supported {
		order = []Protocol{ProtocolUPnP}
	}

	var lastErr error
	for _, proto := range order {
		switch proto {
		case ProtocolNatPMP:
			if support.NatPMP == Unsupported {
				continue
			}
			res, err := m.addViaNatPMP(ctx, privateIPs, internalPort, suggestedExternalPort, lifetime)
			if err == nil {
				m.setSupport(func(s *SupportCache) { s.NatPMP = Supported })
				return res, nil
			}
			m.setSupport(func(s *SupportCache) { s.NatPMP = Unsupported })
			lastErr = err
		case ProtocolPCP:
			if support.PCP == Unsupported {
				continue
			}
			res, err := m.addViaPCP(ctx, privateIPs, internalPort, suggestedExternalPort, lifetime)
			if err == nil {
				m.setSupport(func(s *SupportCache) { s.PCP = Supported })
				return res, nil
			}
			m.setSupport(func(s *SupportCache) { s.PCP = Unsupported })
			lastErr = err
		case ProtocolUPnP:
			if support.UPnP == Unsupported {
				continue
			}
			res, err := m.addViaUPnP(ctx, privateIPs, internalPort, suggestedExternalPort, lifetime)
			if err == nil {
				m.setSupport(func(s *SupportCache) { s.UPnP = Supported })
				return res, nil
			}
			m.setSupport(func(s *SupportCache) { s.UPnP = Unsupported })
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = ErrAllProtocolsFailed
	}
	return nil, lastErr
}

func (m *Manager) waves(privateIPs []string) (matched, other []string) {
	return router.Waves(m.routerIPCacheSnapshot(), privateIPs)
}

func (m *Manager) addViaNatPMP(ctx context.Context, privateIPs []string, internalPort, extPort uint16, lifetime uint32) (*addResult, error) {
	m.recordAttempt(ProtocolNatPMP, "add")
	matched, other := m.waves(privateIPs)

	buildReq := func(routerIP string) *natpmp.PortMappingRequest {
		return &natpmp.PortMappingRequest{
			Protocol:                   natpmp.ProtocolTCP,
			InternalPort:               internalPort,
			SuggestedExternalPort:      extPort,
			RequestedLifetimeInSeconds: lifetime,
		}
	}
	routerIP, resp, err := m.natpmp.AddMappingWave(ctx, matched, other, buildReq)
	if err != nil {
		return nil, fmt.Errorf("natpmp: %w", err)
	}
	m.recordSuccess(ProtocolNatPMP, "add")

	internalIP, _ := ipaddr.LongestPrefixMatch(privateIPs, routerIP)
	return &addResult{
		routerIP: routerIP,
		mapping: Mapping{
			InternalIP:   internalIP,
			InternalPort: resp.InternalPort,
			ExternalPort: int32(resp.ExternalPort),
			Lifetime:     resp.Lifetime,
			Protocol:     ProtocolNatPMP,
			TimerHandle:  uuid.New(),
		},
	}, nil
}

func (m *Manager) addViaPCP(ctx context.Context, privateIPs []string, internalPort, extPort uint16, lifetime uint32) (*addResult, error) {
	m.recordAttempt(ProtocolPCP, "add")
	matched, other := m.waves(privateIPs)

	nonce, err := m.pcp.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("pcp: %w", err)
	}

	buildReq := func(routerIP string) *pcp.MapRequest {
		localIP, _ := ipaddr.LongestPrefixMatch(privateIPs, routerIP)
		if localIP == "" {
			localIP = privateIPs[0]
		}
		return &pcp.MapRequest{
			ClientIP:                   parseIP(localIP),
			RequestedLifetimeInSeconds: lifetime,
			Nonce:                      nonce,
			Protocol:                   pcp.ProtocolUDP,
			InternalPort:               internalPort,
			SuggestedExternalPort:      extPort,
		}
	}
	routerIP, resp, err := m.pcp.MapWave(ctx, matched, other, buildReq)
	if err != nil {
		return nil, fmt.Errorf("pcp: %w", err)
	}
	m.recordSuccess(ProtocolPCP, "add")

	internalIP, _ := ipaddr.LongestPrefixMatch(privateIPs, routerIP)
	return &addResult{
		routerIP: routerIP,
		mapping: Mapping{
			InternalIP:   internalIP,
			InternalPort: internalPort,
			ExternalIP:   pcp.FormatIP(resp.ExternalIP),
			ExternalPort: int32(resp.ExternalPort),
			Lifetime:     resp.Lifetime,
			Protocol:     ProtocolPCP,
			Nonce:        nonce,
			TimerHandle:  uuid.New(),
		},
	}, nil
}

func (m *Manager) addViaUPnP(ctx context.Context, privateIPs []string, internalPort, extPort uint16, lifetime uint32) (*addResult, error) {
	m.recordAttempt(ProtocolUPnP, "add")

	controlURL := m.supportSnapshot().UPnPControlURL
	if controlURL == "" {
		discovered, err := m.upnp.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("upnp: %w", err)
		}
		controlURL = discovered
		m.setSupport(func(s *SupportCache) { s.UPnPControlURL = controlURL })
	}

	internalIP := privateIPs[0]
	if err := m.upnp.AddPortMapping(ctx, controlURL, int(extPort), int(internalPort), internalIP, "TCP", lifetime); err != nil {
		return nil, err
	}
	m.recordSuccess(ProtocolUPnP, "add")

	return &addResult{
		routerIP: controlURLHost(controlURL),
		mapping: Mapping{
			InternalIP:   internalIP,
			InternalPort: internalPort,
			ExternalPort: int32(extPort),
			Lifetime:     lifetime,
			Protocol:     ProtocolUPnP,
			TimerHandle:  uuid.New(),
		},
	}, nil
}

// scheduleMapping arms whichever timer the granted lifetime calls for and
// installs the registry entry. Exactly one of (refresh timer, expiry timer)
// is armed at a time, per the state-machine invariant.
func (m *Manager) scheduleMapping(ctx context.Context, internalPort uint16, requested uint32, res addResult) error {
	if err := m.ctx.Err(); err != nil {
		return fmt.Errorf("manager closed: %w", err)
	}
	granted := res.mapping.Lifetime
	externalPort := uint16(res.mapping.ExternalPort)

	var timer *time.Timer
	switch {
	case requested == 0:
		timer = time.AfterFunc(staticRefreshInterval, func() {
			m.refresh(internalPort, externalPort, 0)
		})
	case granted < requested:
		remaining := requested - granted
		delay := time.Duration(granted) * time.Second
		timer = time.AfterFunc(delay, func() {
			m.refresh(internalPort, externalPort, remaining)
		})
	default:
		delay := time.Duration(granted) * time.Second
		timer = time.AfterFunc(delay, func() {
			m.expire(externalPort)
		})
	}

	e := &entry{
		mapping: res.mapping,
		timer:   timer,
		deleter: m.deleterFor(res.mapping),
	}
	m.putEntry(externalPort, e)
	return nil
}

func (m *Manager) refresh(internalPort, externalPort uint16, remainingLifetime uint32) {
	select {
	case <-m.ctx.Done():
		return
	default:
	}
	m.log.Debug().Uint16("externalPort", externalPort).Msg("mapping: refreshing before expiry")
	m.AddMapping(m.ctx, internalPort, externalPort, remainingLifetime)
}

func (m *Manager) expire(externalPort uint16) {
	if e, ok := m.takeEntry(externalPort); ok {
		m.log.Debug().Uint16("externalPort", externalPort).Msg("mapping: lifetime elapsed, evicting")
		_ = e
	}
}

func (m *Manager) deleterFor(mapping Mapping) func(ctx context.Context) error {
	switch mapping.Protocol {
	case ProtocolNatPMP:
		return func(ctx context.Context) error {
			matched, other := m.waves([]string{mapping.InternalIP})
			buildReq := func(string) *natpmp.PortMappingRequest {
				return &natpmp.PortMappingRequest{
					Protocol:              natpmp.ProtocolTCP,
					InternalPort:           mapping.InternalPort,
					SuggestedExternalPort:  uint16(mapping.ExternalPort),
					RequestedLifetimeInSeconds: 0,
				}
			}
			_, _, err := m.natpmp.AddMappingWave(ctx, matched, other, buildReq)
			return err
		}
	case ProtocolPCP:
		return func(ctx context.Context) error {
			matched, other := m.waves([]string{mapping.InternalIP})
			buildReq := func(string) *pcp.MapRequest {
				return &pcp.MapRequest{
					ClientIP:                   parseIP(mapping.InternalIP),
					RequestedLifetimeInSeconds: 0,
					Nonce:                      mapping.Nonce,
					Protocol:                   pcp.ProtocolUDP,
					InternalPort:               mapping.InternalPort,
					SuggestedExternalPort:      0,
				}
			}
			_, _, err := m.pcp.MapWave(ctx, matched, other, buildReq)
			return err
		}
	case ProtocolUPnP:
		return func(ctx context.Context) error {
			controlURL := m.supportSnapshot().UPnPControlURL
			return m.upnp.DeletePortMapping(ctx, controlURL, int(mapping.ExternalPort), "TCP")
		}
	default:
		return func(ctx context.Context) error { return nil }
	}
}

func (m *Manager) recordAttempt(proto Protocol, op string) {
	if m.met != nil {
		m.met.ProtocolAttempts.WithLabelValues(string(proto), op).Inc()
	}
}

func (m *Manager) recordSuccess(proto Protocol, op string) {
	if m.met != nil {
		m.met.ProtocolSuccess.WithLabelValues(string(proto), op).Inc()
	}
}
