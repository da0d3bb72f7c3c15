package mapping

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openholepunch/portkeeper/metrics"
	"github.com/openholepunch/portkeeper/natpmp"
	"github.com/openholepunch/portkeeper/netcap"
	"github.com/openholepunch/portkeeper/pcp"
	"github.com/openholepunch/portkeeper/upnp"
)

// entry is the registry's internal record: the public Mapping plus the
// scheduling/teardown state callers never see directly.
type entry struct {
	mapping Mapping
	timer   *time.Timer
	deleter func(ctx context.Context) error
}

// Manager is the protocol-agnostic mapping API described by this package's
// public methods: AddMapping, DeleteMapping, ProbeProtocolSupport,
// GetActiveMappings, GetRouterIPCache, GetProtocolSupportCache,
// GetPrivateIPs and Close.
type Manager struct {
	cap netcap.Capability
	log zerolog.Logger
	met *metrics.Metrics

	natpmp *natpmp.Client
	pcp    *pcp.Client
	upnp   *upnp.Client

	mu            sync.RWMutex
	registry      map[uint16]*entry
	routerIPCache []string
	support       SupportCache

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Manager with the given capability surface. cap is
// usually netcap.NewReal() in production and a fake in tests.
func New(cap netcap.Capability, log zerolog.Logger, met *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cap:      cap,
		log:      log.With().Str("component", "mapping-manager").Logger(),
		met:      met,
		natpmp:   natpmp.NewClient(cap, log),
		pcp:      pcp.NewClient(cap, log),
		upnp:     upnp.NewClient(cap, log),
		registry: make(map[uint16]*entry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// GetActiveMappings returns a copy of the current registry, keyed by
// external port.
func (m *Manager) GetActiveMappings() map[uint16]Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint16]Mapping, len(m.registry))
	for port, e := range m.registry {
		out[port] = e.mapping
	}
	return out
}

// GetRouterIPCache returns a copy of the known-good router IP list.
func (m *Manager) GetRouterIPCache() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.routerIPCache))
	copy(out, m.routerIPCache)
	return out
}

// GetProtocolSupportCache returns a copy of the tri-state support cache.
func (m *Manager) GetProtocolSupportCache() SupportCache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.support
}

// GetPrivateIPs returns the host's own LAN IPv4 addresses via the injected
// capability's local-IP enumeration, bounded by a 2s timeout.
func (m *Manager) GetPrivateIPs(ctx context.Context) ([]string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return m.cap.LocalIPv4s(probeCtx)
}

func (m *Manager) rememberRouterIP(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.routerIPCache {
		if existing == ip {
			return
		}
	}
	m.routerIPCache = append(m.routerIPCache, ip)
}

func (m *Manager) routerIPCacheSnapshot() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.routerIPCache))
	copy(out, m.routerIPCache)
	return out
}

func (m *Manager) supportSnapshot() SupportCache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.support
}

func (m *Manager) setSupport(update func(*SupportCache)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(&m.support)
}

func (m *Manager) putEntry(externalPort uint16, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.registry[externalPort]; ok && old.timer != nil {
		old.timer.Stop()
	}
	m.registry[externalPort] = e
	if m.met != nil {
		m.met.ActiveMappings.Set(float64(len(m.registry)))
	}
}

func (m *Manager) takeEntry(externalPort uint16) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.registry[externalPort]
	if !ok {
		return nil, false
	}
	delete(m.registry, externalPort)
	if m.met != nil {
		m.met.ActiveMappings.Set(float64(len(m.registry)))
	}
	return e, true
}

func (m *Manager) registryKeys() []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]uint16, 0, len(m.registry))
	for port := range m.registry {
		keys = append(keys, port)
	}
	return keys
}
