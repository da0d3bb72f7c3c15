// Package mapping implements the protocol-agnostic port-mapping API: a
// registry of active mappings, per-mapping refresh/expiry timers, and the
// NAT-PMP → PCP → UPnP fallback orchestrator that drives them. It is the
// only package a host application needs to import.
package mapping

import (
	"github.com/google/uuid"
)

// Protocol identifies which wire protocol produced a Mapping.
type Protocol string

const (
	ProtocolNatPMP Protocol = "natPmp"
	ProtocolPCP    Protocol = "pcp"
	ProtocolUPnP   Protocol = "upnp"
)

// FailedExternalPort is the sentinel ExternalPort value for a Mapping that
// never got past the router — see Mapping.Failed.
const FailedExternalPort = -1

// Mapping is the result of addMapping and an entry in getActiveMappings.
type Mapping struct {
	InternalIP   string
	InternalPort uint16
	ExternalIP   string // set only for PCP
	ExternalPort int32  // FailedExternalPort on failure
	Lifetime     uint32 // router-granted seconds; 0 means static
	Protocol     Protocol
	Nonce        [12]byte // PCP only
	TimerHandle  uuid.UUID
	ErrInfo      string
}

// Failed reports whether this Mapping represents a failed add.
func (m Mapping) Failed() bool {
	return m.ExternalPort == FailedExternalPort
}

// TriState is the three-valued outcome of a protocol-support probe.
type TriState int

const (
	Unknown TriState = iota
	Supported
	Unsupported
)

// SupportCache is the tri-state protocol-support cache plus the UPnP
// control URL discovered while probing, if any.
type SupportCache struct {
	NatPMP         TriState
	PCP            TriState
	UPnP           TriState
	UPnPControlURL string
}

func failedMapping(internalIP string, internalPort uint16, reason string) Mapping {
	return Mapping{
		InternalIP:   internalIP,
		InternalPort: internalPort,
		ExternalPort: FailedExternalPort,
		ErrInfo:      reason,
	}
}
