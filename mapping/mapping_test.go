package mapping

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openholepunch/portkeeper/codec"
	"github.com/openholepunch/portkeeper/nettest"
)

// fakeNatPMPResponse builds a raw 16-byte NAT-PMP MAP response using the
// same field layout natpmp.PortMappingResponse.toBytes writes, so these
// tests can act as a scripted router without importing that package's
// unexported codec methods.
func fakeNatPMPResponse(opcode byte, resultCode, lifetime, externalPort uint32) []byte {
	return codec.Build(16,
		codec.Field{Width: codec.U8, Offset: 0, Value: 0},
		codec.Field{Width: codec.U8, Offset: 1, Value: uint32(opcode) | 0x80},
		codec.Field{Width: codec.U16, Offset: 2, Value: resultCode},
		codec.Field{Width: codec.U16, Offset: 10, Value: externalPort},
		codec.Field{Width: codec.U32, Offset: 12, Value: lifetime},
	)
}

func fakePCPResponse(resultCode, lifetime, externalPort uint32, externalIP net.IP, nonce []byte) []byte {
	buf := codec.Build(60,
		codec.Field{Width: codec.U8, Offset: 0, Value: 2},
		codec.Field{Width: codec.U8, Offset: 1, Value: 0x81},
		codec.Field{Width: codec.U8, Offset: 3, Value: resultCode},
		codec.Field{Width: codec.U32, Offset: 4, Value: lifetime},
		codec.Field{Width: codec.U16, Offset: 42, Value: externalPort},
	)
	copy(buf[24:36], nonce)
	if v4 := externalIP.To4(); v4 != nil {
		copy(buf[56:60], v4)
	}
	return buf
}

func newFakeManager(handler nettest.UDPHandler) *Manager {
	fake := &nettest.FakeCapability{UDPHandler: handler}
	return New(fake, zerolog.Nop(), nil)
}

// routeByPayloadLength dispatches to a NAT-PMP or PCP responder purely by
// wire size — 12 bytes for a NAT-PMP MAP request, 60 for a PCP one — which
// is enough to let a single fake stand in for "whichever protocol answers".
func routeByPayloadLength(natpmpResp, pcpResp func(payload []byte) ([]byte, bool)) nettest.UDPHandler {
	return func(payload []byte, dstIP net.IP, dstPort int) ([]byte, bool) {
		switch len(payload) {
		case 12:
			if natpmpResp == nil {
				return nil, false
			}
			return natpmpResp(payload)
		case 60:
			if pcpResp == nil {
				return nil, false
			}
			return pcpResp(payload)
		default:
			return nil, false
		}
	}
}

func TestAddMappingPMPSuccess(t *testing.T) {
	m := newFakeManager(routeByPayloadLength(
		func(payload []byte) ([]byte, bool) {
			opcode := payload[1]
			internalPort := codec.ReadU16(payload, 4)
			externalPort := codec.ReadU16(payload, 6)
			lifetime := codec.ReadU32(payload, 8)
			resp := fakeNatPMPResponse(opcode, 0, lifetime, uint32(externalPort))
			_ = internalPort
			return resp, true
		},
		nil,
	))

	result := m.AddMapping(context.Background(), 4000, 4000, 3600)
	require.False(t, result.Failed())
	assert.Equal(t, ProtocolNatPMP, result.Protocol)
	assert.Equal(t, int32(4000), result.ExternalPort)
	assert.Equal(t, uint32(3600), result.Lifetime)
}

func TestAddMappingPMPFailsFallsBackToPCP(t *testing.T) {
	m := newFakeManager(routeByPayloadLength(
		func(payload []byte) ([]byte, bool) {
			return nil, false // PMP never answers
		},
		func(payload []byte) ([]byte, bool) {
			internalPort := codec.ReadU16(payload, 40)
			externalPort := codec.ReadU16(payload, 42)
			lifetime := codec.ReadU32(payload, 4)
			nonce := payload[24:36]
			_ = internalPort
			return fakePCPResponse(0, lifetime, uint32(externalPort), net.IPv4(203, 0, 113, 9), nonce), true
		},
	))

	result := m.AddMapping(context.Background(), 4001, 4001, 1800)
	require.False(t, result.Failed())
	assert.Equal(t, ProtocolPCP, result.Protocol)
	assert.Equal(t, "203.0.113.9", result.ExternalIP)
	assert.Equal(t, int32(4001), result.ExternalPort)

	cache := m.GetProtocolSupportCache()
	assert.Equal(t, Unsupported, cache.NatPMP)
	assert.Equal(t, Supported, cache.PCP)
}

func TestAddMappingShortLifetimeSchedulesRefresh(t *testing.T) {
	grantedFirst := true
	m := newFakeManager(routeByPayloadLength(
		func(payload []byte) ([]byte, bool) {
			opcode := payload[1]
			externalPort := codec.ReadU16(payload, 6)
			lifetime := codec.ReadU32(payload, 8)
			granted := lifetime
			if grantedFirst {
				granted = 1 // grant far less than requested the first time
				grantedFirst = false
			}
			return fakeNatPMPResponse(opcode, 0, granted, uint32(externalPort)), true
		},
		nil,
	))

	result := m.AddMapping(context.Background(), 4002, 4002, 10)
	require.False(t, result.Failed())
	assert.Equal(t, uint32(1), result.Lifetime)

	// the granted lifetime (1s) elapses and the manager re-adds for the
	// remaining 9s on its own, without the caller calling AddMapping again.
	require.Eventually(t, func() bool {
		active := m.GetActiveMappings()
		entry, ok := active[4002]
		return ok && entry.Lifetime == uint32(9)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAddMappingStaticLifetimeSucceeds(t *testing.T) {
	m := newFakeManager(routeByPayloadLength(
		func(payload []byte) ([]byte, bool) {
			opcode := payload[1]
			externalPort := codec.ReadU16(payload, 6)
			return fakeNatPMPResponse(opcode, 0, 0, uint32(externalPort)), true
		},
		nil,
	))

	result := m.AddMapping(context.Background(), 4003, 4003, 0)
	require.False(t, result.Failed())
	assert.Equal(t, uint32(0), result.Lifetime)
	active := m.GetActiveMappings()
	_, ok := active[4003]
	assert.True(t, ok)
}

func TestDeleteMappingPCPNoResourcesCountsAsSuccess(t *testing.T) {
	m := newFakeManager(routeByPayloadLength(
		func(payload []byte) ([]byte, bool) { return nil, false },
		func(payload []byte) ([]byte, bool) {
			externalPort := codec.ReadU16(payload, 42)
			lifetime := codec.ReadU32(payload, 4)
			nonce := payload[24:36]
			resultCode := uint32(0)
			if lifetime == 0 {
				resultCode = 8 // NO_RESOURCES, the documented "already gone" delete response
			}
			return fakePCPResponse(resultCode, lifetime, uint32(externalPort), net.IPv4(203, 0, 113, 9), nonce), true
		},
	))

	added := m.AddMapping(context.Background(), 4004, 4004, 1200)
	require.False(t, added.Failed())

	ok := m.DeleteMapping(context.Background(), uint16(added.ExternalPort))
	assert.True(t, ok)
	_, stillPresent := m.GetActiveMappings()[uint16(added.ExternalPort)]
	assert.False(t, stillPresent)
}

func TestAddMappingAllProtocolsFail(t *testing.T) {
	fake := &nettest.FakeCapability{
		UDPHandler: func(payload []byte, dstIP net.IP, dstPort int) ([]byte, bool) {
			return nil, false
		},
	}
	m := New(fake, zerolog.Nop(), nil)

	result := m.AddMapping(context.Background(), 4005, 4005, 3600)
	assert.True(t, result.Failed())
	assert.NotEmpty(t, result.ErrInfo)
}

func TestCloseTearsDownActiveMappings(t *testing.T) {
	m := newFakeManager(routeByPayloadLength(
		func(payload []byte) ([]byte, bool) {
			opcode := payload[1]
			externalPort := codec.ReadU16(payload, 6)
			lifetime := codec.ReadU32(payload, 8)
			return fakeNatPMPResponse(opcode, 0, lifetime, uint32(externalPort)), true
		},
		nil,
	))

	result := m.AddMapping(context.Background(), 4006, 4006, 3600)
	require.False(t, result.Failed())
	require.Len(t, m.GetActiveMappings(), 1)

	m.Close()
	assert.Empty(t, m.GetActiveMappings())
}
