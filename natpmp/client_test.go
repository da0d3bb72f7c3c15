package natpmp

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/rs/zerolog"

	"github.com/openholepunch/portkeeper/nettest"
)

func TestAddMappingSuccess(t *testing.T) {
	fake := &nettest.FakeCapability{
		UDPHandler: func(payload []byte, dstIP net.IP, dstPort int) ([]byte, bool) {
			req := &PortMappingRequest{}
			require.NoError(t, req.fromBytes(payload))
			resp := &PortMappingResponse{
				ResultCode:   ResultSuccess,
				Epoch:        1,
				InternalPort: req.InternalPort,
				ExternalPort: req.SuggestedExternalPort,
				Lifetime:     7200,
			}
			return resp.toBytes(protocolOpcodeMap[req.Protocol]), true
		},
	}
	client := NewClient(fake, zerolog.Nop())

	resp, err := client.AddMapping(context.Background(), "192.168.1.1", &PortMappingRequest{
		Protocol:                   ProtocolTCP,
		InternalPort:               4000,
		SuggestedExternalPort:      4000,
		RequestedLifetimeInSeconds: 7200,
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(4000), resp.ExternalPort)
	assert.Equal(t, uint32(7200), resp.Lifetime)
}

func TestAddMappingTimeout(t *testing.T) {
	fake := &nettest.FakeCapability{
		UDPHandler: func(payload []byte, dstIP net.IP, dstPort int) ([]byte, bool) {
			return nil, false
		},
	}
	client := NewClient(fake, zerolog.Nop())

	_, err := client.AddMapping(context.Background(), "192.168.1.1", &PortMappingRequest{
		Protocol:                   ProtocolTCP,
		InternalPort:               4000,
		SuggestedExternalPort:      4000,
		RequestedLifetimeInSeconds: 7200,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRouterResponse)
}

func TestAddMappingWavePrefersMatched(t *testing.T) {
	fake := &nettest.FakeCapability{
		UDPHandler: func(payload []byte, dstIP net.IP, dstPort int) ([]byte, bool) {
			if dstIP.String() != "192.168.1.1" {
				return nil, false
			}
			req := &PortMappingRequest{}
			require.NoError(t, req.fromBytes(payload))
			resp := &PortMappingResponse{
				ResultCode:   ResultSuccess,
				InternalPort: req.InternalPort,
				ExternalPort: req.SuggestedExternalPort,
				Lifetime:     3600,
			}
			return resp.toBytes(protocolOpcodeMap[req.Protocol]), true
		},
	}
	client := NewClient(fake, zerolog.Nop())

	buildReq := func(routerIP string) *PortMappingRequest {
		return &PortMappingRequest{
			Protocol:                   ProtocolTCP,
			InternalPort:               4000,
			SuggestedExternalPort:      4000,
			RequestedLifetimeInSeconds: 3600,
		}
	}
	routerIP, resp, err := client.AddMappingWave(context.Background(),
		[]string{"10.0.0.1", "192.168.1.1"}, []string{"192.168.0.1"}, buildReq)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", routerIP)
	assert.Equal(t, uint16(4000), resp.ExternalPort)
}
