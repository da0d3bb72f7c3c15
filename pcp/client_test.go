package pcp

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openholepunch/portkeeper/nettest"
)

func decodeRequest(t *testing.T, payload []byte) *MapRequest {
	require.GreaterOrEqual(t, len(payload), requestSize)
	return &MapRequest{
		InternalPort:          uint16(payload[40])<<8 | uint16(payload[41]),
		SuggestedExternalPort: uint16(payload[42])<<8 | uint16(payload[43]),
	}
}

func encodeResponse(resultCode uint8, lifetime uint32, extPort uint16, extIP net.IP, nonce [12]byte) []byte {
	resp := &MapResponse{
		ResultCode:   resultCode,
		Lifetime:     lifetime,
		ExternalPort: extPort,
		ExternalIP:   extIP,
		Nonce:        nonce,
	}
	buf := make([]byte, requestSize)
	buf[0] = version
	buf[1] = opcodeMapResp
	buf[3] = resp.ResultCode
	putU32(buf, 4, resp.Lifetime)
	putU16(buf, 42, resp.ExternalPort)
	copy(buf[24:36], nonce[:])
	if v4 := extIP.To4(); v4 != nil {
		copy(buf[56:60], v4)
	}
	return buf
}

func putU16(buf []byte, offset int, v uint16) { buf[offset] = byte(v >> 8); buf[offset+1] = byte(v) }
func putU32(buf []byte, offset int, v uint32) {
	buf[offset] = byte(v >> 24)
	buf[offset+1] = byte(v >> 16)
	buf[offset+2] = byte(v >> 8)
	buf[offset+3] = byte(v)
}

func TestPCPMapSuccess(t *testing.T) {
	var sentNonce [12]byte
	fake := &nettest.FakeCapability{
		UDPHandler: func(payload []byte, dstIP net.IP, dstPort int) ([]byte, bool) {
			copy(sentNonce[:], payload[24:36])
			req := decodeRequest(t, payload)
			return encodeResponse(ResultSuccess, 120, req.SuggestedExternalPort, net.IPv4(203, 0, 113, 5), sentNonce), true
		},
	}
	client := NewClient(fake, zerolog.Nop())
	nonce, err := client.NewNonce()
	require.NoError(t, err)

	resp, err := client.Map(context.Background(), "192.168.1.1", &MapRequest{
		ClientIP:                   net.ParseIP("192.168.1.42"),
		RequestedLifetimeInSeconds: 120,
		Nonce:                      nonce,
		Protocol:                   ProtocolUDP,
		InternalPort:               4001,
		SuggestedExternalPort:      4001,
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(4001), resp.ExternalPort)
	assert.Equal(t, "203.0.113.5", FormatIP(resp.ExternalIP))
	assert.Equal(t, nonce, resp.Nonce)
}

func TestPCPDeleteNoResourcesIsSuccess(t *testing.T) {
	fake := &nettest.FakeCapability{
		UDPHandler: func(payload []byte, dstIP net.IP, dstPort int) ([]byte, bool) {
			var nonce [12]byte
			copy(nonce[:], payload[24:36])
			return encodeResponse(ResultNoResources, 0, 0, net.IPv4zero, nonce), true
		},
	}
	client := NewClient(fake, zerolog.Nop())

	resp, err := client.Map(context.Background(), "192.168.1.1", &MapRequest{
		ClientIP:                   net.ParseIP("192.168.1.42"),
		RequestedLifetimeInSeconds: 0,
		Protocol:                   ProtocolUDP,
		InternalPort:               4001,
	})
	require.NoError(t, err)
	assert.Equal(t, uint8(ResultNoResources), resp.ResultCode)
}

func TestPCPMapTimeout(t *testing.T) {
	fake := &nettest.FakeCapability{
		UDPHandler: func(payload []byte, dstIP net.IP, dstPort int) ([]byte, bool) {
			return nil, false
		},
	}
	client := NewClient(fake, zerolog.Nop())

	_, err := client.Map(context.Background(), "192.168.1.1", &MapRequest{
		ClientIP: net.ParseIP("192.168.1.42"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRouterResponse)
}
