package natpmp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/openholepunch/portkeeper/netcap"
)

const (
	gatewayPort  = 5351
	requestTimeout = 2 * time.Second
)

// Client drives the NAT-PMP codec against candidate router IPs using an
// injected netcap.Capability instead of dialing net.UDPConn directly, so
// tests can substitute a fake router.
type Client struct {
	cap netcap.Capability
	log zerolog.Logger
}

func NewClient(cap netcap.Capability, log zerolog.Logger) *Client {
	return &Client{cap: cap, log: log.With().Str("component", "natpmp-client").Logger()}
}

// GetExternalAddress asks routerIP for its external address.
func (c *Client) GetExternalAddress(ctx context.Context, routerIP string) (*ExternalAddressResponse, error) {
	respData, err := c.sendReceive(ctx, routerIP, publicAddressRequest())
	if err != nil {
		return nil, err
	}
	if len(respData) < 2 || respData[0] != 0 || respData[1] != byte(opcodePublicAddress)|0x80 {
		return nil, fmt.Errorf("nat-pmp: malformed external-address response")
	}
	resp := &ExternalAddressResponse{}
	if err := resp.fromBytes(respData); err != nil {
		return nil, fmt.Errorf("nat-pmp: decode external-address response: %w", err)
	}
	if resp.ResultCode != ResultSuccess {
		return resp, resultError(resp.ResultCode)
	}
	return resp, nil
}

// AddMapping issues a single MAP request against routerIP and returns the
// parsed response. lifetime == 0 is a deletion request.
func (c *Client) AddMapping(ctx context.Context, routerIP string, req *PortMappingRequest) (*PortMappingResponse, error) {
	respData, err := c.sendReceive(ctx, routerIP, req.toBytes())
	if err != nil {
		return nil, err
	}
	wantOpcode := byte(protocolOpcodeMap[req.Protocol]) | 0x80
	if len(respData) < 2 || respData[0] != 0 || respData[1] != wantOpcode {
		return nil, fmt.Errorf("nat-pmp: malformed mapping response")
	}
	resp := &PortMappingResponse{}
	if err := resp.fromBytes(req.Protocol, respData); err != nil {
		return nil, fmt.Errorf("nat-pmp: decode mapping response: %w", err)
	}
	if resp.ResultCode != ResultSuccess {
		return resp, resultError(resp.ResultCode)
	}
	return resp, nil
}

// sendReceive implements the race(recv, timer(2s)) pattern: bind an ephemeral
// socket, send once, wait for either a reply or the timeout, and release the
// socket exactly once on every exit path.
func (c *Client) sendReceive(ctx context.Context, routerIP string, payload []byte) ([]byte, error) {
	ip := net.ParseIP(routerIP)
	if ip == nil {
		return nil, fmt.Errorf("nat-pmp: invalid router ip %q", routerIP)
	}

	socket, err := c.cap.UDPBindEphemeral()
	if err != nil {
		return nil, fmt.Errorf("nat-pmp: bind socket: %w", err)
	}
	defer c.cap.UDPClose(socket)

	if err := c.cap.UDPSendTo(socket, payload, ip, gatewayPort); err != nil {
		return nil, fmt.Errorf("nat-pmp: send to %s: %w", routerIP, err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	data, err := c.cap.UDPRecvOne(recvCtx, socket)
	if err != nil {
		c.log.Debug().Str("router", routerIP).Msg("nat-pmp: no response within timeout")
		return nil, fmt.Errorf("nat-pmp: %w: no response from %s", ErrNoRouterResponse, routerIP)
	}
	return data, nil
}
