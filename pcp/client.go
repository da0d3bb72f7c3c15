package pcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openholepunch/portkeeper/netcap"
)

const (
	gatewayPort    = 5351
	requestTimeout = 2 * time.Second
)

// Client drives the PCP MAP opcode against candidate router IPs using an
// injected netcap.Capability, mirroring natpmp.Client's shape.
type Client struct {
	cap netcap.Capability
	log zerolog.Logger
}

func NewClient(cap netcap.Capability, log zerolog.Logger) *Client {
	return &Client{cap: cap, log: log.With().Str("component", "pcp-client").Logger()}
}

// NewNonce mints a fresh 96-bit nonce for a new mapping. The same nonce must
// be reused on delete — PCP uses it to authenticate the deleter.
func (c *Client) NewNonce() ([12]byte, error) {
	var nonce [12]byte
	raw, err := c.cap.RandomBytes(12)
	if err != nil {
		return nonce, fmt.Errorf("pcp: generate nonce: %w", err)
	}
	copy(nonce[:], raw)
	return nonce, nil
}

// Map issues a single MAP request against routerIP. A NO_RESOURCES result
// counts as success only for a delete (requested lifetime 0).
func (c *Client) Map(ctx context.Context, routerIP string, req *MapRequest) (*MapResponse, error) {
	respData, err := c.sendReceive(ctx, routerIP, req.toBytes())
	if err != nil {
		return nil, err
	}
	resp := &MapResponse{}
	if err := resp.fromBytes(respData); err != nil {
		return nil, fmt.Errorf("pcp: decode map response: %w", err)
	}
	noResourcesOnDelete := resp.ResultCode == ResultNoResources && req.RequestedLifetimeInSeconds == 0
	if resp.ResultCode != ResultSuccess && !noResourcesOnDelete {
		return resp, resultError(resp.ResultCode)
	}
	return resp, nil
}

func (c *Client) sendReceive(ctx context.Context, routerIP string, payload []byte) ([]byte, error) {
	ip := net.ParseIP(routerIP)
	if ip == nil {
		return nil, fmt.Errorf("pcp: invalid router ip %q", routerIP)
	}

	socket, err := c.cap.UDPBindEphemeral()
	if err != nil {
		return nil, fmt.Errorf("pcp: bind socket: %w", err)
	}
	defer c.cap.UDPClose(socket)

	if err := c.cap.UDPSendTo(socket, payload, ip, gatewayPort); err != nil {
		return nil, fmt.Errorf("pcp: send to %s: %w", routerIP, err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	data, err := c.cap.UDPRecvOne(recvCtx, socket)
	if err != nil {
		c.log.Debug().Str("router", routerIP).Msg("pcp: no response within timeout")
		return nil, fmt.Errorf("pcp: %w: no response from %s", ErrNoRouterResponse, routerIP)
	}
	return data, nil
}

type mapResult struct {
	routerIP string
	resp     *MapResponse
}

// RequestBuilder produces the request to send to a specific router
// candidate — callers use this to pick the best local IP per-candidate via
// longest-prefix match before the packet is built.
type RequestBuilder func(routerIP string) *MapRequest

// MapWave tries buildReq against matched candidates in parallel, falling
// through to other only if matched yields nothing — the same fan-out rule
// natpmp applies.
func (c *Client) MapWave(ctx context.Context, matched, other []string, buildReq RequestBuilder) (string, *MapResponse, error) {
	if ip, resp, err := c.firstSuccess(ctx, matched, buildReq); err == nil {
		return ip, resp, nil
	}
	if len(other) == 0 {
		return "", nil, fmt.Errorf("pcp: %w", ErrNoRouterResponse)
	}
	return c.firstSuccess(ctx, other, buildReq)
}

func (c *Client) firstSuccess(ctx context.Context, candidates []string, buildReq RequestBuilder) (string, *MapResponse, error) {
	if len(candidates) == 0 {
		return "", nil, fmt.Errorf("pcp: %w", ErrNoRouterResponse)
	}

	waveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan mapResult, len(candidates))
	var wg sync.WaitGroup
	wg.Add(len(candidates))
	for _, ip := range candidates {
		go func(routerIP string) {
			defer wg.Done()
			resp, err := c.Map(waveCtx, routerIP, buildReq(routerIP))
			if err != nil {
				return
			}
			select {
			case results <- mapResult{routerIP: routerIP, resp: resp}:
			case <-waveCtx.Done():
			}
		}(ip)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case res := <-results:
		return res.routerIP, res.resp, nil
	case <-allDone:
		select {
		case res := <-results:
			return res.routerIP, res.resp, nil
		default:
			return "", nil, fmt.Errorf("pcp: %w", ErrNoRouterResponse)
		}
	case <-ctx.Done():
		return "", nil, fmt.Errorf("pcp: %w", ctx.Err())
	}
}
