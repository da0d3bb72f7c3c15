package natpmp

import (
	"context"
	"fmt"
	"sync"
)

// mapResult pairs a successful response with the router IP that sent it —
// the orchestrator needs the IP to seed the router-IP cache.
type mapResult struct {
	routerIP string
	resp     *PortMappingResponse
}

// RequestBuilder produces the request to send to a specific router
// candidate — callers use this to pick the best local IP per-candidate via
// longest-prefix match before the packet is built.
type RequestBuilder func(routerIP string) *PortMappingRequest

// AddMappingWave tries buildReq against every IP in matched in parallel; if
// none answers, it falls through to other. Returns as soon as any one
// candidate succeeds, the same "first success wins, losers are abandoned"
// rule the project applies to every wave-based protocol.
func (c *Client) AddMappingWave(ctx context.Context, matched, other []string, buildReq RequestBuilder) (string, *PortMappingResponse, error) {
	if ip, resp, err := c.firstSuccess(ctx, matched, buildReq); err == nil {
		return ip, resp, nil
	}
	if len(other) == 0 {
		return "", nil, fmt.Errorf("nat-pmp: %w", ErrNoRouterResponse)
	}
	return c.firstSuccess(ctx, other, buildReq)
}

func (c *Client) firstSuccess(ctx context.Context, candidates []string, buildReq RequestBuilder) (string, *PortMappingResponse, error) {
	if len(candidates) == 0 {
		return "", nil, fmt.Errorf("nat-pmp: %w", ErrNoRouterResponse)
	}

	waveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan mapResult, len(candidates))
	var wg sync.WaitGroup
	wg.Add(len(candidates))
	for _, ip := range candidates {
		go func(routerIP string) {
			defer wg.Done()
			resp, err := c.AddMapping(waveCtx, routerIP, buildReq(routerIP))
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
			return "", nil, fmt.Errorf("nat-pmp: %w", ErrNoRouterResponse)
		}
	case <-ctx.Done():
		return "", nil, fmt.Errorf("nat-pmp: %w", ctx.Err())
	}
}
