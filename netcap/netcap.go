// Package netcap defines the I/O capability surface that the router-facing
// protocol clients and the mapping orchestrator are built against, and
// provides the default implementation backed by the real network stack.
//
// Protocol clients never dial sockets or resolve local addresses directly;
// they take a Capability at construction, the same way the teacher wires a
// concrete net.UDPConn into natpmp.Client but expressed as an interface so
// fake routers can stand in during tests.
package netcap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jackpal/gateway"
)

const (
	ssdpGroup = "239.255.255.250"
	ssdpPort  = 1900
)

// Socket is an opaque bound UDP endpoint. Exactly one Close per Bind. The
// real implementation stashes a *net.UDPConn inside it; fake capabilities
// used in tests stash whatever state they need via NewOpaqueSocket /
// SocketImpl instead of a real conn.
type Socket struct {
	conn *net.UDPConn
	impl any
}

// NewOpaqueSocket lets a Capability implementation other than Real (e.g. a
// test fake) construct a Socket wrapping its own internal state.
func NewOpaqueSocket(impl any) *Socket {
	return &Socket{impl: impl}
}

// SocketImpl returns whatever a non-Real Capability stashed via
// NewOpaqueSocket.
func SocketImpl(s *Socket) any {
	return s.impl
}

// Capability is the full set of network operations the core protocol
// components are allowed to perform. It exists so that natpmp, pcp, upnp and
// the mapping orchestrator depend on an interface rather than net.UDPConn /
// net.Dial directly.
type Capability interface {
	// UDPBindEphemeral opens a UDP/4 socket on an OS-assigned local port.
	UDPBindEphemeral() (*Socket, error)
	// UDPSendTo writes one datagram to dstIP:dstPort over socket.
	UDPSendTo(socket *Socket, payload []byte, dstIP net.IP, dstPort int) error
	// UDPRecvOne blocks for the first datagram to arrive, or until ctx is done.
	UDPRecvOne(ctx context.Context, socket *Socket) ([]byte, error)
	// UDPClose releases socket. Safe to call exactly once per socket.
	UDPClose(socket *Socket) error

	// SSDPSearch sends a multicast M-SEARCH datagram and collects unicast
	// HTTPU replies for the given window.
	SSDPSearch(ctx context.Context, message []byte, window time.Duration) ([][]byte, error)

	// HTTPGet fetches a URL body (used for UPnP device description XML).
	HTTPGet(ctx context.Context, url string) ([]byte, error)
	// HTTPPostSOAP posts a SOAP envelope and returns the response body.
	HTTPPostSOAP(ctx context.Context, url, soapAction string, body []byte) ([]byte, error)

	// LocalIPv4s enumerates host IPv4 addresses routable on the LAN.
	LocalIPv4s(ctx context.Context) ([]string, error)

	// RandomBytes fills a buffer of n cryptographically random bytes.
	RandomBytes(n int) ([]byte, error)
}

// Real is the production Capability, backed by the actual OS network stack.
type Real struct {
	httpClient *http.Client
}

// NewReal constructs the default capability implementation.
func NewReal() *Real {
	return &Real{
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *Real) UDPBindEphemeral() (*Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("netcap: bind ephemeral udp socket: %w", err)
	}
	return &Socket{conn: conn}, nil
}

func (r *Real) UDPSendTo(socket *Socket, payload []byte, dstIP net.IP, dstPort int) error {
	_, err := socket.conn.WriteToUDP(payload, &net.UDPAddr{IP: dstIP, Port: dstPort})
	if err != nil {
		return fmt.Errorf("netcap: udp send: %w", err)
	}
	return nil
}

func (r *Real) UDPRecvOne(ctx context.Context, socket *Socket) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = socket.conn.SetReadDeadline(deadline)
	}
	buf := make([]byte, 1500)
	n, _, err := socket.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, fmt.Errorf("netcap: udp recv: %w", err)
	}
	return buf[:n], nil
}

func (r *Real) UDPClose(socket *Socket) error {
	return socket.conn.Close()
}

func (r *Real) SSDPSearch(ctx context.Context, message []byte, window time.Duration) ([][]byte, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("netcap: ssdp listen: %w", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.ParseIP(ssdpGroup), Port: ssdpPort}
	if _, err := conn.WriteToUDP(message, dst); err != nil {
		return nil, fmt.Errorf("netcap: ssdp send: %w", err)
	}

	deadline := time.Now().Add(window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var replies [][]byte
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		reply := make([]byte, n)
		copy(reply, buf[:n])
		replies = append(replies, reply)
	}
	return replies, nil
}

func (r *Real) HTTPGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("netcap: build GET %s: %w", url, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("netcap: GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("netcap: read GET %s body: %w", url, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("netcap: GET %s: http %d", url, resp.StatusCode)
	}
	return body, nil
}

func (r *Real) HTTPPostSOAP(ctx context.Context, url, soapAction string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("netcap: build SOAP POST %s: %w", url, err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", soapAction)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("netcap: SOAP POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("netcap: read SOAP response from %s: %w", url, err)
	}
	// SOAP faults still arrive with a 4xx/5xx status and a fault body; the
	// caller parses the envelope to distinguish a fault from transport
	// failure, so a non-2xx status is not itself treated as an error here.
	return respBody, nil
}

func (r *Real) LocalIPv4s(ctx context.Context) ([]string, error) {
	type result struct {
		ips []string
		err error
	}
	done := make(chan result, 1)
	go func() {
		ips, err := enumerateLocalIPv4s()
		done <- result{ips, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("netcap: local ip enumeration: %w", ctx.Err())
	case res := <-done:
		return res.ips, res.err
	}
}

func enumerateLocalIPv4s() ([]string, error) {
	seen := make(map[string]bool)
	var ips []string

	if gwInterfaceIP, err := gateway.DiscoverInterface(); err == nil && gwInterfaceIP != nil {
		s := gwInterfaceIP.String()
		seen[s] = true
		ips = append(ips, s)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		if len(ips) > 0 {
			return ips, nil
		}
		return nil, fmt.Errorf("netcap: list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipNet.IP.To4()
			if v4 == nil {
				continue
			}
			s := v4.String()
			if !seen[s] {
				seen[s] = true
				ips = append(ips, s)
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("netcap: %w", ErrNoLocalIP)
	}
	return ips, nil
}

func (r *Real) RandomBytes(n int) ([]byte, error) {
	return randomBytes(n)
}
