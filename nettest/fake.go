// Package nettest provides an in-memory netcap.Capability fake for driving
// the NAT-PMP, PCP and UPnP clients against a scripted fake router in
// tests, without binding real sockets or touching a real gateway.
package nettest

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/openholepunch/portkeeper/netcap"
)

// UDPHandler computes a fake router's response to one datagram sent to
// dstIP:dstPort, or ok=false to simulate "no response" (timeout).
type UDPHandler func(payload []byte, dstIP net.IP, dstPort int) (response []byte, ok bool)

// FakeCapability is a scriptable netcap.Capability for tests. Zero value is
// usable; set the fields relevant to whichever protocol the test drives.
type FakeCapability struct {
	UDPHandler    UDPHandler
	SSDPReplies   [][]byte
	HTTPResponses map[string][]byte // keyed by URL
	SOAPResponses map[string][]byte // keyed by soapAction
	LocalIPs      []string
	LocalIPErr    error
}

var _ netcap.Capability = (*FakeCapability)(nil)

type fakeSocket struct {
	recv chan []byte
}

func (f *FakeCapability) UDPBindEphemeral() (*netcap.Socket, error) {
	return netcap.NewOpaqueSocket(&fakeSocket{recv: make(chan []byte, 4)}), nil
}

func (f *FakeCapability) UDPSendTo(socket *netcap.Socket, payload []byte, dstIP net.IP, dstPort int) error {
	if f.UDPHandler == nil {
		return fmt.Errorf("nettest: no UDPHandler configured")
	}
	resp, ok := f.UDPHandler(payload, dstIP, dstPort)
	if !ok {
		return nil // simulated silent drop; recv will time out
	}
	sock := netcap.SocketImpl(socket).(*fakeSocket)
	sock.recv <- resp
	return nil
}

func (f *FakeCapability) UDPRecvOne(ctx context.Context, socket *netcap.Socket) ([]byte, error) {
	sock := netcap.SocketImpl(socket).(*fakeSocket)
	select {
	case data := <-sock.recv:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FakeCapability) UDPClose(socket *netcap.Socket) error {
	return nil
}

func (f *FakeCapability) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *FakeCapability) LocalIPv4s(ctx context.Context) ([]string, error) {
	if f.LocalIPErr != nil {
		return nil, f.LocalIPErr
	}
	if len(f.LocalIPs) == 0 {
		return []string{"192.168.1.42"}, nil
	}
	return f.LocalIPs, nil
}

func (f *FakeCapability) SSDPSearch(ctx context.Context, message []byte, window time.Duration) ([][]byte, error) {
	return f.SSDPReplies, nil
}

func (f *FakeCapability) HTTPGet(ctx context.Context, url string) ([]byte, error) {
	if body, ok := f.HTTPResponses[url]; ok {
		return body, nil
	}
	return nil, fmt.Errorf("nettest: no fake HTTP response for %s", url)
}

func (f *FakeCapability) HTTPPostSOAP(ctx context.Context, url, soapAction string, body []byte) ([]byte, error) {
	if resp, ok := f.SOAPResponses[soapAction]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("nettest: no fake SOAP response for action %s", soapAction)
}
