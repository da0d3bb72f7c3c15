// Package pcp implements the Port Control Protocol (RFC 6887) MAP opcode:
// the 60-byte request/response codec and a client that drives it with the
// project's race(recv, timer(2s)) discipline, grounded on the same
// offset layout surveyed across the retrieved PCP reference clients.
package pcp

import (
	"fmt"
	"net"
	"strings"

	"github.com/openholepunch/portkeeper/codec"
)

// Protocol is the IP protocol number the MAP opcode is requested for.
// Exposed rather than hard-coded — see the documented default (UDP=17).
type Protocol uint8

const (
	ProtocolUDP = Protocol(17)
	ProtocolTCP = Protocol(6)

	version       = 2
	opcodeMap     = 1
	opcodeMapResp = 0x80 | opcodeMap

	ResultSuccess     = 0
	ResultNoResources = 8
)

const requestSize = 60

// MapRequest is the RFC 6887 §11.1 MAP opcode request.
type MapRequest struct {
	ClientIP                   net.IP
	RequestedLifetimeInSeconds uint32
	Nonce                      [12]byte
	Protocol                   Protocol
	InternalPort               uint16
	SuggestedExternalPort      uint16
	SuggestedExternalIP        net.IP // nil when no preference
}

func (r *MapRequest) toBytes() []byte {
	buf := codec.Build(requestSize,
		codec.Field{Width: codec.U8, Offset: 0, Value: version},
		codec.Field{Width: codec.U8, Offset: 1, Value: opcodeMap},
		codec.Field{Width: codec.U32, Offset: 4, Value: r.RequestedLifetimeInSeconds},
		codec.Field{Width: codec.U8, Offset: 36, Value: uint32(r.Protocol)},
		codec.Field{Width: codec.U16, Offset: 40, Value: uint32(r.InternalPort)},
		codec.Field{Width: codec.U16, Offset: 42, Value: uint32(r.SuggestedExternalPort)},
	)
	// client IPv4-mapped IPv6 address, bytes 8..23
	v4 := r.ClientIP.To4()
	buf[18], buf[19] = 0xff, 0xff
	copy(buf[20:24], v4)
	// nonce, bytes 24..35
	copy(buf[24:36], r.Nonce[:])
	// suggested external address, bytes 44..59 (IPv4-mapped IPv6)
	if r.SuggestedExternalIP != nil {
		if ev4 := r.SuggestedExternalIP.To4(); ev4 != nil {
			buf[54], buf[55] = 0xff, 0xff
			copy(buf[56:60], ev4)
		}
	}
	return buf
}

// MapResponse is the RFC 6887 §11.1 MAP opcode response.
type MapResponse struct {
	ResultCode   uint8
	Lifetime     uint32
	Epoch        uint32
	ExternalPort uint16
	ExternalIP   net.IP
	Nonce        [12]byte
}

func (r *MapResponse) fromBytes(bytes []byte) error {
	if err := codec.RequireLen(bytes, requestSize); err != nil {
		return err
	}
	if codec.ReadU8(bytes, 0) != version {
		return fmt.Errorf("pcp: unexpected version %d", codec.ReadU8(bytes, 0))
	}
	if codec.ReadU8(bytes, 1) != opcodeMapResp {
		return fmt.Errorf("pcp: unexpected opcode %d", codec.ReadU8(bytes, 1))
	}
	r.ResultCode = codec.ReadU8(bytes, 3)
	r.Lifetime = codec.ReadU32(bytes, 4)
	r.Epoch = codec.ReadU32(bytes, 8)
	r.ExternalPort = codec.ReadU16(bytes, 42)
	r.ExternalIP = net.IPv4(bytes[56], bytes[57], bytes[58], bytes[59])
	copy(r.Nonce[:], bytes[24:36])
	return nil
}

func resultDescription(code uint8) string {
	switch code {
	case 0:
		return "success"
	case 1:
		return "unsupported version"
	case 2:
		return "not authorized / refused"
	case 3:
		return "malformed request"
	case 4:
		return "unsupported opcode"
	case 5:
		return "unsupported option"
	case 6:
		return "malformed option"
	case 7:
		return "network failure"
	case 8:
		return "no resources"
	case 9:
		return "unsupported protocol"
	case 10:
		return "user exceeded quota"
	case 11:
		return "cannot provide external address"
	case 12:
		return "address mismatch"
	case 13:
		return "excessive remote peers"
	default:
		return "unknown result code"
	}
}

func resultError(code uint8) error {
	if code == ResultSuccess {
		return nil
	}
	return fmt.Errorf("pcp: %s (code %d)", resultDescription(code), code)
}

// FormatIP renders a PCP-carried address as a dotted quad, or "" for nil.
func FormatIP(ip net.IP) string {
	if ip == nil {
		return ""
	}
	parts := make([]string, 4)
	v4 := ip.To4()
	for i, b := range v4 {
		parts[i] = fmt.Sprintf("%d", b)
	}
	return strings.Join(parts, ".")
}
