// Package natpmp implements the NAT-PMP (RFC 6886) wire codec and a client
// that drives it against a candidate set of router IPs with the project's
// standard "race the reply against a 2s timer, release the socket exactly
// once" discipline.
package natpmp

import (
	"fmt"
	"net"

	"github.com/openholepunch/portkeeper/codec"
)

type opCode uint8

// Protocol selects which NAT-PMP map opcode a mapping request uses. Both
// opcodes are exposed on Client rather than the package silently picking
// one — see the orchestrator's documented default (TCP) for why.
type Protocol uint8

type Result uint16

const (
	ProtocolUDP = Protocol(1)
	ProtocolTCP = Protocol(2)

	opcodePublicAddress = opCode(0)
	opcodeMapUDP         = opCode(1)
	opcodeMapTCP         = opCode(2)

	ResultSuccess            = Result(0)
	ResultUnsupportedVersion = Result(1)
	ResultNotAuthorized      = Result(2)
	ResultNetworkFailure     = Result(3)
	ResultOutOfResources     = Result(4)
	ResultUnsupportedOpcode  = Result(5)
)

var (
	protocolOpcodeMap = map[Protocol]opCode{
		ProtocolUDP: opcodeMapUDP,
		ProtocolTCP: opcodeMapTCP,
	}
)

// PortMappingRequest is the 12-byte MAP request (RFC 6886 §3.3).
type PortMappingRequest struct {
	Protocol                   Protocol
	InternalPort               uint16
	SuggestedExternalPort      uint16
	RequestedLifetimeInSeconds uint32
}

func (p *PortMappingRequest) toBytes() []byte {
	return codec.Build(12,
		codec.Field{Width: codec.U8, Offset: 0, Value: 0},
		codec.Field{Width: codec.U8, Offset: 1, Value: uint32(protocolOpcodeMap[p.Protocol])},
		codec.Field{Width: codec.U16, Offset: 4, Value: uint32(p.InternalPort)},
		codec.Field{Width: codec.U16, Offset: 6, Value: uint32(p.SuggestedExternalPort)},
		codec.Field{Width: codec.U32, Offset: 8, Value: p.RequestedLifetimeInSeconds},
	)
}

func (p *PortMappingRequest) fromBytes(bytes []byte) error {
	if err := codec.RequireLen(bytes, 12); err != nil {
		return err
	}
	proto, ok := opcodeToProtocol(opCode(bytes[1]))
	if !ok {
		return fmt.Errorf("nat-pmp: unknown request opcode %d", bytes[1])
	}
	p.Protocol = proto
	p.InternalPort = codec.ReadU16(bytes, 4)
	p.SuggestedExternalPort = codec.ReadU16(bytes, 6)
	p.RequestedLifetimeInSeconds = codec.ReadU32(bytes, 8)
	return nil
}

func opcodeToProtocol(op opCode) (Protocol, bool) {
	for proto, code := range protocolOpcodeMap {
		if code == op {
			return proto, true
		}
	}
	return 0, false
}

// PortMappingResponse is the 16-byte MAP response (RFC 6886 §3.3).
type PortMappingResponse struct {
	Protocol     Protocol
	ResultCode   Result
	Epoch        uint32
	InternalPort uint16
	ExternalPort uint16
	Lifetime     uint32
}

func (p *PortMappingResponse) toBytes(opcode opCode) []byte {
	return codec.Build(16,
		codec.Field{Width: codec.U8, Offset: 0, Value: 0},
		codec.Field{Width: codec.U8, Offset: 1, Value: uint32(opcode) | 0x80},
		codec.Field{Width: codec.U16, Offset: 2, Value: uint32(p.ResultCode)},
		codec.Field{Width: codec.U32, Offset: 4, Value: p.Epoch},
		codec.Field{Width: codec.U16, Offset: 8, Value: uint32(p.InternalPort)},
		codec.Field{Width: codec.U16, Offset: 10, Value: uint32(p.ExternalPort)},
		codec.Field{Width: codec.U32, Offset: 12, Value: p.Lifetime},
	)
}

func (p *PortMappingResponse) fromBytes(requestProtocol Protocol, bytes []byte) error {
	if err := codec.RequireLen(bytes, 16); err != nil {
		return err
	}
	p.Protocol = requestProtocol
	p.ResultCode = Result(codec.ReadU16(bytes, 2))
	p.Epoch = codec.ReadU32(bytes, 4)
	p.InternalPort = codec.ReadU16(bytes, 8)
	p.ExternalPort = codec.ReadU16(bytes, 10)
	p.Lifetime = codec.ReadU32(bytes, 12)
	return nil
}

// ExternalAddressResponse is the response to the 2-byte public-address probe.
type ExternalAddressResponse struct {
	ResultCode      Result
	Epoch           uint32
	ExternalAddress net.IP
}

func (e *ExternalAddressResponse) fromBytes(bytes []byte) error {
	if err := codec.RequireLen(bytes, 12); err != nil {
		return err
	}
	e.ResultCode = Result(codec.ReadU16(bytes, 2))
	e.Epoch = codec.ReadU32(bytes, 4)
	e.ExternalAddress = net.IPv4(bytes[8], bytes[9], bytes[10], bytes[11])
	return nil
}

func publicAddressRequest() []byte {
	return codec.Build(2,
		codec.Field{Width: codec.U8, Offset: 0, Value: 0},
		codec.Field{Width: codec.U8, Offset: 1, Value: uint32(opcodePublicAddress)},
	)
}

func resultError(code Result) error {
	switch code {
	case ResultSuccess:
		return nil
	case ResultUnsupportedVersion:
		return fmt.Errorf("nat-pmp: unsupported version")
	case ResultNotAuthorized:
		return fmt.Errorf("nat-pmp: not authorized")
	case ResultNetworkFailure:
		return fmt.Errorf("nat-pmp: network failure")
	case ResultOutOfResources:
		return fmt.Errorf("nat-pmp: out of resources")
	case ResultUnsupportedOpcode:
		return fmt.Errorf("nat-pmp: unsupported opcode")
	default:
		return fmt.Errorf("nat-pmp: unknown result code %d", code)
	}
}
