package upnp

import "errors"

var (
	// ErrNoGatewayFound means SSDP discovery yielded no usable WANIPConnection.
	ErrNoGatewayFound = errors.New("no upnp gateway found")
	// ErrSoapFault means the router's SOAP response carried a fault element.
	ErrSoapFault = errors.New("soap fault")
)
