package upnp

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openholepunch/portkeeper/nettest"
)

const deviceDescription = `<?xml version="1.0"?>
<root><device>
  <serviceList>
    <service>
      <serviceType>urn:schemas-upnp-org:service:WANIPConnection:1</serviceType>
      <controlURL>/ctl/IPConn</controlURL>
    </service>
  </serviceList>
</device></root>`

func TestDiscoverFindsControlURL(t *testing.T) {
	ssdpReply := []byte("HTTP/1.1 200 OK\r\nLOCATION: http://192.168.1.1:5000/desc.xml\r\nST: urn:schemas-upnp-org:service:WANIPConnection:1\r\n\r\n")
	fake := &nettest.FakeCapability{
		SSDPReplies: [][]byte{ssdpReply},
		HTTPResponses: map[string][]byte{
			"http://192.168.1.1:5000/desc.xml": []byte(deviceDescription),
		},
	}
	client := NewClient(fake, zerolog.Nop())

	controlURL, err := client.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.1:5000/ctl/IPConn", controlURL)
}

func TestDiscoverNoReplies(t *testing.T) {
	fake := &nettest.FakeCapability{}
	client := NewClient(fake, zerolog.Nop())

	_, err := client.Discover(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoGatewayFound)
}

func TestAddPortMappingFault(t *testing.T) {
	fake := &nettest.FakeCapability{
		SOAPResponses: map[string][]byte{
			soapAction("AddPortMapping"): []byte(`<s:Envelope><s:Body><s:Fault><errorDescription>ConflictInMappingEntry</errorDescription></s:Fault></s:Body></s:Envelope>`),
		},
	}
	client := NewClient(fake, zerolog.Nop())

	err := client.AddPortMapping(context.Background(), "http://192.168.1.1:5000/ctl/IPConn", 4000, 4000, "192.168.1.42", "TCP", 3600)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSoapFault)
	assert.Contains(t, err.Error(), "ConflictInMappingEntry")
}
