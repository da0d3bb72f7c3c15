package upnp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const envelopeTemplate = `<?xml version="1.0"?>` +
	`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
	`<s:Body>%s</s:Body></s:Envelope>`

func soapAction(action string) string {
	return fmt.Sprintf(`"%s#%s"`, serviceType, action)
}

// AddPortMapping requests a forwarding from extPort to internalIP:internalPort
// for protocol ("TCP" or "UDP"), for leaseDuration seconds (0 = static).
func (c *Client) AddPortMapping(ctx context.Context, controlURL string, extPort, internalPort int, internalIP, protocol string, leaseDuration uint32) error {
	body := fmt.Sprintf(
		`<u:AddPortMapping xmlns:u="%s">`+
			`<NewRemoteHost></NewRemoteHost>`+
			`<NewExternalPort>%d</NewExternalPort>`+
			`<NewProtocol>%s</NewProtocol>`+
			`<NewInternalPort>%d</NewInternalPort>`+
			`<NewInternalClient>%s</NewInternalClient>`+
			`<NewEnabled>1</NewEnabled>`+
			`<NewPortMappingDescription>PortControl</NewPortMappingDescription>`+
			`<NewLeaseDuration>%d</NewLeaseDuration>`+
			`</u:AddPortMapping>`,
		serviceType, extPort, protocol, internalPort, internalIP, leaseDuration,
	)
	envelope := fmt.Sprintf(envelopeTemplate, body)

	respBody, err := c.cap.HTTPPostSOAP(ctx, controlURL, soapAction("AddPortMapping"), []byte(envelope))
	if err != nil {
		return fmt.Errorf("upnp: AddPortMapping: %w", err)
	}
	if fault, ok := extractFault(string(respBody)); ok {
		return fmt.Errorf("upnp: %w: %s", ErrSoapFault, fault)
	}
	return nil
}

// DeletePortMapping removes a previously-added forwarding.
func (c *Client) DeletePortMapping(ctx context.Context, controlURL string, extPort int, protocol string) error {
	body := fmt.Sprintf(
		`<u:DeletePortMapping xmlns:u="%s">`+
			`<NewRemoteHost></NewRemoteHost>`+
			`<NewExternalPort>%d</NewExternalPort>`+
			`<NewProtocol>%s</NewProtocol>`+
			`</u:DeletePortMapping>`,
		serviceType, extPort, protocol,
	)
	envelope := fmt.Sprintf(envelopeTemplate, body)

	respBody, err := c.cap.HTTPPostSOAP(ctx, controlURL, soapAction("DeletePortMapping"), []byte(envelope))
	if err != nil {
		return fmt.Errorf("upnp: DeletePortMapping: %w", err)
	}
	if fault, ok := extractFault(string(respBody)); ok {
		return fmt.Errorf("upnp: %w: %s", ErrSoapFault, fault)
	}
	return nil
}

// GenericMapping is one entry returned by GetGenericPortMappingEntry.
type GenericMapping struct {
	ExternalPort int
	InternalPort int
	InternalIP   string
	Protocol     string
	Description  string
	Enabled      bool
}

// ListMappings enumerates the router's own view of active port mappings by
// indexing GetGenericPortMappingEntry until the router replies with a fault
// — the standard termination signal for this action. Read-only; it never
// mutates anything at the router.
func (c *Client) ListMappings(ctx context.Context, controlURL string) ([]GenericMapping, error) {
	var mappings []GenericMapping
	for index := 0; ; index++ {
		body := fmt.Sprintf(
			`<u:GetGenericPortMappingEntry xmlns:u="%s"><NewPortMappingIndex>%d</NewPortMappingIndex></u:GetGenericPortMappingEntry>`,
			serviceType, index,
		)
		envelope := fmt.Sprintf(envelopeTemplate, body)

		respBody, err := c.cap.HTTPPostSOAP(ctx, controlURL, soapAction("GetGenericPortMappingEntry"), []byte(envelope))
		if err != nil {
			return mappings, fmt.Errorf("upnp: GetGenericPortMappingEntry: %w", err)
		}
		text := string(respBody)
		if _, ok := extractFault(text); ok {
			break
		}

		extPort, _ := strconv.Atoi(extractTag(text, "NewExternalPort"))
		inPort, _ := strconv.Atoi(extractTag(text, "NewInternalPort"))
		mappings = append(mappings, GenericMapping{
			ExternalPort: extPort,
			InternalPort: inPort,
			InternalIP:   extractTag(text, "NewInternalClient"),
			Protocol:     extractTag(text, "NewProtocol"),
			Description:  extractTag(text, "NewPortMappingDescription"),
			Enabled:      extractTag(text, "NewEnabled") == "1",
		})
	}
	return mappings, nil
}

func extractTag(doc, tag string) string {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	start := strings.Index(doc, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(doc[start:], closeTag)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(doc[start : start+end])
}

func extractFault(doc string) (string, bool) {
	if !strings.Contains(doc, "<s:Fault>") && !strings.Contains(doc, "<soap:Fault>") && !strings.Contains(doc, "<Fault>") {
		return "", false
	}
	if desc := extractTag(doc, "errorDescription"); desc != "" {
		return desc, true
	}
	if desc := extractTag(doc, "faultstring"); desc != "" {
		return desc, true
	}
	return "unspecified soap fault", true
}
