// Package upnp implements UPnP IGD discovery and WANIPConnection SOAP
// control by hand — SSDP M-SEARCH, device-description XML scraping, and
// SOAP envelope construction — without delegating to a UPnP client library,
// the same way the hand-rolled gateway manager found among the retrieved
// reference implementations builds its SSDP+SOAP sequence from net/http and
// string scanning rather than a dedicated UPnP package.
package upnp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openholepunch/portkeeper/netcap"
)

const (
	searchWindow = 1 * time.Second
	serviceType  = "urn:schemas-upnp-org:service:WANIPConnection:1"
)

var searchRequest = []byte(
	"M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: " + serviceType + "\r\n" +
		"\r\n",
)

// Client performs UPnP IGD discovery and WANIPConnection control.
type Client struct {
	cap netcap.Capability
	log zerolog.Logger
}

func NewClient(cap netcap.Capability, log zerolog.Logger) *Client {
	return &Client{cap: cap, log: log.With().Str("component", "upnp-client").Logger()}
}

// Discover sends an SSDP M-SEARCH, fetches the first device description
// that advertises WANIPConnection, and returns its control URL.
func (c *Client) Discover(ctx context.Context) (controlURL string, err error) {
	replies, err := c.cap.SSDPSearch(ctx, searchRequest, searchWindow)
	if err != nil {
		return "", fmt.Errorf("upnp: ssdp search: %w", err)
	}
	if len(replies) == 0 {
		return "", fmt.Errorf("upnp: %w", ErrNoGatewayFound)
	}

	locations := make([]string, 0, len(replies))
	for _, reply := range replies {
		if loc := extractHeader(string(reply), "LOCATION"); loc != "" {
			locations = append(locations, loc)
		}
	}

	for _, location := range locations {
		url, err := c.fetchControlURL(ctx, location)
		if err != nil {
			c.log.Debug().Err(err).Str("location", location).Msg("upnp: device description did not yield a control url")
			continue
		}
		return url, nil
	}
	return "", fmt.Errorf("upnp: %w", ErrNoGatewayFound)
}

func (c *Client) fetchControlURL(ctx context.Context, location string) (string, error) {
	body, err := c.cap.HTTPGet(ctx, location)
	if err != nil {
		return "", fmt.Errorf("fetch device description: %w", err)
	}
	relative, ok := extractControlURLFor(string(body), serviceType)
	if !ok {
		return "", fmt.Errorf("no %s service in device description", serviceType)
	}
	return resolveURL(location, relative), nil
}

// extractHeader returns the value of an HTTPU header line, case-insensitive
// on the header name, trimmed of surrounding whitespace and CR.
func extractHeader(message, header string) string {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimRight(line, "\r")
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		if strings.EqualFold(name, header) {
			return strings.TrimSpace(line[idx+1:])
		}
	}
	return ""
}

// extractControlURLFor scans a device description document for the
// <service> block whose <serviceType> matches wantType and returns its
// <controlURL>. Deliberately a substring scan rather than a full XML
// unmarshal — IGD descriptions vary enough in namespace prefixes that a
// strict decoder is more fragile than scanning for the tags by name, the
// same tradeoff the hand-rolled reference client makes.
func extractControlURLFor(doc, wantType string) (string, bool) {
	typeIdx := strings.Index(doc, wantType)
	if typeIdx < 0 {
		return "", false
	}
	rest := doc[typeIdx:]
	const openTag = "<controlURL>"
	const closeTag = "</controlURL>"
	start := strings.Index(rest, openTag)
	if start < 0 {
		return "", false
	}
	start += len(openTag)
	end := strings.Index(rest[start:], closeTag)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[start : start+end]), true
}

// resolveURL resolves a possibly-relative controlURL against the base
// LOCATION URL's scheme and host.
func resolveURL(location, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	schemeEnd := strings.Index(location, "://")
	if schemeEnd < 0 {
		return ref
	}
	hostStart := schemeEnd + 3
	hostEnd := strings.IndexByte(location[hostStart:], '/')
	var base string
	if hostEnd < 0 {
		base = location
	} else {
		base = location[:hostStart+hostEnd]
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return base + ref
}
