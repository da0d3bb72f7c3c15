package netcap

import "errors"

// ErrNoLocalIP is returned when local IPv4 enumeration finds nothing
// routable within the 2s budget the mapping orchestrator allows it.
var ErrNoLocalIP = errors.New("no local ipv4 address found")
