package pcp

import "errors"

// ErrNoRouterResponse means every send on a candidate router IP timed out.
var ErrNoRouterResponse = errors.New("no router response")
