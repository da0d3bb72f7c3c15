package mapping

import "errors"

// ErrAllProtocolsFailed is never returned to a caller directly — addMapping
// always resolves to a Mapping value (see Mapping.Failed), per the "never
// throw, always return a value" contract at this boundary.
var ErrAllProtocolsFailed = errors.New("all protocols failed")
