package mapping

import "context"

// DeleteMapping removes an active mapping by external port, issuing the
// protocol-appropriate delete against the router and cancelling its timer.
// Returns false if no such mapping is tracked, or if the router delete
// itself fails (the entry is still removed from the registry either way —
// once a caller asks to delete, the local record is gone regardless of
// whether the router acknowledged it).
func (m *Manager) DeleteMapping(ctx context.Context, externalPort uint16) bool {
	e, ok := m.takeEntry(externalPort)
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.deleter == nil {
		return true
	}
	m.recordAttempt(e.mapping.Protocol, "delete")
	if err := e.deleter(ctx); err != nil {
		m.log.Warn().Err(err).Uint16("externalPort", externalPort).Msg("deleteMapping: router delete failed")
		return false
	}
	m.recordSuccess(e.mapping.Protocol, "delete")
	return true
}
