package mapping

import (
	"context"
	"time"
)

// Close tears down every active mapping in parallel and stops the
// orchestrator. It snapshots the registry's keys before iterating so that
// the parallel deletes it fans out — each of which also locks the registry
// — can never observe or mutate a map Close is still ranging over. This is
// the documented fix for the plain-iteration bug recorded in the design
// notes: iterate a snapshot of keys, never the live table.
func (m *Manager) Close() {
	keys := m.registryKeys()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{}, len(keys))
	for _, port := range keys {
		go func(externalPort uint16) {
			m.DeleteMapping(ctx, externalPort)
			done <- struct{}{}
		}(port)
	}
	for range keys {
		<-done
	}

	m.cancel()
}
