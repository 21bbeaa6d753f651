// Package heartbeat evicts silently-dead connections. A periodic sweep marks
// every participant unconfirmed and sends a probe; whoever is still
// unconfirmed by the next sweep is gone.
package heartbeat

import (
	"context"
	"log"
	"time"

	"github.com/driftpost/driftpost/registry"
)

// Broadcaster tells everyone still online about a changed count after an
// eviction. Satisfied by relay.Service.
type Broadcaster interface {
	BroadcastOnlineCount()
}

type Monitor struct {
	reg         *registry.Registry
	broadcaster Broadcaster
	interval    time.Duration
}

func New(reg *registry.Registry, broadcaster Broadcaster, interval time.Duration) *Monitor {
	return &Monitor{reg: reg, broadcaster: broadcaster, interval: interval}
}

// Run sweeps every interval until the context is cancelled. Blocks; run it in
// its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep runs one probe cycle. Participants that never answered the previous
// probe are already out of the registry when ProbeCycle returns; here their
// connections get closed and the survivors get probed. A probe that cannot
// even be enqueued counts as a dead connection too, and only affects that one
// participant.
func (m *Monitor) sweep() {
	evicted, probe := m.reg.ProbeCycle()

	for _, e := range evicted {
		log.Printf("Heartbeat timeout for %s (%s), closing connection", e.ID, e.Name)
		e.Conn.Close()
	}

	removed := len(evicted)
	for _, e := range probe {
		if err := e.Conn.Ping(); err != nil {
			log.Printf("Heartbeat probe failed for %s: %v", e.ID, err)
			if m.reg.Unregister(e.ID) {
				e.Conn.Close()
				removed++
			}
		}
	}

	if removed > 0 {
		m.broadcaster.BroadcastOnlineCount()
	}
}
