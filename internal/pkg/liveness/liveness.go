// Package liveness schedules heartbeat sends and detects vanished peers.
//
// It holds no timers of its own: the event loop calls Sweep once per timer
// iteration and acts on the result. Any received packet must be reported via
// Touch; silence longer than the policy's idle timeout is the sole signal
// that a remote endpoint has disappeared.
package liveness

import (
	"time"

	"gridnet/internal/pkg/reliable"
	"gridnet/internal/pkg/session"
)

// Monitor tracks heartbeat and idle deadlines across a peer store.
type Monitor struct {
	policy reliable.Policy
	store  session.Store
}

// NewMonitor creates a Monitor over the given store.
func NewMonitor(policy reliable.Policy, store session.Store) *Monitor {
	return &Monitor{policy: policy, store: store}
}

// Touch records inbound traffic from a peer, postponing its eviction.
func (m *Monitor) Touch(p *session.Peer, now time.Time) {
	p.LastActivity = now
}

// Start arms the heartbeat schedule for a peer that just went live.
func (m *Monitor) Start(p *session.Peer, now time.Time) {
	p.LastActivity = now
	p.HeartbeatDue = now.Add(m.policy.HeartbeatInterval)
}

// Sweep returns the live peers due a heartbeat send and the peers silent
// past the idle timeout. Heartbeat deadlines are re-armed here; eviction is
// the caller's job so it can run the full teardown path exactly once.
func (m *Monitor) Sweep(now time.Time) (heartbeat, evict []*session.Peer) {
	idle := m.policy.IdleTimeout()
	m.store.Each(func(p *session.Peer) {
		if !p.State.Live() {
			return
		}
		if now.Sub(p.LastActivity) > idle {
			evict = append(evict, p)
			return
		}
		if !now.Before(p.HeartbeatDue) {
			p.HeartbeatDue = now.Add(m.policy.HeartbeatInterval)
			heartbeat = append(heartbeat, p)
		}
	})
	return heartbeat, evict
}
