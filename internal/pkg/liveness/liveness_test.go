package liveness

import (
	"net"
	"testing"
	"time"

	"gridnet/internal/pkg/reliable"
	"gridnet/internal/pkg/session"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func livePeer(port int, now time.Time) *session.Peer {
	return &session.Peer{
		UUID:         uuid.New(),
		Addr:         &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		State:        session.Connected,
		Conn:         reliable.NewConn(reliable.DefaultPolicy(), nil),
		LastActivity: now,
	}
}

func TestHeartbeatDueAtInterval(t *testing.T) {
	t.Parallel()
	pol := reliable.DefaultPolicy()
	store := session.NewMemoryStore()
	m := NewMonitor(pol, store)

	p := livePeer(9100, t0)
	require.NoError(t, store.Add(p))
	m.Start(p, t0)

	hb, evict := m.Sweep(t0.Add(pol.HeartbeatInterval - time.Millisecond))
	require.Empty(t, hb)
	require.Empty(t, evict)

	hb, evict = m.Sweep(t0.Add(pol.HeartbeatInterval))
	require.Equal(t, []*session.Peer{p}, hb)
	require.Empty(t, evict)

	// Re-armed: the same instant does not fire twice.
	hb, _ = m.Sweep(t0.Add(pol.HeartbeatInterval))
	require.Empty(t, hb)
}

func TestSilentPeerEvictedExactlyOnce(t *testing.T) {
	t.Parallel()
	pol := reliable.DefaultPolicy()
	store := session.NewMemoryStore()
	m := NewMonitor(pol, store)

	p := livePeer(9101, t0)
	require.NoError(t, store.Add(p))
	m.Start(p, t0)

	deadline := t0.Add(pol.IdleTimeout())
	_, evict := m.Sweep(deadline)
	require.Empty(t, evict, "eviction fires strictly after the idle timeout")

	_, evict = m.Sweep(deadline.Add(time.Millisecond))
	require.Equal(t, []*session.Peer{p}, evict)

	// The caller moves an evicted peer out of a live state; a later sweep
	// must not report it again.
	require.NoError(t, p.Transition(session.Closing))
	_, evict = m.Sweep(deadline.Add(time.Second))
	require.Empty(t, evict)
}

func TestAnyTrafficPostponesEviction(t *testing.T) {
	t.Parallel()
	pol := reliable.DefaultPolicy()
	store := session.NewMemoryStore()
	m := NewMonitor(pol, store)

	p := livePeer(9102, t0)
	require.NoError(t, store.Add(p))
	m.Start(p, t0)

	halfway := t0.Add(pol.IdleTimeout() / 2)
	m.Touch(p, halfway)

	_, evict := m.Sweep(t0.Add(pol.IdleTimeout()).Add(time.Millisecond))
	require.Empty(t, evict, "traffic at the halfway mark resets the idle clock")

	_, evict = m.Sweep(halfway.Add(pol.IdleTimeout()).Add(time.Millisecond))
	require.Equal(t, []*session.Peer{p}, evict)
}

func TestNonLivePeersIgnored(t *testing.T) {
	t.Parallel()
	pol := reliable.DefaultPolicy()
	store := session.NewMemoryStore()
	m := NewMonitor(pol, store)

	p := livePeer(9103, t0)
	p.State = session.Handshaking
	require.NoError(t, store.Add(p))

	hb, evict := m.Sweep(t0.Add(time.Hour))
	require.Empty(t, hb)
	require.Empty(t, evict)
}
