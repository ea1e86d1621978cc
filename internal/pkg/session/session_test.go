package session

import (
	"net"
	"testing"
	"time"

	"gridnet/internal/pkg/reliable"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func addr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func newPeer(port int) *Peer {
	return &Peer{
		UUID:         uuid.New(),
		Addr:         addr(port),
		State:        Disconnected,
		Conn:         reliable.NewConn(reliable.DefaultPolicy(), nil),
		LastActivity: time.Now(),
	}
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()
	p := newPeer(9000)
	require.NoError(t, p.Transition(Handshaking))
	require.NoError(t, p.Transition(Connected))
	require.NoError(t, p.Transition(InRoom))
	require.NoError(t, p.Transition(Connected))
	require.NoError(t, p.Transition(Closing))
	require.NoError(t, p.Transition(Closed))
}

func TestIllegalTransitionsRejected(t *testing.T) {
	t.Parallel()
	p := newPeer(9001)
	require.ErrorIs(t, p.Transition(Connected), ErrBadTransition)
	require.ErrorIs(t, p.Transition(InRoom), ErrBadTransition)
	require.Equal(t, Disconnected, p.State, "failed transition must not mutate state")

	require.NoError(t, p.Transition(Handshaking))
	require.ErrorIs(t, p.Transition(InRoom), ErrBadTransition)

	require.NoError(t, p.Transition(Connected))
	require.NoError(t, p.Transition(Closing))
	require.ErrorIs(t, p.Transition(Connected), ErrBadTransition)

	require.NoError(t, p.Transition(Closed))
	require.ErrorIs(t, p.Transition(Handshaking), ErrBadTransition, "Closed is terminal")
}

func TestRejectedHandshakeFallsBack(t *testing.T) {
	t.Parallel()
	p := newPeer(9002)
	require.NoError(t, p.Transition(Handshaking))
	require.NoError(t, p.Transition(Disconnected), "version rejection returns to Disconnected")
}

func TestLiveStates(t *testing.T) {
	t.Parallel()
	require.True(t, Connected.Live())
	require.True(t, InRoom.Live())
	require.False(t, Disconnected.Live())
	require.False(t, Handshaking.Live())
	require.False(t, Closing.Live())
	require.False(t, Closed.Live())
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	p := newPeer(9003)
	require.NoError(t, s.Add(p))
	require.ErrorIs(t, s.Add(p), ErrPeerAlreadyExists)

	got, ok := s.Get(addr(9003))
	require.True(t, ok)
	require.Same(t, p, got)

	_, ok = s.Get(addr(9999))
	require.False(t, ok)

	require.NoError(t, s.Add(newPeer(9004)))
	require.Equal(t, 2, s.Len())

	var visited int
	s.Each(func(*Peer) { visited++ })
	require.Equal(t, 2, visited)

	s.Remove(addr(9003))
	require.Equal(t, 1, s.Len())
	_, ok = s.Get(addr(9003))
	require.False(t, ok)
}
