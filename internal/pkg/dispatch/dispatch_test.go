package dispatch

import (
	"net"
	"sync/atomic"
	"testing"

	"gridnet/internal/pkg/reliable"
	"gridnet/internal/pkg/room"
	"gridnet/internal/pkg/session"
	"gridnet/internal/pkg/wire"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	peers *session.MemoryStore
	rooms *room.Registry
	d     *Dispatcher
}

func newFixture(t *testing.T, cfgs ...Cfg) *fixture {
	t.Helper()
	f := &fixture{
		peers: session.NewMemoryStore(),
		rooms: room.NewRegistry(8),
	}
	cfgs = append([]Cfg{
		WithPeerStore(f.peers),
		WithRegistry(f.rooms),
		WithServerName("test server"),
	}, cfgs...)
	var err error
	f.d, err = NewDispatcher(cfgs...)
	require.NoError(t, err)
	return f
}

var nextPort atomic.Int32

func (f *fixture) handshakingPeer(t *testing.T) *session.Peer {
	t.Helper()
	p := &session.Peer{
		UUID:  uuid.New(),
		Addr:  &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9200 + int(nextPort.Add(1))},
		State: session.Handshaking,
		Conn:  reliable.NewConn(reliable.DefaultPolicy(), nil),
	}
	require.NoError(t, f.peers.Add(p))
	return p
}

// connectedPeer runs the Connect handshake for a fresh peer.
func (f *fixture) connectedPeer(t *testing.T, name string) *session.Peer {
	t.Helper()
	p := f.handshakingPeer(t)
	out := f.d.Dispatch(p, &wire.Connect{Name: name, VersionMajor: wire.VersionMajor})
	require.Equal(t, []wire.Payload{&wire.ConnectAck{Accepted: true}}, out.Replies)
	require.Equal(t, session.Connected, p.State)
	return p
}

// inRoomPeer connects a peer and puts it into the named room, creating the
// room if needed.
func (f *fixture) inRoomPeer(t *testing.T, name, roomName string) *session.Peer {
	t.Helper()
	p := f.connectedPeer(t, name)
	var out Outcome
	if f.rooms.Len() == 0 || len(f.rooms.Members(roomName)) == 0 {
		out = f.d.Dispatch(p, &wire.NewRoom{Name: roomName})
	} else {
		out = f.d.Dispatch(p, &wire.JoinRoom{Name: roomName})
	}
	require.Len(t, out.Replies, 1)
	require.IsType(t, &wire.RoomEvent{}, out.Replies[0])
	require.Equal(t, session.InRoom, p.State)
	return p
}

func TestConnectAccepted(t *testing.T) { // scenario A
	t.Parallel()
	f := newFixture(t)
	p := f.handshakingPeer(t)
	out := f.d.Dispatch(p, &wire.Connect{Name: "alice", VersionMajor: wire.VersionMajor, VersionMinor: 0})
	require.Equal(t, []wire.Payload{&wire.ConnectAck{Accepted: true}}, out.Replies)
	require.False(t, out.Close)
	require.Equal(t, session.Connected, p.State)
	require.Equal(t, "alice", p.Name)
}

func TestConnectVersionRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.handshakingPeer(t)
	out := f.d.Dispatch(p, &wire.Connect{Name: "old", VersionMajor: wire.VersionMajor + 1})
	require.True(t, out.Close)
	require.Empty(t, out.Replies)
	require.Len(t, out.UnreliableReply, 2)
	ack, ok := out.UnreliableReply[0].(*wire.ConnectAck)
	require.True(t, ok)
	require.False(t, ack.Accepted)
	require.NotEmpty(t, ack.Reason)

	// The refusal must be readable by the requester's build: outbound
	// frames are now stamped with its version, not ours.
	frame := p.Conn.BestEffort(ack)
	pkt, err := wire.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, wire.VersionMajor+1, pkt.VersionMajor)
}

func TestConnectNameBounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, name := range []string{"", string(make([]byte, wire.MaxNameLen+1))} {
		p := f.handshakingPeer(t)
		out := f.d.Dispatch(p, &wire.Connect{Name: name, VersionMajor: wire.VersionMajor})
		require.True(t, out.Close)
		require.Empty(t, out.Replies)
		ack, ok := out.UnreliableReply[0].(*wire.ConnectAck)
		require.True(t, ok)
		require.False(t, ack.Accepted)
	}
}

func TestRoomNameBounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.connectedPeer(t, "alice")
	long := string(make([]byte, wire.MaxRoomNameLen+1))
	for _, payload := range []wire.Payload{
		&wire.NewRoom{Name: ""},
		&wire.NewRoom{Name: long},
		&wire.JoinRoom{Name: long},
	} {
		out := f.d.Dispatch(p, payload)
		require.Equal(t, []wire.Payload{&wire.ErrorReply{
			Code: wire.CodeBadRequest, Detail: "room name must be 1-64 bytes",
		}}, out.Replies)
		require.Equal(t, session.Connected, p.State)
	}
}

func TestChatLengthBound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.inRoomPeer(t, "alice", "den")
	out := f.d.Dispatch(p, &wire.ChatMessage{Text: string(make([]byte, wire.MaxChatLen+1))})
	require.Equal(t, []wire.Payload{&wire.ErrorReply{
		Code: wire.CodeBadRequest, Detail: "chat message too long",
	}}, out.Replies)
	require.Empty(t, out.Sends)
}

func TestDuplicateConnectIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.connectedPeer(t, "alice")
	out := f.d.Dispatch(p, &wire.Connect{Name: "alice", VersionMajor: wire.VersionMajor})
	require.Equal(t, []wire.Payload{&wire.ConnectAck{Accepted: true}}, out.Replies)
	require.Equal(t, session.Connected, p.State, "re-delivered handshake must not disturb the session")
}

func TestNewRoomAndList(t *testing.T) { // scenario B
	t.Parallel()
	f := newFixture(t)
	p := f.connectedPeer(t, "alice")

	out := f.d.Dispatch(p, &wire.NewRoom{Name: "TestRoom"})
	require.Equal(t, []wire.Payload{&wire.RoomEvent{
		Event:  wire.EventCreated,
		Room:   "TestRoom",
		Player: "alice",
		Roster: []string{"alice"},
	}}, out.Replies)
	require.Equal(t, session.InRoom, p.State)

	out = f.d.Dispatch(p, &wire.ListRooms{})
	require.Equal(t, []wire.Payload{&wire.RoomList{
		Rooms: []wire.RoomInfo{{Name: "TestRoom", Occupants: 1}},
	}}, out.Replies)
}

func TestNewRoomExists(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.inRoomPeer(t, "alice", "TestRoom")
	p := f.connectedPeer(t, "bob")

	out := f.d.Dispatch(p, &wire.NewRoom{Name: "TestRoom"})
	require.Len(t, out.Replies, 1)
	e, ok := out.Replies[0].(*wire.ErrorReply)
	require.True(t, ok)
	require.Equal(t, wire.CodeRoomExists, e.Code)
	require.Equal(t, session.Connected, p.State, "session stays alive on protocol error")
}

func TestJoinRoomBroadcastsToMembers(t *testing.T) { // scenario C
	t.Parallel()
	f := newFixture(t)
	alice := f.inRoomPeer(t, "alice", "TestRoom")
	bob := f.connectedPeer(t, "bob")

	out := f.d.Dispatch(bob, &wire.JoinRoom{Name: "TestRoom"})
	joined := &wire.RoomEvent{
		Event:  wire.EventJoined,
		Room:   "TestRoom",
		Player: "bob",
		Roster: []string{"alice", "bob"},
	}
	require.Equal(t, []wire.Payload{joined}, out.Replies)
	require.Equal(t, []Send{{To: alice, Payload: joined}}, out.Sends,
		"alice receives the join event without requesting it")
}

func TestJoinErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.connectedPeer(t, "bob")

	out := f.d.Dispatch(p, &wire.JoinRoom{Name: "nowhere"})
	e := out.Replies[0].(*wire.ErrorReply)
	require.Equal(t, wire.CodeRoomNotFound, e.Code)

	small := newFixture(t)
	small.rooms = room.NewRegistry(1)
	d, err := NewDispatcher(WithPeerStore(small.peers), WithRegistry(small.rooms))
	require.NoError(t, err)
	small.d = d
	small.inRoomPeer(t, "alice", "tiny")
	late := small.connectedPeer(t, "carol")
	out = small.d.Dispatch(late, &wire.JoinRoom{Name: "tiny"})
	e = out.Replies[0].(*wire.ErrorReply)
	require.Equal(t, wire.CodeRoomFull, e.Code)
}

func TestChatRelay(t *testing.T) { // scenario D
	t.Parallel()
	f := newFixture(t)
	alice := f.inRoomPeer(t, "alice", "TestRoom")
	bob := f.inRoomPeer(t, "bob", "TestRoom")
	f.connectedPeer(t, "carol") // not in the room

	out := f.d.Dispatch(alice, &wire.ChatMessage{Text: "hello"})
	require.Empty(t, out.Replies, "sender excluded by default")
	require.Equal(t, []Send{{To: bob, Payload: &wire.ChatRelay{Sender: "alice", Text: "hello"}}}, out.Sends)
}

func TestChatRelayIncludesSenderWhenConfigured(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithRelayToSender(true))
	alice := f.inRoomPeer(t, "alice", "TestRoom")

	out := f.d.Dispatch(alice, &wire.ChatMessage{Text: "echo"})
	require.Equal(t, []wire.Payload{&wire.ChatRelay{Sender: "alice", Text: "echo"}}, out.Replies)
}

func TestChatOutsideRoom(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.connectedPeer(t, "alice")
	out := f.d.Dispatch(p, &wire.ChatMessage{Text: "void"})
	e := out.Replies[0].(*wire.ErrorReply)
	require.Equal(t, wire.CodeNotInRoom, e.Code)
}

func TestLeaveRoomUpdatesRoster(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice := f.inRoomPeer(t, "alice", "TestRoom")
	bob := f.inRoomPeer(t, "bob", "TestRoom")

	out := f.d.Dispatch(alice, &wire.LeaveRoom{})
	require.Equal(t, []wire.Payload{&wire.RoomEvent{
		Event: wire.EventLeft, Room: "TestRoom", Player: "alice",
	}}, out.Replies)
	require.Equal(t, []Send{{To: bob, Payload: &wire.RoomEvent{
		Event:  wire.EventRosterUpdated,
		Room:   "TestRoom",
		Player: "alice",
		Roster: []string{"bob"},
	}}}, out.Sends)
	require.Equal(t, session.Connected, alice.State)
	require.Empty(t, alice.Room)
}

func TestStateUpdateRelayedBestEffort(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice := f.inRoomPeer(t, "alice", "TestRoom")
	bob := f.inRoomPeer(t, "bob", "TestRoom")

	delta := &wire.StateUpdate{DeltaSeq: 7, Delta: []byte{1, 2, 3}}
	out := f.d.Dispatch(alice, delta)
	require.Empty(t, out.Replies)
	require.Empty(t, out.Sends)
	require.Equal(t, []Send{{To: bob, Payload: delta}}, out.UnreliableSends)
}

func TestStatsResponse(t *testing.T) {
	t.Parallel()
	totals := &reliable.Counters{}
	totals.Sent.Add(10)
	totals.Dropped.Add(2)
	f := newFixture(t, WithCounters(totals))
	f.inRoomPeer(t, "alice", "TestRoom")
	p := f.connectedPeer(t, "bob")

	out := f.d.Dispatch(p, &wire.StatsRequest{})
	require.Equal(t, []wire.Payload{&wire.StatsResponse{
		ServerName: "test server",
		Peers:      2,
		Rooms:      1,
		Counters:   wire.Counters{Sent: 10, Dropped: 2},
	}}, out.Replies)
}

func TestDisconnectCloses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.connectedPeer(t, "alice")
	out := f.d.Dispatch(p, &wire.Disconnect{})
	require.True(t, out.Close)
	require.Equal(t, []wire.Payload{&wire.Disconnect{}}, out.UnreliableReply)
}

func TestTeardownBroadcastsRoster(t *testing.T) { // scenario E core
	t.Parallel()
	f := newFixture(t)
	alice := f.inRoomPeer(t, "alice", "TestRoom")
	bob := f.inRoomPeer(t, "bob", "TestRoom")

	out := f.d.Teardown(bob)
	require.Equal(t, []Send{{To: alice, Payload: &wire.RoomEvent{
		Event:  wire.EventRosterUpdated,
		Room:   "TestRoom",
		Player: "bob",
		Roster: []string{"alice"},
	}}}, out.Sends)
	require.Empty(t, bob.Room)
	require.Len(t, f.rooms.Members("TestRoom"), 1)

	// A second teardown of the same peer produces nothing.
	require.Empty(t, f.d.Teardown(bob).Sends)
}

func TestServerBoundKindRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.connectedPeer(t, "alice")
	out := f.d.Dispatch(p, &wire.ChatRelay{Sender: "x", Text: "y"})
	e := out.Replies[0].(*wire.ErrorReply)
	require.Equal(t, wire.CodeBadRequest, e.Code)
}
