// Package dispatch maps decoded application messages onto room-registry and
// session operations, producing the replies and broadcasts the server must
// send. The packet kind set is closed, so dispatch is one exhaustive type
// switch; anything a client should not send earns a BadRequest.
package dispatch

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gridnet/internal/pkg/reliable"
	"gridnet/internal/pkg/room"
	"gridnet/internal/pkg/session"
	"gridnet/internal/pkg/wire"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Dispatcher is the server-side command dispatcher.
type Dispatcher struct {
	peers      session.Store
	rooms      *room.Registry
	totals     *reliable.Counters
	serverName string

	// relayToSender includes the chat sender in its own relay fan-out.
	relayToSender bool
}

// Cfg configures a Dispatcher.
type Cfg func(*Dispatcher) error

// WithPeerStore sets the peer store.
func WithPeerStore(store session.Store) Cfg {
	return func(d *Dispatcher) error {
		d.peers = store
		return nil
	}
}

// WithRegistry sets the room registry.
func WithRegistry(rooms *room.Registry) Cfg {
	return func(d *Dispatcher) error {
		d.rooms = rooms
		return nil
	}
}

// WithCounters sets the process-wide counters reported by StatsResponse.
func WithCounters(c *reliable.Counters) Cfg {
	return func(d *Dispatcher) error {
		d.totals = c
		return nil
	}
}

// WithServerName sets the display name reported by StatsResponse.
func WithServerName(name string) Cfg {
	return func(d *Dispatcher) error {
		d.serverName = name
		return nil
	}
}

// WithRelayToSender controls whether chat relays include the sender.
func WithRelayToSender(include bool) Cfg {
	return func(d *Dispatcher) error {
		d.relayToSender = include
		return nil
	}
}

// NewDispatcher creates a Dispatcher with the given configuration.
func NewDispatcher(cfgs ...Cfg) (*Dispatcher, error) {
	d := &Dispatcher{}
	for _, cfg := range cfgs {
		if err := cfg(d); err != nil {
			return nil, errors.Wrap(err, "apply Dispatcher cfg failed")
		}
	}
	if d.peers == nil || d.rooms == nil {
		return nil, errors.New("dispatcher requires a peer store and a room registry")
	}
	if d.totals == nil {
		d.totals = &reliable.Counters{}
	}
	return d, nil
}

// Send is one queued outbound payload for a specific peer.
type Send struct {
	To      *session.Peer
	Payload wire.Payload
}

// Outcome is everything the event loop must do after dispatching one
// payload. Replies go back to the origin on the reliable channel; Sends fan
// out to other peers; Unreliable entries use the best-effort channel.
type Outcome struct {
	Replies         []wire.Payload
	UnreliableReply []wire.Payload
	Sends           []Send
	UnreliableSends []Send

	// Close tears down the origin session after the queued sends flush.
	Close bool
}

func (o *Outcome) reply(p wire.Payload) { o.Replies = append(o.Replies, p) }

func (o *Outcome) protocolError(code wire.ErrorCode, detail string) {
	o.reply(&wire.ErrorReply{Code: code, Detail: detail})
}

// Dispatch applies one in-order application payload from peer p. Protocol
// errors become Error replies and leave the session alive; only a version
// rejection or an explicit disconnect closes it.
func (d *Dispatcher) Dispatch(p *session.Peer, payload wire.Payload) Outcome {
	var out Outcome
	switch v := payload.(type) {
	case *wire.Connect:
		d.connect(p, v, &out)
	case *wire.Disconnect:
		// The confirmation rides the best-effort channel: its ack field
		// clears the peer's pending Disconnect, and if the frame is lost
		// the peer falls back to its idle timeout.
		out.UnreliableReply = append(out.UnreliableReply, &wire.Disconnect{})
		out.Close = true
	case *wire.Heartbeat:
		// Liveness bookkeeping happens on receipt of any packet;
		// nothing to do here.
	case *wire.ListRooms:
		out.reply(&wire.RoomList{Rooms: d.rooms.List()})
	case *wire.NewRoom:
		d.newRoom(p, v, &out)
	case *wire.JoinRoom:
		d.joinRoom(p, v, &out)
	case *wire.LeaveRoom:
		d.leaveRoom(p, &out)
	case *wire.ChatMessage:
		d.chat(p, v, &out)
	case *wire.StateUpdate:
		d.relayState(p, v, &out)
	case *wire.StatsRequest:
		out.reply(&wire.StatsResponse{
			ServerName: d.serverName,
			Peers:      uint32(d.peers.Len()),
			Rooms:      uint32(d.rooms.Len()),
			Counters:   d.totals.Snapshot(),
		})
	case *wire.ConnectAck, *wire.RoomList, *wire.RoomEvent, *wire.ChatRelay,
		*wire.StatsResponse, *wire.ErrorReply:
		out.protocolError(wire.CodeBadRequest, "server-bound packet of server-sent kind")
	default:
		out.protocolError(wire.CodeBadRequest, "unhandled packet kind")
	}
	return out
}

func (d *Dispatcher) connect(p *session.Peer, c *wire.Connect, out *Outcome) {
	if p.State.Live() {
		// Duplicate handshake after a lost ack; answer it again.
		out.reply(&wire.ConnectAck{Accepted: true})
		return
	}
	if c.VersionMajor != wire.VersionMajor {
		logger.WithFields(logrus.Fields{
			"peer":    p.Addr.String(),
			"version": c.VersionMajor,
		}).Warn("rejecting incompatible client version")
		// No session will exist to carry acks, so the rejection rides the
		// best-effort channel, stamped with the requester's own version so
		// its build can attribute the refusal.
		p.VersionMajor = c.VersionMajor
		p.VersionMinor = c.VersionMinor
		p.Conn.SetVersion(c.VersionMajor, c.VersionMinor)
		out.UnreliableReply = append(out.UnreliableReply,
			&wire.ConnectAck{Accepted: false, Reason: "incompatible protocol major version"},
			&wire.ErrorReply{Code: wire.CodeVersionIncompatible})
		out.Close = true
		return
	}
	if c.Name == "" || len(c.Name) > wire.MaxNameLen {
		out.UnreliableReply = append(out.UnreliableReply,
			&wire.ConnectAck{Accepted: false, Reason: "player name must be 1-64 bytes"},
			&wire.ErrorReply{Code: wire.CodeBadRequest})
		out.Close = true
		return
	}
	p.Name = c.Name
	p.VersionMajor = c.VersionMajor
	p.VersionMinor = c.VersionMinor
	if err := p.Transition(session.Connected); err != nil {
		out.protocolError(wire.CodeBadRequest, "connect out of order")
		return
	}
	logger.WithFields(logrus.Fields{
		"peer": p.Addr.String(),
		"name": p.Name,
	}).Info("peer connected")
	out.reply(&wire.ConnectAck{Accepted: true})
}

func (d *Dispatcher) newRoom(p *session.Peer, v *wire.NewRoom, out *Outcome) {
	if p.Room != "" {
		out.protocolError(wire.CodeBadRequest, "leave the current room first")
		return
	}
	if !validRoomName(v.Name) {
		out.protocolError(wire.CodeBadRequest, "room name must be 1-64 bytes")
		return
	}
	roster, err := d.rooms.Create(v.Name, room.Member{UUID: p.UUID, Name: p.Name})
	if err != nil {
		out.protocolError(wire.CodeRoomExists, err.Error())
		return
	}
	p.Room = v.Name
	if err := p.Transition(session.InRoom); err != nil {
		// Roll back the registry so the failed command mutates nothing.
		_, _ = d.rooms.Leave(v.Name, p.UUID) // nolint: errcheck
		p.Room = ""
		out.protocolError(wire.CodeBadRequest, "not connected")
		return
	}
	out.reply(&wire.RoomEvent{Event: wire.EventCreated, Room: v.Name, Player: p.Name, Roster: roster})
}

func (d *Dispatcher) joinRoom(p *session.Peer, v *wire.JoinRoom, out *Outcome) {
	if p.Room != "" {
		out.protocolError(wire.CodeBadRequest, "leave the current room first")
		return
	}
	if !validRoomName(v.Name) {
		out.protocolError(wire.CodeBadRequest, "room name must be 1-64 bytes")
		return
	}
	roster, err := d.rooms.Join(v.Name, room.Member{UUID: p.UUID, Name: p.Name})
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		out.protocolError(wire.CodeRoomNotFound, err.Error())
		return
	case errors.Is(err, room.ErrRoomFull):
		out.protocolError(wire.CodeRoomFull, err.Error())
		return
	case err != nil:
		out.protocolError(wire.CodeBadRequest, err.Error())
		return
	}
	p.Room = v.Name
	if err := p.Transition(session.InRoom); err != nil {
		_, _ = d.rooms.Leave(v.Name, p.UUID) // nolint: errcheck
		p.Room = ""
		out.protocolError(wire.CodeBadRequest, "not connected")
		return
	}
	event := &wire.RoomEvent{Event: wire.EventJoined, Room: v.Name, Player: p.Name, Roster: roster}
	out.reply(event)
	d.broadcast(v.Name, p.UUID, event, out)
}

func (d *Dispatcher) leaveRoom(p *session.Peer, out *Outcome) {
	if p.Room == "" {
		out.protocolError(wire.CodeNotInRoom, "not in a room")
		return
	}
	name := p.Room
	roster, err := d.rooms.Leave(name, p.UUID)
	if err != nil {
		out.protocolError(wire.CodeBadRequest, err.Error())
		return
	}
	p.Room = ""
	if err := p.Transition(session.Connected); err != nil {
		logger.WithField("peer", p.Addr.String()).Warn("leave from non-InRoom state")
	}
	out.reply(&wire.RoomEvent{Event: wire.EventLeft, Room: name, Player: p.Name})
	d.broadcast(name, p.UUID, &wire.RoomEvent{
		Event:  wire.EventRosterUpdated,
		Room:   name,
		Player: p.Name,
		Roster: roster,
	}, out)
}

func (d *Dispatcher) chat(p *session.Peer, v *wire.ChatMessage, out *Outcome) {
	if p.Room == "" {
		out.protocolError(wire.CodeNotInRoom, "chat requires a room")
		return
	}
	if len(v.Text) > wire.MaxChatLen {
		out.protocolError(wire.CodeBadRequest, "chat message too long")
		return
	}
	relay := &wire.ChatRelay{Sender: p.Name, Text: v.Text}
	if d.relayToSender {
		out.reply(relay)
	}
	d.broadcast(p.Room, p.UUID, relay, out)
}

// relayState fans a best-effort automaton delta out to the sender's room.
// Stale-discard happens at each receiver, keyed on the delta-sequence.
func (d *Dispatcher) relayState(p *session.Peer, v *wire.StateUpdate, out *Outcome) {
	if p.Room == "" {
		return // deltas outside a room have no audience; drop silently
	}
	for _, target := range d.roomPeers(p.Room, p.UUID) {
		out.UnreliableSends = append(out.UnreliableSends, Send{To: target, Payload: v})
	}
}

// Teardown produces the roster-update broadcast for a peer leaving the
// system (graceful disconnect or liveness eviction) and clears its
// membership. The caller owns the state transition and the store removal.
func (d *Dispatcher) Teardown(p *session.Peer) Outcome {
	var out Outcome
	if p.Room == "" {
		return out
	}
	name := p.Room
	roster, err := d.rooms.Leave(name, p.UUID)
	p.Room = ""
	if err != nil {
		logger.WithFields(logrus.Fields{
			"peer": p.Addr.String(),
			"room": name,
		}).WithError(err).Warn("teardown could not leave room")
		return out
	}
	d.broadcast(name, p.UUID, &wire.RoomEvent{
		Event:  wire.EventRosterUpdated,
		Room:   name,
		Player: p.Name,
		Roster: roster,
	}, &out)
	return out
}

// broadcast queues payload for every member of the named room except the
// origin. Delivery is queued per member; a slow member cannot block others.
func (d *Dispatcher) broadcast(name string, origin uuid.UUID, payload wire.Payload, out *Outcome) {
	for _, target := range d.roomPeers(name, origin) {
		out.Sends = append(out.Sends, Send{To: target, Payload: payload})
	}
}

func validRoomName(name string) bool {
	return name != "" && len(name) <= wire.MaxRoomNameLen
}

// roomPeers resolves current room members (except the origin) to peers.
func (d *Dispatcher) roomPeers(name string, origin uuid.UUID) []*session.Peer {
	members := d.rooms.Members(name)
	want := make(map[uuid.UUID]bool, len(members))
	for _, m := range members {
		if m.UUID != origin {
			want[m.UUID] = true
		}
	}
	var peers []*session.Peer
	d.peers.Each(func(p *session.Peer) {
		if want[p.UUID] && p.State.Live() {
			peers = append(peers, p)
		}
	})
	return peers
}
