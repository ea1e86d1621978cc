package wire

import (
	"fmt"
	"strings"
)

// Protocol version implemented by this build. Peers with a different major
// version cannot interoperate; minor revisions are wire-compatible.
const (
	VersionMajor uint8 = 1
	VersionMinor uint8 = 0
)

// Magic is the first two bytes of every frame.
const Magic uint16 = 0x474E

// Field bounds enforced at the handshake and on room operations. They keep
// every composite payload the server assembles from peer input (rosters,
// chat relays) within a single frame.
const (
	MaxNameLen     = 64
	MaxRoomNameLen = 64
	MaxChatLen     = 1024
)

// Kind discriminates the packet payload variants.
type Kind uint8

const (
	KindConnect Kind = iota + 1
	KindConnectAck
	KindDisconnect
	KindHeartbeat
	KindListRooms
	KindRoomList
	KindNewRoom
	KindJoinRoom
	KindLeaveRoom
	KindRoomEvent
	KindChatMessage
	KindChatRelay
	KindStateUpdate
	KindStatsRequest
	KindStatsResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "Connect"
	case KindConnectAck:
		return "ConnectAck"
	case KindDisconnect:
		return "Disconnect"
	case KindHeartbeat:
		return "Heartbeat"
	case KindListRooms:
		return "ListRooms"
	case KindRoomList:
		return "RoomList"
	case KindNewRoom:
		return "NewRoom"
	case KindJoinRoom:
		return "JoinRoom"
	case KindLeaveRoom:
		return "LeaveRoom"
	case KindRoomEvent:
		return "RoomEvent"
	case KindChatMessage:
		return "ChatMessage"
	case KindChatRelay:
		return "ChatRelay"
	case KindStateUpdate:
		return "StateUpdate"
	case KindStatsRequest:
		return "StatsRequest"
	case KindStatsResponse:
		return "StatsResponse"
	case KindError:
		return "Error"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Payload is the closed set of packet payload variants. The set is fixed by
// the wire format, so consumers dispatch with an exhaustive type switch.
type Payload interface {
	Kind() Kind
}

// Connect initiates a session. Sent by a client.
type Connect struct {
	Name         string
	VersionMajor uint8
	VersionMinor uint8
}

// ConnectAck answers a Connect. Rejections carry a human-readable reason.
type ConnectAck struct {
	Accepted bool
	Reason   string
}

// Disconnect requests a graceful session close. Either side may send it.
type Disconnect struct{}

// Heartbeat keeps a session alive. It carries no payload of its own; the
// frame header's ack fields do the useful work.
type Heartbeat struct{}

// ListRooms requests a point-in-time room snapshot.
type ListRooms struct{}

// RoomInfo is one row of a RoomList snapshot.
type RoomInfo struct {
	Name      string
	Occupants uint16
}

// RoomList is the server's answer to ListRooms.
type RoomList struct {
	Rooms []RoomInfo
}

// NewRoom asks the server to create a room.
type NewRoom struct {
	Name string
}

// JoinRoom asks the server to add the sender to a room.
type JoinRoom struct {
	Name string
}

// LeaveRoom asks the server to remove the sender from its current room.
type LeaveRoom struct{}

// EventKind discriminates RoomEvent variants.
type EventKind uint8

const (
	EventCreated EventKind = iota + 1
	EventJoined
	EventLeft
	EventRosterUpdated
)

func (e EventKind) String() string {
	switch e {
	case EventCreated:
		return "Created"
	case EventJoined:
		return "Joined"
	case EventLeft:
		return "Left"
	case EventRosterUpdated:
		return "RosterUpdated"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(e))
}

// RoomEvent notifies room members of a membership change.
type RoomEvent struct {
	Event  EventKind
	Room   string
	Player string
	Roster []string
}

// ChatMessage is a chat line sent by a client to its current room.
type ChatMessage struct {
	Text string
}

// ChatRelay is a chat line fanned out by the server to room members.
type ChatRelay struct {
	Sender string
	Text   string
}

// StateUpdate carries an opaque automaton delta on the best-effort channel.
// DeltaSeq orders updates; receivers keep only the newest.
type StateUpdate struct {
	DeltaSeq uint64
	Delta    []byte
}

// StatsRequest asks the server for its counters.
type StatsRequest struct{}

// Counters is a point-in-time snapshot of protocol traffic counters.
type Counters struct {
	Sent          uint64
	Received      uint64
	Retransmitted uint64
	Dropped       uint64
}

// StatsResponse answers a StatsRequest.
type StatsResponse struct {
	ServerName string
	Peers      uint32
	Rooms      uint32
	Counters   Counters
}

// ErrorCode classifies protocol-level failures surfaced to a peer.
type ErrorCode uint8

const (
	CodeBadRequest ErrorCode = iota + 1
	CodeVersionIncompatible
	CodeRoomNotFound
	CodeRoomExists
	CodeRoomFull
	CodeNotInRoom
)

func (c ErrorCode) String() string {
	switch c {
	case CodeBadRequest:
		return "BadRequest"
	case CodeVersionIncompatible:
		return "VersionIncompatible"
	case CodeRoomNotFound:
		return "RoomNotFound"
	case CodeRoomExists:
		return "RoomExists"
	case CodeRoomFull:
		return "RoomFull"
	case CodeNotInRoom:
		return "NotInRoom"
	}
	return fmt.Sprintf("ErrorCode(%d)", uint8(c))
}

// ErrorReply surfaces a ProtocolError to the originating peer.
type ErrorReply struct {
	Code   ErrorCode
	Detail string
}

func (*Connect) Kind() Kind       { return KindConnect }
func (*ConnectAck) Kind() Kind    { return KindConnectAck }
func (*Disconnect) Kind() Kind    { return KindDisconnect }
func (*Heartbeat) Kind() Kind     { return KindHeartbeat }
func (*ListRooms) Kind() Kind     { return KindListRooms }
func (*RoomList) Kind() Kind      { return KindRoomList }
func (*NewRoom) Kind() Kind       { return KindNewRoom }
func (*JoinRoom) Kind() Kind      { return KindJoinRoom }
func (*LeaveRoom) Kind() Kind     { return KindLeaveRoom }
func (*RoomEvent) Kind() Kind     { return KindRoomEvent }
func (*ChatMessage) Kind() Kind   { return KindChatMessage }
func (*ChatRelay) Kind() Kind     { return KindChatRelay }
func (*StateUpdate) Kind() Kind   { return KindStateUpdate }
func (*StatsRequest) Kind() Kind  { return KindStatsRequest }
func (*StatsResponse) Kind() Kind { return KindStatsResponse }
func (*ErrorReply) Kind() Kind    { return KindError }

// NoSeq marks a frame as belonging to the best-effort channel. Reliable
// sequence numbers start at 1.
const NoSeq uint64 = 0

// Packet is one decoded frame. Packets are immutable once constructed.
type Packet struct {
	VersionMajor uint8
	VersionMinor uint8

	// Seq is the reliable-channel sequence number, or NoSeq for
	// best-effort frames.
	Seq uint64

	// CumAck is the highest sequence number received contiguously from
	// the remote peer, or 0 when nothing has been received.
	CumAck uint64

	// SackBits marks receipt of individual sequence numbers beyond the
	// cumulative ack point: bit i set means CumAck+2+i was received.
	SackBits uint32

	Payload Payload
}

func (p *Packet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s seq=%d ack=%d", p.Payload.Kind(), p.Seq, p.CumAck)
	if p.SackBits != 0 {
		fmt.Fprintf(&b, " sack=%032b", p.SackBits)
	}
	return b.String()
}
