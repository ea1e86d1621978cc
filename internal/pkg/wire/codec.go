package wire

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/pkg/errors"
)

// Frame layout, all integers big-endian:
//
//	magic(2) verMajor(1) verMinor(1) kind(1) seq(8) cumAck(8) sackBits(4) payloadLen(2)
//	payload(payloadLen)
//	crc32(4) over everything preceding it
const (
	headerSize  = 27
	trailerSize = 4
)

// MaxPayload is the largest payload a single frame can carry; the frame's
// length field is 16 bits wide. MaxDelta is what remains of it for the
// automaton delta once the StateUpdate framing (delta-sequence plus length
// prefix) is accounted for.
const (
	MaxPayload = math.MaxUint16
	MaxDelta   = MaxPayload - 10
)

// Encode serializes a packet into a single datagram frame. Every packet whose
// payload fits MaxPayload has exactly one byte representation; anything larger
// is rejected with ErrOversizedPayload rather than emitted with a wrapped
// length field.
func Encode(p *Packet) ([]byte, error) {
	payload := appendPayload(make([]byte, 0, 64), p.Payload)
	if len(payload) > MaxPayload {
		return nil, errors.Wrapf(ErrOversizedPayload, "%s payload is %d bytes", p.Payload.Kind(), len(payload))
	}

	buf := make([]byte, headerSize, headerSize+len(payload)+trailerSize)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = p.VersionMajor
	buf[3] = p.VersionMinor
	buf[4] = uint8(p.Payload.Kind())
	binary.BigEndian.PutUint64(buf[5:13], p.Seq)
	binary.BigEndian.PutUint64(buf[13:21], p.CumAck)
	binary.BigEndian.PutUint32(buf[21:25], p.SackBits)
	binary.BigEndian.PutUint16(buf[25:27], uint16(len(payload)))
	buf = append(buf, payload...)

	sum := crc32.ChecksumIEEE(buf)
	return binary.BigEndian.AppendUint32(buf, sum), nil
}

// Decode parses a datagram frame. It never panics; every failure is reported
// as ErrMalformed or ErrChecksumMismatch. The header version is surfaced on
// the packet, not checked here: frames stay decodable across protocol
// versions so that a handshake from an incompatible peer can be answered
// rather than silently dropped.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < headerSize+trailerSize {
		return nil, errors.Wrapf(ErrMalformed, "frame too short: %d bytes", len(frame))
	}
	body := frame[:len(frame)-trailerSize]
	want := binary.BigEndian.Uint32(frame[len(frame)-trailerSize:])
	if crc32.ChecksumIEEE(body) != want {
		return nil, ErrChecksumMismatch
	}
	if binary.BigEndian.Uint16(body[0:2]) != Magic {
		return nil, errors.Wrap(ErrMalformed, "bad magic")
	}
	p := &Packet{
		VersionMajor: body[2],
		VersionMinor: body[3],
		Seq:          binary.BigEndian.Uint64(body[5:13]),
		CumAck:       binary.BigEndian.Uint64(body[13:21]),
		SackBits:     binary.BigEndian.Uint32(body[21:25]),
	}
	payloadLen := int(binary.BigEndian.Uint16(body[25:27]))
	if len(body)-headerSize != payloadLen {
		return nil, errors.Wrapf(ErrMalformed, "payload length %d does not match frame", payloadLen)
	}
	payload, err := decodePayload(Kind(body[4]), body[headerSize:])
	if err != nil {
		return nil, err
	}
	p.Payload = payload
	return p, nil
}

func appendPayload(b []byte, p Payload) []byte {
	switch v := p.(type) {
	case *Connect:
		b = appendString(b, v.Name)
		b = append(b, v.VersionMajor, v.VersionMinor)
	case *ConnectAck:
		b = appendBool(b, v.Accepted)
		b = appendString(b, v.Reason)
	case *Disconnect, *Heartbeat, *ListRooms, *LeaveRoom, *StatsRequest:
		// no payload
	case *RoomList:
		b = binary.BigEndian.AppendUint16(b, uint16(len(v.Rooms)))
		for _, r := range v.Rooms {
			b = appendString(b, r.Name)
			b = binary.BigEndian.AppendUint16(b, r.Occupants)
		}
	case *NewRoom:
		b = appendString(b, v.Name)
	case *JoinRoom:
		b = appendString(b, v.Name)
	case *RoomEvent:
		b = append(b, uint8(v.Event))
		b = appendString(b, v.Room)
		b = appendString(b, v.Player)
		b = binary.BigEndian.AppendUint16(b, uint16(len(v.Roster)))
		for _, name := range v.Roster {
			b = appendString(b, name)
		}
	case *ChatMessage:
		b = appendString(b, v.Text)
	case *ChatRelay:
		b = appendString(b, v.Sender)
		b = appendString(b, v.Text)
	case *StateUpdate:
		b = binary.BigEndian.AppendUint64(b, v.DeltaSeq)
		b = appendBytes(b, v.Delta)
	case *StatsResponse:
		b = appendString(b, v.ServerName)
		b = binary.BigEndian.AppendUint32(b, v.Peers)
		b = binary.BigEndian.AppendUint32(b, v.Rooms)
		b = binary.BigEndian.AppendUint64(b, v.Counters.Sent)
		b = binary.BigEndian.AppendUint64(b, v.Counters.Received)
		b = binary.BigEndian.AppendUint64(b, v.Counters.Retransmitted)
		b = binary.BigEndian.AppendUint64(b, v.Counters.Dropped)
	case *ErrorReply:
		b = append(b, uint8(v.Code))
		b = appendString(b, v.Detail)
	}
	return b
}

func decodePayload(kind Kind, b []byte) (Payload, error) {
	r := &reader{buf: b}
	var p Payload
	switch kind {
	case KindConnect:
		v := &Connect{Name: r.str()}
		v.VersionMajor = r.u8()
		v.VersionMinor = r.u8()
		p = v
	case KindConnectAck:
		p = &ConnectAck{Accepted: r.boolean(), Reason: r.str()}
	case KindDisconnect:
		p = &Disconnect{}
	case KindHeartbeat:
		p = &Heartbeat{}
	case KindListRooms:
		p = &ListRooms{}
	case KindRoomList:
		n := int(r.u16())
		v := &RoomList{}
		for i := 0; i < n && r.err == nil; i++ {
			v.Rooms = append(v.Rooms, RoomInfo{Name: r.str(), Occupants: r.u16()})
		}
		p = v
	case KindNewRoom:
		p = &NewRoom{Name: r.str()}
	case KindJoinRoom:
		p = &JoinRoom{Name: r.str()}
	case KindLeaveRoom:
		p = &LeaveRoom{}
	case KindRoomEvent:
		v := &RoomEvent{Event: EventKind(r.u8()), Room: r.str(), Player: r.str()}
		n := int(r.u16())
		for i := 0; i < n && r.err == nil; i++ {
			v.Roster = append(v.Roster, r.str())
		}
		p = v
	case KindChatMessage:
		p = &ChatMessage{Text: r.str()}
	case KindChatRelay:
		p = &ChatRelay{Sender: r.str(), Text: r.str()}
	case KindStateUpdate:
		p = &StateUpdate{DeltaSeq: r.u64(), Delta: r.bytes()}
	case KindStatsRequest:
		p = &StatsRequest{}
	case KindStatsResponse:
		v := &StatsResponse{ServerName: r.str(), Peers: r.u32(), Rooms: r.u32()}
		v.Counters.Sent = r.u64()
		v.Counters.Received = r.u64()
		v.Counters.Retransmitted = r.u64()
		v.Counters.Dropped = r.u64()
		p = v
	case KindError:
		p = &ErrorReply{Code: ErrorCode(r.u8()), Detail: r.str()}
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown packet kind %d", uint8(kind))
	}
	if r.err != nil {
		return nil, errors.Wrapf(ErrMalformed, "decode %s payload", kind)
	}
	if len(r.buf) != r.off {
		return nil, errors.Wrapf(ErrMalformed, "%d trailing payload bytes after %s", len(r.buf)-r.off, kind)
	}
	return p, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func appendBytes(b, v []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(v)))
	return append(b, v...)
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// reader is a cursor over a payload slice. The first truncation sticks in
// err and every subsequent read returns a zero value, so decode paths can
// read unconditionally and check once.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrMalformed
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) boolean() bool {
	return r.u8() != 0
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) str() string {
	return string(r.take(int(r.u16())))
}

func (r *reader) bytes() []byte {
	b := r.take(int(r.u16()))
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
