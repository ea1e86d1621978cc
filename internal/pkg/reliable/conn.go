package reliable

import (
	"time"

	"gridnet/internal/pkg/wire"

	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Conn is the per-peer reliability engine. It assigns outbound sequence
// numbers, tracks acknowledgments, schedules retransmissions and turns the
// lossy inbound datagram stream into an ordered, exactly-once payload stream.
//
// A Conn is owned by a single event loop and is not safe for concurrent use.
type Conn struct {
	policy   Policy
	counters *Counters

	// verMajor/verMinor stamp outbound frame headers. They default to this
	// build's version and are overridden to answer a peer speaking a
	// different one in frames it can attribute.
	verMajor uint8
	verMinor uint8

	nextSeq uint64
	pending map[uint64]*pendingFrame

	reorder   *reorderBuffer
	lastDelta uint64 // highest StateUpdate delta-sequence accepted
	haveDelta bool
}

// pendingFrame is one sent, not-yet-acknowledged reliable frame.
type pendingFrame struct {
	seq       uint64
	frame     []byte
	firstSent time.Time
	deadline  time.Time
	retries   int
}

// NewConn creates a reliability engine using the given policy. Counters may
// be shared between connections; pass nil to keep private ones.
func NewConn(policy Policy, counters *Counters) *Conn {
	if counters == nil {
		counters = &Counters{}
	}
	return &Conn{
		policy:   policy,
		counters: counters,
		verMajor: wire.VersionMajor,
		verMinor: wire.VersionMinor,
		pending:  make(map[uint64]*pendingFrame),
		reorder:  newReorderBuffer(),
	}
}

// SetVersion overrides the protocol version stamped on outbound frames.
func (c *Conn) SetVersion(major, minor uint8) {
	c.verMajor = major
	c.verMinor = minor
}

// Acks returns the cumulative ack and selective-ack bitmap describing what
// has been received from the remote peer so far.
func (c *Conn) Acks() (uint64, uint32) {
	return c.reorder.cumAck(), c.reorder.sackBits()
}

// Reliable encodes payload on the reliable channel: it is assigned the next
// sequence number and retransmitted until acknowledged. A payload too large
// for a frame is dropped with a nil result and its sequence number reclaimed,
// so the receiver never observes a permanent gap.
func (c *Conn) Reliable(payload wire.Payload, now time.Time) []byte {
	c.nextSeq++
	frame, err := wire.Encode(c.packet(c.nextSeq, payload))
	if err != nil {
		c.nextSeq--
		c.counters.Dropped.Add(1)
		logger.WithField("kind", payload.Kind().String()).WithError(err).Error("encode failed, dropping payload")
		return nil
	}
	c.pending[c.nextSeq] = &pendingFrame{
		seq:       c.nextSeq,
		frame:     frame,
		firstSent: now,
		deadline:  now.Add(c.policy.RetransmitBase),
	}
	c.counters.Sent.Add(1)
	return frame
}

// BestEffort encodes payload on the best-effort channel: no sequence number,
// no retransmission. Oversized payloads are dropped with a nil result.
func (c *Conn) BestEffort(payload wire.Payload) []byte {
	frame, err := wire.Encode(c.packet(wire.NoSeq, payload))
	if err != nil {
		c.counters.Dropped.Add(1)
		logger.WithField("kind", payload.Kind().String()).WithError(err).Error("encode failed, dropping payload")
		return nil
	}
	c.counters.Sent.Add(1)
	return frame
}

func (c *Conn) packet(seq uint64, payload wire.Payload) *wire.Packet {
	cum, bits := c.Acks()
	return &wire.Packet{
		VersionMajor: c.verMajor,
		VersionMinor: c.verMinor,
		Seq:          seq,
		CumAck:       cum,
		SackBits:     bits,
		Payload:      payload,
	}
}

// Receive processes one decoded inbound packet and returns the payloads now
// deliverable to the application, in sequence order for the reliable channel.
// Duplicates and stale state updates are dropped with no application effect.
func (c *Conn) Receive(p *wire.Packet, now time.Time) []wire.Payload {
	c.counters.Received.Add(1)
	c.clearAcked(p.CumAck, p.SackBits)

	if p.Seq == wire.NoSeq {
		if u, ok := p.Payload.(*wire.StateUpdate); ok {
			if c.haveDelta && u.DeltaSeq <= c.lastDelta {
				c.counters.Dropped.Add(1)
				return nil
			}
			c.lastDelta = u.DeltaSeq
			c.haveDelta = true
		}
		return []wire.Payload{p.Payload}
	}

	if c.reorder.seen(p.Seq) {
		c.counters.Dropped.Add(1)
		return nil
	}
	return c.reorder.feed(p.Seq, p.Payload, now)
}

// clearAcked drops every pending frame covered by the remote peer's
// cumulative ack or selective-ack bitmap.
func (c *Conn) clearAcked(cumAck uint64, sackBits uint32) {
	for seq := range c.pending {
		if seq <= cumAck {
			delete(c.pending, seq)
		}
	}
	for i := uint64(0); i < 32; i++ {
		if sackBits&(1<<i) != 0 {
			delete(c.pending, cumAck+2+i)
		}
	}
}

// TickResult is the outcome of one timer sweep over a Conn.
type TickResult struct {
	// Retransmits are frames whose backoff deadline expired.
	Retransmits [][]byte

	// Released are reliable payloads freed by skipping a stale ordering
	// gap; they must be handed to the application like Receive output.
	Released []wire.Payload

	// Skipped are the sequence numbers given up on as permanently lost.
	Skipped []uint64

	// Dead is set when a frame exhausted the retry ceiling, marking the
	// peer unreachable.
	Dead bool
}

// Tick runs the scheduled-task sweep: retransmission backoff and ordering
// gap expiry. The event loop calls it once per timer iteration.
func (c *Conn) Tick(now time.Time) TickResult {
	var res TickResult

	skipped, released := c.reorder.skipStale(now, c.policy.GapWait)
	if len(skipped) > 0 {
		logger.WithFields(logrus.Fields{
			"skipped": skipped,
			"cum_ack": c.reorder.cumAck(),
		}).Warn("ordering gap expired, sequence numbers treated as lost")
	}
	res.Skipped = skipped
	res.Released = released

	for _, pf := range c.pending {
		if now.Before(pf.deadline) {
			continue
		}
		if pf.retries >= c.policy.MaxRetries {
			logger.WithFields(logrus.Fields{
				"seq":        pf.seq,
				"retries":    pf.retries,
				"first_sent": pf.firstSent,
			}).Warn("retry ceiling reached, peer unreachable")
			res.Dead = true
			continue
		}
		pf.retries++
		pf.deadline = now.Add(c.policy.backoff(pf.retries))
		res.Retransmits = append(res.Retransmits, pf.frame)
		c.counters.Retransmitted.Add(1)
	}
	return res
}

// PendingLen reports the number of sent, unacknowledged reliable frames.
func (c *Conn) PendingLen() int {
	return len(c.pending)
}

// DiscardPending drops all queued retransmissions. Used at session teardown.
func (c *Conn) DiscardPending() {
	c.pending = make(map[uint64]*pendingFrame)
}

// Counters exposes the traffic counters backing this connection.
func (c *Conn) Counters() *Counters {
	return c.counters
}
