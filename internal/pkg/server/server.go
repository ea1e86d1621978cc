package server

import (
	"context"
	"net"
	"time"

	"gridnet/internal/pkg/dispatch"
	"gridnet/internal/pkg/liveness"
	"gridnet/internal/pkg/log"
	"gridnet/internal/pkg/reliable"
	"gridnet/internal/pkg/room"
	"gridnet/internal/pkg/session"
	"gridnet/internal/pkg/wire"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultTickInterval is the event-loop timer granularity. Retransmission
// and heartbeat deadlines are inspected once per tick.
const DefaultTickInterval = 50 * time.Millisecond

const maxDatagram = 64 * 1024

// Server runs the authoritative protocol engine for many peers over one UDP
// socket.
type Server struct {
	name         string
	bindAddr     string
	policy       reliable.Policy
	tick         time.Duration
	roomCapacity int
	relayToSelf  bool

	peers   session.Store
	rooms   *room.Registry
	totals  *reliable.Counters
	disp    *dispatch.Dispatcher
	monitor *liveness.Monitor

	pc    *net.UDPConn
	ready chan struct{}
}

// Cfg configures a Server.
type Cfg func(*Server) error

// WithBindAddr sets the UDP listen address, e.g. ":2016".
func WithBindAddr(addr string) Cfg {
	return func(s *Server) error {
		s.bindAddr = addr
		return nil
	}
}

// WithName sets the display name reported in stats responses.
func WithName(name string) Cfg {
	return func(s *Server) error {
		s.name = name
		return nil
	}
}

// WithPolicy sets the protocol timing policy.
func WithPolicy(p reliable.Policy) Cfg {
	return func(s *Server) error {
		s.policy = p
		return nil
	}
}

// WithTickInterval overrides the event-loop timer granularity.
func WithTickInterval(d time.Duration) Cfg {
	return func(s *Server) error {
		s.tick = d
		return nil
	}
}

// WithRoomCapacity bounds occupants per room; <= 0 means unbounded.
func WithRoomCapacity(n int) Cfg {
	return func(s *Server) error {
		s.roomCapacity = n
		return nil
	}
}

// WithRelayToSender includes chat senders in their own relay fan-out.
func WithRelayToSender(include bool) Cfg {
	return func(s *Server) error {
		s.relayToSelf = include
		return nil
	}
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfgs ...Cfg) (*Server, error) {
	s := &Server{
		name:     "gridnet server",
		bindAddr: ":2016",
		policy:   reliable.DefaultPolicy(),
		tick:     DefaultTickInterval,
		ready:    make(chan struct{}),
	}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "apply Server cfg failed")
		}
	}
	s.peers = session.NewMemoryStore()
	s.rooms = room.NewRegistry(s.roomCapacity)
	s.totals = &reliable.Counters{}
	s.monitor = liveness.NewMonitor(s.policy, s.peers)
	var err error
	s.disp, err = dispatch.NewDispatcher(
		dispatch.WithPeerStore(s.peers),
		dispatch.WithRegistry(s.rooms),
		dispatch.WithCounters(s.totals),
		dispatch.WithServerName(s.name),
		dispatch.WithRelayToSender(s.relayToSelf),
	)
	if err != nil {
		return nil, errors.Wrap(err, "new dispatcher failed")
	}
	return s, nil
}

// Addr returns the bound socket address. Valid only after Run has started;
// wait on Ready first.
func (s *Server) Addr() net.Addr {
	return s.pc.LocalAddr()
}

// Ready is closed once the socket is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// Run binds the socket and drives the event loop until ctx is cancelled.
// A bind failure is fatal and propagates out; per-packet failures never do.
func (s *Server) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.bindAddr)
	if err != nil {
		return errors.Wrapf(err, "resolve bind address %s failed", s.bindAddr)
	}
	s.pc, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errors.Wrapf(err, "bind %s failed", s.bindAddr)
	}
	defer s.pc.Close() // nolint: errcheck
	close(s.ready)
	logger.WithField("addr", s.pc.LocalAddr().String()).Info("server listening")

	datagrams := make(chan datagram, 64)
	go s.read(ctx, datagrams)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case d := <-datagrams:
			s.handleDatagram(d, time.Now())
		case now := <-ticker.C:
			s.handleTick(now)
		}
	}
}

// read feeds inbound datagrams to the event loop. It exits when the socket
// closes at shutdown.
func (s *Server) read(ctx context.Context, out chan<- datagram) {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := s.pc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("socket read failed")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- datagram{data: data, addr: addr}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleDatagram(d datagram, now time.Time) {
	pkt, err := wire.Decode(d.data)
	if err != nil {
		// Corrupted or malformed frames are treated as loss; the
		// sender's retransmission timer recovers reliable traffic.
		s.totals.Dropped.Add(1)
		logger.WithField("peer", d.addr.String()).WithError(err).Debug("dropping undecodable frame")
		return
	}

	peer, ok := s.peers.Get(d.addr)
	if !ok {
		if _, isConnect := pkt.Payload.(*wire.Connect); !isConnect {
			s.totals.Dropped.Add(1)
			logger.WithFields(log.PacketToFields(pkt)).Debug("ignoring packet from unknown peer")
			return
		}
		peer = &session.Peer{
			UUID:         uuid.New(),
			Addr:         d.addr,
			State:        session.Handshaking,
			Conn:         reliable.NewConn(s.policy, s.totals),
			LastActivity: now,
		}
		if err := s.peers.Add(peer); err != nil {
			logger.WithError(err).Warn("add peer failed")
			return
		}
		logger.WithField("peer", d.addr.String()).Info("new peer handshaking")
	}

	s.monitor.Touch(peer, now)
	logger.WithFields(log.PacketToFields(pkt)).Trace("received packet")

	wasLive := peer.State.Live()
	for _, payload := range peer.Conn.Receive(pkt, now) {
		s.apply(peer, s.disp.Dispatch(peer, payload), now)
	}
	if !wasLive && peer.State.Live() {
		s.monitor.Start(peer, now)
	}
}

// apply flushes one dispatch outcome onto the wire.
func (s *Server) apply(peer *session.Peer, out dispatch.Outcome, now time.Time) {
	for _, p := range out.Replies {
		s.write(peer, peer.Conn.Reliable(p, now))
	}
	for _, p := range out.UnreliableReply {
		s.write(peer, peer.Conn.BestEffort(p))
	}
	for _, send := range out.Sends {
		s.write(send.To, send.To.Conn.Reliable(send.Payload, now))
	}
	for _, send := range out.UnreliableSends {
		s.write(send.To, send.To.Conn.BestEffort(send.Payload))
	}
	if out.Close {
		s.closePeer(peer, now)
	}
}

// closePeer tears a session down: queued retransmissions are discarded, room
// membership is removed with a roster broadcast, and the peer is forgotten.
func (s *Server) closePeer(peer *session.Peer, now time.Time) {
	if peer.State == session.Closed {
		return
	}
	if peer.State != session.Closing {
		if err := peer.Transition(session.Closing); err != nil {
			// Handshake rejection: the peer never reached a live state.
			peer.State = session.Closing
		}
	}
	teardown := s.disp.Teardown(peer)
	for _, send := range teardown.Sends {
		s.write(send.To, send.To.Conn.Reliable(send.Payload, now))
	}
	peer.Conn.DiscardPending()
	_ = peer.Transition(session.Closed) // nolint: errcheck
	s.peers.Remove(peer.Addr)
	logger.WithFields(logrus.Fields{
		"peer": peer.Addr.String(),
		"name": peer.Name,
	}).Info("peer closed")
}

// handleTick runs the scheduled-task sweep: retransmissions, ordering-gap
// expiry, heartbeats and liveness eviction.
func (s *Server) handleTick(now time.Time) {
	type released struct {
		peer     *session.Peer
		payloads []wire.Payload
	}
	var (
		frees []released
		dead  []*session.Peer
	)
	s.peers.Each(func(p *session.Peer) {
		res := p.Conn.Tick(now)
		for _, frame := range res.Retransmits {
			s.write(p, frame)
		}
		if len(res.Released) > 0 {
			frees = append(frees, released{peer: p, payloads: res.Released})
		}
		if res.Dead {
			dead = append(dead, p)
		}
	})
	for _, f := range frees {
		for _, payload := range f.payloads {
			s.apply(f.peer, s.disp.Dispatch(f.peer, payload), now)
		}
	}
	for _, p := range dead {
		logger.WithField("peer", p.Addr.String()).Warn("retransmission exhausted, closing peer")
		s.closePeer(p, now)
	}

	heartbeat, evict := s.monitor.Sweep(now)
	for _, p := range heartbeat {
		s.write(p, p.Conn.BestEffort(&wire.Heartbeat{}))
	}
	for _, p := range evict {
		logger.WithFields(logrus.Fields{
			"peer": p.Addr.String(),
			"name": p.Name,
		}).Warn("liveness timeout, evicting peer")
		s.closePeer(p, now)
	}
}

// shutdown notifies live peers and drops all state.
func (s *Server) shutdown() {
	var live []*session.Peer
	s.peers.Each(func(p *session.Peer) {
		if p.State.Live() {
			live = append(live, p)
		}
	})
	for _, p := range live {
		s.write(p, p.Conn.BestEffort(&wire.Disconnect{}))
		s.closePeer(p, time.Now())
	}
	logger.Info("server shut down")
}

func (s *Server) write(peer *session.Peer, frame []byte) {
	if len(frame) == 0 {
		return // payload was dropped at encode time
	}
	if _, err := s.pc.WriteToUDP(frame, peer.Addr.(*net.UDPAddr)); err != nil {
		logger.WithField("peer", peer.Addr.String()).WithError(err).Warn("socket write failed")
	}
}
