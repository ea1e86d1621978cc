package client

import (
	"context"
	"net"
	"sync"
	"time"

	"gridnet/internal/pkg/automaton"
	"gridnet/internal/pkg/log"
	"gridnet/internal/pkg/reliable"
	"gridnet/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultTickInterval is the client event-loop timer granularity.
const DefaultTickInterval = 50 * time.Millisecond

const maxDatagram = 64 * 1024

// Client implements the client behaviour of the gridnet protocol.
type Client struct {
	serverAddr string
	name       string
	policy     reliable.Policy
	tick       time.Duration
	engine     automaton.Engine

	pc   *net.UDPConn
	conn *reliable.Conn

	connected  bool
	roomMu     sync.Mutex
	room       string // guarded by roomMu: written by the loop, read by Room
	// pendingRoom is the room named in our own in-flight create/join
	// request. Only its confirmation may change the tracked room; display
	// names are not unique, so events about other players are never
	// matched by name.
	pendingRoom string
	deltaSeq    uint64
	lastServer time.Time
	hbDue      time.Time

	cmds   chan wire.Payload
	events chan wire.Payload
	done   chan struct{}
}

// Cfg configures a Client.
type Cfg func(*Client) error

// WithServerAddr sets the server address to connect to, e.g. "host:2016".
func WithServerAddr(addr string) Cfg {
	return func(c *Client) error {
		c.serverAddr = addr
		return nil
	}
}

// WithName sets the player display name sent in the handshake.
func WithName(name string) Cfg {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithPolicy sets the protocol timing policy.
func WithPolicy(p reliable.Policy) Cfg {
	return func(c *Client) error {
		c.policy = p
		return nil
	}
}

// WithTickInterval overrides the event-loop timer granularity.
func WithTickInterval(d time.Duration) Cfg {
	return func(c *Client) error {
		c.tick = d
		return nil
	}
}

// WithEngine attaches the automaton compute engine. Inbound deltas are
// applied to it and its outbound deltas are published each tick.
func WithEngine(e automaton.Engine) Cfg {
	return func(c *Client) error {
		c.engine = e
		return nil
	}
}

// NewClient creates a new Client with the given configuration.
func NewClient(cfgs ...Cfg) (*Client, error) {
	c := &Client{
		name:   "anonymous",
		policy: reliable.DefaultPolicy(),
		tick:   DefaultTickInterval,
		cmds:   make(chan wire.Payload, 16),
		events: make(chan wire.Payload, 64),
		done:   make(chan struct{}),
	}
	for _, cfg := range cfgs {
		if err := cfg(c); err != nil {
			return nil, errors.Wrap(err, "apply Client cfg failed")
		}
	}
	if c.serverAddr == "" {
		return nil, errors.New("server address required")
	}
	c.conn = reliable.NewConn(c.policy, nil)
	return c, nil
}

// Events surfaces room events, chat relays, room lists, stats responses,
// error replies and state updates to the front end.
func (c *Client) Events() <-chan wire.Payload {
	return c.events
}

// Room returns the current room name, or "" when in none.
func (c *Client) Room() string {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	return c.room
}

func (c *Client) setRoom(name string) {
	c.roomMu.Lock()
	c.room = name
	c.roomMu.Unlock()
}

// NewRoom asks the server to create (and join) a room.
func (c *Client) NewRoom(name string) error {
	return c.enqueue(&wire.NewRoom{Name: name})
}

// JoinRoom asks the server to add this client to a room.
func (c *Client) JoinRoom(name string) error {
	return c.enqueue(&wire.JoinRoom{Name: name})
}

// LeaveRoom asks the server to remove this client from its room.
func (c *Client) LeaveRoom() error {
	return c.enqueue(&wire.LeaveRoom{})
}

// Chat sends a chat line to the current room.
func (c *Client) Chat(text string) error {
	return c.enqueue(&wire.ChatMessage{Text: text})
}

// ListRooms requests a room snapshot; the RoomList arrives on Events.
func (c *Client) ListRooms() error {
	return c.enqueue(&wire.ListRooms{})
}

// QueryStats requests server counters; the StatsResponse arrives on Events.
func (c *Client) QueryStats() error {
	return c.enqueue(&wire.StatsRequest{})
}

// SendState publishes an automaton delta on the best-effort channel. The
// delta-sequence is stamped by the event loop. Deltas larger than
// wire.MaxDelta cannot fit a frame and are rejected.
func (c *Client) SendState(delta []byte) error {
	if len(delta) > wire.MaxDelta {
		return errors.Wrapf(ErrDeltaTooLarge, "%d bytes", len(delta))
	}
	return c.enqueue(&wire.StateUpdate{Delta: delta})
}

// Disconnect asks the server to close the session gracefully.
func (c *Client) Disconnect() error {
	return c.enqueue(&wire.Disconnect{})
}

func (c *Client) enqueue(p wire.Payload) error {
	select {
	case c.cmds <- p:
		return nil
	case <-c.done:
		return ErrNotConnected
	}
}

// Run dials the server, performs the handshake and drives the event loop
// until ctx is cancelled, the server disconnects, or the session dies.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)

	udpAddr, err := net.ResolveUDPAddr("udp", c.serverAddr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s failed", c.serverAddr)
	}
	c.pc, err = net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return errors.Wrapf(err, "dial %s failed", c.serverAddr)
	}
	defer c.pc.Close() // nolint: errcheck

	now := time.Now()
	c.lastServer = now
	c.hbDue = now.Add(c.policy.HeartbeatInterval)
	c.send(c.conn.Reliable(&wire.Connect{
		Name:         c.name,
		VersionMajor: wire.VersionMajor,
		VersionMinor: wire.VersionMinor,
	}, now))
	logger.WithField("server", c.serverAddr).Info("handshake sent")

	in := make(chan []byte, 64)
	go c.read(ctx, in)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.send(c.conn.BestEffort(&wire.Disconnect{}))
			return nil
		case data := <-in:
			closed, err := c.handleDatagram(data, time.Now())
			if err != nil {
				return err
			}
			if closed {
				return nil
			}
		case cmd := <-c.cmds:
			c.handleCommand(cmd, time.Now())
		case now := <-ticker.C:
			if err := c.handleTick(now); err != nil {
				return err
			}
		}
	}
}

func (c *Client) read(ctx context.Context, out chan<- []byte) {
	buf := make([]byte, maxDatagram)
	for {
		n, err := c.pc.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-c.done:
				return
			default:
			}
			logger.WithError(err).Debug("socket read failed")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleDatagram(data []byte, now time.Time) (closed bool, err error) {
	pkt, err := wire.Decode(data)
	if err != nil {
		logger.WithError(err).Debug("dropping undecodable frame")
		return false, nil // treated as loss
	}
	c.lastServer = now
	logger.WithFields(log.PacketToFields(pkt)).Trace("received packet")

	for _, payload := range c.conn.Receive(pkt, now) {
		done, err := c.handlePayload(payload, now)
		if err != nil || done {
			return done, err
		}
	}
	return false, nil
}

func (c *Client) handlePayload(payload wire.Payload, now time.Time) (closed bool, err error) {
	switch v := payload.(type) {
	case *wire.ConnectAck:
		if !v.Accepted {
			return false, errors.Wrap(ErrRejected, v.Reason)
		}
		if !c.connected {
			c.connected = true
			logger.Info("connected")
			c.emit(payload)
		}
		return false, nil
	case *wire.RoomEvent:
		c.trackRoom(v)
	case *wire.ErrorReply:
		switch v.Code {
		case wire.CodeRoomExists, wire.CodeRoomNotFound, wire.CodeRoomFull:
			// The create/join we were waiting on failed.
			c.pendingRoom = ""
		}
	case *wire.StateUpdate:
		if c.engine != nil {
			if err := c.engine.ApplyDelta(v.Delta); err != nil {
				logger.WithError(err).Warn("apply delta failed")
			}
		}
	case *wire.Disconnect:
		logger.Info("server closed the session")
		c.emit(payload)
		return true, nil
	case *wire.Heartbeat:
		return false, nil // ack bookkeeping already done
	}
	c.emit(payload)
	return false, nil
}

// trackRoom follows our own membership through room events. Created/Joined
// confirmations are matched against the room we asked for; broadcasts about
// other members arriving or leaving never move the tracked room.
func (c *Client) trackRoom(e *wire.RoomEvent) {
	switch e.Event {
	case wire.EventCreated, wire.EventJoined:
		if e.Room == c.pendingRoom {
			c.setRoom(e.Room)
			c.pendingRoom = ""
		}
	case wire.EventLeft:
		// Only ever sent to the leaver itself.
		if e.Room == c.Room() {
			c.setRoom("")
		}
	}
}

func (c *Client) handleCommand(cmd wire.Payload, now time.Time) {
	switch v := cmd.(type) {
	case *wire.StateUpdate:
		c.deltaSeq++
		v.DeltaSeq = c.deltaSeq
		c.send(c.conn.BestEffort(v))
		return
	case *wire.NewRoom:
		c.pendingRoom = v.Name
	case *wire.JoinRoom:
		c.pendingRoom = v.Name
	case *wire.LeaveRoom:
		c.setRoom("")
	}
	c.send(c.conn.Reliable(cmd, now))
}

func (c *Client) handleTick(now time.Time) error {
	res := c.conn.Tick(now)
	for _, frame := range res.Retransmits {
		c.send(frame)
	}
	for _, payload := range res.Released {
		if done, err := c.handlePayload(payload, now); err != nil || done {
			return err
		}
	}
	if res.Dead {
		return errors.Wrap(ErrServerTimeout, "retransmission exhausted")
	}

	if now.Sub(c.lastServer) > c.policy.IdleTimeout() {
		return ErrServerTimeout
	}
	if c.connected && !now.Before(c.hbDue) {
		c.hbDue = now.Add(c.policy.HeartbeatInterval)
		c.send(c.conn.BestEffort(&wire.Heartbeat{}))
	}

	if c.engine != nil && c.connected && c.Room() != "" {
		if delta, ok := c.engine.NextDelta(); ok {
			if len(delta) > wire.MaxDelta {
				logger.WithField("bytes", len(delta)).Warn("engine delta exceeds frame capacity, dropping")
			} else {
				c.deltaSeq++
				c.send(c.conn.BestEffort(&wire.StateUpdate{DeltaSeq: c.deltaSeq, Delta: delta}))
			}
		}
	}
	return nil
}

func (c *Client) emit(p wire.Payload) {
	select {
	case c.events <- p:
	default:
		logger.WithField("kind", p.Kind().String()).Debug("event channel full, dropping")
	}
}

func (c *Client) send(frame []byte) {
	if len(frame) == 0 {
		return // payload was dropped at encode time
	}
	if _, err := c.pc.Write(frame); err != nil {
		logger.WithError(err).Warn("socket write failed")
	}
}
