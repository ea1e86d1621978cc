package reliable

import "time"

// Policy holds the protocol timing knobs. The zero value is not usable;
// start from DefaultPolicy and override from configuration.
type Policy struct {
	// RetransmitBase is the first retransmission delay for an
	// unacknowledged frame. Each retry doubles it up to RetransmitCap.
	RetransmitBase time.Duration

	// RetransmitCap bounds the exponential backoff.
	RetransmitCap time.Duration

	// MaxRetries is the retry ceiling. A frame retransmitted this many
	// times without an acknowledgment marks the peer unreachable.
	MaxRetries int

	// GapWait bounds head-of-line blocking: an ordering gap older than
	// this is skipped and the missing frames are treated as lost.
	GapWait time.Duration

	// HeartbeatInterval is the idle-send period for live sessions.
	HeartbeatInterval time.Duration

	// MissedThreshold is the number of silent heartbeat intervals after
	// which a peer is evicted.
	MissedThreshold int
}

// DefaultPolicy returns the stock timing parameters.
func DefaultPolicy() Policy {
	return Policy{
		RetransmitBase:    400 * time.Millisecond,
		RetransmitCap:     6400 * time.Millisecond,
		MaxRetries:        8,
		GapWait:           2 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		MissedThreshold:   3,
	}
}

// IdleTimeout is the silence span after which a peer is considered gone.
func (p Policy) IdleTimeout() time.Duration {
	return p.HeartbeatInterval * time.Duration(p.MissedThreshold)
}

// backoff returns the retransmission delay after the given retry count.
func (p Policy) backoff(retries int) time.Duration {
	d := p.RetransmitBase
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= p.RetransmitCap {
			return p.RetransmitCap
		}
	}
	return d
}
