package reliable

import (
	"sync/atomic"

	"gridnet/internal/pkg/wire"
)

// Counters tracks protocol traffic totals. All operations are atomic so a
// single Counters value can be shared across peers for process-wide totals.
type Counters struct {
	Sent          atomic.Uint64
	Received      atomic.Uint64
	Retransmitted atomic.Uint64
	Dropped       atomic.Uint64
}

// Snapshot returns a point-in-time copy suitable for a StatsResponse.
func (c *Counters) Snapshot() wire.Counters {
	return wire.Counters{
		Sent:          c.Sent.Load(),
		Received:      c.Received.Load(),
		Retransmitted: c.Retransmitted.Load(),
		Dropped:       c.Dropped.Load(),
	}
}
