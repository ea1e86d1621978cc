package reliable

import (
	"container/heap"
	"time"

	"gridnet/internal/pkg/wire"
)

// reorderBuffer releases reliable-channel payloads strictly in sequence
// order. Out-of-order arrivals are parked on a min-heap until the gap below
// them closes, or until the gap is older than the policy's GapWait and gets
// skipped. It is owned by a single Conn and needs no locking.
type reorderBuffer struct {
	expected uint64 // next sequence number to release
	buf      entryHeap

	// gapSince is when the currently open ordering gap was first
	// observed; zero when no gap is open.
	gapSince time.Time
}

type entry struct {
	seq     uint64
	payload wire.Payload
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{expected: 1}
}

// cumAck is the highest contiguously received sequence number.
func (r *reorderBuffer) cumAck() uint64 {
	return r.expected - 1
}

// sackBits reports buffered sequence numbers beyond the cumulative ack:
// bit i covers sequence cumAck+2+i. Sequence cumAck+1 is the gap head and
// by construction never buffered.
func (r *reorderBuffer) sackBits() uint32 {
	var bits uint32
	for _, e := range r.buf {
		off := e.seq - r.expected // >= 1 for every buffered entry
		if off >= 1 && off <= 32 {
			bits |= 1 << (off - 1)
		}
	}
	return bits
}

// seen reports whether seq was already delivered, skipped or buffered.
func (r *reorderBuffer) seen(seq uint64) bool {
	if seq < r.expected {
		return true
	}
	for _, e := range r.buf {
		if e.seq == seq {
			return true
		}
	}
	return false
}

// feed accepts an in-window sequence and returns every payload that can now
// be released in order. The caller has already rejected duplicates.
func (r *reorderBuffer) feed(seq uint64, payload wire.Payload, now time.Time) []wire.Payload {
	if seq > r.expected {
		heap.Push(&r.buf, entry{seq: seq, payload: payload})
		if r.gapSince.IsZero() {
			r.gapSince = now
		}
		return nil
	}

	out := []wire.Payload{payload}
	r.expected++
	out = append(out, r.drain()...)
	r.resetGap(now)
	return out
}

// skipStale closes an ordering gap that outlived the bounded wait. The
// sequence numbers below the oldest buffered entry are treated as lost and
// the buffered tail is released. Returns the skipped numbers and the
// released payloads.
func (r *reorderBuffer) skipStale(now time.Time, wait time.Duration) ([]uint64, []wire.Payload) {
	if r.gapSince.IsZero() || now.Sub(r.gapSince) < wait || r.buf.Len() == 0 {
		return nil, nil
	}
	var skipped []uint64
	for s := r.expected; s < r.buf[0].seq; s++ {
		skipped = append(skipped, s)
	}
	r.expected = r.buf[0].seq
	out := r.drain()
	r.resetGap(now)
	return skipped, out
}

// drain pops consecutive buffered entries starting at expected.
func (r *reorderBuffer) drain() []wire.Payload {
	var out []wire.Payload
	for r.buf.Len() > 0 && r.buf[0].seq == r.expected {
		out = append(out, heap.Pop(&r.buf).(entry).payload)
		r.expected++
	}
	return out
}

// resetGap restarts the gap clock: the previous gap is gone, and whatever
// remains buffered opens a fresh one.
func (r *reorderBuffer) resetGap(now time.Time) {
	if r.buf.Len() == 0 {
		r.gapSince = time.Time{}
		return
	}
	r.gapSince = now
}

type entryHeap []entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
