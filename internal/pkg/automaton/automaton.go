// Package automaton is the boundary to the cellular-automaton compute
// engine. The protocol engine treats grid state as opaque bytes: deltas go
// out on the best-effort channel and supersede each other by delta-sequence,
// so the engine only ever needs the newest one.
package automaton

// Engine produces and consumes opaque state deltas.
type Engine interface {
	// ApplyDelta folds a remote delta into the local universe.
	ApplyDelta(delta []byte) error

	// NextDelta returns the next local delta to publish, or false when
	// nothing changed since the last call.
	NextDelta() ([]byte, bool)
}
