// Package client implements the client side of the gridnet protocol.
//
// The client performs the following steps:
//	1. Dials the server's UDP address and sends a reliable Connect carrying
//	   its display name and protocol version.
//	2. Waits for the ConnectAck; a rejection (incompatible major version)
//	   surfaces as ErrRejected.
//	3. Runs a single event loop reacting to inbound datagrams, queued user
//	   commands and the retransmission/heartbeat ticker.
//	4. Room commands, chat and stats queries travel the reliable channel;
//	   automaton state deltas travel the best-effort channel, stamped with a
//	   monotonically increasing delta-sequence so receivers can discard
//	   stale ones.
//	5. Inbound room events, chat relays and state updates are surfaced on
//	   the Events channel for the front end; deltas are also fed to the
//	   automaton engine when one is attached.
//
// A server silent past the liveness timeout ends Run with ErrServerTimeout.
// Reconnection is the caller's decision.
package client
