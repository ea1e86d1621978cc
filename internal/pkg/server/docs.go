// Package server implements the authoritative gridnet server.
//
// The server performs the following steps:
//	1. Binds a UDP socket and starts one reader goroutine feeding a datagram channel.
//	2. Runs a single event loop that reacts to three sources: inbound datagrams,
//	   the retransmission/gap sweep and the heartbeat sweep (both driven by one ticker).
//	3. On a valid Connect handshake from an unknown address it creates a peer with
//	   its own reliability engine and negotiates the protocol version.
//	4. Decoded reliable payloads are released in sequence order and handed to the
//	   command dispatcher, which mutates the room registry and queues replies and
//	   room broadcasts onto each member's outbound path.
//	5. Peers silent past the liveness timeout, or whose retransmissions exhaust the
//	   retry ceiling, are torn down and their rooms receive a roster update.
//
// All peer and room state is owned by the event loop goroutine; nothing else
// mutates it, so one loop iteration never observes a half-updated peer or room.
//
// An optional registrar announcement runs out-of-band at startup and neither
// blocks nor fails the server.
package server
