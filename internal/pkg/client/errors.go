package client

import "github.com/pkg/errors"

// ErrRejected indicates that the server refused the handshake.
var ErrRejected = errors.New("handshake rejected")

// ErrServerTimeout indicates that the server went silent past the liveness
// timeout.
var ErrServerTimeout = errors.New("server timed out")

// ErrNotConnected indicates a command issued before the handshake finished.
var ErrNotConnected = errors.New("not connected")

// ErrDeltaTooLarge indicates an automaton delta that cannot fit a single
// state-update frame.
var ErrDeltaTooLarge = errors.New("delta exceeds frame capacity")
