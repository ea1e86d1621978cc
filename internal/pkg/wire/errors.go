package wire

import "github.com/pkg/errors"

// ErrMalformed indicates a truncated or ill-typed frame.
var ErrMalformed = errors.New("malformed frame")

// ErrChecksumMismatch indicates a frame whose trailing checksum does not
// match its contents.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ErrOversizedPayload indicates a payload too large to fit a single frame.
var ErrOversizedPayload = errors.New("payload exceeds frame capacity")
