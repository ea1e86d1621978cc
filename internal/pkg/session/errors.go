package session

import "github.com/pkg/errors"

var ErrPeerNotFound = errors.New("peer not found")
var ErrPeerAlreadyExists = errors.New("peer already exists")
var ErrBadTransition = errors.New("illegal session state transition")
