package room

import "github.com/pkg/errors"

// ErrRoomExists is returned when creating a room whose name is taken.
var ErrRoomExists = errors.New("room already exists")

// ErrRoomNotFound is returned when joining a room that does not exist.
var ErrRoomNotFound = errors.New("room not found")

// ErrRoomFull is returned when a room is at capacity.
var ErrRoomFull = errors.New("room full")

// ErrNotInRoom is returned when leaving without a current room.
var ErrNotInRoom = errors.New("not in a room")

// ErrAlreadyInRoom is returned when joining while already a member of one.
var ErrAlreadyInRoom = errors.New("already in a room")
