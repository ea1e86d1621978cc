package session

// State is a position in the session lifecycle.
type State uint8

const (
	Disconnected State = iota
	Handshaking
	Connected
	InRoom
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Handshaking:
		return "Handshaking"
	case Connected:
		return "Connected"
	case InRoom:
		return "InRoom"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	}
	return "Unknown"
}

// Live reports whether the session exchanges heartbeats in this state.
func (s State) Live() bool {
	return s == Connected || s == InRoom
}

// transitions is the closed set of legal state changes.
var transitions = map[State][]State{
	Disconnected: {Handshaking},
	Handshaking:  {Connected, Disconnected, Closing},
	Connected:    {InRoom, Closing},
	InRoom:       {Connected, Closing},
	Closing:      {Closed},
	Closed:       {},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
