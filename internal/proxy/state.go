package proxy

import "strconv"

// State is the lifecycle stage of one proxied connection. Transitions are
// linear; an error at any stage moves straight to StateClosed.
type State int

const (
	StateAccepted State = iota
	StateResolved
	StateDialing
	StateSpliced
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateResolved:
		return "resolved"
	case StateDialing:
		return "dialing"
	case StateSpliced:
		return "spliced"
	case StateClosed:
		return "closed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}
