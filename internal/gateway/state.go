package gateway

import (
	"fmt"
	"sync"
)

// State is where a connection is in its lifecycle.
type State int

const (
	Connecting State = iota
	Authenticating
	Authenticated
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// allowed lists the legal next states. Disconnected is terminal.
var allowed = map[State][]State{
	Connecting:     {Authenticating, Disconnected},
	Authenticating: {Authenticated, Disconnected},
	Authenticated:  {Disconnected},
}

// lifecycle tracks one connection's state. Invalid transitions are rejected
// and leave the state unchanged.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *lifecycle) Current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) To(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range allowed[l.state] {
		if s == next {
			stateTransitions.WithLabelValues(l.state.String(), next.String()).Inc()
			l.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", l.state, next)
}
