package store

// State is the connection state of a Manager.
type State int

const (
	// StateDisconnected indicates no usable master connection
	StateDisconnected State = iota

	// StateConnecting indicates a first connection attempt in progress
	StateConnecting

	// StateConnected indicates an established master connection
	StateConnected

	// StateFailoverInProgress indicates master rediscovery after a
	// connection-level failure
	StateFailoverInProgress
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailoverInProgress:
		return "failover_in_progress"
	default:
		return "unknown"
	}
}

// States returns every State in declaration order.
func States() []State {
	return []State{StateDisconnected, StateConnecting, StateConnected, StateFailoverInProgress}
}

// Observer receives connection events. Implementations must not block.
type Observer interface {
	StoreStateChanged(state State)
	StoreFailover()
}

type nopObserver struct{}

func (nopObserver) StoreStateChanged(State) {}
func (nopObserver) StoreFailover()          {}
