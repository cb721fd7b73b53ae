package conn

// State is the lifecycle state of the event channel.
type State int

const (
	// Disconnected means no transport and no connect in progress.
	Disconnected State = iota
	// Connecting means the first dial is in progress.
	Connecting
	// Connected means the transport is authenticated and pumping events.
	Connected
	// Reconnecting means the transport dropped and the backoff loop is redialing.
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
